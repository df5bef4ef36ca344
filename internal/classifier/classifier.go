package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xaenox/circle-bot/internal/models"
)

// Classifier partitions an event's responders into groups that share a theme.
type Classifier interface {
	Classify(ctx context.Context, responses []models.UserResponse) models.ClassificationResult
}

// MetadataGenerator produces the name and opening text for a group channel.
type MetadataGenerator interface {
	Generate(ctx context.Context, responses []models.UserResponse) (*models.ChannelMetadata, error)
}

// TopicSummarizer condenses thread messages into a short topic label.
type TopicSummarizer interface {
	Summarize(ctx context.Context, messages []string) (string, error)
}

var categories = map[string][]string{
	"tech":     {"code", "coding", "golang", "rust", "python", "programming", "software", "ai", "kubernetes"},
	"outdoors": {"hike", "hiking", "camping", "climb", "climbing", "trail", "garden", "gardening"},
	"food":     {"cook", "cooking", "recipe", "bake", "baking", "coffee", "restaurant", "food"},
	"games":    {"game", "games", "gaming", "chess", "boardgame", "boardgames", "puzzle"},
	"music":    {"music", "guitar", "piano", "concert", "band", "song", "vinyl"},
	"books":    {"book", "books", "reading", "novel", "author", "podcast"},
	"sports":   {"run", "running", "soccer", "football", "basketball", "gym", "cycling", "yoga"},
	"travel":   {"trip", "flight", "hotel", "vacation", "travel", "travelling"},
}

// KeywordClassifier groups responders by hashtags and a fixed keyword table.
// It needs no external service, so it serves as the offline provider and as
// the fallback when the model is unavailable.
type KeywordClassifier struct {
	maxGroupSize int
}

func NewKeywordClassifier(maxGroupSize int) *KeywordClassifier {
	return &KeywordClassifier{maxGroupSize: maxGroupSize}
}

// tagsFor extracts hashtags and matching categories from content, with a hit
// count per tag.
func tagsFor(content string) map[string]int {
	tags := make(map[string]int)
	words := strings.Fields(strings.ToLower(content))

	for _, word := range words {
		if strings.HasPrefix(word, "#") {
			tag := strings.Trim(strings.TrimPrefix(word, "#"), ".,!?;:")
			if tag != "" {
				tags[tag] += 2
			}
		}
	}

	for _, word := range words {
		word = strings.Trim(word, ".,!?;:#\"'()")
		for category, keywords := range categories {
			for _, keyword := range keywords {
				if word == keyword {
					tags[category]++
					break
				}
			}
		}
	}
	return tags
}

// bestTag picks the tag with the most hits; ties go to the alphabetically
// first tag so results are stable.
func bestTag(tags map[string]int) string {
	best, bestHits := "", 0
	for tag, hits := range tags {
		if hits > bestHits || (hits == bestHits && tag < best) {
			best, bestHits = tag, hits
		}
	}
	return best
}

func (c *KeywordClassifier) Classify(ctx context.Context, responses []models.UserResponse) models.ClassificationResult {
	if len(responses) < 2 {
		return models.ClassificationFailed(fmt.Sprintf("need at least 2 responses, got %d", len(responses)))
	}

	byTag := make(map[string]models.Group)
	for _, r := range responses {
		tag := bestTag(tagsFor(r.Entry))
		if tag == "" {
			continue
		}
		byTag[tag] = append(byTag[tag], r.UserID)
	}

	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var groups []models.Group
	for _, tag := range tags {
		groups = append(groups, splitEvenly(byTag[tag], c.maxGroupSize)...)
	}
	if len(groups) == 0 {
		return models.ClassificationFailed("no shared themes found")
	}
	return models.Grouped(groups)
}

// splitEvenly cuts members into the fewest groups of at most limit users with
// sizes differing by at most one. A leftover single user joins the previous
// group rather than being dropped.
func splitEvenly(members models.Group, limit int) []models.Group {
	if limit <= 1 || len(members) <= limit {
		return []models.Group{members}
	}
	n := (len(members) + limit - 1) / limit
	size, extra := len(members)/n, len(members)%n
	groups := make([]models.Group, 0, n)
	for i, start := 0, 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		groups = append(groups, members[start:end])
		start = end
	}
	if last := len(groups) - 1; len(groups[last]) < 2 {
		prev := groups[last-1]
		groups[last-1] = append(prev[:len(prev):len(prev)], groups[last]...)
		groups = groups[:last]
	}
	return groups
}

// Generate names the channel after the dominant theme of the group.
func (c *KeywordClassifier) Generate(ctx context.Context, responses []models.UserResponse) (*models.ChannelMetadata, error) {
	if len(responses) == 0 {
		return nil, errors.New("no responses to describe")
	}
	totals := make(map[string]int)
	for _, r := range responses {
		for tag, hits := range tagsFor(r.Entry) {
			totals[tag] += hits
		}
	}
	theme := bestTag(totals)
	if theme == "" {
		theme = "common-ground"
	}
	return &models.ChannelMetadata{
		ChannelName:    theme + "-circle",
		InitialMessage: fmt.Sprintf("You were matched because your answers all touched on %s.", strings.ReplaceAll(theme, "-", " ")),
		CallToAction:   "What got you into it in the first place?",
	}, nil
}

// Summarize returns the dominant theme of the messages, or their first few
// words when no theme matches.
func (c *KeywordClassifier) Summarize(ctx context.Context, messages []string) (string, error) {
	totals := make(map[string]int)
	for _, m := range messages {
		for tag, hits := range tagsFor(m) {
			totals[tag] += hits
		}
	}
	if theme := bestTag(totals); theme != "" {
		return theme, nil
	}
	for _, m := range messages {
		words := strings.Fields(m)
		if len(words) == 0 {
			continue
		}
		if len(words) > 4 {
			words = words[:4]
		}
		return strings.Join(words, " "), nil
	}
	return "", fmt.Errorf("no topic in %d messages", len(messages))
}
