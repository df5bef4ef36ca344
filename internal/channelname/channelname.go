// Package channelname turns generated labels into valid Slack channel names.
package channelname

import (
	"fmt"
	"strings"

	"github.com/xaenox/circle-bot/internal/apperrors"
)

// MaxLength is Slack's limit for channel names.
const MaxLength = 80

const (
	maxTopicLength     = 30
	threadSuffixLength = 6
)

// Sanitize lowercases raw, replaces anything outside [a-z0-9-] with a
// hyphen, collapses runs of hyphens, trims them from both ends and truncates
// the result to maxLen.
func Sanitize(raw string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastHyphen := false
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if maxLen > 0 && len(name) > maxLen {
		name = strings.TrimRight(name[:maxLen], "-")
	}
	return name
}

// ForEvent builds the channel name for an event group: the sanitized label
// followed by "-event<ID>", kept within MaxLength.
func ForEvent(label string, eventID int64) (string, error) {
	suffix := fmt.Sprintf("-event%d", eventID)
	base := Sanitize(label, MaxLength-len(suffix))
	if base == "" {
		return "", apperrors.Invalid("channel_name", fmt.Sprintf("%q is empty after sanitizing", label))
	}
	return base + suffix, nil
}

// ForThread builds the channel name for a thread that escalated to its own
// channel. The same topic and thread always produce the same name.
func ForThread(topic, threadTS string) string {
	t := Sanitize(topic, maxTopicLength)
	if t == "" {
		t = "discussion"
	}
	suffix := Sanitize(threadTS, 0)
	if len(suffix) > threadSuffixLength {
		suffix = suffix[len(suffix)-threadSuffixLength:]
	}
	return Sanitize(fmt.Sprintf("discussion-%s-%s", t, suffix), MaxLength)
}
