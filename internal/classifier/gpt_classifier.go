package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/models"
)

const serviceName = "openai"

type GPTConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
}

type groupsResponse struct {
	Groups [][]string `json:"groups"`
}

type topicResponse struct {
	Topic string `json:"topic"`
}

// GPTClassifier asks an OpenAI chat model to group responders, name their
// channels and summarize threads. All three answers are requested in JSON
// mode.
type GPTClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	fallback    Classifier
	logger      *zap.Logger
}

func NewGPTClassifier(config GPTConfig, fallback Classifier, logger *zap.Logger) *GPTClassifier {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &GPTClassifier{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		timeout:     config.RequestTimeout,
		fallback:    fallback,
		logger:      logger,
	}
}

func (c *GPTClassifier) complete(ctx context.Context, op, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", apperrors.External(serviceName, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.External(serviceName, op, errors.New("empty choices"))
	}
	return stripFences(resp.Choices[0].Message.Content), nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func classificationPrompt(responses []models.UserResponse) string {
	lines := make([]string, 0, len(responses))
	for _, r := range responses {
		lines = append(lines, fmt.Sprintf("User %s: %s", r.UserID, r.Entry))
	}
	return fmt.Sprintf(`Analyze these user responses and group users with similar content and sentiment together.

Responses:
%s

Requirements:
- Minimum group size: 2 users
- Users with unique or dissimilar responses can be left ungrouped
- Focus on thematic similarity, shared interests and sentiment alignment

Return the response as a JSON object with this structure:
{"groups": [["U123ABC", "U456DEF"], ["U789GHI", "U012JKL"]]}`, strings.Join(lines, "\n"))
}

// Classify returns the model's groups as-is; size filtering is the caller's
// job. When the model fails and a fallback is configured, the fallback
// answers instead.
func (c *GPTClassifier) Classify(ctx context.Context, responses []models.UserResponse) models.ClassificationResult {
	if len(responses) < 2 {
		return models.ClassificationFailed(fmt.Sprintf("need at least 2 responses, got %d", len(responses)))
	}

	content, err := c.complete(ctx, "classify", classificationPrompt(responses))
	if err != nil {
		c.logger.Error("Failed to get GPT response", zap.Error(err))
		return c.fallbackClassification(ctx, responses, err.Error())
	}

	groups, err := parseGroups(content)
	if err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", content))
		return c.fallbackClassification(ctx, responses, err.Error())
	}
	if len(groups) == 0 {
		return models.ClassificationFailed("model returned no groups")
	}
	return models.Grouped(groups)
}

func (c *GPTClassifier) fallbackClassification(ctx context.Context, responses []models.UserResponse, reason string) models.ClassificationResult {
	if c.fallback == nil {
		return models.ClassificationFailed(reason)
	}
	c.logger.Info("Falling back to keyword classification", zap.Int("responses", len(responses)))
	return c.fallback.Classify(ctx, responses)
}

// parseGroups accepts {"groups": [[...]]} and also a bare [[...]] array.
func parseGroups(content string) ([]models.Group, error) {
	var raw [][]string
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
	} else {
		var resp groupsResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
		raw = resp.Groups
	}

	groups := make([]models.Group, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, models.Group(g))
	}
	return groups, nil
}

func metadataPrompt(responses []models.UserResponse) string {
	entries := make([]string, 0, len(responses))
	users := make([]string, 0, len(responses))
	for _, r := range responses {
		entries = append(entries, "- "+r.Entry)
		users = append(users, r.UserID)
	}
	return fmt.Sprintf(`Based on these similar user interests, create metadata for a Slack channel to connect them:

User Responses:
%s

Users to be added: %s

Generate the following:
1. channel_name: A short, descriptive Slack channel name (lowercase, hyphens instead of spaces, max 80 characters)
2. initial_message: A warm welcome message explaining why these users were grouped together (2-3 sentences)
3. call_to_action: An engaging question to help them start the conversation (1 sentence)

Return the response as a JSON object with exactly these keys: channel_name, initial_message, call_to_action`,
		strings.Join(entries, "\n"), strings.Join(users, ", "))
}

func (c *GPTClassifier) Generate(ctx context.Context, responses []models.UserResponse) (*models.ChannelMetadata, error) {
	if len(responses) == 0 {
		return nil, apperrors.Invalid("responses", "empty group")
	}

	content, err := c.complete(ctx, "generate metadata", metadataPrompt(responses))
	if err != nil {
		return nil, err
	}

	var metadata models.ChannelMetadata
	if err := json.Unmarshal([]byte(content), &metadata); err != nil {
		return nil, apperrors.External(serviceName, "generate metadata", fmt.Errorf("decode metadata: %w", err))
	}
	if strings.TrimSpace(metadata.ChannelName) == "" {
		return nil, apperrors.External(serviceName, "generate metadata", errors.New("empty channel_name"))
	}
	return &metadata, nil
}

func (c *GPTClassifier) Summarize(ctx context.Context, messages []string) (string, error) {
	prompt := fmt.Sprintf(`Analyze this Slack thread and extract the main topic in 2-4 words.

Return the response as a JSON object: {"topic": "..."}

%s`, strings.Join(messages, "\n"))

	content, err := c.complete(ctx, "summarize", prompt)
	if err != nil {
		return "", err
	}

	var resp topicResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return "", apperrors.External(serviceName, "summarize", fmt.Errorf("decode topic: %w", err))
	}
	return strings.TrimSpace(resp.Topic), nil
}
