// Package grouping turns an event's responses into discussion channels.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/channelname"
	"github.com/xaenox/circle-bot/internal/classifier"
	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/slackapi"
	"github.com/xaenox/circle-bot/internal/storage"
)

const minGroupSize = 2

// maxReportedErrors bounds the error list in user-facing summaries.
const maxReportedErrors = 5

// Orchestrator finalizes events. Failures are isolated per group: one bad
// group is recorded in the summary and the rest still run.
type Orchestrator struct {
	responses  storage.ResponseStore
	classifier classifier.Classifier
	generator  classifier.MetadataGenerator
	messenger  slackapi.Messenger
	timeout    time.Duration
	logger     *zap.Logger
}

func NewOrchestrator(
	responses storage.ResponseStore,
	cls classifier.Classifier,
	generator classifier.MetadataGenerator,
	messenger slackapi.Messenger,
	requestTimeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		responses:  responses,
		classifier: cls,
		generator:  generator,
		messenger:  messenger,
		timeout:    requestTimeout,
		logger:     logger,
	}
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// FinalizeEvent groups the event's responders and creates one channel per
// group. It never returns an error: every failure is reported in the summary,
// and Success is true iff at least one channel was created.
func (o *Orchestrator) FinalizeEvent(ctx context.Context, eventID int64) *models.FinalizeSummary {
	summary := &models.FinalizeSummary{
		EventID:         eventID,
		ChannelsCreated: []string{},
		Errors:          []string{},
	}
	logger := o.logger.With(zap.Int64("event_id", eventID))

	responses, err := o.responses.GetResponsesWithUsers(ctx, eventID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("load responses: %v", err))
		logger.Error("Failed to load responses", zap.Error(err))
		return summary
	}
	logger.Info("Classifying responses", zap.Int("responses", len(responses)))

	classifyCtx, cancel := o.callContext(ctx)
	result := o.classifier.Classify(classifyCtx, responses)
	cancel()
	if result.Failed() {
		summary.Errors = append(summary.Errors, fmt.Sprintf("classification failed: %s", result.Failure))
		logger.Warn("Classification failed", zap.String("reason", result.Failure))
		return summary
	}

	groups := result.ValidGroups(minGroupSize)
	if len(groups) == 0 {
		summary.Errors = append(summary.Errors, fmt.Sprintf("no groups of %d or more users were formed from %d responses", minGroupSize, len(responses)))
		logger.Info("No valid groups", zap.Int("raw_groups", len(result.Groups)))
		return summary
	}

	summary.GroupsCreated = len(groups)
	byUser := make(map[string]models.UserResponse, len(responses))
	for _, r := range responses {
		byUser[r.UserID] = r
	}

	for i, group := range groups {
		channelID, err := o.finalizeGroup(ctx, eventID, group, byUser)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("group %d: %v", i+1, err))
			logger.Error("Failed to create group channel",
				zap.Int("group", i+1),
				zap.Strings("members", group),
				zap.Error(err))
			continue
		}
		summary.ChannelsCreated = append(summary.ChannelsCreated, channelID)
	}

	summary.Success = len(summary.ChannelsCreated) > 0
	logger.Info("Event finalized",
		zap.Bool("success", summary.Success),
		zap.Int("channels", len(summary.ChannelsCreated)),
		zap.Int("errors", len(summary.Errors)))
	return summary
}

func (o *Orchestrator) finalizeGroup(ctx context.Context, eventID int64, group models.Group, byUser map[string]models.UserResponse) (string, error) {
	var subset []models.UserResponse
	for _, userID := range group {
		if r, ok := byUser[userID]; ok {
			subset = append(subset, r)
		}
	}
	if len(subset) == 0 {
		return "", fmt.Errorf("no responses match members %v", []string(group))
	}

	genCtx, cancel := o.callContext(ctx)
	metadata, err := o.generator.Generate(genCtx, subset)
	cancel()
	if err != nil {
		return "", fmt.Errorf("generate metadata: %w", err)
	}
	if metadata == nil || metadata.ChannelName == "" {
		return "", errors.New("generate metadata: empty result")
	}

	name, err := channelname.ForEvent(metadata.ChannelName, eventID)
	if err != nil {
		return "", err
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	channelID, err := o.messenger.CreateChannel(callCtx, name)
	if err != nil {
		return "", fmt.Errorf("create channel %s: %w", name, err)
	}
	if err := o.messenger.Invite(callCtx, channelID, group); err != nil {
		return "", fmt.Errorf("invite to %s: %w", name, err)
	}
	if _, err := o.messenger.SendMessage(callCtx, channelID, WelcomeText(group, metadata)); err != nil {
		return "", fmt.Errorf("welcome in %s: %w", name, err)
	}
	return channelID, nil
}

// WelcomeText is the first message posted in a group channel.
func WelcomeText(members []string, metadata *models.ChannelMetadata) string {
	return fmt.Sprintf("👋 %s\n\n%s\n\n💬 %s", slackapi.Mentions(members), metadata.InitialMessage, metadata.CallToAction)
}

// FormatSummary renders a summary for an admin, listing at most five errors.
func FormatSummary(s *models.FinalizeSummary) string {
	var b strings.Builder
	if s.Success {
		fmt.Fprintf(&b, "✅ Event %d finalized: %d of %d group channel(s) created.", s.EventID, len(s.ChannelsCreated), s.GroupsCreated)
	} else {
		fmt.Fprintf(&b, "⚠️ Event %d finalized without creating any channels.", s.EventID)
	}
	if len(s.Errors) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "\n%d error(s):", len(s.Errors))
	for i, e := range s.Errors {
		if i == maxReportedErrors {
			fmt.Fprintf(&b, "\n• …and %d more", len(s.Errors)-maxReportedErrors)
			break
		}
		fmt.Fprintf(&b, "\n• %s", e)
	}
	return b.String()
}
