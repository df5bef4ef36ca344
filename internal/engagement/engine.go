// Package engagement accumulates per-thread engagement and escalates bot
// interventions as more participants join a conversation.
package engagement

import (
	"context"
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

const defaultTopic = "discussion"

type Config struct {
	// MinScore is the engagement score at which a participant counts as engaged.
	MinScore int
	// MaxChannelMembers caps how many participants are invited to a thread channel.
	MaxChannelMembers int
	// TopicMessages is how many thread messages the summarizer sees.
	TopicMessages  int
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinScore:          models.MessageScore,
		MaxChannelMembers: 8,
		TopicMessages:     5,
		RequestTimeout:    30 * time.Second,
	}
}

// Decide maps the engaged count and the thread's current level to the next
// intervention, or InterventionNone when nothing should happen.
func Decide(engaged int, current models.InterventionType) models.InterventionType {
	switch {
	case engaged >= 4 && current.Rank() < models.InterventionCreateChannel.Rank():
		return models.InterventionCreateChannel
	case engaged == 3 && current.Rank() < models.InterventionEphemeral.Rank():
		return models.InterventionEphemeral
	case engaged == 2 && current.Rank() == models.InterventionNone.Rank():
		return models.InterventionDMPair
	default:
		return models.InterventionNone
	}
}

// Engine runs the escalation policy for a thread. A level is claimed in
// storage before any message is sent, so it is attempted at most once.
type Engine struct {
	store      storage.EngagementStore
	messenger  slackapi.Messenger
	summarizer classifier.TopicSummarizer
	config     Config
	logger     *zap.Logger
}

func NewEngine(store storage.EngagementStore, messenger slackapi.Messenger, summarizer classifier.TopicSummarizer, config Config, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if config.MinScore <= 0 {
		config.MinScore = defaults.MinScore
	}
	if config.MaxChannelMembers <= 0 {
		config.MaxChannelMembers = defaults.MaxChannelMembers
	}
	if config.TopicMessages <= 0 {
		config.TopicMessages = defaults.TopicMessages
	}
	return &Engine{
		store:      store,
		messenger:  messenger,
		summarizer: summarizer,
		config:     config,
		logger:     logger,
	}
}

// Evaluate applies the policy to thread and performs at most one
// intervention. It returns the written record, or nil when no level was
// claimed. Transport failures are logged and recorded, not returned.
func (e *Engine) Evaluate(ctx context.Context, thread *models.MonitoredThread) (*models.InterventionRecord, error) {
	key := thread.Key()
	engaged, err := e.store.EngagedParticipants(ctx, key, e.config.MinScore)
	if err != nil {
		return nil, fmt.Errorf("load engaged participants: %w", err)
	}

	target := Decide(len(engaged), thread.InterventionType)
	if target == models.InterventionNone {
		return nil, nil
	}

	claimed, err := e.store.ClaimIntervention(ctx, key, target)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", target, err)
	}
	if !claimed {
		e.logger.Debug("Intervention already claimed",
			zap.String("channel_id", key.ChannelID),
			zap.String("thread_ts", key.ThreadTS),
			zap.String("intervention", string(target)))
		return nil, nil
	}

	userIDs := make([]string, len(engaged))
	for i, p := range engaged {
		userIDs[i] = p.UserID
	}

	rec := &models.InterventionRecord{
		ChannelID:        key.ChannelID,
		ThreadTS:         key.ThreadTS,
		InterventionType: target,
	}

	var actErr error
	switch target {
	case models.InterventionDMPair:
		rec.TargetUserIDs = userIDs[:2]
		actErr = e.dmPair(ctx, rec.TargetUserIDs)
	case models.InterventionEphemeral:
		rec.TargetUserIDs = userIDs
		actErr = e.ephemeral(ctx, key, userIDs)
	case models.InterventionCreateChannel:
		if len(userIDs) > e.config.MaxChannelMembers {
			userIDs = userIDs[:e.config.MaxChannelMembers]
		}
		rec.TargetUserIDs = userIDs
		rec.CreatedChannelID, actErr = e.createChannel(ctx, key, userIDs)
	}
	rec.Successful = actErr == nil

	logger := e.logger.With(
		zap.String("channel_id", key.ChannelID),
		zap.String("thread_ts", key.ThreadTS),
		zap.String("intervention", string(target)),
		zap.Strings("users", rec.TargetUserIDs))
	if actErr != nil {
		logger.Error("Intervention failed", zap.Error(actErr))
	} else {
		logger.Info("Intervention sent")
	}

	if err := e.store.RecordIntervention(ctx, rec); err != nil {
		return rec, fmt.Errorf("record %s: %w", target, err)
	}
	return rec, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.RequestTimeout)
}

func (e *Engine) sendDM(ctx context.Context, userID, text string) error {
	ctx, cancel := e.callContext(ctx)
	defer cancel()

	dm, err := e.messenger.OpenDirectChannel(ctx, userID)
	if err != nil {
		return err
	}
	_, err = e.messenger.SendMessage(ctx, dm, text)
	return err
}

// dmPair messages both participants about each other. Both DMs are attempted
// even if the first fails.
func (e *Engine) dmPair(ctx context.Context, pair []string) error {
	var failed []string
	for i, userID := range pair {
		other := pair[1-i]
		text := fmt.Sprintf("👋 I noticed you and <@%s> are both engaged in a discussion. Want to connect and chat more?", other)
		if err := e.sendDM(ctx, userID, text); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", userID, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("dm pair: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (e *Engine) ephemeral(ctx context.Context, key models.ThreadKey, userIDs []string) error {
	const text = "👋 I noticed you're engaged in this discussion. If one more person joins, I can create a dedicated channel for this topic!"

	var failed []string
	for _, userID := range userIDs {
		callCtx, cancel := e.callContext(ctx)
		err := e.messenger.PostEphemeral(callCtx, key.ChannelID, userID, key.ThreadTS, text)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", userID, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("ephemeral: %s", strings.Join(failed, "; "))
	}
	return nil
}

// topic asks the summarizer for a label over the opening thread messages and
// falls back to defaultTopic on any failure.
func (e *Engine) topic(ctx context.Context, key models.ThreadKey) string {
	ctx, cancel := e.callContext(ctx)
	defer cancel()

	messages, err := e.messenger.ThreadMessages(ctx, key.ChannelID, key.ThreadTS, e.config.TopicMessages*2)
	if err != nil {
		e.logger.Warn("Failed to fetch thread messages", zap.String("thread_ts", key.ThreadTS), zap.Error(err))
		return defaultTopic
	}
	if len(messages) > e.config.TopicMessages {
		messages = messages[:e.config.TopicMessages]
	}
	if len(messages) == 0 || e.summarizer == nil {
		return defaultTopic
	}

	topic, err := e.summarizer.Summarize(ctx, messages)
	if err != nil {
		e.logger.Warn("Failed to summarize thread", zap.String("thread_ts", key.ThreadTS), zap.Error(err))
		return defaultTopic
	}
	if strings.TrimSpace(topic) == "" {
		return defaultTopic
	}
	return topic
}

func (e *Engine) createChannel(ctx context.Context, key models.ThreadKey, userIDs []string) (string, error) {
	topic := e.topic(ctx, key)
	name := channelname.ForThread(topic, key.ThreadTS)

	ctx, cancel := e.callContext(ctx)
	defer cancel()

	channelID, err := e.messenger.CreateChannel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create channel %s: %w", name, err)
	}
	if err := e.messenger.Invite(ctx, channelID, userIDs); err != nil {
		return channelID, fmt.Errorf("invite to %s: %w", name, err)
	}

	text := fmt.Sprintf("👋 %s\n\nI noticed you all engaged in a discussion about *%s*. This channel was created for you to continue the conversation!",
		slackapi.Mentions(userIDs), topic)
	if _, err := e.messenger.SendMessage(ctx, channelID, text); err != nil {
		return channelID, fmt.Errorf("welcome in %s: %w", name, err)
	}
	return channelID, nil
}
