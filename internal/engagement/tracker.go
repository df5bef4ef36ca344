package engagement

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/storage"
)

// Tracker records thread activity and hands the updated thread to the
// engine right away.
type Tracker struct {
	store  storage.EngagementStore
	engine *Engine
	logger *zap.Logger
}

func NewTracker(store storage.EngagementStore, engine *Engine, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		engine: engine,
		logger: logger,
	}
}

// RecordMessage tracks a message posted in a thread. messageTS equal to
// threadTS marks the thread root.
func (t *Tracker) RecordMessage(ctx context.Context, channelID, threadTS, userID, messageTS, text string) (*models.InterventionRecord, error) {
	return t.Track(ctx, models.Signal{
		Thread:    models.ThreadKey{ChannelID: channelID, ThreadTS: threadTS},
		UserID:    userID,
		Kind:      models.SignalMessage,
		Text:      text,
		MessageTS: messageTS,
	})
}

// RecordReaction tracks a reaction on a message. The message timestamp keys
// the thread.
func (t *Tracker) RecordReaction(ctx context.Context, channelID, messageTS, userID string) (*models.InterventionRecord, error) {
	return t.Track(ctx, models.Signal{
		Thread: models.ThreadKey{ChannelID: channelID, ThreadTS: messageTS},
		UserID: userID,
		Kind:   models.SignalReaction,
	})
}

// Track stores sig and evaluates the escalation policy. Counters stay
// updated even when the intervention step fails.
func (t *Tracker) Track(ctx context.Context, sig models.Signal) (*models.InterventionRecord, error) {
	if sig.Thread.ChannelID == "" || sig.Thread.ThreadTS == "" || sig.UserID == "" {
		return nil, fmt.Errorf("incomplete signal: channel=%q thread=%q user=%q", sig.Thread.ChannelID, sig.Thread.ThreadTS, sig.UserID)
	}

	thread, err := t.store.RecordSignal(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("record signal: %w", err)
	}
	t.logger.Debug("Recorded engagement signal",
		zap.String("channel_id", sig.Thread.ChannelID),
		zap.String("thread_ts", sig.Thread.ThreadTS),
		zap.String("user_id", sig.UserID),
		zap.Int("score", sig.Kind.Score()))

	rec, err := t.engine.Evaluate(ctx, thread)
	if err != nil {
		return nil, fmt.Errorf("evaluate thread: %w", err)
	}
	return rec, nil
}
