package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
)

const (
	channelTypeIM   = "im"
	itemTypeMessage = "message"
)

func (b *Bot) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	// The signature has already been checked; the legacy verification token
	// is not used.
	event, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		b.logger.Warn("Failed to parse event", zap.Error(err))
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		challenge, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			http.Error(w, "malformed challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	case slackevents.CallbackEvent:
		b.dispatch(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (b *Bot) dispatch(event slackevents.EventsAPIEvent) {
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		b.handleMessage(ev)
	case *slackevents.ReactionAddedEvent:
		b.handleReaction(ev)
	}
}

func (b *Bot) handleMessage(ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" || ev.User == b.config.BotUserID {
		return
	}

	if ev.ThreadTimeStamp != "" {
		b.background("track_message", func(ctx context.Context) error {
			_, err := b.tracker.RecordMessage(ctx, ev.Channel, ev.ThreadTimeStamp, ev.User, ev.TimeStamp, ev.Text)
			return err
		})
		return
	}

	if ev.ChannelType == channelTypeIM {
		b.background("dm_response", func(ctx context.Context) error {
			b.handleResponse(ctx, ev.Channel, ev.User, ev.Text)
			return nil
		})
	}
}

func (b *Bot) handleReaction(ev *slackevents.ReactionAddedEvent) {
	if ev.Item.Type != itemTypeMessage || ev.User == "" || ev.User == b.config.BotUserID {
		return
	}
	b.background("track_reaction", func(ctx context.Context) error {
		_, err := b.tracker.RecordReaction(ctx, ev.Item.Channel, ev.Item.Timestamp, ev.User)
		return err
	})
}

// handleResponse records a DM as the user's answer to the active event and
// confirms in the same conversation.
func (b *Bot) handleResponse(ctx context.Context, channelID, userID, text string) {
	reply, err := b.submitResponse(ctx, userID, text)
	if err != nil {
		b.sendErrorMessage(ctx, channelID, reply)
		return
	}
	b.sendMessage(ctx, channelID, reply)
}

// submitResponse stores a response and returns the text to show the user.
func (b *Bot) submitResponse(ctx context.Context, userID, text string) (string, error) {
	resp, err := b.store.AddResponse(ctx, userID, text)
	switch {
	case errors.Is(err, apperrors.ErrNoActiveEvent):
		return "There's no active event right now, so your response wasn't saved.", err
	case err != nil:
		b.logger.Error("Failed to save response",
			zap.Error(err),
			zap.String("user_id", userID))
		return "Sorry, I couldn't save your response. Please try again.", err
	}

	b.logger.Info("Response recorded",
		zap.Int64("event_id", resp.EventID),
		zap.String("user_id", userID))
	return fmt.Sprintf("✅ Thanks! Your response to event %d was recorded. Sending another message replaces it.", resp.EventID), nil
}
