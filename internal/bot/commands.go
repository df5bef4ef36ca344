package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/grouping"
	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/prompts"
	"github.com/xaenox/circle-bot/internal/scheduler"
)

const timeLayout = "Mon Jan 2 15:04 MST"

func (b *Bot) handleCommands(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(cmd.Text)

	b.logger.Info("Slash command",
		zap.String("command", cmd.Command),
		zap.String("user_id", cmd.UserID))

	switch cmd.Command {
	case "/event_start":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventStart)
	case "/event_status":
		b.handleEventStatus(r.Context(), w)
	case "/event_finalize":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventFinalize)
	case "/event_delete":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventDelete)
	case "/event_reset":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventReset)
	case "/event_followup":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventFollowup)
	case "/event_prompt":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventPrompt)
	case "/event_audience":
		b.requireAdmin(r.Context(), w, cmd, b.handleEventAudience)
	case "/respond":
		b.handleRespond(r.Context(), w, cmd.UserID, text)
	default:
		writeEphemeral(w, fmt.Sprintf("Unknown command: %s", cmd.Command))
	}
}

type commandHandler func(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string)

func (b *Bot) requireAdmin(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, handle commandHandler) {
	if !b.isAdmin(cmd.UserID) {
		b.logger.Warn("Admin command refused", zap.String("command", cmd.Command), zap.String("user_id", cmd.UserID))
		writeEphemeral(w, "⛔ Only bot admins can use "+cmd.Command+".")
		return
	}
	handle(ctx, w, cmd, strings.TrimSpace(cmd.Text))
}

const eventStartUsage = "Usage: `/event_start [days] [prompt text | #prompt_id]` where days is a number between 0 and 365."

// handleEventStart opens an event starting now and DMs its prompt to the
// audience. A leading number is the length in days. The rest is new prompt
// text or #<id> of a stored prompt; without it an unused prompt is picked.
func (b *Bot) handleEventStart(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	duration := b.config.DefaultEventDuration
	first, rest, _ := strings.Cut(text, " ")
	if days, parseErr := strconv.ParseFloat(first, 64); parseErr == nil {
		d, err := models.EventDuration(days)
		if err != nil {
			writeEphemeral(w, eventStartUsage)
			return
		}
		duration = d
		text = strings.TrimSpace(rest)
	}

	prompt, err := b.announcer.Resolve(ctx, text)
	switch {
	case errors.Is(err, prompts.ErrNoPrompt):
		// Start anyway; users can still answer with /respond.
	case errors.Is(err, apperrors.ErrNotFound):
		writeEphemeral(w, fmt.Sprintf("Prompt %s not found. Use `/event_prompt list` to see the library.", text))
		return
	case apperrors.IsValidation(err):
		writeEphemeral(w, fmt.Sprintf("⚠️ %v\n%s", err, eventStartUsage))
		return
	case err != nil:
		b.logger.Error("Failed to resolve prompt", zap.Error(err))
		writeEphemeral(w, "⚠️ Sorry, I couldn't load the prompt.")
		return
	}

	e, err := b.store.CreateEvent(ctx, b.now(), duration)
	switch {
	case errors.Is(err, apperrors.ErrEventAlreadyActive):
		writeEphemeral(w, "An event is already active or scheduled in that window. Use `/event_status` to see it.")
		return
	case err != nil:
		b.logger.Error("Failed to create event", zap.Error(err))
		writeEphemeral(w, "⚠️ Sorry, I couldn't create the event.")
		return
	}

	b.logger.Info("Event started",
		zap.Int64("event_id", e.ID),
		zap.Duration("duration", e.Duration),
		zap.String("user_id", cmd.UserID))
	started := fmt.Sprintf("✅ Event %d started. Responses are open until %s.", e.ID, e.EndTime().Format(timeLayout))
	if prompt == nil {
		writeEphemeral(w, started+"\nThe prompt library has no unused prompt, so nothing was sent. Add one with `/event_prompt add <text>`.")
		return
	}

	writeEphemeral(w, fmt.Sprintf("%s\n⏳ Sending prompt #%d…", started, prompt.ID))
	b.background("event_announce", func(ctx context.Context) error {
		report, err := b.announcer.Announce(ctx, e, prompt)
		if err != nil {
			b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("⚠️ Event %d started, but prompt #%d couldn't be sent.", e.ID, prompt.ID))
			return err
		}
		b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("📣 Prompt #%d sent to %d user(s) in the %s, %d failed.",
			report.PromptID, report.Sent, report.Audience, report.Failed))
		return nil
	})
}

func (b *Bot) handleEventStatus(ctx context.Context, w http.ResponseWriter) {
	e, err := b.store.GetActiveEvent(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNoActiveEvent):
		writeEphemeral(w, "No event is active right now.")
		return
	case err != nil:
		b.logger.Error("Failed to get active event", zap.Error(err))
		writeEphemeral(w, "⚠️ Sorry, I couldn't look up the active event.")
		return
	}

	users, err := b.store.GetEventUserIDs(ctx, e.ID)
	if err != nil {
		b.logger.Error("Failed to count responses", zap.Error(err), zap.Int64("event_id", e.ID))
		writeEphemeral(w, "⚠️ Sorry, I couldn't count the responses.")
		return
	}
	status := fmt.Sprintf("Event %d is active until %s with %d response(s).", e.ID, e.EndTime().Format(timeLayout), len(users))

	linked, err := b.store.GetEventPrompts(ctx, e.ID)
	if err != nil {
		b.logger.Warn("Failed to load event prompts", zap.Error(err), zap.Int64("event_id", e.ID))
	}
	for _, p := range linked {
		if p.Kind == models.PromptPrivate {
			status += fmt.Sprintf("\nPrompt #%d: %s", p.ID, p.Content)
		}
	}
	writeEphemeral(w, status)
}

// handleEventFinalize finalizes the given event, or the active one, and
// reports the summary through the response_url.
func (b *Bot) handleEventFinalize(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	var eventID int64
	if text == "" {
		e, err := b.store.GetActiveEvent(ctx)
		if err != nil {
			writeEphemeral(w, "No event is active. Usage: `/event_finalize [event_id]`")
			return
		}
		eventID = e.ID
	} else {
		id, ok := parseEventID(text)
		if !ok {
			writeEphemeral(w, "Usage: `/event_finalize [event_id]`")
			return
		}
		eventID = id
	}

	writeEphemeral(w, fmt.Sprintf("⏳ Finalizing event %d…", eventID))
	b.background("finalize_event", func(ctx context.Context) error {
		summary, err := b.finalizer.FinalizeNow(ctx, eventID)
		switch {
		case errors.Is(err, scheduler.ErrAlreadyFinalized):
			b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("Event %d was already finalized.", eventID))
			return nil
		case errors.Is(err, apperrors.ErrNotFound):
			b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("Event %d not found.", eventID))
			return nil
		case err != nil:
			b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("⚠️ Finalizing event %d failed: %v", eventID, err))
			return err
		}
		b.logger.Info("Manual finalize finished", summaryFields(summary)...)
		b.respond(ctx, cmd.ResponseURL, grouping.FormatSummary(summary))
		return nil
	})
}

func (b *Bot) handleEventDelete(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	eventID, ok := parseEventID(text)
	if !ok {
		writeEphemeral(w, "Usage: `/event_delete <event_id>`")
		return
	}

	err := b.store.DeleteEvent(ctx, eventID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		writeEphemeral(w, fmt.Sprintf("Event %d not found.", eventID))
		return
	case err != nil:
		b.logger.Error("Failed to delete event", zap.Error(err), zap.Int64("event_id", eventID))
		writeEphemeral(w, "⚠️ Sorry, I couldn't delete the event.")
		return
	}

	b.logger.Info("Event deleted", zap.Int64("event_id", eventID), zap.String("user_id", cmd.UserID))
	writeEphemeral(w, fmt.Sprintf("🗑️ Event %d and its responses were deleted.", eventID))
}

func (b *Bot) handleEventReset(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	n, err := b.store.DeleteAllEvents(ctx)
	if err != nil {
		b.logger.Error("Failed to reset events", zap.Error(err))
		writeEphemeral(w, "⚠️ Sorry, I couldn't reset the events.")
		return
	}

	b.logger.Warn("All events deleted", zap.Int64("count", n), zap.String("user_id", cmd.UserID))
	writeEphemeral(w, fmt.Sprintf("🗑️ Deleted %d event(s).", n))
}

// handleEventFollowup DMs a message to everyone who responded to an event.
func (b *Bot) handleEventFollowup(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	idText, message, _ := strings.Cut(text, " ")
	eventID, ok := parseEventID(idText)
	message = strings.TrimSpace(message)
	if !ok || message == "" {
		writeEphemeral(w, "Usage: `/event_followup <event_id> <message>`")
		return
	}

	writeEphemeral(w, fmt.Sprintf("⏳ Sending follow-up for event %d…", eventID))
	b.background("event_followup", func(ctx context.Context) error {
		sent, failed, err := b.sendFollowup(ctx, eventID, message)
		if err != nil {
			b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("⚠️ Couldn't load responders for event %d.", eventID))
			return err
		}
		b.respond(ctx, cmd.ResponseURL, fmt.Sprintf("📨 Follow-up for event %d sent to %d user(s), %d failed.", eventID, sent, failed))
		return nil
	})
}

func (b *Bot) sendFollowup(ctx context.Context, eventID int64, message string) (sent, failed int, err error) {
	users, err := b.store.GetEventUserIDs(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("load responders: %w", err)
	}
	sent, failed = prompts.Broadcast(ctx, b.messenger, users, message, b.logger.With(zap.Int64("event_id", eventID)))
	return sent, failed, nil
}

func (b *Bot) handleRespond(ctx context.Context, w http.ResponseWriter, userID, text string) {
	if text == "" {
		writeEphemeral(w, "Usage: `/respond <your answer>`")
		return
	}
	reply, err := b.submitResponse(ctx, userID, text)
	if err != nil {
		reply = "⚠️ " + reply
	}
	writeEphemeral(w, reply)
}

func parseEventID(text string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var _ Finalizer = (*scheduler.Scheduler)(nil)

func summaryFields(s *models.FinalizeSummary) []zap.Field {
	return []zap.Field{
		zap.Int64("event_id", s.EventID),
		zap.Bool("success", s.Success),
		zap.Int("channels", len(s.ChannelsCreated)),
		zap.Int("errors", len(s.Errors)),
	}
}
