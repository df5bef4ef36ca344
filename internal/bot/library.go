package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/slackapi"
)

// previewLength caps prompt text in list replies.
const previewLength = 80

var (
	mentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)
	userIDPattern  = regexp.MustCompile(`^[UW][A-Z0-9]{2,}$`)
)

const (
	promptUsage   = "Usage: `/event_prompt add <text>`, `/event_prompt list` or `/event_prompt delete <prompt_id>`"
	audienceUsage = "Usage: `/event_audience add @user…`, `/event_audience remove @user` or `/event_audience list`"
)

// handleEventPrompt manages the prompt library.
func (b *Bot) handleEventPrompt(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	sub, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch sub {
	case "add":
		if arg == "" {
			writeEphemeral(w, promptUsage)
			return
		}
		p, err := b.store.CreatePrompt(ctx, models.PromptPrivate, arg)
		if err != nil {
			b.logger.Error("Failed to save prompt", zap.Error(err))
			writeEphemeral(w, "⚠️ Sorry, I couldn't save the prompt.")
			return
		}
		b.logger.Info("Prompt saved", zap.Int64("prompt_id", p.ID), zap.String("user_id", cmd.UserID))
		writeEphemeral(w, fmt.Sprintf("📝 Saved prompt #%d. Start an event with it using `/event_start #%d`.", p.ID, p.ID))

	case "list":
		library, err := b.store.ListPrompts(ctx, models.PromptPrivate)
		if err != nil {
			b.logger.Error("Failed to list prompts", zap.Error(err))
			writeEphemeral(w, "⚠️ Sorry, I couldn't load the prompt library.")
			return
		}
		if len(library) == 0 {
			writeEphemeral(w, "The prompt library is empty. Add one with `/event_prompt add <text>`.")
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Prompt library (%d):", len(library))
		for _, p := range library {
			fmt.Fprintf(&sb, "\n• #%d %s", p.ID, preview(p.Content))
		}
		writeEphemeral(w, sb.String())

	case "delete":
		id, ok := parseEventID(strings.TrimPrefix(arg, "#"))
		if !ok {
			writeEphemeral(w, promptUsage)
			return
		}
		err := b.store.DeletePrompt(ctx, id)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			writeEphemeral(w, fmt.Sprintf("Prompt #%d not found.", id))
		case err != nil:
			b.logger.Error("Failed to delete prompt", zap.Error(err), zap.Int64("prompt_id", id))
			writeEphemeral(w, "⚠️ Sorry, I couldn't delete the prompt.")
		default:
			writeEphemeral(w, fmt.Sprintf("🗑️ Prompt #%d deleted.", id))
		}

	default:
		writeEphemeral(w, promptUsage)
	}
}

// handleEventAudience manages who receives event prompts. An empty audience
// means everyone in the workspace.
func (b *Bot) handleEventAudience(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand, text string) {
	sub, arg, _ := strings.Cut(text, " ")
	users := parseUserIDs(arg)

	switch sub {
	case "add":
		if len(users) == 0 {
			writeEphemeral(w, audienceUsage)
			return
		}
		added, err := b.store.AddMembers(ctx, users...)
		if err != nil {
			b.logger.Error("Failed to add audience members", zap.Error(err))
			writeEphemeral(w, "⚠️ Sorry, I couldn't update the audience.")
			return
		}
		b.logger.Info("Audience members added", zap.Strings("users", users), zap.Int("added", added))
		writeEphemeral(w, fmt.Sprintf("👥 Added %d member(s) to the audience.", added))

	case "remove":
		if len(users) == 0 {
			writeEphemeral(w, audienceUsage)
			return
		}
		removed := 0
		for _, id := range users {
			err := b.store.RemoveMember(ctx, id)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				b.logger.Error("Failed to remove audience member", zap.Error(err), zap.String("member", id))
				writeEphemeral(w, "⚠️ Sorry, I couldn't update the audience.")
				return
			}
			removed++
		}
		writeEphemeral(w, fmt.Sprintf("👥 Removed %d member(s) from the audience.", removed))

	case "list":
		members, err := b.store.ListMembers(ctx)
		if err != nil {
			b.logger.Error("Failed to list audience", zap.Error(err))
			writeEphemeral(w, "⚠️ Sorry, I couldn't load the audience.")
			return
		}
		if len(members) == 0 {
			writeEphemeral(w, "The audience is empty, so prompts go to everyone in the workspace.")
			return
		}
		writeEphemeral(w, fmt.Sprintf("Audience (%d): %s", len(members), slackapi.Mentions(members)))

	default:
		writeEphemeral(w, audienceUsage)
	}
}

// parseUserIDs extracts user ids from escaped mentions (<@U123|name>) and
// bare ids.
func parseUserIDs(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, field := range strings.Fields(mentionPattern.ReplaceAllString(text, " ")) {
		if userIDPattern.MatchString(field) {
			add(field)
		}
	}
	return ids
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewLength {
		return string(r[:previewLength-1]) + "…"
	}
	return s
}
