// Package prompts opens events with a prompt DMed to the audience and keeps
// a recap of each finalized event.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/grouping"
	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/slackapi"
	"github.com/xaenox/circle-bot/internal/storage"
)

// ErrNoPrompt is returned by Resolve when every private prompt is in use or
// the library is empty.
var ErrNoPrompt = errors.New("no unused prompt in the library")

const (
	AudienceRegistry  = "registry"
	AudienceWorkspace = "workspace"
)

// broadcastWorkers bounds concurrent DM sends.
const broadcastWorkers = 4

const endLayout = "Mon Jan 2 15:04 MST"

// Store is what the announcer needs from storage.
type Store interface {
	storage.PromptStore
	storage.AudienceStore
}

type Announcer struct {
	store     Store
	messenger slackapi.Messenger
	botUserID string
	logger    *zap.Logger
}

func NewAnnouncer(store Store, messenger slackapi.Messenger, botUserID string, logger *zap.Logger) *Announcer {
	return &Announcer{
		store:     store,
		messenger: messenger,
		botUserID: botUserID,
		logger:    logger,
	}
}

// Resolve turns an event-start argument into a prompt. "#<id>" selects a
// stored private prompt, any other text is saved as a new one, and an empty
// argument picks an unused prompt at random.
func (a *Announcer) Resolve(ctx context.Context, arg string) (*models.Prompt, error) {
	arg = strings.TrimSpace(arg)
	switch {
	case arg == "":
		p, err := a.store.PickUnusedPrompt(ctx)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrNoPrompt
		}
		return p, err

	case strings.HasPrefix(arg, "#"):
		id, err := strconv.ParseInt(arg[1:], 10, 64)
		if err != nil || id <= 0 {
			return nil, apperrors.Invalid("prompt", fmt.Sprintf("%q is not a prompt id", arg))
		}
		p, err := a.store.GetPrompt(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Kind != models.PromptPrivate {
			return nil, apperrors.Invalid("prompt", fmt.Sprintf("prompt #%d is a recap, not a prompt", id))
		}
		return p, nil

	default:
		return a.store.CreatePrompt(ctx, models.PromptPrivate, arg)
	}
}

// Audience returns the registered members, or every workspace member when
// nobody is registered. The bot itself is never included.
func (a *Announcer) Audience(ctx context.Context) ([]string, string, error) {
	source := AudienceRegistry
	ids, err := a.store.ListMembers(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list audience: %w", err)
	}
	if len(ids) == 0 {
		source = AudienceWorkspace
		if ids, err = a.messenger.WorkspaceMembers(ctx); err != nil {
			return nil, "", fmt.Errorf("list workspace members: %w", err)
		}
	}

	audience := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != a.botUserID {
			audience = append(audience, id)
		}
	}
	return audience, source, nil
}

// Report is the outcome of one announcement.
type Report struct {
	PromptID int64
	Audience string
	Sent     int
	Failed   int
}

// Announce links prompt to event and DMs it to the audience. Failed sends
// are counted in the report; only storage and audience lookups return an
// error.
func (a *Announcer) Announce(ctx context.Context, event *models.Event, prompt *models.Prompt) (*Report, error) {
	if err := a.store.AttachPrompt(ctx, event.ID, prompt.ID); err != nil {
		return nil, fmt.Errorf("attach prompt %d to event %d: %w", prompt.ID, event.ID, err)
	}

	audience, source, err := a.Audience(ctx)
	if err != nil {
		return nil, err
	}

	logger := a.logger.With(zap.Int64("event_id", event.ID), zap.Int64("prompt_id", prompt.ID))
	sent, failed := Broadcast(ctx, a.messenger, audience, PromptText(event, prompt), logger)
	logger.Info("Prompt announced",
		zap.String("audience", source),
		zap.Int("sent", sent),
		zap.Int("failed", failed))

	return &Report{PromptID: prompt.ID, Audience: source, Sent: sent, Failed: failed}, nil
}

// PromptText is the DM that opens an event.
func PromptText(event *models.Event, prompt *models.Prompt) string {
	return fmt.Sprintf("📣 *Prompt for event %d*\n\n%s\n\nReply to me here before %s and I'll put you in touch with people who answered alike.",
		event.ID, prompt.Content, event.EndTime().Format(endLayout))
}

// Broadcast DMs text to every user and returns how many sends succeeded and
// failed.
func Broadcast(ctx context.Context, messenger slackapi.Messenger, userIDs []string, text string, logger *zap.Logger) (sent, failed int) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastWorkers)

	for _, userID := range userIDs {
		g.Go(func() error {
			channelID, err := messenger.OpenDirectChannel(ctx, userID)
			if err == nil {
				_, err = messenger.SendMessage(ctx, channelID, text)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Error("Failed to send direct message", zap.String("user_id", userID), zap.Error(err))
				return nil
			}
			sent++
			return nil
		})
	}
	_ = g.Wait()
	return sent, failed
}

// Finalizer matches scheduler.Finalizer.
type Finalizer interface {
	FinalizeEvent(ctx context.Context, eventID int64) *models.FinalizeSummary
}

// Recorder wraps a Finalizer and stores each summary as an aggregated prompt
// linked to its event.
type Recorder struct {
	next   Finalizer
	store  storage.PromptStore
	logger *zap.Logger
}

func NewRecorder(next Finalizer, store storage.PromptStore, logger *zap.Logger) *Recorder {
	return &Recorder{next: next, store: store, logger: logger}
}

func (r *Recorder) FinalizeEvent(ctx context.Context, eventID int64) *models.FinalizeSummary {
	summary := r.next.FinalizeEvent(ctx, eventID)
	if summary == nil {
		return nil
	}

	recap, err := r.store.CreatePrompt(ctx, models.PromptAggregated, grouping.FormatSummary(summary))
	if err == nil {
		err = r.store.AttachPrompt(ctx, eventID, recap.ID)
	}
	if err != nil {
		r.logger.Warn("Failed to store event recap", zap.Int64("event_id", eventID), zap.Error(err))
	}
	return summary
}
