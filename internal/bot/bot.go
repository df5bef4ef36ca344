// Package bot serves the Slack Events API and slash-command webhooks.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/prompts"
	"github.com/xaenox/circle-bot/internal/slackapi"
	"github.com/xaenox/circle-bot/internal/storage"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// Store is the persistence the webhook surface needs.
type Store interface {
	storage.EventStore
	storage.ResponseStore
	storage.PromptStore
	storage.AudienceStore
}

// SignalTracker receives thread activity.
type SignalTracker interface {
	RecordMessage(ctx context.Context, channelID, threadTS, userID, messageTS, text string) (*models.InterventionRecord, error)
	RecordReaction(ctx context.Context, channelID, messageTS, userID string) (*models.InterventionRecord, error)
}

// Finalizer finalizes one event on demand.
type Finalizer interface {
	FinalizeNow(ctx context.Context, eventID int64) (*models.FinalizeSummary, error)
}

type webhookFunc func(ctx context.Context, url string, msg *slack.WebhookMessage) error

type Config struct {
	SigningSecret string
	AdminUserIDs  []string
	// BotUserID is the bot's own user, whose messages are ignored.
	BotUserID            string
	DefaultEventDuration time.Duration
	// WorkTimeout bounds each piece of work detached from a request.
	WorkTimeout time.Duration
}

type Bot struct {
	store     Store
	tracker   SignalTracker
	finalizer Finalizer
	announcer *prompts.Announcer
	messenger slackapi.Messenger
	config    Config
	admins    map[string]bool
	logger    *zap.Logger

	now     func() time.Time
	webhook webhookFunc

	wg sync.WaitGroup
}

func New(store Store, tracker SignalTracker, finalizer Finalizer, announcer *prompts.Announcer, messenger slackapi.Messenger, config Config, logger *zap.Logger) *Bot {
	if config.DefaultEventDuration <= 0 {
		config.DefaultEventDuration = 7 * 24 * time.Hour
	}
	if config.WorkTimeout <= 0 {
		config.WorkTimeout = 2 * time.Minute
	}
	admins := make(map[string]bool, len(config.AdminUserIDs))
	for _, id := range config.AdminUserIDs {
		admins[id] = true
	}
	return &Bot{
		store:     store,
		tracker:   tracker,
		finalizer: finalizer,
		announcer: announcer,
		messenger: messenger,
		config:    config,
		admins:    admins,
		logger:    logger,
		now:       time.Now,
		webhook:   slack.PostWebhookContext,
	}
}

// Routes returns the HTTP handler for the bot.
func (b *Bot) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/slack", func(r chi.Router) {
		r.Use(b.verifySignature)
		r.Post("/events", b.handleEvents)
		r.Post("/commands", b.handleCommands)
	})
	return r
}

// Wait blocks until all detached work has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// verifySignature rejects requests without a valid v0 Slack signature and
// leaves the body readable for the handler.
func (b *Bot) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		verifier, err := slack.NewSecretsVerifier(r.Header, b.config.SigningSecret)
		if err == nil {
			_, _ = verifier.Write(body)
			err = verifier.Ensure()
		}
		if err != nil {
			b.logger.Warn("Rejected unsigned request",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// background runs fn detached from the request with its own deadline. The
// webhook has already been acknowledged, so failures are only logged.
func (b *Bot) background(task string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in background task", zap.String("task", task), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), b.config.WorkTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			b.logger.Error("Background task failed", zap.String("task", task), zap.Error(err))
		}
	}()
}

func (b *Bot) isAdmin(userID string) bool {
	return b.admins[userID]
}

func (b *Bot) sendMessage(ctx context.Context, channelID, text string) {
	if _, err := b.messenger.SendMessage(ctx, channelID, text); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("channel_id", channelID))
	}
}

func (b *Bot) sendErrorMessage(ctx context.Context, channelID, text string) {
	b.sendMessage(ctx, channelID, "⚠️ "+text)
}

// respond posts a delayed slash-command reply through its response_url.
func (b *Bot) respond(ctx context.Context, responseURL, text string) {
	if responseURL == "" {
		return
	}
	msg := &slack.WebhookMessage{ResponseType: slack.ResponseTypeEphemeral, Text: text}
	if err := b.webhook(ctx, responseURL, msg); err != nil {
		b.logger.Error("Failed to post to response_url", zap.Error(err))
	}
}

// writeEphemeral answers a slash command inline, visible only to its caller.
func writeEphemeral(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(slack.Msg{ResponseType: slack.ResponseTypeEphemeral, Text: text})
}
