package slackapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
)

// refreshMargin is how long before expiry a rotating token is renewed.
const refreshMargin = 60 * time.Second

// TokenSource supplies the bot token for each Web API call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a non-rotating bot token.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", apperrors.Invalid("slack.bot_token", "not configured")
	}
	return string(t), nil
}

type RefreshConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Attempts     uint
}

type refreshFunc func(ctx context.Context, refreshToken string) (*slack.OAuthV2Response, error)

// RefreshingToken serves a rotating bot token and exchanges the refresh token
// for a new pair shortly before the current one expires. Concurrent callers
// share a single refresh.
type RefreshingToken struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	attempts     uint
	backoff      time.Duration

	refresh refreshFunc
	now     func() time.Time
	logger  *zap.Logger
}

func NewRefreshingToken(config RefreshConfig, httpClient *http.Client, logger *zap.Logger) *RefreshingToken {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	attempts := config.Attempts
	if attempts == 0 {
		attempts = 3
	}
	return &RefreshingToken{
		accessToken:  config.AccessToken,
		refreshToken: config.RefreshToken,
		expiresAt:    config.ExpiresAt,
		attempts:     attempts,
		backoff:      200 * time.Millisecond,
		refresh: func(ctx context.Context, refreshToken string) (*slack.OAuthV2Response, error) {
			return slack.RefreshOAuthV2TokenContext(ctx, httpClient, config.ClientID, config.ClientSecret, refreshToken)
		},
		now:    time.Now,
		logger: logger,
	}
}

func (t *RefreshingToken) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.accessToken != "" && t.now().Add(refreshMargin).Before(t.expiresAt) {
		return t.accessToken, nil
	}
	if t.refreshToken == "" {
		if t.accessToken != "" {
			return t.accessToken, nil
		}
		return "", apperrors.Invalid("slack.refresh_token", "not configured")
	}

	var resp *slack.OAuthV2Response
	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		resp, err = t.refresh(ctx, t.refreshToken)
		if err != nil {
			t.logger.Warn("Token refresh attempt failed", zap.Uint("attempt", attempt), zap.Error(err))
		}
		return err
	},
		strategy.Limit(t.attempts),
		strategy.Backoff(backoff.Exponential(t.backoff, 2)),
	)
	if err != nil {
		return "", apperrors.External("slack", "refresh token", err)
	}
	if resp == nil || resp.AccessToken == "" {
		return "", apperrors.External("slack", "refresh token", errors.New("empty access token"))
	}

	t.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		t.refreshToken = resp.RefreshToken
	}
	t.expiresAt = t.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	t.logger.Info("Refreshed Slack bot token", zap.Time("expires_at", t.expiresAt))
	return t.accessToken, nil
}
