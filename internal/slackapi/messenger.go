// Package slackapi wraps the Slack Web API calls the bot makes.
package slackapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
)

const serviceName = "slack"

// Messenger is the messaging transport used by the engine and the finalizer.
type Messenger interface {
	OpenDirectChannel(ctx context.Context, userID string) (string, error)
	SendMessage(ctx context.Context, channelID, text string) (string, error)
	PostEphemeral(ctx context.Context, channelID, userID, threadTS, text string) error
	CreateChannel(ctx context.Context, name string) (string, error)
	Invite(ctx context.Context, channelID string, userIDs []string) error
	ThreadMessages(ctx context.Context, channelID, threadTS string, limit int) ([]string, error)
	WorkspaceMembers(ctx context.Context) ([]string, error)
}

type Config struct {
	APIURL         string
	RequestTimeout time.Duration
	Debug          bool
}

// SlackMessenger implements Messenger with slack-go. A client is rebuilt
// whenever the token source hands out a new token.
type SlackMessenger struct {
	tokens     TokenSource
	apiURL     string
	timeout    time.Duration
	debug      bool
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	token  string
	client *slack.Client
}

var _ Messenger = (*SlackMessenger)(nil)

func NewSlackMessenger(config Config, tokens TokenSource, httpClient *http.Client, logger *zap.Logger) *SlackMessenger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SlackMessenger{
		tokens:     tokens,
		apiURL:     config.APIURL,
		timeout:    config.RequestTimeout,
		debug:      config.Debug,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (m *SlackMessenger) clientFor(ctx context.Context) (*slack.Client, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.token == token {
		return m.client, nil
	}

	opts := []slack.Option{
		slack.OptionHTTPClient(m.httpClient),
		slack.OptionDebug(m.debug),
	}
	if m.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(m.apiURL))
	}
	m.client = slack.New(token, opts...)
	m.token = token
	return m.client, nil
}

func (m *SlackMessenger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *SlackMessenger) OpenDirectChannel(ctx context.Context, userID string) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return "", err
	}
	channel, _, _, err := client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return "", apperrors.External(serviceName, "conversations.open", err)
	}
	return channel.ID, nil
}

func (m *SlackMessenger) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return "", err
	}
	_, ts, err := client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", apperrors.External(serviceName, "chat.postMessage", err)
	}
	return ts, nil
}

func (m *SlackMessenger) PostEphemeral(ctx context.Context, channelID, userID, threadTS, text string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return err
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, err := client.PostEphemeralContext(ctx, channelID, userID, opts...); err != nil {
		return apperrors.External(serviceName, "chat.postEphemeral", err)
	}
	return nil
}

// CreateChannel creates a public channel and returns its id.
func (m *SlackMessenger) CreateChannel(ctx context.Context, name string) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return "", err
	}
	channel, err := client.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: name,
		IsPrivate:   false,
	})
	if err != nil {
		return "", apperrors.External(serviceName, "conversations.create", err)
	}
	return channel.ID, nil
}

func (m *SlackMessenger) Invite(ctx context.Context, channelID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return err
	}
	if _, err := client.InviteUsersToConversationContext(ctx, channelID, userIDs...); err != nil {
		return apperrors.External(serviceName, "conversations.invite", err)
	}
	return nil
}

// ThreadMessages returns the text of up to limit messages of a thread, root
// first.
func (m *SlackMessenger) ThreadMessages(ctx context.Context, channelID, threadTS string, limit int) ([]string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	msgs, _, _, err := client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     limit,
	})
	if err != nil {
		return nil, apperrors.External(serviceName, "conversations.replies", err)
	}

	texts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if limit > 0 && len(texts) == limit {
			break
		}
		texts = append(texts, msg.Text)
	}
	return texts, nil
}

// WorkspaceMembers lists the ids of active human members of the workspace.
// Bots, app users and deactivated accounts are skipped.
func (m *SlackMessenger) WorkspaceMembers(ctx context.Context) ([]string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	client, err := m.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	users, err := client.GetUsersContext(ctx, slack.GetUsersOptionLimit(200))
	if err != nil {
		return nil, apperrors.External(serviceName, "users.list", err)
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Deleted || u.IsBot || u.IsAppUser || u.ID == "USLACKBOT" {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// Mentions renders user ids as space separated Slack mentions.
func Mentions(userIDs []string) string {
	parts := make([]string, len(userIDs))
	for i, id := range userIDs {
		parts[i] = fmt.Sprintf("<@%s>", id)
	}
	return strings.Join(parts, " ")
}
