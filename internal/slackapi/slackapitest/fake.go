// Package slackapitest provides an in-memory Messenger for tests.
package slackapitest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xaenox/circle-bot/internal/slackapi"
)

// ErrInjected is returned by calls configured to fail.
var ErrInjected = errors.New("injected failure")

// Message is a message or ephemeral posted through the fake.
type Message struct {
	ChannelID string
	UserID    string
	ThreadTS  string
	Text      string
}

// Messenger records every call. Set the Fail* fields to make matching calls
// return ErrInjected.
type Messenger struct {
	mu sync.Mutex

	FailOpen    map[string]bool
	FailCreate  map[string]bool
	FailInvite  map[string]bool
	FailSend    map[string]bool
	FailReplies bool
	Replies     []string
	FailMembers bool
	Members     []string

	Messages   []Message
	Ephemerals []Message
	Created    []string
	Invites    map[string][]string

	nextID int
}

var _ slackapi.Messenger = (*Messenger)(nil)

func New() *Messenger {
	return &Messenger{
		FailOpen:   make(map[string]bool),
		FailCreate: make(map[string]bool),
		FailInvite: make(map[string]bool),
		FailSend:   make(map[string]bool),
		Invites:    make(map[string][]string),
	}
}

func (m *Messenger) OpenDirectChannel(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOpen[userID] {
		return "", ErrInjected
	}
	return "D-" + userID, nil
}

func (m *Messenger) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend[channelID] {
		return "", ErrInjected
	}
	m.Messages = append(m.Messages, Message{ChannelID: channelID, Text: text})
	m.nextID++
	return fmt.Sprintf("1700000000.%06d", m.nextID), nil
}

func (m *Messenger) PostEphemeral(ctx context.Context, channelID, userID, threadTS, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ephemerals = append(m.Ephemerals, Message{ChannelID: channelID, UserID: userID, ThreadTS: threadTS, Text: text})
	return nil
}

// CreateChannel returns "C-<name>" as the channel id.
func (m *Messenger) CreateChannel(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate[name] {
		return "", ErrInjected
	}
	m.Created = append(m.Created, name)
	return "C-" + name, nil
}

func (m *Messenger) Invite(ctx context.Context, channelID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInvite[channelID] {
		return ErrInjected
	}
	m.Invites[channelID] = append(m.Invites[channelID], userIDs...)
	return nil
}

func (m *Messenger) ThreadMessages(ctx context.Context, channelID, threadTS string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReplies {
		return nil, ErrInjected
	}
	replies := m.Replies
	if limit > 0 && len(replies) > limit {
		replies = replies[:limit]
	}
	return append([]string(nil), replies...), nil
}

func (m *Messenger) WorkspaceMembers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMembers {
		return nil, ErrInjected
	}
	return append([]string(nil), m.Members...), nil
}

// MessagesTo returns the texts sent to channelID.
func (m *Messenger) MessagesTo(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var texts []string
	for _, msg := range m.Messages {
		if msg.ChannelID == channelID {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

// CreatedChannels returns the names of created channels.
func (m *Messenger) CreatedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Created...)
}

// EphemeralCount returns the number of ephemeral messages posted.
func (m *Messenger) EphemeralCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Ephemerals)
}
