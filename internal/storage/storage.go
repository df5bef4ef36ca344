package storage

import (
	"context"
	"time"

	"github.com/xaenox/circle-bot/internal/models"
)

// EventStore persists events and enforces that at most one is active at any
// instant.
type EventStore interface {
	CreateEvent(ctx context.Context, start time.Time, duration time.Duration) (*models.Event, error)
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	GetActiveEvent(ctx context.Context) (*models.Event, error)
	ListEvents(ctx context.Context) ([]*models.Event, error)
	GetUnfinalizedEndedEvents(ctx context.Context) ([]*models.Event, error)
	MarkFinalized(ctx context.Context, id int64) error
	DeleteEvent(ctx context.Context, id int64) error
	DeleteAllEvents(ctx context.Context) (int64, error)
}

// ResponseStore persists one response per (user, event).
type ResponseStore interface {
	AddResponse(ctx context.Context, userID, text string) (*models.Response, error)
	GetResponsesWithUsers(ctx context.Context, eventID int64) ([]models.UserResponse, error)
	GetEventUserIDs(ctx context.Context, eventID int64) ([]string, error)
}

// EngagementStore persists per-thread engagement and the intervention log.
type EngagementStore interface {
	// RecordSignal upserts the thread and the signaling participant in one
	// atomic step and returns the thread as it stands afterwards.
	RecordSignal(ctx context.Context, sig models.Signal) (*models.MonitoredThread, error)
	GetThread(ctx context.Context, key models.ThreadKey) (*models.MonitoredThread, error)
	GetParticipant(ctx context.Context, key models.ThreadKey, userID string) (*models.ThreadParticipant, error)
	// EngagedParticipants lists participants with a score of at least
	// minScore, highest score first, ties in order of first engagement.
	EngagedParticipants(ctx context.Context, key models.ThreadKey, minScore int) ([]*models.ThreadParticipant, error)
	// ClaimIntervention atomically raises the thread's intervention level to
	// target if it currently ranks below it. It reports whether this caller
	// won the claim.
	ClaimIntervention(ctx context.Context, key models.ThreadKey, target models.InterventionType) (bool, error)
	RecordIntervention(ctx context.Context, rec *models.InterventionRecord) error
	ListInterventions(ctx context.Context, key models.ThreadKey) ([]*models.InterventionRecord, error)
}

// PromptStore keeps the prompt library and which prompts went out with
// which event.
type PromptStore interface {
	CreatePrompt(ctx context.Context, kind models.PromptKind, content string) (*models.Prompt, error)
	GetPrompt(ctx context.Context, id int64) (*models.Prompt, error)
	// ListPrompts returns prompts of kind, newest first. An empty kind lists
	// every prompt.
	ListPrompts(ctx context.Context, kind models.PromptKind) ([]*models.Prompt, error)
	DeletePrompt(ctx context.Context, id int64) error
	// PickUnusedPrompt returns a random private prompt that is not attached
	// to an unfinalized event, or ErrNotFound.
	PickUnusedPrompt(ctx context.Context) (*models.Prompt, error)
	// AttachPrompt links a prompt to an event. Attaching twice is a no-op.
	AttachPrompt(ctx context.Context, eventID, promptID int64) error
	GetEventPrompts(ctx context.Context, eventID int64) ([]*models.Prompt, error)
}

// AudienceStore is the registry of users who receive event prompts.
type AudienceStore interface {
	// AddMembers registers users and returns how many were new.
	AddMembers(ctx context.Context, userIDs ...string) (int, error)
	RemoveMember(ctx context.Context, userID string) error
	// ListMembers returns members in registration order.
	ListMembers(ctx context.Context) ([]string, error)
}

// Storage is the full persistence surface used by the bot.
type Storage interface {
	EventStore
	ResponseStore
	EngagementStore
	PromptStore
	AudienceStore
	Close() error
}
