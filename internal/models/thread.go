package models

import "time"

// InterventionType is the escalation level applied to a monitored thread.
type InterventionType string

const (
	InterventionNone          InterventionType = "none"
	InterventionDMPair        InterventionType = "dm_pair"
	InterventionEphemeral     InterventionType = "ephemeral"
	InterventionCreateChannel InterventionType = "create_channel"
)

// Rank orders intervention types: none < dm_pair < ephemeral < create_channel.
// Unknown values rank as none.
func (t InterventionType) Rank() int {
	switch t {
	case InterventionDMPair:
		return 1
	case InterventionEphemeral:
		return 2
	case InterventionCreateChannel:
		return 3
	default:
		return 0
	}
}

// SignalKind distinguishes the engagement signals a thread can receive.
type SignalKind string

const (
	SignalMessage  SignalKind = "message"
	SignalReaction SignalKind = "reaction"
)

// Engagement score increments per signal.
const (
	MessageScore  = 10
	ReactionScore = 5
)

// Score is the engagement a single signal of this kind is worth.
func (k SignalKind) Score() int {
	switch k {
	case SignalMessage:
		return MessageScore
	case SignalReaction:
		return ReactionScore
	default:
		return 0
	}
}

// ThreadKey identifies a monitored thread.
type ThreadKey struct {
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts"`
}

// Signal is one inbound engagement observation.
type Signal struct {
	Thread ThreadKey  `json:"thread"`
	UserID string     `json:"user_id"`
	Kind   SignalKind `json:"kind"`
	// Text is set for messages. It is stored as the thread's original
	// message when the signal is the thread root itself.
	Text      string    `json:"text,omitempty"`
	MessageTS string    `json:"message_ts,omitempty"`
	At        time.Time `json:"at"`
}

// IsThreadRoot reports whether the signal is the thread's first message.
func (s Signal) IsThreadRoot() bool {
	return s.Kind == SignalMessage && s.MessageTS != "" && s.MessageTS == s.Thread.ThreadTS
}

// MonitoredThread is the aggregate engagement state of one thread.
type MonitoredThread struct {
	ChannelID        string           `json:"channel_id"`
	ThreadTS         string           `json:"thread_ts"`
	LastActivity     time.Time        `json:"last_activity"`
	MessageCount     int              `json:"message_count"`
	BotIntervened    bool             `json:"bot_intervened"`
	InterventionType InterventionType `json:"intervention_type"`
	OriginalMessage  string           `json:"original_message,omitempty"`
}

// Key returns the thread identity.
func (t *MonitoredThread) Key() ThreadKey {
	return ThreadKey{ChannelID: t.ChannelID, ThreadTS: t.ThreadTS}
}

// ThreadParticipant is one user's engagement within a thread.
type ThreadParticipant struct {
	ChannelID       string    `json:"channel_id"`
	ThreadTS        string    `json:"thread_ts"`
	UserID          string    `json:"user_id"`
	MessageCount    int       `json:"message_count"`
	ReactionCount   int       `json:"reaction_count"`
	EngagementScore int       `json:"engagement_score"`
	FirstEngaged    time.Time `json:"first_engaged"`
	LastEngaged     time.Time `json:"last_engaged"`
}

// InterventionRecord is an append-only log entry for one escalation action.
type InterventionRecord struct {
	ID               string           `json:"id"`
	ChannelID        string           `json:"channel_id"`
	ThreadTS         string           `json:"thread_ts"`
	InterventionType InterventionType `json:"intervention_type"`
	TargetUserIDs    []string         `json:"target_user_ids"`
	CreatedChannelID string           `json:"created_channel_id,omitempty"`
	Successful       bool             `json:"successful"`
	CreatedAt        time.Time        `json:"created_at"`
}
