package models

import (
	"fmt"
	"time"
)

// MaxEventDays bounds how long a single event may stay open.
const MaxEventDays = 365

// EventDuration converts a length in days into a Duration. It rejects values
// outside (0, MaxEventDays], NaN included.
func EventDuration(days float64) (time.Duration, error) {
	if !(days > 0 && days <= MaxEventDays) {
		return 0, fmt.Errorf("event length must be between 0 and %d days, got %v", MaxEventDays, days)
	}
	return time.Duration(days * float64(24*time.Hour)), nil
}

// Event is a bounded window during which one prompt is open for responses.
type Event struct {
	ID          int64         `json:"id"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration"`
	IsFinalized bool          `json:"is_finalized"`
	CreatedAt   time.Time     `json:"created_at"`
}

// EndTime is the first instant at which the event is no longer active.
func (e *Event) EndTime() time.Time {
	return e.StartTime.Add(e.Duration)
}

// IsActiveAt reports whether start <= t < start+duration.
func (e *Event) IsActiveAt(t time.Time) bool {
	return !t.Before(e.StartTime) && t.Before(e.EndTime())
}

// HasEndedAt reports whether the window has fully elapsed at t.
func (e *Event) HasEndedAt(t time.Time) bool {
	return !t.Before(e.EndTime())
}

// Overlaps reports whether the event window intersects [start, end).
func (e *Event) Overlaps(start, end time.Time) bool {
	return e.StartTime.Before(end) && start.Before(e.EndTime())
}

// Response is a user's free-text answer to an event prompt.
// There is at most one Response per (UserID, EventID).
type Response struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	EventID     int64     `json:"event_id"`
	Entry       string    `json:"entry"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// UserResponse pairs a Slack user id with their response text.
type UserResponse struct {
	UserID string `json:"user_id"`
	Entry  string `json:"entry"`
}
