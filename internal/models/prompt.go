package models

import "time"

// PromptKind separates prompts that open an event from recaps written after
// one is finalized.
type PromptKind string

const (
	PromptPrivate    PromptKind = "private"
	PromptAggregated PromptKind = "aggregated"
)

func (k PromptKind) Valid() bool {
	return k == PromptPrivate || k == PromptAggregated
}

// Prompt is a stored message. Private prompts are DMed to the audience when
// an event opens; aggregated ones summarize a finished event.
type Prompt struct {
	ID        int64      `json:"id"`
	Kind      PromptKind `json:"kind"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}
