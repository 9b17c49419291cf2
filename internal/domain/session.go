package domain

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a chat transcript. Turns are never mutated after
// they are appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Intent    string    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Phase is the request state of a controller.
type Phase string

const (
	// PhaseIdle accepts a new submit or run.
	PhaseIdle Phase = "idle"
	// PhaseInFlight rejects new work until the outstanding call settles.
	PhaseInFlight Phase = "in_flight"
)
