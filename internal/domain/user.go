// Package domain contains core domain types for the LearnFlow client.
package domain

import (
	"time"
)

// User is an anonymous browser identity.
type User struct {
	UserID     string    `json:"user_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BrowserSession is one tab's lease on a set of controllers.
// It carries no learner data; it exists so idle sessions can be swept.
type BrowserSession struct {
	UserID     string
	SessionID  string
	LastSeenAt time.Time
	CreatedAt  time.Time
}

// Expired reports whether the session has been idle longer than ttl.
func (s *BrowserSession) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastSeenAt) > ttl
}
