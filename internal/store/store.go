// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/learnflow/internal/domain"
)

// Repository records anonymous users and their browser sessions. It holds no
// learner content; transcripts and results live in the session controllers.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// TouchSession creates the session row or moves its last_seen_at forward.
	TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error

	// GetExpiredSessions returns sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.BrowserSession, error)

	// DeleteIdleSession removes a session row that is still idle past ttl and
	// reports whether it did.
	DeleteIdleSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (bool, error)

	// CleanupOrphanUsers removes users with no sessions that were last seen
	// before ttl and returns their ids.
	CleanupOrphanUsers(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
