package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/shared"
)

// DefaultSweepInterval is how often the sweeper looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// Ledger is the part of the store the sweeper needs.
type Ledger interface {
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.BrowserSession, error)
	DeleteIdleSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (bool, error)
	CleanupOrphanUsers(ctx context.Context, ttl time.Duration) ([]string, error)
}

// Sweeper evicts sessions whose last use is older than the TTL.
type Sweeper struct {
	ledger   Ledger
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval means DefaultSweepInterval.
func NewSweeper(ledger Ledger, registry *Registry, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{ledger: ledger, registry: registry, ttl: ttl, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled. It always returns nil so it
// can sit in an errgroup next to the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("Session sweeper started", "interval", s.interval, "ttl", s.ttl)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one pass and returns how many sessions were evicted. A session
// is evicted only if its ledger row is still idle when deleted and the
// registry has not seen it since the cutoff.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.ledger.GetExpiredSessions(ctx, s.ttl)
	if err != nil {
		s.logger.Error("Sweeper failed to get expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	s.logger.Info("Sweeper found expired sessions", "count", len(expired))

	evicted := 0
	for _, sess := range expired {
		removed, err := s.deleteWithRetry(ctx, sess.UserID, sess.SessionID)
		if err != nil {
			s.logger.Warn("Sweeper failed to delete session row",
				"error", err,
				"user_id", sess.UserID,
				"session_id", sess.SessionID)
			continue
		}
		if !removed {
			s.logger.Debug("Session used again since listing, keeping it",
				"user_id", sess.UserID,
				"session_id", sess.SessionID)
			continue
		}
		s.registry.CloseIfIdle(sess.UserID, sess.SessionID, time.Now().Add(-s.ttl))
		evicted++
	}

	orphans, err := s.ledger.CleanupOrphanUsers(ctx, s.ttl)
	if err != nil {
		s.logger.Error("Sweeper failed to clean up orphan users", "error", err)
		return evicted
	}
	for _, userID := range orphans {
		// Live sessions whose ledger touches failed would otherwise never expire.
		if n := s.registry.CloseUser(userID); n > 0 {
			s.logger.Info("Closed sessions of removed user", "user_id", userID, "count", n)
		}
	}
	if len(orphans) > 0 {
		s.logger.Info("Sweeper removed orphan users", "count", len(orphans))
	}

	return evicted
}

// deleteWithRetry retries SQLite lock conflicts with exponential backoff.
func (s *Sweeper) deleteWithRetry(ctx context.Context, userID, sessionID string) (bool, error) {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		var removed bool
		removed, err = s.ledger.DeleteIdleSession(ctx, userID, sessionID, s.ttl)
		if err == nil {
			return removed, nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		s.logger.Debug("Session delete hit a locked database, retrying",
			"user_id", userID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, fmt.Errorf("delete session %s/%s: %w", userID, sessionID, err)
}
