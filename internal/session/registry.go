package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/learnflow/internal/chat"
	"github.com/ashureev/learnflow/internal/coderun"
)

// Factory builds a fresh pair of controllers. notify must be passed to both
// controllers as their change callback so subscribers hear about updates.
type Factory func(notify func()) (*chat.Controller, *coderun.Controller)

// Toucher records that a session was used.
type Toucher interface {
	TouchSession(ctx context.Context, userID, sessionID string, at time.Time) error
}

// DefaultMaxSessionsPerUser bounds how many tabs one browser may hold open.
const DefaultMaxSessionsPerUser = 8

// Registry maps (user, tab session) to live controllers.
type Registry struct {
	factory    Factory
	ledger     Toucher
	logger     *slog.Logger
	maxPerUser int
	now        func() time.Time

	mu     sync.RWMutex
	active map[string]map[string]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessionsPerUser caps live sessions per user. Opening one more evicts
// the user's least recently used session. Non-positive values are ignored.
func WithMaxSessionsPerUser(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxPerUser = n
		}
	}
}

// NewRegistry creates a registry. ledger may be nil.
func NewRegistry(factory Factory, ledger Toucher, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factory:    factory,
		ledger:     ledger,
		logger:     logger,
		maxPerUser: DefaultMaxSessionsPerUser,
		now:        time.Now,
		active:     make(map[string]map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the session for userID/sessionID, creating it on first use,
// and records the access in the ledger. Ledger failures are logged only.
func (r *Registry) Get(ctx context.Context, userID, sessionID string) *Session {
	sess := r.getOrCreate(userID, sessionID)

	if r.ledger != nil {
		if err := r.ledger.TouchSession(ctx, userID, sessionID, time.Now()); err != nil {
			r.logger.Warn("Failed to touch session", "error", err, "user_id", userID, "session_id", sessionID)
		}
	}
	return sess
}

func (r *Registry) getOrCreate(userID, sessionID string) *Session {
	now := r.now()

	// Touch under the lock so CloseIfIdle never evicts a session being handed out.
	r.mu.RLock()
	if sess := r.active[userID][sessionID]; sess != nil {
		sess.touch(now)
		r.mu.RUnlock()
		return sess
	}
	r.mu.RUnlock()

	r.mu.Lock()
	sessions, exists := r.active[userID]
	if !exists {
		sessions = make(map[string]*Session)
		r.active[userID] = sessions
	}
	if sess, exists := sessions[sessionID]; exists {
		sess.touch(now)
		r.mu.Unlock()
		return sess
	}

	var evicted *Session
	if len(sessions) >= r.maxPerUser {
		evicted = leastRecentlyUsed(sessions)
		delete(sessions, evicted.SessionID)
	}

	sess := &Session{UserID: userID, SessionID: sessionID}
	sess.Chat, sess.Code = r.factory(sess.notify)
	sess.touch(now)
	sessions[sessionID] = sess
	r.mu.Unlock()

	if evicted != nil {
		evicted.close()
		r.logger.Info("Session evicted, tab limit reached",
			"user_id", userID,
			"session_id", evicted.SessionID,
			"limit", r.maxPerUser)
	}
	r.logger.Info("Session created", "user_id", userID, "session_id", sessionID)
	return sess
}

func leastRecentlyUsed(sessions map[string]*Session) *Session {
	var oldest *Session
	for _, sess := range sessions {
		if oldest == nil || sess.lastUsed.Load() < oldest.lastUsed.Load() {
			oldest = sess
		}
	}
	return oldest
}

// Lookup returns the session if it exists.
func (r *Registry) Lookup(userID, sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sessions, ok := r.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Close evicts one session and closes its subscriptions. It reports whether
// the session existed. A request already in flight finishes against the
// detached controllers.
func (r *Registry) Close(userID, sessionID string) bool {
	r.mu.Lock()
	sess := r.active[userID][sessionID]
	r.detach(userID, sessionID)
	r.mu.Unlock()

	if sess == nil {
		return false
	}
	sess.close()
	r.logger.Info("Session closed", "user_id", userID, "session_id", sessionID)
	return true
}

// detach removes a session from the map. Callers hold r.mu.
func (r *Registry) detach(userID, sessionID string) {
	sessions, ok := r.active[userID]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.active, userID)
	}
}

// CloseIfIdle evicts the session only if it has not been used since cutoff.
func (r *Registry) CloseIfIdle(userID, sessionID string, cutoff time.Time) bool {
	r.mu.Lock()
	sess := r.active[userID][sessionID]
	if sess == nil || sess.lastUsed.Load() >= cutoff.UnixNano() {
		r.mu.Unlock()
		return false
	}
	r.detach(userID, sessionID)
	r.mu.Unlock()

	sess.close()
	r.logger.Info("Session closed", "user_id", userID, "session_id", sessionID)
	return true
}

// CloseUser evicts every session of a user and returns how many were closed.
func (r *Registry) CloseUser(userID string) int {
	r.mu.Lock()
	sessions := r.active[userID]
	delete(r.active, userID)
	r.mu.Unlock()

	for sid, sess := range sessions {
		sess.close()
		r.logger.Info("Session closed", "user_id", userID, "session_id", sid)
	}
	return len(sessions)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.active {
		n += len(sessions)
	}
	return n
}

// CloseAll evicts every session. Used on shutdown so open feeds end cleanly.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string]map[string]*Session)
	r.mu.Unlock()

	n := 0
	for _, sessions := range active {
		for _, sess := range sessions {
			sess.close()
			n++
		}
	}
	return n
}
