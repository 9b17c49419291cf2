// Package session keeps one chat controller and one code controller per
// browser session and evicts sessions that have gone idle.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/learnflow/internal/chat"
	"github.com/ashureev/learnflow/internal/coderun"
	"github.com/ashureev/learnflow/internal/domain"
)

// Session is one browser tab's controllers. Controllers are created by the
// registry's Factory and are never shared between sessions.
type Session struct {
	UserID    string
	SessionID string
	Chat      *chat.Controller
	Code      *coderun.Controller

	lastUsed atomic.Int64 // unix nanoseconds

	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
}

// Snapshot is the state a client renders for a session.
type Snapshot struct {
	SessionID  string                  `json:"session_id"`
	Transcript []domain.Turn           `json:"transcript"`
	ChatPhase  domain.Phase            `json:"chat_phase"`
	Source     string                  `json:"source"`
	Execution  domain.ExecutionDisplay `json:"execution"`
	CodePhase  domain.Phase            `json:"code_phase"`
}

// Snapshot reads both controllers. Each controller is read under its own
// lock, so the two halves may straddle a concurrent change.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:  s.SessionID,
		Transcript: s.Chat.Transcript(),
		ChatPhase:  s.Chat.Phase(),
		Source:     s.Code.Source(),
		Execution:  s.Code.Display(),
		CodePhase:  s.Code.Phase(),
	}
}

// Subscribe returns a channel that receives a signal after each change and a
// function that releases it. Signals coalesce: a slow reader sees at least one
// signal after the latest change, not one per change. The channel is closed
// when the session is closed.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.subs == nil {
		s.subs = make(map[chan struct{}]struct{})
	}
	s.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Closed reports whether the session has been evicted.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func (s *Session) touch(at time.Time) {
	s.lastUsed.Store(at.UnixNano())
}
