// Package chat owns a learner's conversation with the tutoring agent.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/transport"
	"github.com/google/uuid"
)

const (
	// FallbackReply is appended when the tutoring agent cannot be reached.
	FallbackReply = "Could not reach the tutor. Is the backend running?"
	// NoResponse is appended when the agent answered without any text.
	NoResponse = "No response"

	chatPath = "/chat"
)

var (
	// ErrBusy is returned when a submit arrives while another is in flight.
	ErrBusy = errors.New("a tutoring request is already in flight")
	// ErrEmptyMessage is returned for input that is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")
)

// Sender performs one upstream call.
type Sender interface {
	Send(ctx context.Context, method, path string, body any) transport.Result
}

// Request is the body sent to the tutoring endpoint.
type Request struct {
	Message string `json:"message"`
	UserID  int    `json:"user_id"`
}

// Reply is the tutoring endpoint's payload. Every field is optional.
type Reply struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Agent    string `json:"agent,omitempty"`
	Intent   string `json:"intent,omitempty"`
}

// Controller holds one transcript and allows a single outstanding request.
type Controller struct {
	sender    Sender
	learnerID int
	now       func() time.Time
	onChange  func()
	logger    *slog.Logger
	greeting  string

	mu         sync.Mutex
	transcript []domain.Turn
	phase      domain.Phase
}

// Option configures a Controller.
type Option func(*Controller)

// WithGreeting seeds the transcript with an assistant turn.
func WithGreeting(text string) Option {
	return func(c *Controller) {
		c.greeting = strings.TrimSpace(text)
	}
}

// WithOnChange registers a callback run after every transcript or phase change.
// It is called without the controller lock held.
func WithOnChange(fn func()) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// WithClock overrides the time source for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a controller that talks to the tutor as learnerID.
func NewController(sender Sender, learnerID int, opts ...Option) *Controller {
	c := &Controller{
		sender:    sender,
		learnerID: learnerID,
		now:       time.Now,
		logger:    slog.Default(),
		phase:     domain.PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.greeting != "" {
		c.transcript = append(c.transcript, c.newTurn(domain.RoleAssistant, c.greeting, "", ""))
	}
	return c
}

// Submit appends text as a user turn, asks the tutor, and appends its reply.
// The user turn is visible in Transcript before the upstream call returns.
// A blank message or a submit while another is in flight changes nothing.
func (c *Controller) Submit(ctx context.Context, text string) (domain.Turn, error) {
	message := strings.TrimSpace(text)
	if message == "" {
		return domain.Turn{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.phase != domain.PhaseIdle {
		c.mu.Unlock()
		return domain.Turn{}, ErrBusy
	}
	c.transcript = append(c.transcript, c.newTurn(domain.RoleUser, message, "", ""))
	c.phase = domain.PhaseInFlight
	c.mu.Unlock()
	c.notify()

	res := c.sender.Send(ctx, http.MethodPost, chatPath, Request{Message: message, UserID: c.learnerID})
	reply := c.fold(res)

	c.mu.Lock()
	c.transcript = append(c.transcript, reply)
	c.phase = domain.PhaseIdle
	c.mu.Unlock()
	c.notify()

	return reply, nil
}

// fold turns an upstream result into the assistant turn to append.
func (c *Controller) fold(res transport.Result) domain.Turn {
	if !res.OK() {
		c.logger.Warn("Tutor unreachable, using fallback reply", "learner_id", c.learnerID, "error", res.Err)
		return c.newTurn(domain.RoleAssistant, FallbackReply, "", "")
	}

	// Fields that decoded keep their values; a mistyped one falls back to "".
	reply, err := transport.Decode[Reply](res)
	if err != nil {
		c.logger.Warn("Tutor payload did not decode cleanly", "learner_id", c.learnerID, "error", err)
		if !transport.IsFieldTypeError(err) {
			reply = Reply{}
		}
	}

	content := reply.Response
	if content == "" {
		content = reply.Error
	}
	if content == "" {
		content = NoResponse
	}
	return c.newTurn(domain.RoleAssistant, content, reply.Agent, reply.Intent)
}

// Transcript returns a copy of the turns in the order they were produced.
func (c *Controller) Transcript() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Turn, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Len returns the number of turns in the transcript.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transcript)
}

// Phase returns the controller's request state.
func (c *Controller) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) newTurn(role domain.Role, content, agent, intent string) domain.Turn {
	return domain.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Agent:     agent,
		Intent:    intent,
		CreatedAt: c.now().UTC(),
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
