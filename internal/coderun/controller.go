// Package coderun owns the code editor buffer and the result of the last run
// against the remote code runner.
package coderun

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/transport"
)

const (
	// Language is the only language the runner is asked to execute.
	Language = "python"
	// DefaultTimeoutSeconds is the execution limit sent with every run.
	DefaultTimeoutSeconds = 10
	// UnreachableMessage is shown in the error panel when the runner is down.
	UnreachableMessage = "Could not reach code runner. Is the backend running?"

	executePath = "/execute"
)

// StarterCode is the editor's initial buffer.
const StarterCode = `# Welcome to LearnFlow Code Runner!
# Write your Python code here and click "Run"

for i in range(5):
    print(f"Hello, iteration {i}!")
`

// ErrBusy is returned when Run is called while a run is in flight.
var ErrBusy = errors.New("a code run is already in flight")

// Sender performs one upstream call.
type Sender interface {
	Send(ctx context.Context, method, path string, body any) transport.Result
}

// Request is the body sent to the execution endpoint.
type Request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Timeout  int    `json:"timeout"`
}

// Controller holds a source buffer and the last execution result.
type Controller struct {
	sender   Sender
	timeout  int
	onChange func()
	logger   *slog.Logger

	mu     sync.Mutex
	source string
	phase  domain.Phase
	result domain.ExecutionResult
	ran    bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeoutSeconds sets the execution limit sent to the runner.
func WithTimeoutSeconds(seconds int) Option {
	return func(c *Controller) {
		if seconds > 0 {
			c.timeout = seconds
		}
	}
}

// WithSource sets the initial source buffer.
func WithSource(code string) Option {
	return func(c *Controller) {
		c.source = code
	}
}

// WithOnChange registers a callback run after every state change, without the lock held.
func WithOnChange(fn func()) Option {
	return func(c *Controller) {
		c.onChange = fn
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

// NewController creates a controller seeded with StarterCode.
func NewController(sender Sender, opts ...Option) *Controller {
	c := &Controller{
		sender:  sender,
		timeout: DefaultTimeoutSeconds,
		logger:  slog.Default(),
		source:  StarterCode,
		phase:   domain.PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSource replaces the source buffer. An in-flight run keeps the code it started with.
func (c *Controller) SetSource(code string) {
	c.mu.Lock()
	c.source = code
	c.mu.Unlock()
	c.notify()
}

// Source returns the current source buffer.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Run sends the current source to the runner and stores the outcome.
// The previous result is cleared before the call is made.
func (c *Controller) Run(ctx context.Context) (domain.ExecutionResult, error) {
	c.mu.Lock()
	if c.phase != domain.PhaseIdle {
		c.mu.Unlock()
		return domain.ExecutionResult{}, ErrBusy
	}
	c.phase = domain.PhaseInFlight
	c.result = domain.ExecutionResult{}
	req := Request{Code: c.source, Language: Language, Timeout: c.timeout}
	c.mu.Unlock()
	c.notify()

	result := c.fold(c.sender.Send(ctx, http.MethodPost, executePath, req))

	c.mu.Lock()
	c.result = result
	c.ran = true
	c.phase = domain.PhaseIdle
	c.mu.Unlock()
	c.notify()

	return result, nil
}

func (c *Controller) fold(res transport.Result) domain.ExecutionResult {
	if !res.OK() {
		c.logger.Warn("Code runner unreachable", "error", res.Err)
		return domain.ExecutionResult{Error: UnreachableMessage}
	}
	out, err := transport.Decode[domain.ExecutionResult](res)
	if err != nil {
		c.logger.Warn("Code runner payload did not decode cleanly", "error", err)
		if !transport.IsFieldTypeError(err) {
			return domain.ExecutionResult{}
		}
	}
	return out
}

// Result returns the stored result of the last completed run.
func (c *Controller) Result() domain.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Phase returns the controller's request state.
func (c *Controller) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Display returns what the output panel shows.
func (c *Controller) Display() domain.ExecutionDisplay {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == domain.PhaseInFlight {
		return domain.ExecutionDisplay{Running: true}
	}
	if !c.ran {
		return domain.ExecutionDisplay{Hint: true}
	}
	return Render(c.result)
}

// Render applies the display policy to a result: stdout goes to the output
// panel, the error panel prefers the service error over stderr, and a run
// with no content on any channel shows NoOutputPlaceholder.
func Render(r domain.ExecutionResult) domain.ExecutionDisplay {
	d := domain.ExecutionDisplay{Output: r.Stdout}
	if r.Empty() {
		d.Output = domain.NoOutputPlaceholder
		return d
	}
	d.Error = r.Error
	if d.Error == "" {
		d.Error = r.Stderr
	}
	d.ShowError = d.Error != ""
	return d
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
