package coderun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	mu     sync.Mutex
	result transport.Result
	calls  []Request
	block  chan struct{}
}

func (s *stubSender) Send(_ context.Context, _ string, _ string, body any) transport.Result {
	s.mu.Lock()
	s.calls = append(s.calls, body.(Request))
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return s.result
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func okResult(body string) transport.Result {
	return transport.Result{Status: http.StatusOK, Body: json.RawMessage(body)}
}

func TestRunSendsSourceWithFixedLanguageAndTimeout(t *testing.T) {
	sender := &stubSender{result: okResult(`{"stdout":"5\n"}`)}
	c := NewController(sender, WithSource("print(5)"))

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sender.calls, 1)
	assert.Equal(t, Request{Code: "print(5)", Language: "python", Timeout: DefaultTimeoutSeconds}, sender.calls[0])
}

func TestRunStdoutOnly(t *testing.T) {
	c := NewController(&stubSender{result: okResult(`{"stdout":"5\n","stderr":"","error":""}`)})

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionResult{Stdout: "5\n"}, res)

	d := c.Display()
	assert.Equal(t, "5\n", d.Output)
	assert.False(t, d.ShowError)
	assert.Empty(t, d.Error)
	assert.False(t, d.Running)
}

func TestRunEmptyPayloadShowsPlaceholder(t *testing.T) {
	c := NewController(&stubSender{result: okResult(`{}`)})

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	// The placeholder is a display rule; the stored result stays empty.
	assert.True(t, res.Empty())
	assert.Equal(t, domain.ExecutionResult{}, c.Result())

	d := c.Display()
	assert.Equal(t, domain.NoOutputPlaceholder, d.Output)
	assert.False(t, d.ShowError)
}

func TestRunMistypedFieldKeepsTheOthers(t *testing.T) {
	c := NewController(&stubSender{result: okResult(`{"stdout":"5\n","stderr":"","error":{"code":1}}`)})

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionResult{Stdout: "5\n"}, res)

	d := c.Display()
	assert.Equal(t, "5\n", d.Output)
	assert.False(t, d.ShowError)
}

func TestRunMalformedPayloadIsEmpty(t *testing.T) {
	c := NewController(&stubSender{result: okResult(`["stdout"]`)})

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, domain.NoOutputPlaceholder, c.Display().Output)
}

func TestRunUnreachableRunner(t *testing.T) {
	c := NewController(&stubSender{result: transport.Result{Err: transport.ErrNetworkUnavailable}})

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionResult{Error: UnreachableMessage}, res)

	d := c.Display()
	assert.Empty(t, d.Output)
	assert.True(t, d.ShowError)
	assert.Equal(t, UnreachableMessage, d.Error)
	assert.Equal(t, domain.PhaseIdle, c.Phase())
}

func TestRenderErrorPanelPrecedence(t *testing.T) {
	cases := []struct {
		name string
		in   domain.ExecutionResult
		want domain.ExecutionDisplay
	}{
		{
			name: "stderr only",
			in:   domain.ExecutionResult{Stderr: "NameError: x"},
			want: domain.ExecutionDisplay{Error: "NameError: x", ShowError: true},
		},
		{
			name: "error beats stderr",
			in:   domain.ExecutionResult{Stdout: "partial", Stderr: "trace", Error: "timeout"},
			want: domain.ExecutionDisplay{Output: "partial", Error: "timeout", ShowError: true},
		},
		{
			name: "all empty",
			in:   domain.ExecutionResult{},
			want: domain.ExecutionDisplay{Output: domain.NoOutputPlaceholder},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Render(tc.in))
		})
	}
}

func TestDisplayHintBeforeFirstRun(t *testing.T) {
	c := NewController(&stubSender{})
	assert.Equal(t, domain.ExecutionDisplay{Hint: true}, c.Display())
	assert.Equal(t, StarterCode, c.Source())
}

func TestRunWhileInFlightIsIgnoredAndPreviousResultCleared(t *testing.T) {
	sender := &stubSender{result: okResult(`{"stdout":"first\n"}`)}
	c := NewController(sender)
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first\n", c.Result().Stdout)

	sender.mu.Lock()
	sender.result = okResult(`{"stdout":"second\n"}`)
	sender.block = make(chan struct{})
	sender.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return c.Phase() == domain.PhaseInFlight }, time.Second, 5*time.Millisecond)

	// The old result is gone, not merged, while the new run is outstanding.
	assert.Equal(t, domain.ExecutionResult{}, c.Result())
	assert.Equal(t, domain.ExecutionDisplay{Running: true}, c.Display())

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 2, sender.callCount())

	close(sender.block)
	require.NoError(t, <-done)
	assert.Equal(t, "second\n", c.Result().Stdout)
	assert.Equal(t, domain.PhaseIdle, c.Phase())
}

func TestSetSourceDuringRunDoesNotChangeInFlightCode(t *testing.T) {
	sender := &stubSender{result: okResult(`{"stdout":"ok"}`), block: make(chan struct{})}
	c := NewController(sender, WithSource("print('a')"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return c.Phase() == domain.PhaseInFlight }, time.Second, 5*time.Millisecond)

	c.SetSource("print('b')")
	close(sender.block)
	<-done

	assert.Equal(t, "print('a')", sender.calls[0].Code)
	assert.Equal(t, "print('b')", c.Source())
}

func TestWithTimeoutSecondsIgnoresNonPositive(t *testing.T) {
	sender := &stubSender{result: okResult(`{}`)}
	c := NewController(sender, WithTimeoutSeconds(0), WithTimeoutSeconds(-3))
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeoutSeconds, sender.calls[0].Timeout)

	sender = &stubSender{result: okResult(`{}`)}
	c = NewController(sender, WithTimeoutSeconds(5))
	_, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sender.calls[0].Timeout)
}

func TestRunRoundTripThroughTransport(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"stdout":"","stderr":"Traceback...\nZeroDivisionError","exit_code":1}`))
	}))
	defer srv.Close()

	c := NewController(transport.New(srv.URL), WithSource("1/0"))
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Request{Code: "1/0", Language: Language, Timeout: DefaultTimeoutSeconds}, got)
	assert.Equal(t, domain.ExecutionResult{Stderr: "Traceback...\nZeroDivisionError"}, res)
	assert.Equal(t, "Traceback...\nZeroDivisionError", c.Display().Error)
}
