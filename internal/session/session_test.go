package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/learnflow/internal/chat"
	"github.com/ashureev/learnflow/internal/coderun"
	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedSender struct{ body string }

func (s fixedSender) Send(context.Context, string, string, any) transport.Result {
	return transport.Result{Status: http.StatusOK, Body: json.RawMessage(s.body)}
}

func testFactory(notify func()) (*chat.Controller, *coderun.Controller) {
	return chat.NewController(fixedSender{`{"response":"hi"}`}, 1, chat.WithOnChange(notify)),
		coderun.NewController(fixedSender{`{"stdout":"ok\n"}`}, coderun.WithOnChange(notify))
}

type touchRecorder struct {
	mu      sync.Mutex
	touched []string
	err     error
}

func (t *touchRecorder) TouchSession(_ context.Context, userID, sessionID string, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched = append(t.touched, userID+"/"+sessionID)
	return t.err
}

func TestRegistryGetCreatesOncePerSession(t *testing.T) {
	ledger := &touchRecorder{}
	reg := NewRegistry(testFactory, ledger, nil)
	ctx := context.Background()

	a := reg.Get(ctx, "u1", "tab1")
	b := reg.Get(ctx, "u1", "tab1")
	c := reg.Get(ctx, "u1", "tab2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.NotSame(t, a.Chat, c.Chat)
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"u1/tab1", "u1/tab1", "u1/tab2"}, ledger.touched)
}

func TestRegistryGetSurvivesLedgerFailure(t *testing.T) {
	reg := NewRegistry(testFactory, &touchRecorder{err: errors.New("disk full")}, nil)
	sess := reg.Get(context.Background(), "u1", "tab1")
	require.NotNil(t, sess)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryCloseAndCloseUser(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	ctx := context.Background()
	s1 := reg.Get(ctx, "u1", "a")
	reg.Get(ctx, "u1", "b")
	reg.Get(ctx, "u2", "a")

	assert.True(t, reg.Close("u1", "a"))
	assert.False(t, reg.Close("u1", "a"))
	assert.True(t, s1.Closed())
	assert.Nil(t, reg.Lookup("u1", "a"))
	assert.Equal(t, 2, reg.Count())

	assert.Equal(t, 1, reg.CloseUser("u1"))
	assert.Equal(t, 0, reg.CloseUser("nobody"))
	assert.Equal(t, 1, reg.Count())

	// A closed session is replaced, not revived.
	fresh := reg.Get(ctx, "u1", "a")
	assert.NotSame(t, s1, fresh)
}

func TestSubscribeSignalsOnChange(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	sess := reg.Get(context.Background(), "u1", "tab")

	ch, release := sess.Subscribe()
	defer release()

	_, err := sess.Chat.Submit(context.Background(), "hello")
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}

	snap := sess.Snapshot()
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "hi", snap.Transcript[1].Content)
	assert.Equal(t, domain.PhaseIdle, snap.ChatPhase)
	assert.Equal(t, coderun.StarterCode, snap.Source)
	assert.True(t, snap.Execution.Hint)
}

func TestSubscribeCoalescesSignals(t *testing.T) {
	sess := &Session{}
	ch, release := sess.Subscribe()
	defer release()

	for i := 0; i < 5; i++ {
		sess.notify()
	}
	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	sess := &Session{}
	ch, release := sess.Subscribe()

	sess.close()
	_, open := <-ch
	assert.False(t, open)

	// Releasing after close and subscribing to a closed session are both safe.
	release()
	late, lateRelease := sess.Subscribe()
	_, open = <-late
	assert.False(t, open)
	lateRelease()
}

func TestReleaseStopsSignals(t *testing.T) {
	sess := &Session{}
	ch, release := sess.Subscribe()
	release()
	release()

	sess.notify()
	_, open := <-ch
	assert.False(t, open)
}

func TestRegistryEvictsLeastRecentlyUsedTab(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil, WithMaxSessionsPerUser(2))
	clock := time.Unix(1000, 0)
	reg.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()

	a := reg.Get(ctx, "u1", "a")
	b := reg.Get(ctx, "u1", "b")
	reg.Get(ctx, "u1", "a") // a is now the most recent
	other := reg.Get(ctx, "u2", "a")

	c := reg.Get(ctx, "u1", "c")
	assert.True(t, b.Closed())
	assert.False(t, a.Closed())
	assert.False(t, c.Closed())
	assert.False(t, other.Closed())
	assert.Nil(t, reg.Lookup("u1", "b"))
	assert.Equal(t, 3, reg.Count())

	// Rotating tab ids never grows one user past the limit.
	for i := 0; i < 20; i++ {
		reg.Get(ctx, "u1", fmt.Sprintf("rotated-%d", i))
	}
	assert.Equal(t, 3, reg.Count())
}

func TestWithMaxSessionsPerUserIgnoresNonPositive(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil, WithMaxSessionsPerUser(0))
	assert.Equal(t, DefaultMaxSessionsPerUser, reg.maxPerUser)
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	a := reg.Get(context.Background(), "u1", "a")
	reg.Get(context.Background(), "u2", "b")

	assert.Equal(t, 2, reg.CloseAll())
	assert.True(t, a.Closed())
	assert.Zero(t, reg.Count())
}
