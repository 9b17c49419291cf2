package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu           sync.Mutex
	expired      []*domain.BrowserSession
	expiredErr   error
	deleteErrs   []error
	retouched    map[string]bool
	deleted      []string
	deleteCalls  int
	orphans      []string
	orphanSweeps int
}

func (f *fakeLedger) GetExpiredSessions(context.Context, time.Duration) ([]*domain.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired, f.expiredErr
}

func (f *fakeLedger) DeleteIdleSession(_ context.Context, userID, sessionID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if len(f.deleteErrs) > 0 {
		err := f.deleteErrs[0]
		f.deleteErrs = f.deleteErrs[1:]
		if err != nil {
			return false, err
		}
	}
	if f.retouched[userID+"/"+sessionID] {
		return false, nil
	}
	f.deleted = append(f.deleted, userID+"/"+sessionID)
	return true, nil
}

func (f *fakeLedger) CleanupOrphanUsers(context.Context, time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphanSweeps++
	orphans := f.orphans
	f.orphans = nil
	return orphans, nil
}

// getAt creates or fetches a session as if it were last used at the given time.
func getAt(reg *Registry, at time.Time, userID, sessionID string) *Session {
	reg.now = func() time.Time { return at }
	defer func() { reg.now = time.Now }()
	return reg.Get(context.Background(), userID, sessionID)
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	ctx := context.Background()
	stale := getAt(reg, time.Now().Add(-2*time.Hour), "u1", "old")
	reg.Get(ctx, "u1", "new")

	ledger := &fakeLedger{expired: []*domain.BrowserSession{{UserID: "u1", SessionID: "old"}}}
	n := NewSweeper(ledger, reg, time.Hour, time.Minute, nil).Sweep(ctx)

	assert.Equal(t, 1, n)
	assert.True(t, stale.Closed())
	assert.Nil(t, reg.Lookup("u1", "old"))
	assert.NotNil(t, reg.Lookup("u1", "new"))
	assert.Equal(t, []string{"u1/old"}, ledger.deleted)
	assert.Equal(t, 1, ledger.orphanSweeps)
}

func TestSweepNothingExpired(t *testing.T) {
	ledger := &fakeLedger{}
	n := NewSweeper(ledger, NewRegistry(testFactory, nil, nil), time.Hour, 0, nil).Sweep(context.Background())
	assert.Zero(t, n)
	assert.Zero(t, ledger.orphanSweeps)
}

func TestSweepLedgerErrorEvictsNothing(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	reg.Get(context.Background(), "u1", "tab")
	ledger := &fakeLedger{expiredErr: errors.New("boom")}

	n := NewSweeper(ledger, reg, time.Hour, 0, nil).Sweep(context.Background())
	assert.Zero(t, n)
	assert.Equal(t, 1, reg.Count())
}

func TestSweepRetriesLockedDatabase(t *testing.T) {
	ledger := &fakeLedger{
		expired:    []*domain.BrowserSession{{UserID: "u1", SessionID: "tab"}},
		deleteErrs: []error{errors.New("database is locked"), errors.New("SQLITE_BUSY")},
	}
	NewSweeper(ledger, NewRegistry(testFactory, nil, nil), time.Hour, 0, nil).Sweep(context.Background())

	assert.Equal(t, 3, ledger.deleteCalls)
	assert.Equal(t, []string{"u1/tab"}, ledger.deleted)
}

func TestSweepDoesNotRetryOtherErrors(t *testing.T) {
	ledger := &fakeLedger{
		expired:    []*domain.BrowserSession{{UserID: "u1", SessionID: "tab"}},
		deleteErrs: []error{errors.New("no such table")},
	}
	NewSweeper(ledger, NewRegistry(testFactory, nil, nil), time.Hour, 0, nil).Sweep(context.Background())

	assert.Equal(t, 1, ledger.deleteCalls)
	assert.Empty(t, ledger.deleted)
}

func TestRunStopsOnCancel(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	getAt(reg, time.Now().Add(-2*time.Hour), "u1", "tab")
	ledger := &fakeLedger{expired: []*domain.BrowserSession{{UserID: "u1", SessionID: "tab"}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(ledger, reg, time.Hour, 5*time.Millisecond, nil).Run(ctx) }()

	require.Eventually(t, func() bool { return reg.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepKeepsSessionTouchedAfterListing(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	old := time.Now().Add(-2 * time.Hour)
	retouchedRow := getAt(reg, old, "u1", "row")
	usedInMemory := getAt(reg, old, "u1", "mem")

	// "mem" is handed out again between the listing and the delete.
	reg.Get(context.Background(), "u1", "mem")

	ledger := &fakeLedger{
		expired: []*domain.BrowserSession{
			{UserID: "u1", SessionID: "row"},
			{UserID: "u1", SessionID: "mem"},
		},
		retouched: map[string]bool{"u1/row": true},
	}
	NewSweeper(ledger, reg, time.Hour, 0, nil).Sweep(context.Background())

	assert.False(t, retouchedRow.Closed())
	assert.False(t, usedInMemory.Closed())
	assert.Equal(t, 2, reg.Count())
}

func TestSweepClosesSessionsOfOrphanUsers(t *testing.T) {
	reg := NewRegistry(testFactory, nil, nil)
	lost := reg.Get(context.Background(), "ghost", "tab")
	kept := reg.Get(context.Background(), "u1", "tab")

	ledger := &fakeLedger{
		expired: []*domain.BrowserSession{{UserID: "nobody", SessionID: "x"}},
		orphans: []string{"ghost"},
	}
	NewSweeper(ledger, reg, time.Hour, 0, nil).Sweep(context.Background())

	assert.True(t, lost.Closed())
	assert.False(t, kept.Closed())
	assert.Equal(t, 1, ledger.orphanSweeps)
}
