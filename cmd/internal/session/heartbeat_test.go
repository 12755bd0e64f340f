package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// countingStore wraps MemoryStore and counts heartbeat writes, optionally
// failing them.
type countingStore struct {
	*MemoryStore

	mu    sync.Mutex
	beats int
	fail  bool
}

func (s *countingStore) Heartbeat(ctx context.Context, uid, sessionID string, now time.Time) error {
	s.mu.Lock()
	s.beats++
	fail := s.fail
	s.mu.Unlock()

	if fail {
		return errors.New("write refused")
	}
	return s.MemoryStore.Heartbeat(ctx, uid, sessionID, now)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestHeartbeat_StampsStore(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Minute)
	_, _ = store.Mutate(ctx, "u1", func(rec *Record) error {
		rec.Role = RoleMember
		rec.ActiveSessionsCount = 1
		rec.HasActiveSession = true
		rec.LastHeartbeat = before
		rec.Sessions = map[string]Entry{"s1": {LastHeartbeat: before}}
		return nil
	})

	h := NewHeartbeat(slog.Default(), store, 10*time.Millisecond)
	h.Start("u1", "s1")
	defer h.Stop()

	waitFor(t, time.Second, func() bool { return store.count() >= 2 })

	rec, _ := store.Get(ctx, "u1")
	if !rec.LastHeartbeat.After(before) {
		t.Fatalf("record heartbeat not advanced: %v", rec.LastHeartbeat)
	}
	if !rec.Sessions["s1"].LastHeartbeat.After(before) {
		t.Fatalf("session heartbeat not advanced: %v", rec.Sessions["s1"].LastHeartbeat)
	}
}

func TestHeartbeat_KeepsTickingThroughWriteFailures(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), fail: true}

	h := NewHeartbeat(slog.Default(), store, 10*time.Millisecond)
	h.Start("u1", "s1")
	defer h.Stop()

	// Every write fails; the timer must survive and keep retrying.
	waitFor(t, time.Second, func() bool { return store.count() >= 3 })
}

func TestHeartbeat_StartReplacesAndStopIsIdempotent(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	h := NewHeartbeat(slog.Default(), store, 10*time.Millisecond)

	h.Start("u1", "s1")
	h.Start("u1", "s2")
	if !h.Running() {
		t.Fatalf("expected running after Start")
	}

	h.Stop()
	if h.Running() {
		t.Fatalf("expected idle after Stop")
	}
	h.Stop()

	settled := store.count()
	time.Sleep(50 * time.Millisecond)
	if got := store.count(); got != settled {
		t.Fatalf("writes after Stop: %d -> %d", settled, got)
	}
}
