package realtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestPresence_ReplaceIsFullReplacement(t *testing.T) {
	p := NewPresence(slog.Default(), func(context.Context) error { return nil }, time.Minute)

	p.Replace([]string{"a"})
	p.Replace([]string{"a", "b"})

	got := p.Snapshot()
	if got.Count != 2 || len(got.Users) != 2 {
		t.Fatalf("roster=%+v, want full replacement with 2 users", got)
	}

	// Absent users disappear, nothing is merged.
	p.Replace([]string{"c"})
	got = p.Snapshot()
	if got.Count != 1 || got.Users[0] != "c" {
		t.Fatalf("roster=%+v, want [c]", got)
	}

	p.Replace(nil)
	got = p.Snapshot()
	if got.Count != 0 || got.Users == nil || len(got.Users) != 0 {
		t.Fatalf("roster=%+v, want empty non-nil", got)
	}
}

func TestPresence_SnapshotIsACopy(t *testing.T) {
	p := NewPresence(slog.Default(), func(context.Context) error { return nil }, time.Minute)
	p.Replace([]string{"a", "b"})

	snap := p.Snapshot()
	snap.Users[0] = "mutated"

	if got := p.Snapshot().Users[0]; got != "a" {
		t.Fatalf("internal roster mutated through snapshot: %q", got)
	}
}

func TestPresence_PollsImmediatelyAndPeriodically(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	p := NewPresence(slog.Default(), func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, 10*time.Millisecond)

	p.Start()
	defer p.Stop()

	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	})
}

func TestPresence_StopHaltsPollingKeepsRoster(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	p := NewPresence(slog.Default(), func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, 10*time.Millisecond)

	p.Start()
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	})
	p.Replace([]string{"a"})
	p.Stop()
	p.Stop() // idempotent

	if p.Running() {
		t.Fatalf("expected idle after Stop")
	}

	// Stop cancels without joining; let any already-fired tick drain.
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	settled := calls
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	after := calls
	mu.Unlock()
	if after != settled {
		t.Fatalf("refresh calls after Stop: %d -> %d", settled, after)
	}

	if got := p.Snapshot(); got.Count != 1 {
		t.Fatalf("roster lost on Stop: %+v", got)
	}
}
