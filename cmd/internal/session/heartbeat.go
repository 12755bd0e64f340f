package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Heartbeat periodically stamps liveness for one local session.
//
// State machine: Idle -> Running -> Idle. Exactly one timer is active per
// instance; Start while running replaces the previous timer, Stop when
// idle is a no-op.
type Heartbeat struct {
	log      *slog.Logger
	store    Store
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat constructs an idle scheduler.
func NewHeartbeat(log *slog.Logger, store Store, interval time.Duration) *Heartbeat {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultConfig().HeartbeatInterval
	}
	return &Heartbeat{log: log, store: store, interval: interval}
}

// Start begins the periodic heartbeat for uid/sessionID, stopping any
// previously running timer first.
func (h *Heartbeat) Start(uid, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go h.run(ctx, uid, sessionID, done)
	h.log.Debug("heartbeat.start", "uid", uid, "session_id", sessionID, "interval", h.interval.String())
}

// Stop cancels the timer. Safe to call when not running.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Running reports whether a timer is currently active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Heartbeat) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
}

func (h *Heartbeat) run(ctx context.Context, uid, sessionID string, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			wctx, cancel := context.WithTimeout(ctx, h.interval)
			err := h.store.Heartbeat(wctx, uid, sessionID, time.Now().UTC())
			cancel()

			if err != nil {
				// No backoff: the next tick simply retries.
				h.log.Warn("heartbeat.write.fail", "uid", uid, "session_id", sessionID, "err", err)
			}
		}
	}
}
