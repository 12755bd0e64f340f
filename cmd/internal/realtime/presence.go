package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Roster is the presence view: who is online right now.
type Roster struct {
	Count int
	Users []string
}

const defaultPresenceInterval = time.Minute

// Presence polls the server for the online-user roster and holds the
// latest snapshot.
//
// Every snapshot fully replaces the previous one; users absent from the
// new roster simply disappear. There is no per-user merge state to rot.
type Presence struct {
	log      *slog.Logger
	refresh  func(ctx context.Context) error
	interval time.Duration

	mu     sync.Mutex
	roster Roster
	cancel context.CancelFunc
}

// NewPresence constructs an idle poller. refresh requests a fresh roster
// from the server (the reply arrives asynchronously via Replace).
func NewPresence(log *slog.Logger, refresh func(ctx context.Context) error, interval time.Duration) *Presence {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultPresenceInterval
	}
	return &Presence{log: log, refresh: refresh, interval: interval}
}

// Start begins periodic polling, stopping any previous poll loop first.
// One refresh is issued immediately.
func (p *Presence) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.run(ctx)
}

// Stop halts polling. The roster keeps its last snapshot. Safe to call
// when not running.
//
// Stop cancels rather than joins: an in-flight refresh aborts through
// its context instead of being waited on, so Stop never blocks behind a
// stalled transport write.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether the poll loop is active.
func (p *Presence) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Replace installs a full roster snapshot.
func (p *Presence) Replace(users []string) {
	snapshot := make([]string, len(users))
	copy(snapshot, users)

	p.mu.Lock()
	p.roster = Roster{Count: len(snapshot), Users: snapshot}
	p.mu.Unlock()
}

// Snapshot returns the current roster view.
func (p *Presence) Snapshot() Roster {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]string, len(p.roster.Users))
	copy(users, p.roster.Users)
	return Roster{Count: p.roster.Count, Users: users}
}

func (p *Presence) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

func (p *Presence) run(ctx context.Context) {
	p.poll(ctx)

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			p.poll(ctx)
		}
	}
}

func (p *Presence) poll(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.refresh(rctx); err != nil {
		// The next tick retries; a closed channel is the usual cause.
		p.log.Debug("presence.poll.fail", "err", err)
	}
}
