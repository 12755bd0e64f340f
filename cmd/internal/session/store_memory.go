package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used in tests and DB-less dev mode.
//
// A single mutex serializes all mutations, which trivially satisfies the
// Store isolation contract: Mutate bodies never observe a stale snapshot.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Get loads the committed record for uid.
func (s *MemoryStore) Get(ctx context.Context, uid string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[uid]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Mutate applies fn to a private copy of the latest record and commits it
// unless fn errors. The zero record is supplied on first sign-in.
func (s *MemoryStore) Mutate(ctx context.Context, uid string, fn func(rec *Record) error) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[uid]
	if !ok {
		rec = Record{UID: uid}
	}
	work := rec.Clone()

	if err := fn(&work); err != nil {
		return Record{}, err
	}

	s.recs[uid] = work
	return work.Clone(), nil
}

// StaleUIDs lists users holding at least one session whose last
// heartbeat is older than olderThan. Superadmin records are excluded,
// matching the reconcile policy.
func (s *MemoryStore) StaleUIDs(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var uids []string
	for uid, rec := range s.recs {
		if rec.Role.CapExempt() {
			continue
		}
		for _, e := range rec.Sessions {
			if e.LastHeartbeat.Before(cutoff) {
				uids = append(uids, uid)
				break
			}
		}
	}
	return uids, nil
}

// Heartbeat stamps the record-level and per-session heartbeat. It never
// resurrects a removed session entry.
func (s *MemoryStore) Heartbeat(ctx context.Context, uid, sessionID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[uid]
	if !ok {
		return ErrRecordNotFound
	}
	entry, ok := rec.Sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	work := rec.Clone()
	entry.LastHeartbeat = now
	work.Sessions[sessionID] = entry
	work.LastHeartbeat = now
	s.recs[uid] = work
	return nil
}
