package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/types"
)

var _ store.AuditLog = (*AuditLog)(nil)

// AuditLog is an in-memory append-only log of access decisions.
// It is intended for use in tests and dev environments.
type AuditLog struct {
	mu      sync.Mutex
	nextID  int64
	records []store.AuditRecord

	appendErr error
	readErr   error
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (s *AuditLog) Append(_ context.Context, d types.AccessDecision) (store.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return store.AuditRecord{}, &store.StorageError{Op: "append", Err: s.appendErr}
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	s.nextID++
	rec := store.RecordFromDecision(s.nextID, d)
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *AuditLog) Recent(_ context.Context, limit int) ([]store.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, &store.StorageError{Op: "recent", Err: s.readErr}
	}
	if limit <= 0 {
		return []store.AuditRecord{}, nil
	}

	out := make([]store.AuditRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DecidedAt.Equal(out[j].DecidedAt) {
			return out[i].DecidedAt.After(out[j].DecidedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping fails while reads are set to fail.
func (s *AuditLog) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return &store.StorageError{Op: "ping", Err: s.readErr}
	}
	return nil
}

// FailAppends makes every later Append fail with err; nil restores normal
// behaviour.
func (s *AuditLog) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailReads does the same for Recent and Ping.
func (s *AuditLog) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// Records returns a copy of all records in append order.  Test-only helper.
func (s *AuditLog) Records() []store.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}
