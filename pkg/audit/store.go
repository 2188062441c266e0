package audit

import (
	"context"
	"iter"
	"sync"
)

// Store persists audit records in append order.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, f Filter) iter.Seq2[Record, error]
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds a record.
func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Query iterates over a snapshot of the records present when iteration starts.
// Records are never modified after append, so the snapshot needs no copy.
func (s *MemoryStore) Query(ctx context.Context, f Filter) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		s.mu.RLock()
		snapshot := s.records[:len(s.records):len(s.records)]
		s.mu.RUnlock()

		emitted := 0
		for _, rec := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if !f.Matches(rec) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
			emitted++
			if f.Limit > 0 && emitted >= f.Limit {
				return
			}
		}
	}
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
