// Package memory provides an in-memory journal store.
//
// Entries live only for the process lifetime. It is the default store and
// the one used by tests; the badger store provides the persistent variant
// with the same interface.
package memory

import (
	"context"
	"sync"

	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal"
)

// MemoryStore implements journal.Store backed by a bounded in-memory ring.
//
// Thread safety: all operations are protected by a single mutex. Journal
// writes happen once per session close, so contention is negligible.
type MemoryStore struct {
	mu sync.Mutex

	// entries holds the most recent maxEntries in insertion order.
	entries []journal.Entry

	// maxEntries bounds memory use; the oldest entries are dropped first.
	maxEntries int
}

// DefaultMaxEntries bounds the in-memory journal when no explicit
// capacity is configured.
const DefaultMaxEntries = 4096

// New creates a MemoryStore holding at most maxEntries entries.
// A non-positive capacity falls back to DefaultMaxEntries.
func New(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries:    make([]journal.Entry, 0, 64),
		maxEntries: maxEntries,
	}
}

// Record appends entry, evicting the oldest entry once the capacity is
// reached.
func (s *MemoryStore) Record(ctx context.Context, entry journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	out := make([]journal.Entry, 0, limit)
	for i := len(s.entries) - 1; i >= len(s.entries)-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
