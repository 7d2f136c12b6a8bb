// Package badger provides a BadgerDB-backed journal store.
//
// Use it when the operational record must survive restarts. Entries are
// stored as JSON values under zero-padded sequence keys so that key order
// matches record order and Recent() is a single reverse scan. The key
// sequence is persisted in the database itself, so entries from earlier
// process lifetimes are never overwritten.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ahmed74ca/Multithreaded-server/pkg/store/journal"
)

// entryKeyPrefix namespaces journal entries so future record types can
// share the database without key conflicts.
const entryKeyPrefix = "session:"

// seqKey names the persisted key sequence. Session IDs restart at 1 every
// process lifetime, so they cannot be used as keys directly: a restarted
// server would overwrite the previous run's entries. The badger sequence
// survives restarts and keeps every run's entries distinct.
var seqKey = []byte("journal_seq")

// seqBandwidth is how many sequence numbers are leased per fetch. Unused
// lease remainder is discarded on Close, leaving gaps in the key space;
// gaps are harmless since keys only need to be unique and ordered.
const seqBandwidth = 128

// BadgerStore implements journal.Store on an embedded BadgerDB database.
//
// Thread safety: BadgerDB transactions and sequences provide isolation;
// no additional locking is needed.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// New opens (or creates) a BadgerDB database at path.
func New(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a journal

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal at %s: %w", path, err)
	}

	seq, err := db.GetSequence(seqKey, seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open badger journal sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq}, nil
}

func entryKey(seq uint64) []byte {
	// Fixed-width decimal keeps lexicographic order equal to numeric order.
	return []byte(fmt.Sprintf("%s%020d", entryKeyPrefix, seq))
}

// Record appends one completed session entry.
func (s *BadgerStore) Record(ctx context.Context, entry journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	seq, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("advance journal sequence: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(seq), value)
	})
	if err != nil {
		return fmt.Errorf("record journal entry %d: %w", entry.SessionID, err)
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []journal.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(entryKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek to the end of the prefix range.
		seek := append([]byte(entryKeyPrefix), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}

			var entry journal.Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("unmarshal journal entry: %w", err)
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the key sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release journal sequence: %w", err)
	}
	return s.db.Close()
}
