// Package journal defines the session journal: an append-only operational
// record of completed sessions (who connected, how the session ended, how
// many requests it served). The journal is written when a session reaches
// its terminal state and read only by operators; no server state is ever
// restored from it.
package journal

import (
	"context"
	"time"
)

// Entry describes one completed session.
type Entry struct {
	// SessionID is the process-unique identifier assigned at accept time.
	SessionID uint64 `json:"session_id"`

	// RemoteAddr is the peer address of the accepted socket.
	RemoteAddr string `json:"remote_addr"`

	// StartedAt is when the session was accepted.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the session reached its terminal state.
	EndedAt time.Time `json:"ended_at"`

	// CloseCause is the classification of why the session ended
	// (e.g. "peer_closed", "timeout", "decode_error", "shutdown").
	CloseCause string `json:"close_cause"`

	// Faulted is true for timeout, codec, and transport closes and false
	// for peer disconnects and shutdown.
	Faulted bool `json:"faulted"`

	// Requests is the number of request/response cycles the session served.
	Requests uint64 `json:"requests"`
}

// Store persists session entries.
//
// Implementations must be safe for concurrent use: every session worker
// records its own entry as it closes.
type Store interface {
	// Record appends one completed session entry.
	Record(ctx context.Context, entry Entry) error

	// Recent returns up to limit entries, most recent first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Close releases any resources held by the store.
	Close() error
}
