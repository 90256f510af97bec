package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueEntry is one not-yet-applied remote mutation. Entries are drained in
// FIFO order, so a later update to a record always syncs after its create.
//
// Payload is a snapshot taken at enqueue time and is advisory only: the
// upload phase rebuilds the remote body from current local state, so a
// create entry naturally carries edits made while it was still queued.
type QueueEntry struct {
	ID         string          `json:"id"`
	Kind       EntityKind      `json:"kind"`
	UUID       string          `json:"uuid"`
	Op         Operation       `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	LastError  string          `json:"lastError,omitempty"`
}

// NewQueueEntry builds an entry for the given mutation.
func NewQueueEntry(kind EntityKind, targetUUID string, op Operation, payload json.RawMessage, maxRetries int, now time.Time) QueueEntry {
	return QueueEntry{
		ID:         uuid.NewString(),
		Kind:       kind,
		UUID:       targetUUID,
		Op:         op,
		Payload:    payload,
		EnqueuedAt: now.UTC(),
		MaxRetries: maxRetries,
	}
}

// Exhausted reports whether the entry has used up its retry budget.
func (e *QueueEntry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}
