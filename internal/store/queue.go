package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mpoliveira/medtrack/internal/models"
)

// Queue is the durable FIFO log of not-yet-applied remote mutations, stored
// as one ordered JSON array. Losing it cannot corrupt local records, only
// delay convergence: each record still carries its own pending status.
type Queue struct {
	kv  KV
	key string
	mu  sync.Mutex
}

// NewQueue returns a Queue persisted under key.
func NewQueue(kv KV, key string) *Queue {
	return &Queue{kv: kv, key: key}
}

func (q *Queue) load(ctx context.Context) ([]models.QueueEntry, error) {
	data, err := q.kv.Get(ctx, q.key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []models.QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []models.QueueEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	return q.kv.Set(ctx, q.key, data)
}

// Enqueue appends entry, preserving insertion order.
func (q *Queue) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	return q.save(ctx, append(entries, entry))
}

// List returns the entries in FIFO order.
func (q *Queue) List(ctx context.Context) ([]models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RemoveByID deletes the entry with the given id, reporting whether it was
// present. Relative order of the remaining entries is unchanged.
func (q *Queue) RemoveByID(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	for i, e := range entries {
		if e.ID == id {
			entries = append(entries[:i], entries[i+1:]...)
			return true, q.save(ctx, entries)
		}
	}
	return false, nil
}

// Update replaces the entry with the same ID in place (used to bump retry
// counters and record errors without disturbing FIFO order).
func (q *Queue) Update(ctx context.Context, entry models.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.ID == entry.ID {
			entries[i] = entry
			return q.save(ctx, entries)
		}
	}
	return fmt.Errorf("queue entry %s: not found", entry.ID)
}

// ContainsUUID reports whether any entry targets the given record.
func (q *Queue) ContainsUUID(ctx context.Context, uuid string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.UUID == uuid {
			return true, nil
		}
	}
	return false, nil
}

// RemoveByUUID deletes all entries targeting the given record, reporting how
// many were removed. Used when a never-synced record is purged locally.
func (q *Queue) RemoveByUUID(ctx context.Context, uuid string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	kept := entries[:0]
	removed := 0
	for _, e := range entries {
		if e.UUID == uuid {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, q.save(ctx, kept)
}

// Clear drops all entries.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(ctx, nil)
}
