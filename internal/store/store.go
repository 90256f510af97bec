// Package store implements the durable local state of the client: a small
// key-value table in SQLite, and on top of it the per-entity collections
// (one key holding a uuid-to-record map), the FIFO mutation queue and the sync
// metadata block.
package store

import "context"

// Well-known keys. Stable across runs; renaming one orphans the data stored
// under the old name.
const (
	KeyMedications     = "collection:medications"
	KeyAdministrations = "collection:administrations"
	KeyTips            = "collection:tips"
	KeyFAQs            = "collection:faqs"
	KeyInteractions    = "collection:interactions"

	KeyQueue    = "mutation_queue"
	KeyMetadata = "sync_metadata"
	KeySession  = "session"
)

// KV is durable storage of opaque values under string keys. Get returns
// (nil, nil) for a missing key. Implementations fail only when the
// underlying medium is unavailable, wrapping common.ErrStorageUnavailable.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
