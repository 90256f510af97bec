package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Metadata is the persisted sync bookkeeping block.
type Metadata struct {
	LastSyncAt           *time.Time `json:"lastSyncAt"`
	LastSuccessfulSyncAt *time.Time `json:"lastSuccessfulSyncAt"`
	SyncInProgress       bool       `json:"syncInProgress"`
	PendingCount         int        `json:"pendingCount"`
	LastError            string     `json:"lastError,omitempty"`
}

// MetadataStore persists the Metadata block under a single key.
type MetadataStore struct {
	kv  KV
	key string
	mu  sync.Mutex
}

// NewMetadataStore returns a MetadataStore persisted under key.
func NewMetadataStore(kv KV, key string) *MetadataStore {
	return &MetadataStore{kv: kv, key: key}
}

// Load returns the stored block, or a zero block when none exists yet.
func (s *MetadataStore) Load(ctx context.Context) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var md Metadata
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return md, err
	}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("failed to decode sync metadata: %w", err)
	}
	return md, nil
}

// Save replaces the stored block.
func (s *MetadataStore) Save(ctx context.Context, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode sync metadata: %w", err)
	}
	return s.kv.Set(ctx, s.key, data)
}
