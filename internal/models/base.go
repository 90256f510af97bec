// Package models defines the local record types kept on the device and the
// request/response shapes exchanged with the backend.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a record's local state matches its last known
// remote state.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "SYNCED"
	StatusPendingCreate SyncStatus = "PENDING_CREATE"
	StatusPendingUpdate SyncStatus = "PENDING_UPDATE"
	StatusPendingDelete SyncStatus = "PENDING_DELETE"
	StatusConflict      SyncStatus = "CONFLICT"
)

// EntityKind identifies one of the synced collections.
type EntityKind string

const (
	KindMedication     EntityKind = "medication"
	KindAdministration EntityKind = "administration"
	KindTip            EntityKind = "tip"
	KindFAQ            EntityKind = "faq"
	KindInteraction    EntityKind = "interaction"
)

// Operation is a remote mutation recorded in the queue.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Base is embedded in every locally stored entity. The UUID is generated on
// the device and is the primary local key; ServerID is assigned by the
// backend on the first successful create and stays nil until then.
//
// Invariant: ServerID == nil implies SyncStatus != SYNCED.
type Base struct {
	UUID            string     `json:"uuid"`
	ServerID        *int64     `json:"serverId"`
	SyncStatus      SyncStatus `json:"syncStatus"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	SyncedAt        *time.Time `json:"syncedAt"`
	ServerUpdatedAt *time.Time `json:"serverUpdatedAt"`
	DeletedLocally  bool       `json:"deletedLocally"`
}

// NewBase returns a Base for a record created on this device: fresh UUID,
// PENDING_CREATE, no server identity yet.
func NewBase(now time.Time) Base {
	now = now.UTC()
	return Base{
		UUID:       uuid.NewString(),
		SyncStatus: StatusPendingCreate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewSyncedBase returns a Base for a record materialized from a remote
// snapshot: it has a server identity and nothing pending.
func NewSyncedBase(serverID int64, createdAt, updatedAt time.Time, now time.Time) Base {
	now = now.UTC()
	syncedAt := now
	serverUpdatedAt := updatedAt.UTC()
	return Base{
		UUID:            uuid.NewString(),
		ServerID:        &serverID,
		SyncStatus:      StatusSynced,
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       updatedAt.UTC(),
		SyncedAt:        &syncedAt,
		ServerUpdatedAt: &serverUpdatedAt,
	}
}

// EverSynced reports whether the record has a remote counterpart.
func (b *Base) EverSynced() bool {
	return b.ServerID != nil
}

// HasPendingChanges reports whether local state differs from the last known
// remote state.
func (b *Base) HasPendingChanges() bool {
	return b.SyncStatus != StatusSynced
}

// Touch bumps UpdatedAt and moves a SYNCED record to PENDING_UPDATE. Records
// already pending keep their status: a still-queued create or update entry
// covers the new field values at drain time.
func (b *Base) Touch(now time.Time) {
	b.UpdatedAt = now.UTC()
	if b.SyncStatus == StatusSynced {
		b.SyncStatus = StatusPendingUpdate
	}
}

// MarkSynced records a completed round-trip with the backend.
func (b *Base) MarkSynced(serverID int64, serverUpdatedAt time.Time, now time.Time) {
	now = now.UTC()
	serverUpdatedAt = serverUpdatedAt.UTC()
	b.ServerID = &serverID
	b.SyncStatus = StatusSynced
	b.SyncedAt = &now
	b.ServerUpdatedAt = &serverUpdatedAt
}
