package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewBase(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBase(now)

	require.NotEmpty(t, b.UUID)
	require.Nil(t, b.ServerID)
	require.Equal(t, StatusPendingCreate, b.SyncStatus)
	require.Equal(t, now, b.CreatedAt)
	require.Equal(t, now, b.UpdatedAt)
	require.False(t, b.EverSynced())
	require.True(t, b.HasPendingChanges())
}

func TestNewSyncedBase(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	b := NewSyncedBase(42, created, updated, now)

	require.NotEmpty(t, b.UUID)
	require.NotNil(t, b.ServerID)
	require.Equal(t, int64(42), *b.ServerID)
	require.Equal(t, StatusSynced, b.SyncStatus)
	require.True(t, b.EverSynced())
	require.False(t, b.HasPendingChanges())
	require.NotNil(t, b.ServerUpdatedAt)
	require.Equal(t, updated, *b.ServerUpdatedAt)
}

func TestTouch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	t.Run("synced becomes pending update", func(t *testing.T) {
		b := NewSyncedBase(1, now, now, now)
		b.Touch(later)
		require.Equal(t, StatusPendingUpdate, b.SyncStatus)
		require.Equal(t, later, b.UpdatedAt)
	})

	t.Run("pending create stays pending create", func(t *testing.T) {
		b := NewBase(now)
		b.Touch(later)
		require.Equal(t, StatusPendingCreate, b.SyncStatus)
		require.Equal(t, later, b.UpdatedAt)
	})

	t.Run("pending delete stays pending delete", func(t *testing.T) {
		b := NewSyncedBase(1, now, now, now)
		b.SyncStatus = StatusPendingDelete
		b.Touch(later)
		require.Equal(t, StatusPendingDelete, b.SyncStatus)
	})
}

func TestMarkSynced(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	serverStamp := now.Add(time.Second)

	b := NewBase(now)
	require.Nil(t, b.ServerID)

	b.MarkSynced(42, serverStamp, now.Add(2*time.Second))

	require.NotNil(t, b.ServerID)
	require.Equal(t, int64(42), *b.ServerID)
	require.Equal(t, StatusSynced, b.SyncStatus)
	require.NotNil(t, b.SyncedAt)
	require.Equal(t, serverStamp, *b.ServerUpdatedAt)

	// A record with no server identity is never SYNCED; MarkSynced is the
	// only transition that sets both together.
	require.True(t, b.EverSynced())
}

func TestInteractionKeyNormalize(t *testing.T) {
	k := InteractionKey{MedAID: 9, MedBID: 3}.Normalize()
	require.Equal(t, InteractionKey{MedAID: 3, MedBID: 9}, k)

	ordered := InteractionKey{MedAID: 1, MedBID: 2}.Normalize()
	require.Equal(t, InteractionKey{MedAID: 1, MedBID: 2}, ordered)
}
