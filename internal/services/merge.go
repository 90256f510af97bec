package services

import (
	"time"

	"github.com/mpoliveira/medtrack/internal/models"
)

// remoteWins is the last-writer-wins gate: the remote copy may replace local
// fields only when the local record has nothing pending AND the remote
// modification timestamp is strictly newer than the last one we saw. Equal
// timestamps mean "already applied", which keeps the merge idempotent.
func remoteWins(b models.Base, remoteUpdatedAt time.Time) bool {
	if b.SyncStatus != models.StatusSynced {
		return false
	}
	if b.ServerUpdatedAt == nil {
		return true
	}
	return remoteUpdatedAt.After(*b.ServerUpdatedAt)
}

// applyRemoteStamp records that local state now mirrors the remote copy as
// of remoteUpdatedAt.
func applyRemoteStamp(b *models.Base, remoteUpdatedAt, now time.Time) {
	remoteUpdatedAt = remoteUpdatedAt.UTC()
	now = now.UTC()
	b.UpdatedAt = remoteUpdatedAt
	b.ServerUpdatedAt = &remoteUpdatedAt
	b.SyncedAt = &now
	b.SyncStatus = models.StatusSynced
}
