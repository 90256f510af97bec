package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetadata_EmptyLoad(t *testing.T) {
	ctx := context.Background()
	ms := NewMetadataStore(setupKV(t), KeyMetadata)

	md, err := ms.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, md.LastSyncAt)
	require.Zero(t, md.PendingCount)
	require.False(t, md.SyncInProgress)
}

func TestMetadata_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMetadataStore(setupKV(t), KeyMetadata)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	in := Metadata{
		LastSyncAt:           &at,
		LastSuccessfulSyncAt: &at,
		PendingCount:         3,
		LastError:            "network unavailable",
	}
	require.NoError(t, ms.Save(ctx, in))

	out, err := ms.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
