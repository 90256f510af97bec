package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpoliveira/medtrack/internal/models"
)

func TestTip_CreateAndPull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tips := NewTipService(f.kv, f.queue, f.client, discardLogger(), 5)
	tips.now = func() time.Time { return f.now }

	tip, err := tips.Create(ctx, models.TipInput{Text: "take with food", AuthorID: 3, AuthorName: "Ana"})
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingCreate, tip.SyncStatus)

	f.client.createTip = func(ctx context.Context, req models.TipRequest) (*models.RemoteTip, error) {
		require.Equal(t, "take with food", req.Text)
		return &models.RemoteTip{ID: 11, Text: req.Text, AuthorID: req.AuthorID, UpdatedAt: f.now}, nil
	}
	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.NoError(t, tips.Push(ctx, entries[0]))

	got, err := tips.GetByUUID(ctx, tip.UUID)
	require.NoError(t, err)
	require.Equal(t, int64(11), *got.ServerID)

	// A pull that still lists the tip keeps it; the list is sorted oldest
	// first.
	f.client.listTips = func(ctx context.Context) ([]models.RemoteTip, error) {
		return []models.RemoteTip{
			{ID: 11, Text: "take with food", AuthorID: 3, CreatedAt: f.now, UpdatedAt: f.now},
			{ID: 12, Text: "avoid alcohol", AuthorID: 3, CreatedAt: f.now.Add(-time.Hour), UpdatedAt: f.now},
		}, nil
	}
	require.NoError(t, tips.Pull(ctx))

	list, err := tips.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "avoid alcohol", list[0].Text)
}

func TestTip_UpdateReenqueuesAfterDroppedEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tips := NewTipService(f.kv, f.queue, f.client, discardLogger(), 5)
	tips.now = func() time.Time { return f.now }

	tip, err := tips.Create(ctx, models.TipInput{Text: "take with food", AuthorID: 3})
	require.NoError(t, err)

	f.client.createTip = func(ctx context.Context, req models.TipRequest) (*models.RemoteTip, error) {
		return &models.RemoteTip{ID: 11, Text: req.Text, AuthorID: req.AuthorID, UpdatedAt: f.now}, nil
	}
	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.NoError(t, tips.Push(ctx, entries[0]))
	require.NoError(t, f.queue.Clear(ctx))

	// An edit while the queue holds nothing for the record queues an update.
	text := "take with plenty of water"
	upd, err := tips.Update(ctx, tip.UUID, TipPatch{Text: &text})
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingUpdate, upd.SyncStatus)

	entries, err = f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.OpUpdate, entries[0].Op)
	require.Equal(t, tip.UUID, entries[0].UUID)
}

func TestFAQ_CreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	faqs := NewFAQService(f.kv, f.queue, f.client, discardLogger(), 5)
	faqs.now = func() time.Time { return f.now }

	_, err := faqs.Create(ctx, models.FAQInput{Question: "only a question", AuthorID: 1})
	require.Error(t, err)

	faq, err := faqs.Create(ctx, models.FAQInput{
		Question: "Can I split the tablet?",
		Answer:   "Only when scored.",
		AuthorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingCreate, faq.SyncStatus)

	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.KindFAQ, entries[0].Kind)
}

func TestFAQ_PullMaterializes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	faqs := NewFAQService(f.kv, f.queue, f.client, discardLogger(), 5)
	faqs.now = func() time.Time { return f.now }

	f.client.listFAQs = func(ctx context.Context) ([]models.RemoteFAQ, error) {
		return []models.RemoteFAQ{
			{ID: 1, Question: "Storage?", Answer: "Room temperature.", CreatedAt: f.now, UpdatedAt: f.now},
		}, nil
	}
	require.NoError(t, faqs.Pull(ctx))

	list, err := faqs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.StatusSynced, list[0].SyncStatus)
	require.Equal(t, "Storage?", list[0].Question)
}
