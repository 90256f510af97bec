package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mpoliveira/medtrack/internal/api"
	"github.com/mpoliveira/medtrack/internal/common"
	"github.com/mpoliveira/medtrack/internal/logging"
	"github.com/mpoliveira/medtrack/internal/models"
	"github.com/mpoliveira/medtrack/internal/services"
	"github.com/mpoliveira/medtrack/internal/store"
)

var dbSeq atomic.Int64

func newTestKV(t *testing.T) *store.SQLiteKV {
	t.Helper()
	dsn := fmt.Sprintf("file:syncertest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
`)
	require.NoError(t, err)
	return store.NewSQLiteKV(db)
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeSession struct {
	loggedIn  bool
	loggedOut int
}

func (s *fakeSession) LoggedIn() bool { return s.loggedIn }

func (s *fakeSession) Logout(ctx context.Context) error {
	s.loggedOut++
	s.loggedIn = false
	return nil
}

// fakeSyncer is one entity slot of the engine with scriptable push/pull.
type fakeSyncer struct {
	kind models.EntityKind
	push func(ctx context.Context, entry models.QueueEntry) error
	pull func(ctx context.Context) error

	pushed []string
	pulled int
}

func (f *fakeSyncer) Kind() models.EntityKind { return f.kind }

func (f *fakeSyncer) Push(ctx context.Context, entry models.QueueEntry) error {
	f.pushed = append(f.pushed, entry.ID)
	if f.push != nil {
		return f.push(ctx, entry)
	}
	return nil
}

func (f *fakeSyncer) Pull(ctx context.Context) error {
	f.pulled++
	if f.pull != nil {
		return f.pull(ctx)
	}
	return nil
}

type engineFixture struct {
	queue   *store.Queue
	meta    *store.MetadataStore
	session *fakeSession
	engine  *Engine
}

func newEngineFixture(t *testing.T, syncers ...EntitySyncer) *engineFixture {
	t.Helper()
	kv := newTestKV(t)
	queue := store.NewQueue(kv, store.KeyQueue)
	meta := store.NewMetadataStore(kv, store.KeyMetadata)
	session := &fakeSession{loggedIn: true}
	engine := New(queue, meta, session, discardLogger(), syncers...)
	return &engineFixture{queue: queue, meta: meta, session: session, engine: engine}
}

func enqueue(t *testing.T, q *store.Queue, kind models.EntityKind, uuid string, op models.Operation, maxRetries int) models.QueueEntry {
	t.Helper()
	entry := models.NewQueueEntry(kind, uuid, op, nil, maxRetries, time.Now())
	require.NoError(t, q.Enqueue(context.Background(), entry))
	return entry
}

func TestEngine_SkipsWhenOffline(t *testing.T) {
	f := newEngineFixture(t, &fakeSyncer{kind: models.KindMedication})
	err := f.engine.SyncAll(context.Background())
	require.ErrorIs(t, err, common.ErrSyncSkipped)
}

func TestEngine_UploadDrainsFIFO(t *testing.T) {
	ctx := context.Background()
	meds := &fakeSyncer{kind: models.KindMedication}
	f := newEngineFixture(t, meds)
	f.engine.SetOnline(true)

	e1 := enqueue(t, f.queue, models.KindMedication, "u1", models.OpCreate, 5)
	e2 := enqueue(t, f.queue, models.KindMedication, "u1", models.OpUpdate, 5)
	e3 := enqueue(t, f.queue, models.KindMedication, "u2", models.OpCreate, 5)

	require.NoError(t, f.engine.SyncAll(ctx))
	require.Equal(t, []string{e1.ID, e2.ID, e3.ID}, meds.pushed)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, meds.pulled)

	st := f.engine.Status()
	require.False(t, st.IsSyncing)
	require.Equal(t, 100, st.Progress)
	require.NotNil(t, st.LastSyncAt)
	require.Zero(t, st.PendingCount)
}

func TestEngine_DownloadOrderFollowsRegistration(t *testing.T) {
	ctx := context.Background()
	var order []models.EntityKind
	meds := &fakeSyncer{kind: models.KindMedication}
	meds.pull = func(ctx context.Context) error {
		order = append(order, models.KindMedication)
		return nil
	}
	admins := &fakeSyncer{kind: models.KindAdministration}
	admins.pull = func(ctx context.Context) error {
		order = append(order, models.KindAdministration)
		return nil
	}

	f := newEngineFixture(t, meds, admins)
	f.engine.SetOnline(true)
	require.NoError(t, f.engine.SyncAll(ctx))
	require.Equal(t, []models.EntityKind{models.KindMedication, models.KindAdministration}, order)
}

func TestEngine_FailedEntryRetriesThenDrops(t *testing.T) {
	ctx := context.Background()
	meds := &fakeSyncer{kind: models.KindMedication}
	meds.push = func(ctx context.Context, entry models.QueueEntry) error {
		return common.ErrNetworkUnavailable
	}
	f := newEngineFixture(t, meds)
	f.engine.SetOnline(true)

	enqueue(t, f.queue, models.KindMedication, "u1", models.OpCreate, 2)

	// First pass: retry counter bumped, entry stays queued.
	require.NoError(t, f.engine.SyncAll(ctx))
	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].RetryCount)
	require.NotEmpty(t, entries[0].LastError)

	// Second pass exhausts the budget; the entry is dropped, not retried
	// forever.
	require.NoError(t, f.engine.SyncAll(ctx))
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngine_FailedEntryDoesNotBlockLaterEntries(t *testing.T) {
	ctx := context.Background()
	meds := &fakeSyncer{kind: models.KindMedication}
	meds.push = func(ctx context.Context, entry models.QueueEntry) error {
		if entry.UUID == "bad" {
			return common.ErrNetworkUnavailable
		}
		return nil
	}
	f := newEngineFixture(t, meds)
	f.engine.SetOnline(true)

	enqueue(t, f.queue, models.KindMedication, "bad", models.OpCreate, 5)
	good := enqueue(t, f.queue, models.KindMedication, "good", models.OpCreate, 5)

	require.NoError(t, f.engine.SyncAll(ctx))

	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bad", entries[0].UUID)
	require.Contains(t, meds.pushed, good.ID)
}

func TestEngine_AuthErrorAbortsPassAndLogsOut(t *testing.T) {
	ctx := context.Background()
	meds := &fakeSyncer{kind: models.KindMedication}
	meds.push = func(ctx context.Context, entry models.QueueEntry) error {
		return common.ErrUnauthorized
	}
	f := newEngineFixture(t, meds)
	f.engine.SetOnline(true)

	enqueue(t, f.queue, models.KindMedication, "u1", models.OpCreate, 5)
	enqueue(t, f.queue, models.KindMedication, "u2", models.OpCreate, 5)

	err := f.engine.SyncAll(ctx)
	require.ErrorIs(t, err, common.ErrUnauthorized)
	require.Equal(t, 1, f.session.loggedOut)
	require.Zero(t, meds.pulled)

	// Nothing is dropped; the queue drains after the next login.
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestEngine_PullErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	meds := &fakeSyncer{kind: models.KindMedication}
	meds.pull = func(ctx context.Context) error { return common.ErrNetworkUnavailable }
	f := newEngineFixture(t, meds)
	f.engine.SetOnline(true)

	err := f.engine.SyncAll(ctx)
	require.ErrorIs(t, err, common.ErrNetworkUnavailable)

	st := f.engine.Status()
	require.ErrorIs(t, st.Err, common.ErrNetworkUnavailable)

	md, err := f.meta.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, md.LastSyncAt)
	require.Nil(t, md.LastSuccessfulSyncAt)
	require.NotEmpty(t, md.LastError)
}

func TestEngine_ComingOnlineRequestsSync(t *testing.T) {
	f := newEngineFixture(t, &fakeSyncer{kind: models.KindMedication})

	f.engine.SetOnline(true)
	select {
	case <-f.engine.kick:
	default:
		t.Fatal("no sync requested on offline to online transition")
	}

	// Staying online does not re-kick.
	f.engine.SetOnline(true)
	select {
	case <-f.engine.kick:
		t.Fatal("unexpected sync request without a transition")
	default:
	}
}

func TestEngine_OfflineCreateSyncsOnReconnect(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	queue := store.NewQueue(kv, store.KeyQueue)
	meta := store.NewMetadataStore(kv, store.KeyMetadata)
	session := &fakeSession{loggedIn: true}

	var created int32
	client := &scriptedClient{
		createMedication: func(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error) {
			atomic.AddInt32(&created, 1)
			return &models.RemoteMedication{
				ID:        42,
				Name:      req.Name,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}, nil
		},
		listMedications: func(ctx context.Context) ([]models.RemoteMedication, error) {
			if atomic.LoadInt32(&created) == 0 {
				return nil, nil
			}
			return []models.RemoteMedication{
				{ID: 42, Name: "Dipirona 500mg", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
			}, nil
		},
	}

	meds := services.NewMedicationService(kv, queue, client, discardLogger(), 5)
	engine := New(queue, meta, session, discardLogger(), meds)

	// Offline: the record exists locally with no backend identity.
	m, err := meds.Create(ctx, models.MedicationInput{Name: "Dipirona 500mg"})
	require.NoError(t, err)
	require.Nil(t, m.ServerID)
	require.Equal(t, models.StatusPendingCreate, m.SyncStatus)
	require.ErrorIs(t, engine.SyncAll(ctx), common.ErrSyncSkipped)

	// Reconnect and run a pass: the queued create drains and the backend
	// id comes back.
	engine.SetOnline(true)
	require.NoError(t, engine.SyncAll(ctx))

	got, err := meds.GetByUUID(ctx, m.UUID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSynced, got.SyncStatus)
	require.NotNil(t, got.ServerID)
	require.Equal(t, int64(42), *got.ServerID)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	md, err := meta.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, md.LastSuccessfulSyncAt)
	require.Empty(t, md.LastError)
}

// scriptedClient covers just the calls the round-trip test exercises.
type scriptedClient struct {
	api.Client

	createMedication func(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error)
	listMedications  func(ctx context.Context) ([]models.RemoteMedication, error)
}

func (c *scriptedClient) CreateMedication(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error) {
	return c.createMedication(ctx, req)
}

func (c *scriptedClient) ListMedications(ctx context.Context) ([]models.RemoteMedication, error) {
	return c.listMedications(ctx)
}
