package services

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
	"github.com/mpoliveira/medtrack/internal/logging"
	"github.com/mpoliveira/medtrack/internal/models"
	"github.com/mpoliveira/medtrack/internal/store"
)

var dbSeq atomic.Int64

func newTestKV(t *testing.T) *store.SQLiteKV {
	t.Helper()
	dsn := fmt.Sprintf("file:servicestest%d?mode=memory&cache=shared", dbSeq.Add(1))
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

// fakeClient embeds the interface so each test overrides only the calls it
// expects; anything else panics with a nil method value.
type fakeClient struct {
	api.Client

	createMedication func(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error)
	updateMedication func(ctx context.Context, serverID int64, req models.MedicationRequest) error
	deleteMedication func(ctx context.Context, serverID int64) error
	listMedications  func(ctx context.Context) ([]models.RemoteMedication, error)

	createAdministration func(ctx context.Context, req models.AdministrationRequest) (*models.RemoteAdministration, error)
	listAdministrations  func(ctx context.Context) ([]models.RemoteAdministration, error)

	createInteraction func(ctx context.Context, req models.InteractionRequest) (*models.RemoteInteraction, error)
	deleteInteraction func(ctx context.Context, key models.InteractionKey) error
	listInteractions  func(ctx context.Context) ([]models.RemoteInteraction, error)

	createTip func(ctx context.Context, req models.TipRequest) (*models.RemoteTip, error)
	listTips  func(ctx context.Context) ([]models.RemoteTip, error)

	listFAQs func(ctx context.Context) ([]models.RemoteFAQ, error)
}

func (f *fakeClient) CreateMedication(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error) {
	return f.createMedication(ctx, req)
}

func (f *fakeClient) UpdateMedication(ctx context.Context, serverID int64, req models.MedicationRequest) error {
	return f.updateMedication(ctx, serverID, req)
}

func (f *fakeClient) DeleteMedication(ctx context.Context, serverID int64) error {
	return f.deleteMedication(ctx, serverID)
}

func (f *fakeClient) ListMedications(ctx context.Context) ([]models.RemoteMedication, error) {
	return f.listMedications(ctx)
}

func (f *fakeClient) CreateAdministration(ctx context.Context, req models.AdministrationRequest) (*models.RemoteAdministration, error) {
	return f.createAdministration(ctx, req)
}

func (f *fakeClient) ListAdministrations(ctx context.Context) ([]models.RemoteAdministration, error) {
	return f.listAdministrations(ctx)
}

func (f *fakeClient) CreateInteraction(ctx context.Context, req models.InteractionRequest) (*models.RemoteInteraction, error) {
	return f.createInteraction(ctx, req)
}

func (f *fakeClient) DeleteInteraction(ctx context.Context, key models.InteractionKey) error {
	return f.deleteInteraction(ctx, key)
}

func (f *fakeClient) ListInteractions(ctx context.Context) ([]models.RemoteInteraction, error) {
	return f.listInteractions(ctx)
}

func (f *fakeClient) CreateTip(ctx context.Context, req models.TipRequest) (*models.RemoteTip, error) {
	return f.createTip(ctx, req)
}

func (f *fakeClient) ListTips(ctx context.Context) ([]models.RemoteTip, error) {
	return f.listTips(ctx)
}

func (f *fakeClient) ListFAQs(ctx context.Context) ([]models.RemoteFAQ, error) {
	return f.listFAQs(ctx)
}

type fixture struct {
	kv     *store.SQLiteKV
	queue  *store.Queue
	client *fakeClient
	meds   *MedicationService
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := newTestKV(t)
	queue := store.NewQueue(kv, store.KeyQueue)
	client := &fakeClient{}
	meds := NewMedicationService(kv, queue, client, discardLogger(), 5)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	meds.now = func() time.Time { return now }
	return &fixture{kv: kv, queue: queue, client: client, meds: meds, now: now}
}

// syncedMedication plants a medication that already has a backend identity.
func (f *fixture) syncedMedication(t *testing.T, serverID int64, name string) *models.Medication {
	t.Helper()
	ctx := context.Background()
	m, err := f.meds.Create(ctx, models.MedicationInput{Name: name})
	require.NoError(t, err)
	require.NoError(t, f.meds.markSynced(ctx, m.UUID, serverID, f.now))
	// The create entry was never drained; drop it so tests observe only
	// their own queue traffic.
	_, err = f.queue.RemoveByUUID(ctx, m.UUID)
	require.NoError(t, err)
	out, err := f.meds.GetByUUID(ctx, m.UUID)
	require.NoError(t, err)
	return out
}
