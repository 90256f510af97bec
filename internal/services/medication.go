package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mpoliveira/medtrack/internal/api"
	"github.com/mpoliveira/medtrack/internal/common"
	"github.com/mpoliveira/medtrack/internal/logging"
	"github.com/mpoliveira/medtrack/internal/models"
	"github.com/mpoliveira/medtrack/internal/store"
)

// MedicationPatch carries the fields of a partial update; nil means "leave
// unchanged".
type MedicationPatch struct {
	Name           *string
	Description    *string
	Class          *string
	PrescriberID   *int64
	PrescriberName *string
}

// MedicationService owns the local medication collection.
type MedicationService struct {
	col        *store.Collection[models.Medication]
	queue      *store.Queue
	client     api.Client
	pub        *Publisher[[]models.Medication]
	log        logging.Logger
	maxRetries int
	now        func() time.Time
}

func NewMedicationService(kv store.KV, queue *store.Queue, client api.Client, log logging.Logger, maxRetries int) *MedicationService {
	return &MedicationService{
		col:        store.NewCollection[models.Medication](kv, store.KeyMedications),
		queue:      queue,
		client:     client,
		pub:        NewPublisher[[]models.Medication](),
		log:        log.With("service", "medication"),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Subscribe returns a live view of the collection.
func (s *MedicationService) Subscribe() (<-chan []models.Medication, func()) {
	return s.pub.Subscribe()
}

// Create builds a PENDING_CREATE record from in, persists it and queues the
// remote create. Never blocks on the network.
func (s *MedicationService) Create(ctx context.Context, in models.MedicationInput) (*models.Medication, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	m := models.Medication{
		Base:           models.NewBase(s.now()),
		Name:           in.Name,
		Description:    in.Description,
		Class:          in.Class,
		PrescriberID:   in.PrescriberID,
		PrescriberName: in.PrescriberName,
	}

	if err := s.col.Put(ctx, m.UUID, m); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, models.OpCreate, m.UUID, s.remoteRequest(m)); err != nil {
		return nil, err
	}
	s.publish(ctx)
	return &m, nil
}

// Update merges patch into the record, bumps UpdatedAt and makes sure a queue
// entry covers the change. Returns ErrNotFound for an unknown or locally
// deleted uuid. A record with a live queue entry gets no new one (that entry
// is rebuilt from current state at drain time); a record left pending after
// its entry was dropped gets a fresh create or update entry, so an edit
// always restores its path to the backend.
func (s *MedicationService) Update(ctx context.Context, uuid string, patch MedicationPatch) (*models.Medication, error) {
	var updated models.Medication

	err := s.col.Update(ctx, func(m map[string]models.Medication) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return common.ErrNotFound
		}
		if patch.Name != nil {
			rec.Name = *patch.Name
		}
		if patch.Description != nil {
			rec.Description = *patch.Description
		}
		if patch.Class != nil {
			rec.Class = *patch.Class
		}
		if patch.PrescriberID != nil {
			rec.PrescriberID = patch.PrescriberID
		}
		if patch.PrescriberName != nil {
			rec.PrescriberName = *patch.PrescriberName
		}
		rec.Touch(s.now())
		m[uuid] = rec
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	queued, err := s.queue.ContainsUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !queued {
		op := models.OpUpdate
		if !updated.EverSynced() {
			op = models.OpCreate
		}
		if err := s.enqueue(ctx, op, uuid, s.remoteRequest(updated)); err != nil {
			return nil, err
		}
	}
	s.publish(ctx)
	return &updated, nil
}

// Delete soft-deletes a synced record and queues the remote delete; a record
// that never reached the server is purged outright together with its queued
// create. Returns false for an unknown uuid.
func (s *MedicationService) Delete(ctx context.Context, uuid string) (bool, error) {
	var existed, queueDelete bool

	err := s.col.Update(ctx, func(m map[string]models.Medication) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return nil
		}
		existed = true
		if !rec.EverSynced() {
			delete(m, uuid)
			return nil
		}
		rec.DeletedLocally = true
		rec.SyncStatus = models.StatusPendingDelete
		rec.UpdatedAt = s.now().UTC()
		m[uuid] = rec
		queueDelete = true
		return nil
	})
	if err != nil || !existed {
		return false, err
	}

	if queueDelete {
		if err := s.enqueue(ctx, models.OpDelete, uuid, nil); err != nil {
			return false, err
		}
	} else {
		if _, err := s.queue.RemoveByUUID(ctx, uuid); err != nil {
			return false, err
		}
	}
	s.publish(ctx)
	return true, nil
}

// GetByUUID returns the record, or ErrNotFound when unknown or soft-deleted.
func (s *MedicationService) GetByUUID(ctx context.Context, uuid string) (*models.Medication, error) {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !ok || rec.DeletedLocally {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

// List returns all visible records sorted by name.
func (s *MedicationService) List(ctx context.Context) ([]models.Medication, error) {
	m, err := s.col.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortMedications(m), nil
}

// UUIDByServerID resolves a backend id to the local uuid. Soft-deleted
// records still resolve: a queued delete does not un-map the identity.
func (s *MedicationService) UUIDByServerID(ctx context.Context, serverID int64) (string, bool, error) {
	m, err := s.col.All(ctx)
	if err != nil {
		return "", false, err
	}
	for uuid, rec := range m {
		if rec.ServerID != nil && *rec.ServerID == serverID {
			return uuid, true, nil
		}
	}
	return "", false, nil
}

// MergeFromServer folds a full remote snapshot into the collection. Remote
// wins only over a SYNCED record with an older ServerUpdatedAt; records with
// local pending changes are never overwritten. Remote records absent locally
// materialize as SYNCED; SYNCED local records missing from the snapshot were
// deleted remotely and are dropped.
func (s *MedicationService) MergeFromServer(ctx context.Context, remotes []models.RemoteMedication) error {
	now := s.now()
	err := s.col.Update(ctx, func(m map[string]models.Medication) error {
		byServerID := make(map[int64]string, len(m))
		for uuid, rec := range m {
			if rec.ServerID != nil {
				byServerID[*rec.ServerID] = uuid
			}
		}

		seen := make(map[int64]struct{}, len(remotes))
		for _, r := range remotes {
			// Present in the snapshot even when unusable this pass; only
			// absence means a remote deletion.
			seen[r.ID] = struct{}{}
			if err := models.Validate(r); err != nil {
				s.log.Warn(ctx, "skipping invalid remote medication", "error", err)
				continue
			}

			uuid, ok := byServerID[r.ID]
			if !ok {
				rec := models.Medication{
					Base:           models.NewSyncedBase(r.ID, r.CreatedAt, r.UpdatedAt, now),
					Name:           r.Name,
					Description:    r.Description,
					Class:          r.Class,
					PrescriberID:   r.PrescriberID,
					PrescriberName: r.PrescriberName,
				}
				m[rec.UUID] = rec
				continue
			}

			rec := m[uuid]
			if !remoteWins(rec.Base, r.UpdatedAt) {
				continue
			}
			rec.Name = r.Name
			rec.Description = r.Description
			rec.Class = r.Class
			rec.PrescriberID = r.PrescriberID
			rec.PrescriberName = r.PrescriberName
			applyRemoteStamp(&rec.Base, r.UpdatedAt, now)
			m[uuid] = rec
		}

		for uuid, rec := range m {
			if rec.SyncStatus != models.StatusSynced || rec.ServerID == nil {
				continue
			}
			if _, ok := seen[*rec.ServerID]; !ok {
				delete(m, uuid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// Push applies one queued mutation against the backend, re-reading current
// local state to build the payload.
func (s *MedicationService) Push(ctx context.Context, entry models.QueueEntry) error {
	switch entry.Op {
	case models.OpCreate:
		return s.pushCreate(ctx, entry.UUID)
	case models.OpUpdate:
		return s.pushUpdate(ctx, entry.UUID)
	case models.OpDelete:
		return s.pushDelete(ctx, entry.UUID)
	default:
		return fmt.Errorf("unknown queue operation %q", entry.Op)
	}
}

// Pull fetches the remote collection and merges it.
func (s *MedicationService) Pull(ctx context.Context) error {
	remotes, err := s.client.ListMedications(ctx)
	if err != nil {
		return err
	}
	return s.MergeFromServer(ctx, remotes)
}

// Kind identifies this service's collection in the queue.
func (s *MedicationService) Kind() models.EntityKind {
	return models.KindMedication
}

func (s *MedicationService) pushCreate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		// Record vanished locally; nothing to create remotely.
		return nil
	}
	resp, err := s.client.CreateMedication(ctx, s.remoteRequestOf(rec))
	if err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, resp.ID, resp.UpdatedAt)
}

func (s *MedicationService) pushUpdate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok || rec.ServerID == nil {
		return nil
	}
	if err := s.client.UpdateMedication(ctx, *rec.ServerID, s.remoteRequestOf(rec)); err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, *rec.ServerID, rec.UpdatedAt)
}

func (s *MedicationService) pushDelete(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.ServerID != nil {
		err := s.client.DeleteMedication(ctx, *rec.ServerID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
	}
	if _, err := s.col.Delete(ctx, uuid); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

func (s *MedicationService) markSynced(ctx context.Context, uuid string, serverID int64, serverUpdatedAt time.Time) error {
	err := s.col.Update(ctx, func(m map[string]models.Medication) error {
		rec, ok := m[uuid]
		if !ok {
			return nil
		}
		rec.MarkSynced(serverID, serverUpdatedAt, s.now())
		m[uuid] = rec
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

func (s *MedicationService) remoteRequest(m models.Medication) json.RawMessage {
	data, _ := json.Marshal(s.remoteRequestOf(m))
	return data
}

func (s *MedicationService) remoteRequestOf(m models.Medication) models.MedicationRequest {
	return models.MedicationRequest{
		Name:           m.Name,
		Description:    m.Description,
		Class:          m.Class,
		PrescriberID:   m.PrescriberID,
		PrescriberName: m.PrescriberName,
	}
}

func (s *MedicationService) enqueue(ctx context.Context, op models.Operation, uuid string, payload json.RawMessage) error {
	entry := models.NewQueueEntry(models.KindMedication, uuid, op, payload, s.maxRetries, s.now())
	return s.queue.Enqueue(ctx, entry)
}

func (s *MedicationService) publish(ctx context.Context) {
	m, err := s.col.All(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to load collection for publish", "error", err)
		return
	}
	s.pub.Publish(sortMedications(m))
}

func sortMedications(m map[string]models.Medication) []models.Medication {
	out := make([]models.Medication, 0, len(m))
	for _, rec := range m {
		if rec.DeletedLocally {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
