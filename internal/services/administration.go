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

// AdministrationPatch carries the fields of a partial update; nil means
// "leave unchanged".
type AdministrationPatch struct {
	TimeOfDay *string
	Dosage    *string
	Frequency *string
	Active    *bool
}

// AdministrationService owns a client's personal medication schedule. It
// leans on the medication service to translate between local medication
// UUIDs and backend ids.
type AdministrationService struct {
	col        *store.Collection[models.Administration]
	queue      *store.Queue
	client     api.Client
	meds       *MedicationService
	pub        *Publisher[[]models.Administration]
	log        logging.Logger
	maxRetries int
	now        func() time.Time
}

func NewAdministrationService(kv store.KV, queue *store.Queue, client api.Client, meds *MedicationService, log logging.Logger, maxRetries int) *AdministrationService {
	return &AdministrationService{
		col:        store.NewCollection[models.Administration](kv, store.KeyAdministrations),
		queue:      queue,
		client:     client,
		meds:       meds,
		pub:        NewPublisher[[]models.Administration](),
		log:        log.With("service", "administration"),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Subscribe returns a live view of the collection.
func (s *AdministrationService) Subscribe() (<-chan []models.Administration, func()) {
	return s.pub.Subscribe()
}

// Create builds a PENDING_CREATE schedule entry. The referenced medication
// must already be synced: its backend id is what goes into the remote
// payload, so without one the queued create could never be drained.
func (s *AdministrationService) Create(ctx context.Context, in models.AdministrationInput) (*models.Administration, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	med, err := s.meds.GetByUUID(ctx, in.MedicationUUID)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", in.MedicationUUID, err)
	}
	if med.ServerID == nil {
		return nil, fmt.Errorf("medication %s: %w", in.MedicationUUID, common.ErrRelatedNotSynced)
	}

	a := models.Administration{
		Base:           models.NewBase(s.now()),
		ClientID:       in.ClientID,
		MedicationUUID: in.MedicationUUID,
		MedicationName: med.Name,
		TimeOfDay:      in.TimeOfDay,
		Dosage:         in.Dosage,
		Frequency:      in.Frequency,
		Active:         in.Active,
	}

	if err := s.col.Put(ctx, a.UUID, a); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(models.AdministrationRequest{
		ClientID:     a.ClientID,
		MedicationID: *med.ServerID,
		TimeOfDay:    a.TimeOfDay,
		Dosage:       a.Dosage,
		Frequency:    a.Frequency,
		Active:       a.Active,
	})
	if err := s.enqueue(ctx, models.OpCreate, a.UUID, payload); err != nil {
		return nil, err
	}
	s.publish(ctx)
	return &a, nil
}

// Update merges patch into the entry. Same contract as the medication
// service: ErrNotFound on unknown uuid, and a queue entry is created unless
// one already covers the record.
func (s *AdministrationService) Update(ctx context.Context, uuid string, patch AdministrationPatch) (*models.Administration, error) {
	var updated models.Administration

	err := s.col.Update(ctx, func(m map[string]models.Administration) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return common.ErrNotFound
		}
		if patch.TimeOfDay != nil {
			rec.TimeOfDay = *patch.TimeOfDay
		}
		if patch.Dosage != nil {
			rec.Dosage = *patch.Dosage
		}
		if patch.Frequency != nil {
			rec.Frequency = *patch.Frequency
		}
		if patch.Active != nil {
			rec.Active = *patch.Active
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
		if err := s.enqueue(ctx, op, uuid, nil); err != nil {
			return nil, err
		}
	}
	s.publish(ctx)
	return &updated, nil
}

// Delete behaves like MedicationService.Delete.
func (s *AdministrationService) Delete(ctx context.Context, uuid string) (bool, error) {
	var existed, queueDelete bool

	err := s.col.Update(ctx, func(m map[string]models.Administration) error {
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

// GetByUUID returns the entry, or ErrNotFound when unknown or soft-deleted.
func (s *AdministrationService) GetByUUID(ctx context.Context, uuid string) (*models.Administration, error) {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !ok || rec.DeletedLocally {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

// List returns all visible entries sorted by time of day.
func (s *AdministrationService) List(ctx context.Context) ([]models.Administration, error) {
	m, err := s.col.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortAdministrations(m), nil
}

// MarkTaken stamps the dose as taken now and recomputes the next due time
// from the frequency when it parses as a duration. These fields live only on
// the device: no status transition, no queue entry.
func (s *AdministrationService) MarkTaken(ctx context.Context, uuid string, takenAt time.Time) error {
	takenAt = takenAt.UTC()
	err := s.col.Update(ctx, func(m map[string]models.Administration) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return common.ErrNotFound
		}
		rec.LastTakenAt = &takenAt
		if interval, err := time.ParseDuration(rec.Frequency); err == nil && interval > 0 {
			next := takenAt.Add(interval)
			rec.NextDueAt = &next
		} else {
			rec.NextDueAt = nil
		}
		m[uuid] = rec
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// MergeFromServer folds the remote snapshot in. Remote entries referencing a
// medication we have not materialized locally yet are skipped for this pass
// and picked up on a later sync, once the medication exists. LastTakenAt and
// NextDueAt are device-local and survive a remote win.
func (s *AdministrationService) MergeFromServer(ctx context.Context, remotes []models.RemoteAdministration) error {
	now := s.now()

	medUUIDs := make(map[int64]string)
	for _, r := range remotes {
		if _, ok := medUUIDs[r.MedicationID]; ok {
			continue
		}
		uuid, ok, err := s.meds.UUIDByServerID(ctx, r.MedicationID)
		if err != nil {
			return err
		}
		if ok {
			medUUIDs[r.MedicationID] = uuid
		}
	}

	err := s.col.Update(ctx, func(m map[string]models.Administration) error {
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
				s.log.Warn(ctx, "skipping invalid remote administration", "error", err)
				continue
			}
			medUUID, resolved := medUUIDs[r.MedicationID]
			if !resolved {
				s.log.Debug(ctx, "skipping administration with unresolved medication", "medicationId", r.MedicationID)
				continue
			}

			medName := ""
			if med, err := s.meds.GetByUUID(ctx, medUUID); err == nil {
				medName = med.Name
			}

			uuid, ok := byServerID[r.ID]
			if !ok {
				rec := models.Administration{
					Base:           models.NewSyncedBase(r.ID, r.CreatedAt, r.UpdatedAt, now),
					ClientID:       r.ClientID,
					MedicationUUID: medUUID,
					MedicationName: medName,
					TimeOfDay:      r.TimeOfDay,
					Dosage:         r.Dosage,
					Frequency:      r.Frequency,
					Active:         r.Active,
				}
				m[rec.UUID] = rec
				continue
			}

			rec := m[uuid]
			if !remoteWins(rec.Base, r.UpdatedAt) {
				continue
			}
			rec.ClientID = r.ClientID
			rec.MedicationUUID = medUUID
			rec.MedicationName = medName
			rec.TimeOfDay = r.TimeOfDay
			rec.Dosage = r.Dosage
			rec.Frequency = r.Frequency
			rec.Active = r.Active
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

// Push applies one queued mutation, rebuilding the payload from current
// state; the medication's backend id is resolved at drain time.
func (s *AdministrationService) Push(ctx context.Context, entry models.QueueEntry) error {
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
func (s *AdministrationService) Pull(ctx context.Context) error {
	remotes, err := s.client.ListAdministrations(ctx)
	if err != nil {
		return err
	}
	return s.MergeFromServer(ctx, remotes)
}

// Kind identifies this service's collection in the queue.
func (s *AdministrationService) Kind() models.EntityKind {
	return models.KindAdministration
}

func (s *AdministrationService) remoteRequestOf(ctx context.Context, rec models.Administration) (*models.AdministrationRequest, error) {
	med, err := s.meds.GetByUUID(ctx, rec.MedicationUUID)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", rec.MedicationUUID, err)
	}
	if med.ServerID == nil {
		return nil, fmt.Errorf("medication %s: %w", rec.MedicationUUID, common.ErrRelatedNotSynced)
	}
	return &models.AdministrationRequest{
		ClientID:     rec.ClientID,
		MedicationID: *med.ServerID,
		TimeOfDay:    rec.TimeOfDay,
		Dosage:       rec.Dosage,
		Frequency:    rec.Frequency,
		Active:       rec.Active,
	}, nil
}

func (s *AdministrationService) pushCreate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	req, err := s.remoteRequestOf(ctx, rec)
	if err != nil {
		return err
	}
	resp, err := s.client.CreateAdministration(ctx, *req)
	if err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, resp.ID, resp.UpdatedAt)
}

func (s *AdministrationService) pushUpdate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok || rec.ServerID == nil {
		return nil
	}
	req, err := s.remoteRequestOf(ctx, rec)
	if err != nil {
		return err
	}
	if err := s.client.UpdateAdministration(ctx, *rec.ServerID, *req); err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, *rec.ServerID, rec.UpdatedAt)
}

func (s *AdministrationService) pushDelete(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.ServerID != nil {
		err := s.client.DeleteAdministration(ctx, *rec.ServerID)
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

func (s *AdministrationService) markSynced(ctx context.Context, uuid string, serverID int64, serverUpdatedAt time.Time) error {
	err := s.col.Update(ctx, func(m map[string]models.Administration) error {
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

func (s *AdministrationService) enqueue(ctx context.Context, op models.Operation, uuid string, payload json.RawMessage) error {
	entry := models.NewQueueEntry(models.KindAdministration, uuid, op, payload, s.maxRetries, s.now())
	return s.queue.Enqueue(ctx, entry)
}

func (s *AdministrationService) publish(ctx context.Context) {
	m, err := s.col.All(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to load collection for publish", "error", err)
		return
	}
	s.pub.Publish(sortAdministrations(m))
}

func sortAdministrations(m map[string]models.Administration) []models.Administration {
	out := make([]models.Administration, 0, len(m))
	for _, rec := range m {
		if rec.DeletedLocally {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeOfDay != out[j].TimeOfDay {
			return out[i].TimeOfDay < out[j].TimeOfDay
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}
