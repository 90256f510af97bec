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

// InteractionPatch carries the fields of a partial update; nil means "leave
// unchanged". The medication pair is immutable: it is the remote identity.
type InteractionPatch struct {
	Description *string
	Severity    *models.Severity
	Source      *string
}

// InteractionService owns the local drug-interaction collection. Its remote
// identity is the ordered medication id pair, so wherever the other services
// consult ServerID this one consults ServerKey.
type InteractionService struct {
	col        *store.Collection[models.Interaction]
	queue      *store.Queue
	client     api.Client
	meds       *MedicationService
	pub        *Publisher[[]models.Interaction]
	log        logging.Logger
	maxRetries int
	now        func() time.Time
}

func NewInteractionService(kv store.KV, queue *store.Queue, client api.Client, meds *MedicationService, log logging.Logger, maxRetries int) *InteractionService {
	return &InteractionService{
		col:        store.NewCollection[models.Interaction](kv, store.KeyInteractions),
		queue:      queue,
		client:     client,
		meds:       meds,
		pub:        NewPublisher[[]models.Interaction](),
		log:        log.With("service", "interaction"),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (s *InteractionService) Subscribe() (<-chan []models.Interaction, func()) {
	return s.pub.Subscribe()
}

// Create builds a PENDING_CREATE interaction. Both referenced medications
// must already be synced: their backend ids form the remote identity.
func (s *InteractionService) Create(ctx context.Context, in models.InteractionInput) (*models.Interaction, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	medA, err := s.meds.GetByUUID(ctx, in.MedicationAUUID)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", in.MedicationAUUID, err)
	}
	medB, err := s.meds.GetByUUID(ctx, in.MedicationBUUID)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", in.MedicationBUUID, err)
	}
	if medA.ServerID == nil {
		return nil, fmt.Errorf("medication %s: %w", in.MedicationAUUID, common.ErrRelatedNotSynced)
	}
	if medB.ServerID == nil {
		return nil, fmt.Errorf("medication %s: %w", in.MedicationBUUID, common.ErrRelatedNotSynced)
	}

	i := models.Interaction{
		Base:            models.NewBase(s.now()),
		MedicationAUUID: in.MedicationAUUID,
		MedicationBUUID: in.MedicationBUUID,
		MedicationAName: medA.Name,
		MedicationBName: medB.Name,
		Description:     in.Description,
		Severity:        in.Severity,
		Source:          in.Source,
	}

	if err := s.col.Put(ctx, i.UUID, i); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(models.InteractionRequest{
		MedAID:      *medA.ServerID,
		MedBID:      *medB.ServerID,
		Description: i.Description,
		Severity:    i.Severity,
		Source:      i.Source,
	})
	if err := s.enqueue(ctx, models.OpCreate, i.UUID, payload); err != nil {
		return nil, err
	}
	s.publish(ctx)
	return &i, nil
}

func (s *InteractionService) Update(ctx context.Context, uuid string, patch InteractionPatch) (*models.Interaction, error) {
	var updated models.Interaction

	err := s.col.Update(ctx, func(m map[string]models.Interaction) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return common.ErrNotFound
		}
		if patch.Description != nil {
			rec.Description = *patch.Description
		}
		if patch.Severity != nil {
			rec.Severity = *patch.Severity
		}
		if patch.Source != nil {
			rec.Source = *patch.Source
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

func (s *InteractionService) Delete(ctx context.Context, uuid string) (bool, error) {
	var existed, queueDelete bool

	err := s.col.Update(ctx, func(m map[string]models.Interaction) error {
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

func (s *InteractionService) GetByUUID(ctx context.Context, uuid string) (*models.Interaction, error) {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !ok || rec.DeletedLocally {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (s *InteractionService) List(ctx context.Context) ([]models.Interaction, error) {
	m, err := s.col.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortInteractions(m), nil
}

// MergeFromServer folds the remote snapshot in, matching local records by
// composite key. Elements whose medications are not materialized locally yet
// are skipped for this pass.
func (s *InteractionService) MergeFromServer(ctx context.Context, remotes []models.RemoteInteraction) error {
	now := s.now()

	medUUIDs := make(map[int64]string)
	resolve := func(id int64) (string, bool, error) {
		if uuid, ok := medUUIDs[id]; ok {
			return uuid, true, nil
		}
		uuid, ok, err := s.meds.UUIDByServerID(ctx, id)
		if err != nil || !ok {
			return "", false, err
		}
		medUUIDs[id] = uuid
		return uuid, true, nil
	}

	type resolved struct {
		remote models.RemoteInteraction
		aUUID  string
		bUUID  string
		aName  string
		bName  string
	}
	var accepted []resolved
	// Every key present in the snapshot, usable or not; only absence means
	// a remote deletion.
	present := make(map[models.InteractionKey]struct{}, len(remotes))
	for _, r := range remotes {
		present[r.Key()] = struct{}{}
		if err := models.Validate(r); err != nil {
			s.log.Warn(ctx, "skipping invalid remote interaction", "error", err)
			continue
		}
		aUUID, okA, err := resolve(r.MedAID)
		if err != nil {
			return err
		}
		bUUID, okB, err := resolve(r.MedBID)
		if err != nil {
			return err
		}
		if !okA || !okB {
			s.log.Debug(ctx, "skipping interaction with unresolved medication", "medAId", r.MedAID, "medBId", r.MedBID)
			continue
		}
		item := resolved{remote: r, aUUID: aUUID, bUUID: bUUID}
		if med, err := s.meds.GetByUUID(ctx, aUUID); err == nil {
			item.aName = med.Name
		}
		if med, err := s.meds.GetByUUID(ctx, bUUID); err == nil {
			item.bName = med.Name
		}
		accepted = append(accepted, item)
	}

	err := s.col.Update(ctx, func(m map[string]models.Interaction) error {
		byKey := make(map[models.InteractionKey]string, len(m))
		for uuid, rec := range m {
			if rec.ServerKey != nil {
				byKey[*rec.ServerKey] = uuid
			}
		}

		for _, item := range accepted {
			r := item.remote
			key := r.Key()

			uuid, ok := byKey[key]
			if !ok {
				rec := models.Interaction{
					Base:            models.NewSyncedBase(0, r.CreatedAt, r.UpdatedAt, now),
					ServerKey:       &key,
					MedicationAUUID: item.aUUID,
					MedicationBUUID: item.bUUID,
					MedicationAName: item.aName,
					MedicationBName: item.bName,
					Description:     r.Description,
					Severity:        r.Severity,
					Source:          r.Source,
				}
				rec.ServerID = nil
				m[rec.UUID] = rec
				continue
			}

			rec := m[uuid]
			if !remoteWins(rec.Base, r.UpdatedAt) {
				continue
			}
			rec.MedicationAUUID = item.aUUID
			rec.MedicationBUUID = item.bUUID
			rec.MedicationAName = item.aName
			rec.MedicationBName = item.bName
			rec.Description = r.Description
			rec.Severity = r.Severity
			rec.Source = r.Source
			applyRemoteStamp(&rec.Base, r.UpdatedAt, now)
			m[uuid] = rec
		}

		for uuid, rec := range m {
			if rec.SyncStatus != models.StatusSynced || rec.ServerKey == nil {
				continue
			}
			if _, ok := present[*rec.ServerKey]; !ok {
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

func (s *InteractionService) Push(ctx context.Context, entry models.QueueEntry) error {
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

func (s *InteractionService) Pull(ctx context.Context) error {
	remotes, err := s.client.ListInteractions(ctx)
	if err != nil {
		return err
	}
	return s.MergeFromServer(ctx, remotes)
}

func (s *InteractionService) Kind() models.EntityKind {
	return models.KindInteraction
}

func (s *InteractionService) remoteRequestOf(ctx context.Context, rec models.Interaction) (*models.InteractionRequest, error) {
	medA, err := s.meds.GetByUUID(ctx, rec.MedicationAUUID)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", rec.MedicationAUUID, err)
	}
	medB, err := s.meds.GetByUUID(ctx, rec.MedicationBUUID)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", rec.MedicationBUUID, err)
	}
	if medA.ServerID == nil || medB.ServerID == nil {
		return nil, fmt.Errorf("interaction %s: %w", rec.UUID, common.ErrRelatedNotSynced)
	}
	return &models.InteractionRequest{
		MedAID:      *medA.ServerID,
		MedBID:      *medB.ServerID,
		Description: rec.Description,
		Severity:    rec.Severity,
		Source:      rec.Source,
	}, nil
}

func (s *InteractionService) pushCreate(ctx context.Context, uuid string) error {
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
	resp, err := s.client.CreateInteraction(ctx, *req)
	if err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, resp.Key(), resp.UpdatedAt)
}

func (s *InteractionService) pushUpdate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok || rec.ServerKey == nil {
		return nil
	}
	req, err := s.remoteRequestOf(ctx, rec)
	if err != nil {
		return err
	}
	if err := s.client.UpdateInteraction(ctx, *rec.ServerKey, *req); err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, *rec.ServerKey, rec.UpdatedAt)
}

func (s *InteractionService) pushDelete(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.ServerKey != nil {
		err := s.client.DeleteInteraction(ctx, *rec.ServerKey)
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

func (s *InteractionService) markSynced(ctx context.Context, uuid string, key models.InteractionKey, serverUpdatedAt time.Time) error {
	err := s.col.Update(ctx, func(m map[string]models.Interaction) error {
		rec, ok := m[uuid]
		if !ok {
			return nil
		}
		rec.MarkSyncedKey(key, serverUpdatedAt, s.now())
		m[uuid] = rec
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

func (s *InteractionService) enqueue(ctx context.Context, op models.Operation, uuid string, payload json.RawMessage) error {
	entry := models.NewQueueEntry(models.KindInteraction, uuid, op, payload, s.maxRetries, s.now())
	return s.queue.Enqueue(ctx, entry)
}

func (s *InteractionService) publish(ctx context.Context) {
	m, err := s.col.All(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to load collection for publish", "error", err)
		return
	}
	s.pub.Publish(sortInteractions(m))
}

func sortInteractions(m map[string]models.Interaction) []models.Interaction {
	out := make([]models.Interaction, 0, len(m))
	for _, rec := range m {
		if rec.DeletedLocally {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MedicationAName != out[j].MedicationAName {
			return out[i].MedicationAName < out[j].MedicationAName
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}
