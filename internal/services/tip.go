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

// TipPatch carries the fields of a partial update; nil means "leave
// unchanged".
type TipPatch struct {
	Text *string
}

// TipService owns the local tips collection.
type TipService struct {
	col        *store.Collection[models.Tip]
	queue      *store.Queue
	client     api.Client
	pub        *Publisher[[]models.Tip]
	log        logging.Logger
	maxRetries int
	now        func() time.Time
}

func NewTipService(kv store.KV, queue *store.Queue, client api.Client, log logging.Logger, maxRetries int) *TipService {
	return &TipService{
		col:        store.NewCollection[models.Tip](kv, store.KeyTips),
		queue:      queue,
		client:     client,
		pub:        NewPublisher[[]models.Tip](),
		log:        log.With("service", "tip"),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (s *TipService) Subscribe() (<-chan []models.Tip, func()) {
	return s.pub.Subscribe()
}

func (s *TipService) Create(ctx context.Context, in models.TipInput) (*models.Tip, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	t := models.Tip{
		Base:       models.NewBase(s.now()),
		Text:       in.Text,
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
	}

	if err := s.col.Put(ctx, t.UUID, t); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(models.TipRequest{Text: t.Text, AuthorID: t.AuthorID, AuthorName: t.AuthorName})
	if err := s.enqueue(ctx, models.OpCreate, t.UUID, payload); err != nil {
		return nil, err
	}
	s.publish(ctx)
	return &t, nil
}

func (s *TipService) Update(ctx context.Context, uuid string, patch TipPatch) (*models.Tip, error) {
	var updated models.Tip

	err := s.col.Update(ctx, func(m map[string]models.Tip) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return common.ErrNotFound
		}
		if patch.Text != nil {
			rec.Text = *patch.Text
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

func (s *TipService) Delete(ctx context.Context, uuid string) (bool, error) {
	var existed, queueDelete bool

	err := s.col.Update(ctx, func(m map[string]models.Tip) error {
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

func (s *TipService) GetByUUID(ctx context.Context, uuid string) (*models.Tip, error) {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !ok || rec.DeletedLocally {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (s *TipService) List(ctx context.Context) ([]models.Tip, error) {
	m, err := s.col.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortTips(m), nil
}

func (s *TipService) MergeFromServer(ctx context.Context, remotes []models.RemoteTip) error {
	now := s.now()
	err := s.col.Update(ctx, func(m map[string]models.Tip) error {
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
				s.log.Warn(ctx, "skipping invalid remote tip", "error", err)
				continue
			}

			uuid, ok := byServerID[r.ID]
			if !ok {
				rec := models.Tip{
					Base:       models.NewSyncedBase(r.ID, r.CreatedAt, r.UpdatedAt, now),
					Text:       r.Text,
					AuthorID:   r.AuthorID,
					AuthorName: r.AuthorName,
				}
				m[rec.UUID] = rec
				continue
			}

			rec := m[uuid]
			if !remoteWins(rec.Base, r.UpdatedAt) {
				continue
			}
			rec.Text = r.Text
			rec.AuthorID = r.AuthorID
			rec.AuthorName = r.AuthorName
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

func (s *TipService) Push(ctx context.Context, entry models.QueueEntry) error {
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

func (s *TipService) Pull(ctx context.Context) error {
	remotes, err := s.client.ListTips(ctx)
	if err != nil {
		return err
	}
	return s.MergeFromServer(ctx, remotes)
}

func (s *TipService) Kind() models.EntityKind {
	return models.KindTip
}

func (s *TipService) pushCreate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	resp, err := s.client.CreateTip(ctx, models.TipRequest{Text: rec.Text, AuthorID: rec.AuthorID, AuthorName: rec.AuthorName})
	if err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, resp.ID, resp.UpdatedAt)
}

func (s *TipService) pushUpdate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok || rec.ServerID == nil {
		return nil
	}
	req := models.TipRequest{Text: rec.Text, AuthorID: rec.AuthorID, AuthorName: rec.AuthorName}
	if err := s.client.UpdateTip(ctx, *rec.ServerID, req); err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, *rec.ServerID, rec.UpdatedAt)
}

func (s *TipService) pushDelete(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.ServerID != nil {
		err := s.client.DeleteTip(ctx, *rec.ServerID)
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

func (s *TipService) markSynced(ctx context.Context, uuid string, serverID int64, serverUpdatedAt time.Time) error {
	err := s.col.Update(ctx, func(m map[string]models.Tip) error {
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

func (s *TipService) enqueue(ctx context.Context, op models.Operation, uuid string, payload json.RawMessage) error {
	entry := models.NewQueueEntry(models.KindTip, uuid, op, payload, s.maxRetries, s.now())
	return s.queue.Enqueue(ctx, entry)
}

func (s *TipService) publish(ctx context.Context) {
	m, err := s.col.All(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to load collection for publish", "error", err)
		return
	}
	s.pub.Publish(sortTips(m))
}

func sortTips(m map[string]models.Tip) []models.Tip {
	out := make([]models.Tip, 0, len(m))
	for _, rec := range m {
		if rec.DeletedLocally {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
