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

// FAQPatch carries the fields of a partial update; nil means "leave
// unchanged".
type FAQPatch struct {
	Question *string
	Answer   *string
}

// FAQService owns the local FAQ collection.
type FAQService struct {
	col        *store.Collection[models.FAQ]
	queue      *store.Queue
	client     api.Client
	pub        *Publisher[[]models.FAQ]
	log        logging.Logger
	maxRetries int
	now        func() time.Time
}

func NewFAQService(kv store.KV, queue *store.Queue, client api.Client, log logging.Logger, maxRetries int) *FAQService {
	return &FAQService{
		col:        store.NewCollection[models.FAQ](kv, store.KeyFAQs),
		queue:      queue,
		client:     client,
		pub:        NewPublisher[[]models.FAQ](),
		log:        log.With("service", "faq"),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (s *FAQService) Subscribe() (<-chan []models.FAQ, func()) {
	return s.pub.Subscribe()
}

func (s *FAQService) Create(ctx context.Context, in models.FAQInput) (*models.FAQ, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}

	f := models.FAQ{
		Base:       models.NewBase(s.now()),
		Question:   in.Question,
		Answer:     in.Answer,
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
	}

	if err := s.col.Put(ctx, f.UUID, f); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(models.FAQRequest{Question: f.Question, Answer: f.Answer, AuthorID: f.AuthorID, AuthorName: f.AuthorName})
	if err := s.enqueue(ctx, models.OpCreate, f.UUID, payload); err != nil {
		return nil, err
	}
	s.publish(ctx)
	return &f, nil
}

func (s *FAQService) Update(ctx context.Context, uuid string, patch FAQPatch) (*models.FAQ, error) {
	var updated models.FAQ

	err := s.col.Update(ctx, func(m map[string]models.FAQ) error {
		rec, ok := m[uuid]
		if !ok || rec.DeletedLocally {
			return common.ErrNotFound
		}
		if patch.Question != nil {
			rec.Question = *patch.Question
		}
		if patch.Answer != nil {
			rec.Answer = *patch.Answer
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

func (s *FAQService) Delete(ctx context.Context, uuid string) (bool, error) {
	var existed, queueDelete bool

	err := s.col.Update(ctx, func(m map[string]models.FAQ) error {
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

func (s *FAQService) GetByUUID(ctx context.Context, uuid string) (*models.FAQ, error) {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !ok || rec.DeletedLocally {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (s *FAQService) List(ctx context.Context) ([]models.FAQ, error) {
	m, err := s.col.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortFAQs(m), nil
}

func (s *FAQService) MergeFromServer(ctx context.Context, remotes []models.RemoteFAQ) error {
	now := s.now()
	err := s.col.Update(ctx, func(m map[string]models.FAQ) error {
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
				s.log.Warn(ctx, "skipping invalid remote faq", "error", err)
				continue
			}

			uuid, ok := byServerID[r.ID]
			if !ok {
				rec := models.FAQ{
					Base:       models.NewSyncedBase(r.ID, r.CreatedAt, r.UpdatedAt, now),
					Question:   r.Question,
					Answer:     r.Answer,
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
			rec.Question = r.Question
			rec.Answer = r.Answer
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

func (s *FAQService) Push(ctx context.Context, entry models.QueueEntry) error {
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

func (s *FAQService) Pull(ctx context.Context) error {
	remotes, err := s.client.ListFAQs(ctx)
	if err != nil {
		return err
	}
	return s.MergeFromServer(ctx, remotes)
}

func (s *FAQService) Kind() models.EntityKind {
	return models.KindFAQ
}

func (s *FAQService) pushCreate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	req := models.FAQRequest{Question: rec.Question, Answer: rec.Answer, AuthorID: rec.AuthorID, AuthorName: rec.AuthorName}
	resp, err := s.client.CreateFAQ(ctx, req)
	if err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, resp.ID, resp.UpdatedAt)
}

func (s *FAQService) pushUpdate(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok || rec.ServerID == nil {
		return nil
	}
	req := models.FAQRequest{Question: rec.Question, Answer: rec.Answer, AuthorID: rec.AuthorID, AuthorName: rec.AuthorName}
	if err := s.client.UpdateFAQ(ctx, *rec.ServerID, req); err != nil {
		return err
	}
	return s.markSynced(ctx, uuid, *rec.ServerID, rec.UpdatedAt)
}

func (s *FAQService) pushDelete(ctx context.Context, uuid string) error {
	rec, ok, err := s.col.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if rec.ServerID != nil {
		err := s.client.DeleteFAQ(ctx, *rec.ServerID)
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

func (s *FAQService) markSynced(ctx context.Context, uuid string, serverID int64, serverUpdatedAt time.Time) error {
	err := s.col.Update(ctx, func(m map[string]models.FAQ) error {
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

func (s *FAQService) enqueue(ctx context.Context, op models.Operation, uuid string, payload json.RawMessage) error {
	entry := models.NewQueueEntry(models.KindFAQ, uuid, op, payload, s.maxRetries, s.now())
	return s.queue.Enqueue(ctx, entry)
}

func (s *FAQService) publish(ctx context.Context) {
	m, err := s.col.All(ctx)
	if err != nil {
		s.log.Error(ctx, "failed to load collection for publish", "error", err)
		return
	}
	s.pub.Publish(sortFAQs(m))
}

func sortFAQs(m map[string]models.FAQ) []models.FAQ {
	out := make([]models.FAQ, 0, len(m))
	for _, rec := range m {
		if rec.DeletedLocally {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Question < out[j].Question })
	return out
}
