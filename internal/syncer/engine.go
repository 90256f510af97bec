// Package syncer orchestrates reconciliation between local state and the
// backend: an upload phase that drains the mutation queue in FIFO order,
// then a download phase that merges each remote collection back through its
// entity service. The engine never touches the store for entity data; all
// record mutation goes through the services.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mpoliveira/medtrack/internal/common"
	"github.com/mpoliveira/medtrack/internal/logging"
	"github.com/mpoliveira/medtrack/internal/models"
	"github.com/mpoliveira/medtrack/internal/services"
	"github.com/mpoliveira/medtrack/internal/store"
)

// EntitySyncer is the slice of an entity service the engine drives: pushing
// one queued mutation, and pulling + merging the remote collection.
type EntitySyncer interface {
	Kind() models.EntityKind
	Push(ctx context.Context, entry models.QueueEntry) error
	Pull(ctx context.Context) error
}

// SessionController is the slice of the auth service the engine needs: the
// one place reconciliation reaches outside its own boundary is the forced
// logout on a credential failure.
type SessionController interface {
	LoggedIn() bool
	Logout(ctx context.Context) error
}

// Status is the engine's observable state.
type Status struct {
	IsOnline     bool
	IsSyncing    bool
	LastSyncAt   *time.Time
	PendingCount int
	Progress     int
	Err          error
}

// Engine runs sync passes. Download order follows the slice order given to
// New: medications must come before administrations and interactions, whose
// merges resolve medication ids.
type Engine struct {
	queue   *store.Queue
	meta    *store.MetadataStore
	session SessionController
	order   []EntitySyncer
	byKind  map[models.EntityKind]EntitySyncer
	log     logging.Logger
	now     func() time.Time

	mu     sync.Mutex
	status Status
	pub    *services.Publisher[Status]
	kick   chan struct{}
}

func New(queue *store.Queue, meta *store.MetadataStore, session SessionController, log logging.Logger, syncers ...EntitySyncer) *Engine {
	byKind := make(map[models.EntityKind]EntitySyncer, len(syncers))
	for _, s := range syncers {
		byKind[s.Kind()] = s
	}
	return &Engine{
		queue:   queue,
		meta:    meta,
		session: session,
		order:   syncers,
		byKind:  byKind,
		log:     log.With("component", "syncer"),
		now:     time.Now,
		pub:     services.NewPublisher[Status](),
		kick:    make(chan struct{}, 1),
	}
}

// Status returns the current observable state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe returns a live view of the engine status.
func (e *Engine) Subscribe() (<-chan Status, func()) {
	return e.pub.Subscribe()
}

// SetOnline records a connectivity transition. Coming back online requests
// an immediate sync pass.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.status.IsOnline
	e.status.IsOnline = online
	status := e.status
	e.mu.Unlock()
	e.pub.Publish(status)

	if online && !wasOnline {
		e.RequestSync()
	}
}

// RequestSync asks the run loop for one pass. Non-blocking; requests made
// while a pass is already queued coalesce.
func (e *Engine) RequestSync() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives auto-sync until ctx is cancelled: one pass per interval tick
// while a session exists, plus one pass per RequestSync.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.session.LoggedIn() {
				e.syncAndLog(ctx)
			}
		case <-e.kick:
			if e.session.LoggedIn() {
				e.syncAndLog(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) syncAndLog(ctx context.Context) {
	if err := e.SyncAll(ctx); err != nil && !errors.Is(err, common.ErrSyncSkipped) {
		e.log.Warn(ctx, "sync pass failed", "error", err)
	}
}

// SyncAll runs one full pass: upload then download, then metadata update.
// Offline or already-syncing returns ErrSyncSkipped, which is a signal, not
// a failure.
func (e *Engine) SyncAll(ctx context.Context) error {
	e.mu.Lock()
	if !e.status.IsOnline || e.status.IsSyncing {
		e.mu.Unlock()
		return common.ErrSyncSkipped
	}
	e.status.IsSyncing = true
	e.status.Progress = 0
	e.status.Err = nil
	e.mu.Unlock()
	e.publish()
	e.saveMetadata(ctx, true, "")

	err := e.runPass(ctx)

	now := e.now().UTC()
	e.mu.Lock()
	e.status.IsSyncing = false
	e.status.LastSyncAt = &now
	e.status.Err = err
	if err == nil {
		e.status.Progress = 100
	}
	e.mu.Unlock()
	e.refreshPendingCount(ctx)
	e.publish()

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	e.saveMetadataFull(ctx, now, err == nil, errText)

	if err != nil && isAuthError(err) {
		e.log.Warn(ctx, "credential rejected during sync, logging out")
		_ = e.session.Logout(ctx)
	}
	return err
}

func (e *Engine) runPass(ctx context.Context) error {
	if err := e.upload(ctx); err != nil {
		return err
	}
	return e.download(ctx)
}

// upload drains the queue in FIFO order. A failing entry has its retry
// counter bumped and the pass moves on; an entry that exhausts its budget is
// dropped, leaving its record pending until the next edit or a fresh sync
// materializes it again. Credential failures abort the whole pass.
func (e *Engine) upload(ctx context.Context) error {
	entries, err := e.queue.List(ctx)
	if err != nil {
		return err
	}

	for i, entry := range entries {
		svc, ok := e.byKind[entry.Kind]
		if !ok {
			e.log.Error(ctx, "queue entry for unknown kind, dropping", "kind", entry.Kind, "id", entry.ID)
			_, _ = e.queue.RemoveByID(ctx, entry.ID)
			continue
		}

		pushErr := svc.Push(ctx, entry)
		if pushErr == nil {
			if _, err := e.queue.RemoveByID(ctx, entry.ID); err != nil {
				return err
			}
			e.setProgress(ctx, (i+1)*50/len(entries))
			continue
		}
		if isAuthError(pushErr) {
			return pushErr
		}

		entry.RetryCount++
		entry.LastError = pushErr.Error()
		if entry.Exhausted() {
			e.log.Warn(ctx, "queue entry exhausted retries, dropping",
				"kind", entry.Kind, "op", entry.Op, "uuid", entry.UUID, "error", pushErr)
			if _, err := e.queue.RemoveByID(ctx, entry.ID); err != nil {
				return err
			}
			e.recordError(pushErr)
		} else {
			e.log.Warn(ctx, "queue entry failed, will retry",
				"kind", entry.Kind, "op", entry.Op, "retry", entry.RetryCount, "error", pushErr)
			if err := e.queue.Update(ctx, entry); err != nil {
				return err
			}
		}
		e.setProgress(ctx, (i+1)*50/len(entries))
	}
	return nil
}

// download fetches each remote collection in dependency order and merges it.
func (e *Engine) download(ctx context.Context) error {
	for i, svc := range e.order {
		if err := svc.Pull(ctx); err != nil {
			return err
		}
		e.setProgress(ctx, 50+(i+1)*50/len(e.order))
	}
	return nil
}

func (e *Engine) setProgress(ctx context.Context, p int) {
	e.mu.Lock()
	e.status.Progress = p
	e.mu.Unlock()
	e.refreshPendingCount(ctx)
	e.publish()
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.status.Err = err
	e.mu.Unlock()
}

func (e *Engine) refreshPendingCount(ctx context.Context) {
	n, err := e.queue.Len(ctx)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.status.PendingCount = n
	e.mu.Unlock()
}

func (e *Engine) publish() {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	e.pub.Publish(status)
}

func (e *Engine) saveMetadata(ctx context.Context, inProgress bool, lastError string) {
	md, err := e.meta.Load(ctx)
	if err != nil {
		e.log.Error(ctx, "failed to load sync metadata", "error", err)
		return
	}
	md.SyncInProgress = inProgress
	if lastError != "" {
		md.LastError = lastError
	}
	if n, err := e.queue.Len(ctx); err == nil {
		md.PendingCount = n
	}
	if err := e.meta.Save(ctx, md); err != nil {
		e.log.Error(ctx, "failed to save sync metadata", "error", err)
	}
}

func (e *Engine) saveMetadataFull(ctx context.Context, at time.Time, success bool, lastError string) {
	md, err := e.meta.Load(ctx)
	if err != nil {
		e.log.Error(ctx, "failed to load sync metadata", "error", err)
		return
	}
	md.SyncInProgress = false
	md.LastSyncAt = &at
	md.LastError = lastError
	if success {
		md.LastSuccessfulSyncAt = &at
	}
	if n, err := e.queue.Len(ctx); err == nil {
		md.PendingCount = n
	}
	if err := e.meta.Save(ctx, md); err != nil {
		e.log.Error(ctx, "failed to save sync metadata", "error", err)
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, common.ErrUnauthorized) || errors.Is(err, common.ErrSessionExpired)
}
