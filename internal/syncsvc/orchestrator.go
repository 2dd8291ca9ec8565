package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/transfer"
)

// ErrUnknownEntityType is returned for entity types outside EntityTypes().
var ErrUnknownEntityType = errors.New("syncsvc: unknown entity type")

// Transfers is the slice of the transfer engine the orchestrator needs to
// move file payloads. Implemented by *transfer.Engine.
type Transfers interface {
	Enqueue(ctx context.Context, req transfer.Request) (transfer.Job, error)
	Subscribe(id string) (<-chan transfer.Progress, func(), error)
	Job(ctx context.Context, id string) (transfer.Job, error)
}

// run tracks one in-flight sync for an entity type so concurrent callers
// can attach to its result instead of double-running.
type run struct {
	done    chan struct{}
	outcome Outcome
}

// Orchestrator coordinates per-entity-type sync runs. Each type syncs
// independently; at most one run per type is in flight at a time.
type Orchestrator struct {
	store     Store
	transfers Transfers
	hub       *events.Hub
	logger    *slog.Logger

	mu       sync.Mutex
	statuses map[EntityType]*SyncStatus
	inflight map[EntityType]*run
}

// NewOrchestrator wires the orchestrator to its collaborators. transfers
// may be nil when no file-bearing entities will be synced.
func NewOrchestrator(store Store, transfers Transfers, hub *events.Hub, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		transfers: transfers,
		hub:       hub,
		logger:    logger,
		statuses:  make(map[EntityType]*SyncStatus),
		inflight:  make(map[EntityType]*run),
	}
}

// SyncAll fans out one independent sync per entity type in collections and
// returns the per-type outcome map. A failure in one type never aborts or
// blocks the others.
func (o *Orchestrator) SyncAll(ctx context.Context, userID string, collections Collections) map[EntityType]Outcome {
	o.logger.Info("sync all started",
		slog.String("user", userID),
		slog.Int("entity_types", len(collections)),
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[EntityType]Outcome, len(collections))
	)

	for entityType, items := range collections {
		wg.Add(1)

		go func(t EntityType, items []Item) {
			defer wg.Done()

			outcome := o.SyncOne(ctx, t, items)

			mu.Lock()
			results[t] = outcome
			mu.Unlock()
		}(entityType, items)
	}

	wg.Wait()

	failed := 0

	for _, outcome := range results {
		if outcome.Err != nil {
			failed++
		}
	}

	o.logger.Info("sync all finished",
		slog.String("user", userID),
		slog.Int("entity_types", len(results)),
		slog.Int("failed", failed),
	)

	return results
}

// SyncOne syncs a single entity type's items. If a run for the type is
// already in flight, the caller attaches to that run's result rather than
// starting a second one.
func (o *Orchestrator) SyncOne(ctx context.Context, entityType EntityType, items []Item) Outcome {
	if !entityType.Valid() {
		return Outcome{
			Type:    entityType,
			Err:     ErrUnknownEntityType,
			ErrText: ErrUnknownEntityType.Error(),
		}
	}

	o.mu.Lock()

	if existing, ok := o.inflight[entityType]; ok {
		o.mu.Unlock()

		select {
		case <-existing.done:
			return existing.outcome
		case <-ctx.Done():
			return Outcome{
				Type:    entityType,
				Err:     ctx.Err(),
				ErrText: ctx.Err().Error(),
			}
		}
	}

	r := &run{done: make(chan struct{})}
	o.inflight[entityType] = r
	o.setStatusLocked(entityType, SyncRunning, "")
	o.mu.Unlock()

	outcome := o.executeRun(ctx, entityType, items)

	o.mu.Lock()
	r.outcome = outcome
	delete(o.inflight, entityType)

	if outcome.Err != nil {
		o.setStatusLocked(entityType, SyncError, outcome.Err.Error())
	} else {
		o.setStatusLocked(entityType, SyncSuccess, "")
	}

	o.mu.Unlock()

	close(r.done)

	return outcome
}

// executeRun syncs one type's items with panic isolation so a faulty
// payload cannot take down sibling runs.
func (o *Orchestrator) executeRun(ctx context.Context, entityType EntityType, items []Item) (outcome Outcome) {
	outcome.Type = entityType

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("syncsvc: %s sync panicked: %v", entityType, r)
			outcome.ErrText = outcome.Err.Error()

			o.logger.Error("sync run panicked",
				slog.String("entity_type", string(entityType)),
				slog.Any("panic", r),
			)
		}
	}()

	o.logger.Debug("sync run started",
		slog.String("entity_type", string(entityType)),
		slog.Int("items", len(items)),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			outcome.Err = err
			outcome.ErrText = err.Error()

			return outcome
		}

		synced, err := o.syncItem(ctx, entityType, item)
		if err != nil {
			outcome.Err = fmt.Errorf("syncsvc: %s item %s: %w", entityType, item.ID, err)
			outcome.ErrText = outcome.Err.Error()

			return outcome
		}

		if synced {
			outcome.Synced++
		} else {
			outcome.Skipped++
		}
	}

	o.logger.Debug("sync run finished",
		slog.String("entity_type", string(entityType)),
		slog.Int("synced", outcome.Synced),
		slog.Int("skipped", outcome.Skipped),
	)

	return outcome
}

// syncItem reconciles one record. Unchanged records are a no-op, so
// re-running a sync with the same input is idempotent per record.
func (o *Orchestrator) syncItem(ctx context.Context, entityType EntityType, item Item) (bool, error) {
	stored, exists, err := o.store.Get(ctx, entityType, item.ID)
	if err != nil {
		return false, fmt.Errorf("loading stored copy: %w", err)
	}

	if exists && !item.changedSince(stored) {
		return false, nil
	}

	if entityType == EntityFiles && item.LocalPath != "" {
		if err := o.transferFile(ctx, item); err != nil {
			return false, err
		}
	}

	if err := o.store.Put(ctx, entityType, item); err != nil {
		return false, fmt.Errorf("storing record: %w", err)
	}

	return true, nil
}

// transferFile moves a file item's payload through the transfer engine,
// blocking until the job terminates. Metadata is only written after the
// job completes, so a failed blob never leaves stale metadata behind.
func (o *Orchestrator) transferFile(ctx context.Context, item Item) error {
	if o.transfers == nil {
		return errors.New("no transfer engine configured for file sync")
	}

	job, err := o.transfers.Enqueue(ctx, transfer.Request{
		DriveID:    item.DriveID,
		Direction:  transfer.DirectionUpload,
		SourcePath: item.LocalPath,
		DestPath:   item.RemotePath,
		Checksum:   item.Checksum,
	})
	if err != nil {
		return fmt.Errorf("enqueueing transfer: %w", err)
	}

	progress, cancel, err := o.transfers.Subscribe(job.ID)
	if err != nil {
		return fmt.Errorf("subscribing to transfer %s: %w", job.ID, err)
	}

	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-progress:
			if ok && !p.State.Terminal() {
				continue
			}

			// Stream ended or reached a terminal update; the stored job
			// record is authoritative for the final state.
			final, jobErr := o.transfers.Job(ctx, job.ID)
			if jobErr != nil {
				return fmt.Errorf("checking transfer %s: %w", job.ID, jobErr)
			}

			if final.State != transfer.StateCompleted {
				return fmt.Errorf("transfer %s ended %s: %s", job.ID, final.State, final.LastError)
			}

			return nil
		}
	}
}

// Status returns the status record for one entity type, reporting whether
// the type has ever synced.
func (o *Orchestrator) Status(entityType EntityType) (SyncStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.statuses[entityType]
	if !ok {
		return SyncStatus{}, false
	}

	return *s, true
}

// Statuses returns all status records in EntityTypes() order.
func (o *Orchestrator) Statuses() []SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SyncStatus, 0, len(o.statuses))

	for _, t := range EntityTypes() {
		if s, ok := o.statuses[t]; ok {
			out = append(out, *s)
		}
	}

	return out
}

// setStatusLocked updates one type's status record and publishes the sync
// event. Caller holds o.mu.
func (o *Orchestrator) setStatusLocked(entityType EntityType, state SyncState, lastError string) {
	s, ok := o.statuses[entityType]
	if !ok {
		s = &SyncStatus{Type: entityType}
		o.statuses[entityType] = s
	}

	s.State = state
	s.LastSyncTime = time.Now()
	s.LastError = lastError

	o.hub.Publish(events.TopicSync, string(state), *s)
}
