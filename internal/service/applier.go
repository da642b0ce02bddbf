package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"

	"github.com/google/uuid"
)

// casRetries bounds the optimistic-concurrency loop on task writes.
const casRetries = 5

type ApplierOptions struct {
	// RequireVersion quarantines update and delete changes that carry
	// no claimed version instead of applying them last-write-wins.
	RequireVersion bool
}

// ChangeApplier applies one uploaded change to the task ledger and
// classifies the result. It never resolves conflicts: a conflicting
// change is recorded and quarantined, the row stays untouched.
type ChangeApplier struct {
	taskRepo  repository.TaskRepository
	conflicts *ConflictService
	opts      ApplierOptions
}

func NewChangeApplier(taskRepo repository.TaskRepository, conflicts *ConflictService, opts ApplierOptions) *ChangeApplier {
	return &ChangeApplier{
		taskRepo:  taskRepo,
		conflicts: conflicts,
		opts:      opts,
	}
}

// Apply runs one change against the ledger. The returned id is the
// canonical entity id the change landed on; inserts mint one when the
// payload carries none. A *PayloadError aborts the whole session
// instead of producing a per-change outcome.
func (a *ChangeApplier) Apply(ctx context.Context, session *domain.SyncSession, change *domain.OfflineChange) (domain.ChangeOutcome, string, error) {
	switch change.Op {
	case domain.OpInsert:
		return a.applyInsert(ctx, session, change)
	case domain.OpUpdate:
		return a.applyUpdate(ctx, session, change)
	case domain.OpDelete:
		return a.applyDelete(ctx, session, change)
	default:
		return "", "", fmt.Errorf("unknown change operation %q", change.Op)
	}
}

func (a *ChangeApplier) applyInsert(ctx context.Context, session *domain.SyncSession, change *domain.OfflineChange) (domain.ChangeOutcome, string, error) {
	task, err := domain.TaskFromPayload(session.TenantID, change.Data, time.Now().UTC())
	if err != nil {
		return "", "", &PayloadError{Op: change.Op, Err: err}
	}
	if change.EntityID != "" {
		task.ID = change.EntityID
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.OriginNodeID = session.NodeID

	err = a.taskRepo.Create(ctx, task)
	if errors.Is(err, repository.ErrConflict) {
		// The id already exists, so this is a replayed batch. Converge
		// through the update path instead of failing the session.
		return a.applyUpdate(ctx, session, change)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to create task: %w", err)
	}

	return domain.OutcomeCreated, task.ID, nil
}

func (a *ChangeApplier) applyUpdate(ctx context.Context, session *domain.SyncSession, change *domain.OfflineChange) (domain.ChangeOutcome, string, error) {
	id := entityID(change)
	if id == "" {
		log.Printf("Skipping update with no entity id in session %s", session.ID)
		return domain.OutcomeSkipped, "", nil
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		task, rev, err := a.taskRepo.Find(ctx, session.TenantID, id)
		if errors.Is(err, repository.ErrNotFound) {
			outcome, rerr := a.recreate(ctx, session, change, id)
			if errors.Is(rerr, repository.ErrConflict) {
				continue
			}
			if rerr != nil {
				return "", "", rerr
			}
			return outcome, id, nil
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to load task %s: %w", id, err)
		}

		if a.conflicting(change, task) {
			if _, err := a.conflicts.Record(ctx, session, change, task); err != nil {
				return "", "", err
			}
			return domain.OutcomeConflicted, id, nil
		}

		if err := task.ApplyPayload(change.Data, time.Now().UTC()); err != nil {
			return "", "", &PayloadError{Op: change.Op, Err: err}
		}

		err = a.taskRepo.Update(ctx, task, rev)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to update task %s: %w", id, err)
		}

		return domain.OutcomeUpdated, id, nil
	}

	return "", "", fmt.Errorf("failed to update task %s: too many revision conflicts", id)
}

func (a *ChangeApplier) applyDelete(ctx context.Context, session *domain.SyncSession, change *domain.OfflineChange) (domain.ChangeOutcome, string, error) {
	id := entityID(change)
	if id == "" {
		log.Printf("Skipping delete with no entity id in session %s", session.ID)
		return domain.OutcomeSkipped, "", nil
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		task, rev, err := a.taskRepo.Find(ctx, session.TenantID, id)
		if errors.Is(err, repository.ErrNotFound) {
			// Already gone, nothing to cancel.
			return domain.OutcomeSkipped, id, nil
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to load task %s: %w", id, err)
		}

		if a.conflicting(change, task) {
			if _, err := a.conflicts.Record(ctx, session, change, task); err != nil {
				return "", "", err
			}
			return domain.OutcomeConflicted, id, nil
		}

		task.Cancel(time.Now().UTC())

		err = a.taskRepo.Update(ctx, task, rev)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to cancel task %s: %w", id, err)
		}

		return domain.OutcomeDeleted, id, nil
	}

	return "", "", fmt.Errorf("failed to cancel task %s: too many revision conflicts", id)
}

// recreate rebuilds a row the server does not have for an update
// change: the client saw the entity once, so its upload may carry a
// fuller view than the server. A payload that cannot stand alone as a
// new entity is skipped instead.
func (a *ChangeApplier) recreate(ctx context.Context, session *domain.SyncSession, change *domain.OfflineChange, id string) (domain.ChangeOutcome, error) {
	task, err := domain.TaskFromPayload(session.TenantID, change.Data, time.Now().UTC())
	if errors.Is(err, domain.ErrPayloadIncomplete) {
		log.Printf("Skipping %s for unknown task %s: %v", change.Op, id, err)
		return domain.OutcomeSkipped, nil
	}
	if err != nil {
		return "", &PayloadError{Op: change.Op, Err: err}
	}

	task.ID = id
	task.OriginNodeID = session.NodeID

	if err := a.taskRepo.Create(ctx, task); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return "", err
		}
		return "", fmt.Errorf("failed to recreate task %s: %w", id, err)
	}

	return domain.OutcomeCreated, nil
}

// conflicting decides whether the change may touch the row. No claimed
// version means the client opted into last-write-wins. With a claimed
// version, anything but exact equality with the server timestamp is a
// conflict, in either direction.
func (a *ChangeApplier) conflicting(change *domain.OfflineChange, task *domain.Task) bool {
	if change.ClaimedVersion == nil {
		return a.opts.RequireVersion
	}
	return !change.ClaimedVersion.UpdatedAt.Equal(task.UpdatedAt)
}

func entityID(change *domain.OfflineChange) string {
	if change.EntityID != "" {
		return change.EntityID
	}
	return domain.EntityIDFromPayload(change.Data)
}
