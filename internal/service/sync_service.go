package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/nodelock"

	"golang.org/x/sync/errgroup"
)

const defaultUploadWorkers = 4

// SyncService drives one sync invocation end to end: resolve the node,
// take its lease, open a session, apply uploaded changes, build the
// download snapshot, and finish the session in exactly one terminal
// state.
type SyncService struct {
	nodes     *NodeService
	sessions  *SessionService
	applier   *ChangeApplier
	snapshots *SnapshotService
	locks     *nodelock.Manager
	workers   int
}

func NewSyncService(
	nodes *NodeService,
	sessions *SessionService,
	applier *ChangeApplier,
	snapshots *SnapshotService,
	locks *nodelock.Manager,
	workers int,
) *SyncService {
	if workers <= 0 {
		workers = defaultUploadWorkers
	}
	return &SyncService{
		nodes:     nodes,
		sessions:  sessions,
		applier:   applier,
		snapshots: snapshots,
		locks:     locks,
		workers:   workers,
	}
}

func (s *SyncService) Sync(ctx context.Context, tenantID string, req *domain.SyncRequest) (*domain.SyncResult, error) {
	if err := validateSyncRequest(tenantID, req); err != nil {
		return nil, err
	}

	node, err := s.nodes.Resolve(ctx, tenantID, req.NodeIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node: %w", err)
	}
	if node.Status == domain.NodeStatusRetired {
		return nil, ErrNodeRetired
	}

	lease, err := s.locks.Acquire(node.ID)
	if errors.Is(err, nodelock.ErrHeld) {
		return nil, ErrSyncInProgress
	}
	if err != nil {
		return nil, err
	}
	defer s.locks.Release(lease)

	session, err := s.sessions.Start(ctx, node, req.Direction)
	if err != nil {
		return nil, err
	}

	result, err := s.run(ctx, session, node, lease, req)
	if err != nil {
		cause := err
		if ctx.Err() != nil {
			cause = fmt.Errorf("sync cancelled: %w", err)
		}
		// The terminal write must land even when the caller is gone,
		// otherwise the session stays running until the reaper.
		ferr := s.sessions.Fail(context.WithoutCancel(ctx), session, cause)
		if ferr != nil && !errors.Is(ferr, ErrSessionFinished) {
			log.Printf("Failed to mark session %s failed: %v", session.ID, ferr)
		}
		return nil, cause
	}

	if err := s.sessions.Complete(context.WithoutCancel(ctx), session); err != nil {
		return nil, err
	}

	// The stored checkpoint moves to the snapshot's upper bound, not to
	// the touch time: rows committed in between belong to the next
	// window. With pages still undelivered the checkpoint stays put, so
	// a client that crashes mid-pagination re-requests the same window.
	if result.Snapshot == nil || !result.Snapshot.HasMore {
		at := time.Now().UTC()
		if result.Snapshot != nil {
			at = result.Snapshot.Checkpoint
		}
		if err := s.nodes.Touch(context.WithoutCancel(ctx), node, at); err != nil {
			return nil, fmt.Errorf("failed to update node last-sync: %w", err)
		}
	}

	return result, nil
}

// Upload is the pure-ingestion entry point: the same state machine with
// the direction pinned.
func (s *SyncService) Upload(ctx context.Context, tenantID string, req *domain.SyncRequest) (*domain.SyncResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: missing request body", ErrValidation)
	}

	pinned := *req
	pinned.Direction = domain.DirectionUpload
	return s.Sync(ctx, tenantID, &pinned)
}

func (s *SyncService) run(ctx context.Context, session *domain.SyncSession, node *domain.OfflineNode, lease *nodelock.Lease, req *domain.SyncRequest) (*domain.SyncResult, error) {
	result := &domain.SyncResult{
		SessionID: session.ID,
		NodeID:    node.ID,
		Direction: req.Direction,
	}

	if req.Direction.IncludesUpload() && len(req.Changes) > 0 {
		outcomes, err := s.applyChanges(ctx, session, lease, req.Changes)
		if err != nil {
			return nil, err
		}
		result.Outcomes = outcomes
	}

	if req.Direction.IncludesDownload() {
		snapshot, err := s.snapshots.Build(ctx, node, req.ClientCheckpoint, req.PageCursor, req.PageLimit)
		if err != nil {
			return nil, err
		}
		session.Summary.Downloaded = len(snapshot.Tasks)
		result.Snapshot = snapshot
	}

	result.Summary = session.Summary
	return result, nil
}

type indexedChange struct {
	index  int
	change *domain.OfflineChange
}

// applyChanges runs the batch with bounded parallelism. Changes against
// the same entity id stay in payload order inside one group; everything
// else is independent. The first failing change stops the batch, but
// changes already applied stay applied.
func (s *SyncService) applyChanges(ctx context.Context, session *domain.SyncSession, lease *nodelock.Lease, changes []*domain.OfflineChange) ([]domain.ChangeResult, error) {
	groups := groupByEntity(changes)

	results := make([]domain.ChangeResult, len(changes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, ic := range group {
				if err := gctx.Err(); err != nil {
					return err
				}

				outcome, entityID, err := s.applier.Apply(gctx, session, ic.change)
				if err != nil {
					return fmt.Errorf("change %d: %w", ic.index, err)
				}

				mu.Lock()
				session.Summary.Record(outcome)
				results[ic.index] = domain.ChangeResult{
					Index:    ic.index,
					EntityID: entityID,
					Outcome:  outcome,
				}
				mu.Unlock()

				s.locks.Touch(lease)
			}

			s.sessions.Heartbeat(gctx, session)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// groupByEntity splits the batch into ordered groups keyed by entity
// id. Changes with no resolvable id run alone, so a malformed change
// cannot serialize unrelated work.
func groupByEntity(changes []*domain.OfflineChange) [][]indexedChange {
	groups := make([][]indexedChange, 0, len(changes))
	byEntity := make(map[string]int)

	for i, change := range changes {
		ic := indexedChange{index: i, change: change}

		id := entityID(change)
		if id == "" {
			groups = append(groups, []indexedChange{ic})
			continue
		}

		if gi, ok := byEntity[id]; ok {
			groups[gi] = append(groups[gi], ic)
			continue
		}
		byEntity[id] = len(groups)
		groups = append(groups, []indexedChange{ic})
	}

	return groups
}

func validateSyncRequest(tenantID string, req *domain.SyncRequest) error {
	if tenantID == "" {
		return fmt.Errorf("%w: missing tenant id", ErrValidation)
	}
	if req == nil {
		return fmt.Errorf("%w: missing request body", ErrValidation)
	}
	if req.NodeIdentifier == "" {
		return fmt.Errorf("%w: missing node identifier", ErrValidation)
	}
	if !req.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrValidation, req.Direction)
	}
	for i, change := range req.Changes {
		if change == nil {
			return fmt.Errorf("%w: change %d is empty", ErrValidation, i)
		}
		if !change.Op.Valid() {
			return fmt.Errorf("%w: change %d has unknown operation %q", ErrValidation, i, change.Op)
		}
	}
	if req.PageCursor != "" {
		if _, _, err := decodeCursor(req.PageCursor); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	return nil
}
