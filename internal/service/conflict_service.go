package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orgo-sync-server/internal/audit"
	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"

	"github.com/google/uuid"
)

type ConflictService struct {
	conflictRepo repository.ConflictRepository
	sink         audit.Sink
}

func NewConflictService(conflictRepo repository.ConflictRepository, sink audit.Sink) *ConflictService {
	return &ConflictService{
		conflictRepo: conflictRepo,
		sink:         sink,
	}
}

// Record quarantines a change that lost conflict detection. Both sides
// are captured whole: the server row as it stands and the client change
// as it arrived, so a reviewer sees exactly what diverged.
func (s *ConflictService) Record(ctx context.Context, session *domain.SyncSession, change *domain.OfflineChange, task *domain.Task) (*domain.SyncConflict, error) {
	serverState, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to capture server state: %w", err)
	}
	clientState, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to capture client state: %w", err)
	}

	conflict := &domain.SyncConflict{
		ID:          uuid.New().String(),
		TenantID:    session.TenantID,
		SessionID:   session.ID,
		NodeID:      session.NodeID,
		EntityType:  domain.EntityTypeTask,
		EntityID:    task.ID,
		ServerState: serverState,
		ClientState: clientState,
		Strategy:    domain.ResolutionManualReview,
		DetectedAt:  time.Now().UTC(),
	}

	if err := s.conflictRepo.Create(ctx, conflict); err != nil {
		return nil, fmt.Errorf("failed to record conflict: %w", err)
	}

	s.sink.ConflictDetected(conflict)

	return conflict, nil
}

func (s *ConflictService) Get(ctx context.Context, tenantID, conflictID string) (*domain.SyncConflict, error) {
	conflict, err := s.conflictRepo.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return conflict, nil
}

func (s *ConflictService) ListByTenant(ctx context.Context, tenantID string, onlyUnresolved bool) ([]*domain.ConflictResponse, error) {
	conflicts, err := s.conflictRepo.ListByTenant(ctx, tenantID, onlyUnresolved)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.ConflictResponse, len(conflicts))
	for i, conflict := range conflicts {
		responses[i] = conflict.ToResponse()
	}

	return responses, nil
}

func (s *ConflictService) ListBySession(ctx context.Context, tenantID, sessionID string) ([]*domain.ConflictResponse, error) {
	conflicts, err := s.conflictRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.ConflictResponse, 0, len(conflicts))
	for _, conflict := range conflicts {
		if conflict.TenantID != tenantID {
			continue
		}
		responses = append(responses, conflict.ToResponse())
	}

	return responses, nil
}

// Resolve records how a human settled the conflict. It only flips the
// flag and stores the chosen strategy; applying the winning side to the
// ledger stays a separate, deliberate write through the task API.
func (s *ConflictService) Resolve(ctx context.Context, tenantID, conflictID string, strategy domain.ResolutionStrategy, resolvedBy string) (*domain.SyncConflict, error) {
	conflict, err := s.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Resolved {
		return nil, ErrConflictResolved
	}

	now := time.Now().UTC()
	conflict.Strategy = strategy
	conflict.Resolved = true
	conflict.ResolvedAt = &now
	conflict.ResolvedBy = resolvedBy

	if err := s.conflictRepo.MarkResolved(ctx, conflict); err != nil {
		return nil, fmt.Errorf("failed to resolve conflict: %w", err)
	}

	return conflict, nil
}
