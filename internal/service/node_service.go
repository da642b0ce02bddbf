package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"
	"orgo-sync-server/pkg/hash"

	"github.com/google/uuid"
)

type NodeService struct {
	nodeRepo       repository.NodeRepository
	enrollmentHash string
}

// NewNodeService tracks the identity and sync history of offline nodes.
// enrollmentHash is the bcrypt hash of the shared enrollment secret;
// empty means open enrollment.
func NewNodeService(nodeRepo repository.NodeRepository, enrollmentHash string) *NodeService {
	return &NodeService{
		nodeRepo:       nodeRepo,
		enrollmentHash: enrollmentHash,
	}
}

// Resolve finds or lazily creates the node for a (tenant, identifier)
// pair. Safe under concurrent first contact: the loser of the create
// race reads back the winner's row. A dormant node reactivates here.
func (s *NodeService) Resolve(ctx context.Context, tenantID, identifier string) (*domain.OfflineNode, error) {
	node, err := s.nodeRepo.FindByIdentifier(ctx, tenantID, identifier)
	if err == nil {
		if node.Status == domain.NodeStatusInactive {
			node.Status = domain.NodeStatusActive
			node.UpdatedAt = time.Now().UTC()
			if err := s.nodeRepo.UpdateStatus(ctx, node); err != nil {
				return nil, fmt.Errorf("failed to reactivate node: %w", err)
			}
		}
		return node, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	node = &domain.OfflineNode{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Identifier: identifier,
		Status:     domain.NodeStatusActive,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.nodeRepo.Create(ctx, node)
	if errors.Is(err, repository.ErrConflict) {
		return s.nodeRepo.FindByIdentifier(ctx, tenantID, identifier)
	}
	if err != nil {
		return nil, err
	}

	return node, nil
}

// Register resolves the node and refreshes its metadata. When the
// server carries an enrollment secret, callers must present it.
func (s *NodeService) Register(ctx context.Context, tenantID string, req *domain.RegisterNodeRequest) (*domain.OfflineNode, error) {
	if s.enrollmentHash != "" {
		if err := hash.Compare(s.enrollmentHash, req.EnrollmentSecret); err != nil {
			return nil, ErrEnrollmentDenied
		}
	}

	node, err := s.Resolve(ctx, tenantID, req.Identifier)
	if err != nil {
		return nil, err
	}

	if req.Label != "" {
		node.Label = req.Label
	}
	if req.Platform != "" {
		node.Platform = req.Platform
	}
	if req.AppVersion != "" {
		node.AppVersion = req.AppVersion
	}
	node.LastSeenAt = time.Now().UTC()
	node.UpdatedAt = node.LastSeenAt

	if err := s.nodeRepo.UpdateMetadata(ctx, node); err != nil {
		return nil, err
	}

	return node, nil
}

// Touch records a successful sync. Called only after a session
// completed; a failed session leaves the checkpoint where it was so a
// retry re-requests the same download window.
func (s *NodeService) Touch(ctx context.Context, node *domain.OfflineNode, at time.Time) error {
	node.LastSyncAt = &at
	node.LastSeenAt = at
	node.UpdatedAt = at
	return s.nodeRepo.UpdateLastSync(ctx, node)
}

func (s *NodeService) List(ctx context.Context, tenantID string) ([]*domain.NodeResponse, error) {
	nodes, err := s.nodeRepo.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.NodeResponse, len(nodes))
	for i, node := range nodes {
		responses[i] = node.ToResponse()
	}

	return responses, nil
}

func (s *NodeService) Get(ctx context.Context, tenantID, nodeID string) (*domain.OfflineNode, error) {
	return s.nodeRepo.FindByID(ctx, tenantID, nodeID)
}

// SetStatus is the operator-side lifecycle control. Nodes are never
// deleted, only retired.
func (s *NodeService) SetStatus(ctx context.Context, tenantID, nodeID string, status domain.NodeStatus) (*domain.OfflineNode, error) {
	node, err := s.nodeRepo.FindByID(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}

	node.Status = status
	node.UpdatedAt = time.Now().UTC()

	if err := s.nodeRepo.UpdateStatus(ctx, node); err != nil {
		return nil, err
	}

	return node, nil
}

func (s *NodeService) Retire(ctx context.Context, tenantID, nodeID string) (*domain.OfflineNode, error) {
	return s.SetStatus(ctx, tenantID, nodeID, domain.NodeStatusRetired)
}
