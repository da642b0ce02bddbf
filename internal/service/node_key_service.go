package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"

	"github.com/google/uuid"
)

// NodeKeyService issues and validates the access keys offline nodes
// authenticate with. Only the SHA-256 hash of a key is stored; the
// plain key is shown exactly once at issue time.
type NodeKeyService struct {
	keyRepo  repository.NodeKeyRepository
	nodeRepo repository.NodeRepository
}

func NewNodeKeyService(keyRepo repository.NodeKeyRepository, nodeRepo repository.NodeRepository) *NodeKeyService {
	return &NodeKeyService{
		keyRepo:  keyRepo,
		nodeRepo: nodeRepo,
	}
}

// generateAccessKey produces a key of the form nsk_<64 hex chars>.
func generateAccessKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate access key: %w", err)
	}
	return "nsk_" + hex.EncodeToString(bytes), nil
}

func hashAccessKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Issue creates a new access key for a node. The response carries the
// plain key; it cannot be recovered afterwards.
func (s *NodeKeyService) Issue(ctx context.Context, tenantID, nodeID string, req *domain.CreateNodeKeyRequest) (*domain.CreateNodeKeyResponse, error) {
	node, err := s.nodeRepo.FindByID(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status == domain.NodeStatusRetired {
		return nil, ErrNodeRetired
	}

	plainKey, err := generateAccessKey()
	if err != nil {
		return nil, err
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = domain.DefaultNodeKeyScopes()
	}

	key := &domain.NodeKey{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		NodeID:    node.ID,
		Name:      req.Name,
		Key:       hashAccessKey(plainKey),
		KeyPrefix: plainKey[:12],
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store node key: %w", err)
	}

	return &domain.CreateNodeKeyResponse{
		ID:        key.ID,
		NodeID:    key.NodeID,
		Name:      key.Name,
		Key:       plainKey,
		KeyPrefix: key.KeyPrefix,
		Scopes:    key.Scopes,
		CreatedAt: key.CreatedAt,
		Message:   "Store this key securely. It will not be shown again.",
	}, nil
}

// Validate resolves a plain key to its node. Revoked keys and retired
// nodes both fail closed with ErrNotFound so a caller cannot probe
// which of the two happened.
func (s *NodeKeyService) Validate(ctx context.Context, plainKey string) (*domain.OfflineNode, *domain.NodeKey, error) {
	key, err := s.keyRepo.FindByKey(ctx, hashAccessKey(plainKey))
	if err != nil {
		return nil, nil, err
	}
	if key.IsRevoked {
		return nil, nil, repository.ErrNotFound
	}

	node, err := s.nodeRepo.FindByID(ctx, key.TenantID, key.NodeID)
	if err != nil {
		return nil, nil, err
	}
	if node.Status == domain.NodeStatusRetired {
		return nil, nil, repository.ErrNotFound
	}

	return node, key, nil
}

// ValidateWithScope additionally requires the key to carry the scope.
func (s *NodeKeyService) ValidateWithScope(ctx context.Context, plainKey, requiredScope string) (*domain.OfflineNode, *domain.NodeKey, error) {
	node, key, err := s.Validate(ctx, plainKey)
	if err != nil {
		return nil, nil, err
	}

	hasScope := false
	for _, scope := range key.Scopes {
		if scope == requiredScope {
			hasScope = true
			break
		}
	}

	if !hasScope {
		return nil, nil, fmt.Errorf("key does not have required scope: %s", requiredScope)
	}

	return node, key, nil
}

// MarkUsed records key usage for audit listings. Best effort.
func (s *NodeKeyService) MarkUsed(ctx context.Context, key *domain.NodeKey) {
	if err := s.keyRepo.UpdateLastUsed(ctx, key.ID); err != nil {
		log.Printf("Failed to update node key last-used: %v", err)
	}
}

func (s *NodeKeyService) Get(ctx context.Context, tenantID, keyID string) (*domain.NodeKeyPublic, error) {
	key, err := s.keyRepo.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return key.ToPublic(), nil
}

func (s *NodeKeyService) List(ctx context.Context, tenantID string) ([]*domain.NodeKeyPublic, error) {
	keys, err := s.keyRepo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return publicKeys(keys), nil
}

func (s *NodeKeyService) ListByNode(ctx context.Context, tenantID, nodeID string) ([]*domain.NodeKeyPublic, error) {
	keys, err := s.keyRepo.ListByNode(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}
	return publicKeys(keys), nil
}

func publicKeys(keys []*domain.NodeKey) []*domain.NodeKeyPublic {
	public := make([]*domain.NodeKeyPublic, len(keys))
	for i, key := range keys {
		public[i] = key.ToPublic()
	}
	return public
}

func (s *NodeKeyService) Revoke(ctx context.Context, tenantID, keyID string) error {
	key, err := s.keyRepo.FindByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key.TenantID != tenantID {
		return repository.ErrNotFound
	}
	return s.keyRepo.Revoke(ctx, keyID)
}

// RevokeForNode revokes every live key of a node. Used when a node is
// retired so its credentials die with it.
func (s *NodeKeyService) RevokeForNode(ctx context.Context, tenantID, nodeID string) (int, error) {
	keys, err := s.keyRepo.ListByNode(ctx, tenantID, nodeID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, key := range keys {
		if key.IsRevoked {
			continue
		}
		if err := s.keyRepo.Revoke(ctx, key.ID); err != nil {
			return revoked, fmt.Errorf("failed to revoke key %s: %w", key.ID, err)
		}
		revoked++
	}

	return revoked, nil
}
