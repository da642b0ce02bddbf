package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"orgo-sync-server/internal/domain"
)

type NodeKeyRepository interface {
	Create(ctx context.Context, key *domain.NodeKey) error
	FindByID(ctx context.Context, id string) (*domain.NodeKey, error)
	FindByKey(ctx context.Context, hashedKey string) (*domain.NodeKey, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.NodeKey, error)
	ListByNode(ctx context.Context, tenantID, nodeID string) ([]*domain.NodeKey, error)
	UpdateLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
}

type nodeKeyRepo struct {
	baseURL string
	client  *http.Client
}

func NewNodeKeyRepository(baseURL string) NodeKeyRepository {
	return &nodeKeyRepo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func nodeKeyDoc(key *domain.NodeKey) map[string]interface{} {
	return map[string]interface{}{
		"_id":          fmt.Sprintf("nodekey:%s", key.ID),
		"id":           key.ID,
		"tenant_id":    key.TenantID,
		"node_id":      key.NodeID,
		"name":         key.Name,
		"key":          key.Key,
		"key_prefix":   key.KeyPrefix,
		"scopes":       key.Scopes,
		"last_used_at": key.LastUsedAt,
		"created_at":   key.CreatedAt,
		"revoked_at":   key.RevokedAt,
		"is_revoked":   key.IsRevoked,
	}
}

func (r *nodeKeyRepo) Create(ctx context.Context, key *domain.NodeKey) error {
	data, err := json.Marshal(nodeKeyDoc(key))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to create node key: status %d", resp.StatusCode)
	}

	return nil
}

func (r *nodeKeyRepo) FindByID(ctx context.Context, id string) (*domain.NodeKey, error) {
	url := fmt.Sprintf("%s/nodekey:%s", r.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	var key domain.NodeKey
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		return nil, err
	}

	return &key, nil
}

func (r *nodeKeyRepo) FindByKey(ctx context.Context, hashedKey string) (*domain.NodeKey, error) {
	keys, err := r.find(ctx, map[string]interface{}{
		"key":        hashedKey,
		"is_revoked": false,
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNotFound
	}

	return keys[0], nil
}

func (r *nodeKeyRepo) ListByTenant(ctx context.Context, tenantID string) ([]*domain.NodeKey, error) {
	return r.find(ctx, map[string]interface{}{
		"tenant_id":  tenantID,
		"key_prefix": map[string]interface{}{"$exists": true},
	})
}

func (r *nodeKeyRepo) ListByNode(ctx context.Context, tenantID, nodeID string) ([]*domain.NodeKey, error) {
	return r.find(ctx, map[string]interface{}{
		"tenant_id":  tenantID,
		"node_id":    nodeID,
		"key_prefix": map[string]interface{}{"$exists": true},
	})
}

func (r *nodeKeyRepo) find(ctx context.Context, selector map[string]interface{}) ([]*domain.NodeKey, error) {
	body, err := json.Marshal(map[string]interface{}{"selector": selector})
	if err != nil {
		return nil, err
	}

	findURL := fmt.Sprintf("%s/_find", r.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, findURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list node keys: status %d", resp.StatusCode)
	}

	var result struct {
		Docs []domain.NodeKey `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	keys := make([]*domain.NodeKey, len(result.Docs))
	for i := range result.Docs {
		keys[i] = &result.Docs[i]
	}

	return keys, nil
}

func (r *nodeKeyRepo) UpdateLastUsed(ctx context.Context, id string) error {
	return r.patch(ctx, id, func(doc map[string]interface{}) {
		doc["last_used_at"] = time.Now()
	})
}

func (r *nodeKeyRepo) Revoke(ctx context.Context, id string) error {
	return r.patch(ctx, id, func(doc map[string]interface{}) {
		doc["is_revoked"] = true
		doc["revoked_at"] = time.Now()
	})
}

// patch reads the stored document, applies the mutation, and writes it
// back with the fetched _rev so a lost race surfaces as ErrConflict.
func (r *nodeKeyRepo) patch(ctx context.Context, id string, apply func(doc map[string]interface{})) error {
	url := fmt.Sprintf("%s/nodekey:%s", r.baseURL, id)

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	respGet, err := r.client.Do(getReq)
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	json.NewDecoder(respGet.Body).Decode(&doc)
	respGet.Body.Close()

	if respGet.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	apply(doc)

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to update node key: status %d", resp.StatusCode)
	}

	return nil
}
