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

type ConflictRepository interface {
	Create(ctx context.Context, conflict *domain.SyncConflict) error
	Get(ctx context.Context, conflictID string) (*domain.SyncConflict, error)
	ListByTenant(ctx context.Context, tenantID string, onlyUnresolved bool) ([]*domain.SyncConflict, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.SyncConflict, error)
	MarkResolved(ctx context.Context, conflict *domain.SyncConflict) error
}

type conflictRepo struct {
	baseURL string
	client  *http.Client
}

func NewConflictRepository(baseURL string) ConflictRepository {
	return &conflictRepo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func conflictDoc(conflict *domain.SyncConflict) map[string]interface{} {
	return map[string]interface{}{
		"_id":          fmt.Sprintf("conflict:%s", conflict.ID),
		"id":           conflict.ID,
		"tenant_id":    conflict.TenantID,
		"session_id":   conflict.SessionID,
		"node_id":      conflict.NodeID,
		"entity_type":  conflict.EntityType,
		"entity_id":    conflict.EntityID,
		"server_state": conflict.ServerState,
		"client_state": conflict.ClientState,
		"strategy":     conflict.Strategy,
		"detected_at":  conflict.DetectedAt,
		"resolved":     conflict.Resolved,
		"resolved_at":  conflict.ResolvedAt,
		"resolved_by":  conflict.ResolvedBy,
	}
}

func (r *conflictRepo) Create(ctx context.Context, conflict *domain.SyncConflict) error {
	data, err := json.Marshal(conflictDoc(conflict))
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

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to create conflict: status %d", resp.StatusCode)
	}

	return nil
}

func (r *conflictRepo) Get(ctx context.Context, conflictID string) (*domain.SyncConflict, error) {
	url := fmt.Sprintf("%s/conflict:%s", r.baseURL, conflictID)

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

	var conflict domain.SyncConflict
	if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
		return nil, err
	}

	return &conflict, nil
}

func (r *conflictRepo) ListByTenant(ctx context.Context, tenantID string, onlyUnresolved bool) ([]*domain.SyncConflict, error) {
	selector := map[string]interface{}{
		"tenant_id":   tenantID,
		"entity_type": map[string]interface{}{"$exists": true},
	}
	if onlyUnresolved {
		selector["resolved"] = false
	}
	return r.find(ctx, selector)
}

func (r *conflictRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.SyncConflict, error) {
	return r.find(ctx, map[string]interface{}{
		"session_id":  sessionID,
		"entity_type": map[string]interface{}{"$exists": true},
	})
}

func (r *conflictRepo) find(ctx context.Context, selector map[string]interface{}) ([]*domain.SyncConflict, error) {
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
		return nil, fmt.Errorf("failed to list conflicts: status %d", resp.StatusCode)
	}

	var result struct {
		Docs []domain.SyncConflict `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	conflicts := make([]*domain.SyncConflict, len(result.Docs))
	for i := range result.Docs {
		conflicts[i] = &result.Docs[i]
	}

	return conflicts, nil
}

func (r *conflictRepo) MarkResolved(ctx context.Context, conflict *domain.SyncConflict) error {
	url := fmt.Sprintf("%s/conflict:%s", r.baseURL, conflict.ID)

	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	respGet, err := r.client.Do(getReq)
	if err != nil {
		return err
	}

	var existingDoc map[string]interface{}
	json.NewDecoder(respGet.Body).Decode(&existingDoc)
	respGet.Body.Close()

	if respGet.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	doc := conflictDoc(conflict)
	doc["_rev"] = existingDoc["_rev"]

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
		return fmt.Errorf("failed to mark conflict as resolved: status %d", resp.StatusCode)
	}

	return nil
}
