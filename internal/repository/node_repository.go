package repository

import (
	"context"
	"fmt"
	"net/http"

	"orgo-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type NodeRepository interface {
	Create(ctx context.Context, node *domain.OfflineNode) error
	FindByIdentifier(ctx context.Context, tenantID, identifier string) (*domain.OfflineNode, error)
	FindByID(ctx context.Context, tenantID, nodeID string) (*domain.OfflineNode, error)
	List(ctx context.Context, tenantID string) ([]*domain.OfflineNode, error)
	UpdateLastSync(ctx context.Context, node *domain.OfflineNode) error
	UpdateStatus(ctx context.Context, node *domain.OfflineNode) error
	UpdateMetadata(ctx context.Context, node *domain.OfflineNode) error
}

type nodeRepository struct {
	client *kivik.Client
	dbName string
}

func NewNodeRepository(client *kivik.Client, dbName string) NodeRepository {
	return &nodeRepository{
		client: client,
		dbName: dbName,
	}
}

// nodeDocID is deterministic per (tenant, identifier); CouchDB's id
// uniqueness is the constraint that makes concurrent first contact safe.
func nodeDocID(tenantID, identifier string) string {
	return fmt.Sprintf("node:%s:%s", tenantID, identifier)
}

func (r *nodeRepository) Create(ctx context.Context, node *domain.OfflineNode) error {
	db := r.client.DB(r.dbName)

	docID := nodeDocID(node.TenantID, node.Identifier)
	_, err := db.Put(ctx, docID, node)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to create node: %w", err)
	}

	return nil
}

func (r *nodeRepository) FindByIdentifier(ctx context.Context, tenantID, identifier string) (*domain.OfflineNode, error) {
	db := r.client.DB(r.dbName)

	docID := nodeDocID(tenantID, identifier)
	row := db.Get(ctx, docID)

	var node domain.OfflineNode
	if err := row.ScanDoc(&node); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find node: %w", err)
	}

	return &node, nil
}

func (r *nodeRepository) FindByID(ctx context.Context, tenantID, nodeID string) (*domain.OfflineNode, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"tenant_id":  tenantID,
			"id":         nodeID,
			"identifier": map[string]interface{}{"$exists": true},
		},
		"limit": 1,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query node: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var node domain.OfflineNode
	if err := rows.ScanDoc(&node); err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	return &node, nil
}

func (r *nodeRepository) List(ctx context.Context, tenantID string) ([]*domain.OfflineNode, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"tenant_id":  tenantID,
			"identifier": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*domain.OfflineNode
	for rows.Next() {
		var node domain.OfflineNode
		if err := rows.ScanDoc(&node); err != nil {
			continue
		}
		nodes = append(nodes, &node)
	}

	return nodes, nil
}

func (r *nodeRepository) UpdateLastSync(ctx context.Context, node *domain.OfflineNode) error {
	return r.patch(ctx, node, func(doc map[string]interface{}) {
		doc["last_sync_at"] = node.LastSyncAt
		doc["last_seen_at"] = node.LastSeenAt
		doc["updated_at"] = node.UpdatedAt
	})
}

func (r *nodeRepository) UpdateStatus(ctx context.Context, node *domain.OfflineNode) error {
	return r.patch(ctx, node, func(doc map[string]interface{}) {
		doc["status"] = node.Status
		doc["updated_at"] = node.UpdatedAt
	})
}

func (r *nodeRepository) UpdateMetadata(ctx context.Context, node *domain.OfflineNode) error {
	return r.patch(ctx, node, func(doc map[string]interface{}) {
		doc["label"] = node.Label
		doc["platform"] = node.Platform
		doc["app_version"] = node.AppVersion
		doc["last_seen_at"] = node.LastSeenAt
		doc["updated_at"] = node.UpdatedAt
	})
}

func (r *nodeRepository) patch(ctx context.Context, node *domain.OfflineNode, apply func(doc map[string]interface{})) error {
	db := r.client.DB(r.dbName)
	docID := nodeDocID(node.TenantID, node.Identifier)

	var rawDoc map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch node for update: %w", err)
	}

	apply(rawDoc)

	_, err := db.Put(ctx, docID, rawDoc)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to update node: %w", err)
	}

	return nil
}
