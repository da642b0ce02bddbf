package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"orgo-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// SessionRepository persists sync session lifecycle records. Update takes
// the revision returned by Find so a terminal transition can never
// silently overwrite a concurrent one. TouchHeartbeat patches the
// liveness field alone and leaves the rest of the row as stored.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.SyncSession) error
	Find(ctx context.Context, tenantID, sessionID string) (*domain.SyncSession, string, error)
	Update(ctx context.Context, session *domain.SyncSession, rev string) error
	TouchHeartbeat(ctx context.Context, tenantID, sessionID string, at time.Time) error
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.SyncSession, error)
	ListByNode(ctx context.Context, tenantID, nodeID string) ([]*domain.SyncSession, error)
	ListRunning(ctx context.Context) ([]*domain.SyncSession, error)
}

type sessionRepository struct {
	client *kivik.Client
	dbName string
}

func NewSessionRepository(client *kivik.Client, dbName string) SessionRepository {
	return &sessionRepository{
		client: client,
		dbName: dbName,
	}
}

type sessionDoc struct {
	domain.SyncSession
	Rev string `json:"_rev,omitempty"`
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.SyncSession) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("session:%s", session.ID)
	_, err := db.Put(ctx, docID, session)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepository) Find(ctx context.Context, tenantID, sessionID string) (*domain.SyncSession, string, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("session:%s", sessionID)
	row := db.Get(ctx, docID)

	var doc sessionDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to find session: %w", err)
	}
	if doc.TenantID != tenantID {
		return nil, "", ErrNotFound
	}

	session := doc.SyncSession
	return &session, doc.Rev, nil
}

func (r *sessionRepository) Update(ctx context.Context, session *domain.SyncSession, rev string) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("session:%s", session.ID)
	doc := sessionDoc{SyncSession: *session, Rev: rev}
	_, err := db.Put(ctx, docID, doc)
	if err != nil {
		switch kivik.HTTPStatus(err) {
		case http.StatusConflict:
			return ErrConflict
		case http.StatusNotFound:
			return ErrNotFound
		}
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

func (r *sessionRepository) TouchHeartbeat(ctx context.Context, tenantID, sessionID string, at time.Time) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("session:%s", sessionID)

	var rawDoc map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch session for heartbeat: %w", err)
	}
	if tid, _ := rawDoc["tenant_id"].(string); tid != tenantID {
		return ErrNotFound
	}

	rawDoc["heartbeat_at"] = at

	_, err := db.Put(ctx, docID, rawDoc)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to touch session heartbeat: %w", err)
	}

	return nil
}

func (r *sessionRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.SyncSession, error) {
	return r.find(ctx, map[string]interface{}{
		"tenant_id": tenantID,
		"direction": map[string]interface{}{"$exists": true},
	})
}

func (r *sessionRepository) ListByNode(ctx context.Context, tenantID, nodeID string) ([]*domain.SyncSession, error) {
	return r.find(ctx, map[string]interface{}{
		"tenant_id": tenantID,
		"node_id":   nodeID,
		"direction": map[string]interface{}{"$exists": true},
	})
}

func (r *sessionRepository) ListRunning(ctx context.Context) ([]*domain.SyncSession, error) {
	return r.find(ctx, map[string]interface{}{
		"status":    string(domain.SessionRunning),
		"direction": map[string]interface{}{"$exists": true},
	})
}

func (r *sessionRepository) find(ctx context.Context, selector map[string]interface{}) ([]*domain.SyncSession, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": selector,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.SyncSession
	for rows.Next() {
		var doc sessionDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		session := doc.SyncSession
		sessions = append(sessions, &session)
	}

	return sessions, nil
}
