package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"orgo-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// TaskRepository is the canonical ledger store. Find returns the CouchDB
// revision alongside the row; Update requires it back, so the conflict
// check and the write form one compare-and-swap against the store.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	Find(ctx context.Context, tenantID, id string) (*domain.Task, string, error)
	Update(ctx context.Context, task *domain.Task, rev string) error
	List(ctx context.Context, tenantID string) ([]*domain.Task, error)
	ListModifiedSince(ctx context.Context, tenantID string, checkpoint time.Time) ([]*domain.Task, error)
}

type taskRepository struct {
	client *kivik.Client
	dbName string
}

func NewTaskRepository(client *kivik.Client, dbName string) TaskRepository {
	return &taskRepository{
		client: client,
		dbName: dbName,
	}
}

type taskDoc struct {
	domain.Task
	Rev string `json:"_rev,omitempty"`
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("task:%s", task.ID)
	_, err := db.Put(ctx, docID, task)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (r *taskRepository) Find(ctx context.Context, tenantID, id string) (*domain.Task, string, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("task:%s", id)
	row := db.Get(ctx, docID)

	var doc taskDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to find task: %w", err)
	}
	if doc.TenantID != tenantID {
		return nil, "", ErrNotFound
	}

	task := doc.Task
	return &task, doc.Rev, nil
}

func (r *taskRepository) Update(ctx context.Context, task *domain.Task, rev string) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("task:%s", task.ID)
	doc := taskDoc{Task: *task, Rev: rev}
	_, err := db.Put(ctx, docID, doc)
	if err != nil {
		switch kivik.HTTPStatus(err) {
		case http.StatusConflict:
			return ErrConflict
		case http.StatusNotFound:
			return ErrNotFound
		}
		return fmt.Errorf("failed to update task: %w", err)
	}

	return nil
}

func (r *taskRepository) List(ctx context.Context, tenantID string) ([]*domain.Task, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"tenant_id": tenantID,
			"title":     map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var doc taskDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		task := doc.Task
		tasks = append(tasks, &task)
	}

	return tasks, nil
}

func (r *taskRepository) ListModifiedSince(ctx context.Context, tenantID string, checkpoint time.Time) ([]*domain.Task, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"tenant_id": tenantID,
			"title":     map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list modified tasks: %w", err)
	}
	defer rows.Close()

	// The checkpoint filter runs here rather than in the Mango selector:
	// Couch compares RFC3339 strings lexicographically, which is not
	// chronological across differing fractional-second lengths.
	var tasks []*domain.Task
	for rows.Next() {
		var doc taskDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		if !doc.UpdatedAt.After(checkpoint) {
			continue
		}
		task := doc.Task
		tasks = append(tasks, &task)
	}

	return tasks, nil
}
