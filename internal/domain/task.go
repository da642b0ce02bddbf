package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrPayloadIncomplete marks a payload that is well-formed JSON but
// cannot create an entity on its own.
var ErrPayloadIncomplete = errors.New("payload cannot create an entity")

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Closed() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

type Task struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Title        string          `json:"title"`
	Status       TaskStatus      `json:"status"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
	OriginNodeID string          `json:"origin_node_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

type CreateTaskRequest struct {
	Title      string          `json:"title" validate:"required,min=1,max=500"`
	Status     string          `json:"status" validate:"omitempty,oneof=open in_progress blocked completed cancelled"`
	Attributes json.RawMessage `json:"attributes"`
}

type UpdateTaskRequest struct {
	Title      *string         `json:"title"`
	Status     *string         `json:"status" validate:"omitempty,oneof=open in_progress blocked completed cancelled"`
	Attributes json.RawMessage `json:"attributes"`
}

type TaskResponse struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       TaskStatus      `json:"status"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
	OriginNodeID string          `json:"origin_node_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

func (t *Task) ToResponse() *TaskResponse {
	return &TaskResponse{
		ID:           t.ID,
		Title:        t.Title,
		Status:       t.Status,
		Attributes:   t.Attributes,
		OriginNodeID: t.OriginNodeID,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		ClosedAt:     t.ClosedAt,
	}
}

// taskPayload is the only place that knows which uploaded payload fields
// the sync engine projects. Everything else rides along in Attributes.
type taskPayload struct {
	ID     string  `json:"id"`
	Title  *string `json:"title"`
	Status *string `json:"status"`
}

func projectTaskPayload(data json.RawMessage) (*taskPayload, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil, fmt.Errorf("payload is empty")
	}

	var p taskPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, nil, fmt.Errorf("payload is not an object: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, nil, fmt.Errorf("payload is not an object: %w", err)
	}
	delete(fields, "id")
	delete(fields, "title")
	delete(fields, "status")
	if len(fields) == 0 {
		return &p, nil, nil
	}

	attrs, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-encode payload attributes: %w", err)
	}
	return &p, attrs, nil
}

// EntityIDFromPayload extracts the embedded entity id from an uploaded
// payload, or "" when the payload has none.
func EntityIDFromPayload(data json.RawMessage) string {
	var p taskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.ID
}

// TaskFromPayload builds a new tenant-scoped task from an uploaded payload.
// A payload without a title gets ErrPayloadIncomplete; the caller assigns
// an id when the payload does not embed one.
func TaskFromPayload(tenantID string, data json.RawMessage, now time.Time) (*Task, error) {
	p, attrs, err := projectTaskPayload(data)
	if err != nil {
		return nil, err
	}

	if p.Title == nil || *p.Title == "" {
		return nil, fmt.Errorf("%w: missing title", ErrPayloadIncomplete)
	}

	task := &Task{
		ID:         p.ID,
		TenantID:   tenantID,
		Title:      *p.Title,
		Status:     TaskStatusOpen,
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p.Status != nil {
		status := TaskStatus(*p.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("unknown task status %q", *p.Status)
		}
		task.Status = status
	}
	if task.Status.Closed() {
		closed := now
		task.ClosedAt = &closed
	}
	return task, nil
}

// ApplyPayload overwrites the fields present in an uploaded payload onto
// the task and bumps its last-modified timestamp. Fields absent from the
// payload keep their server values.
func (t *Task) ApplyPayload(data json.RawMessage, now time.Time) error {
	p, attrs, err := projectTaskPayload(data)
	if err != nil {
		return err
	}

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Status != nil {
		status := TaskStatus(*p.Status)
		if !status.Valid() {
			return fmt.Errorf("unknown task status %q", *p.Status)
		}
		t.Status = status
	}
	if attrs != nil {
		merged, err := mergeAttributes(t.Attributes, attrs)
		if err != nil {
			return err
		}
		t.Attributes = merged
	}

	if t.Status.Closed() {
		if t.ClosedAt == nil {
			closed := now
			t.ClosedAt = &closed
		}
	} else {
		t.ClosedAt = nil
	}
	t.UpdatedAt = now
	return nil
}

// Cancel soft-deletes the task. The row is kept for audit history.
func (t *Task) Cancel(now time.Time) {
	t.Status = TaskStatusCancelled
	closed := now
	t.ClosedAt = &closed
	t.UpdatedAt = now
}

func mergeAttributes(current, incoming json.RawMessage) (json.RawMessage, error) {
	if len(current) == 0 {
		return incoming, nil
	}

	var base map[string]json.RawMessage
	if err := json.Unmarshal(current, &base); err != nil {
		return incoming, nil
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(incoming, &overlay); err != nil {
		return nil, fmt.Errorf("failed to decode payload attributes: %w", err)
	}
	for k, v := range overlay {
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to merge payload attributes: %w", err)
	}
	return merged, nil
}
