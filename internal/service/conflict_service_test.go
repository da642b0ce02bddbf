package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"orgo-sync-server/internal/audit"
	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"
)

func recordTestConflict(t *testing.T, service *ConflictService) *domain.SyncConflict {
	t.Helper()

	change := &domain.OfflineChange{
		Op:             domain.OpUpdate,
		EntityID:       "task-1",
		Data:           json.RawMessage(`{"title":"Client edit"}`),
		ClaimedVersion: &domain.ClaimedVersion{UpdatedAt: time.Now().UTC().Add(-time.Hour)},
	}
	task := &domain.Task{
		ID:        "task-1",
		TenantID:  "org-1",
		Title:     "Server state",
		Status:    domain.TaskStatusOpen,
		UpdatedAt: time.Now().UTC(),
	}

	conflict, err := service.Record(context.Background(), testSession(), change, task)
	if err != nil {
		t.Fatalf("Record() unexpected error = %v", err)
	}
	return conflict
}

func TestConflictService_RecordCapturesBothSides(t *testing.T) {
	repo := newMockConflictRepository()
	service := NewConflictService(repo, audit.Multi())

	conflict := recordTestConflict(t, service)

	if conflict.EntityID != "task-1" || conflict.SessionID != "session-1" || conflict.NodeID != "node-1" {
		t.Errorf("conflict = %+v, want the session's entity and node", conflict)
	}
	if conflict.Strategy != domain.ResolutionManualReview {
		t.Errorf("strategy = %v, want %v", conflict.Strategy, domain.ResolutionManualReview)
	}
	if conflict.Resolved {
		t.Error("a fresh conflict must be unresolved")
	}

	var server domain.Task
	if err := json.Unmarshal(conflict.ServerState, &server); err != nil {
		t.Fatalf("server state not a task: %v", err)
	}
	if server.Title != "Server state" {
		t.Errorf("server state title = %q, want %q", server.Title, "Server state")
	}

	var client domain.OfflineChange
	if err := json.Unmarshal(conflict.ClientState, &client); err != nil {
		t.Fatalf("client state not a change: %v", err)
	}
	if client.Op != domain.OpUpdate {
		t.Errorf("client state op = %v, want %v", client.Op, domain.OpUpdate)
	}
}

func TestConflictService_ResolveIsOneShot(t *testing.T) {
	repo := newMockConflictRepository()
	service := NewConflictService(repo, audit.Multi())
	conflict := recordTestConflict(t, service)

	resolved, err := service.Resolve(context.Background(), "org-1", conflict.ID, domain.ResolutionKeepServer, "operator-1")
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if !resolved.Resolved || resolved.Strategy != domain.ResolutionKeepServer || resolved.ResolvedBy != "operator-1" {
		t.Errorf("resolved conflict = %+v, want keep_server by operator-1", resolved)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolved conflict must carry a resolution time")
	}

	if _, err := service.Resolve(context.Background(), "org-1", conflict.ID, domain.ResolutionKeepClient, "operator-2"); !errors.Is(err, ErrConflictResolved) {
		t.Errorf("second Resolve() error = %v, want %v", err, ErrConflictResolved)
	}
}

func TestConflictService_TenantScoped(t *testing.T) {
	repo := newMockConflictRepository()
	service := NewConflictService(repo, audit.Multi())
	conflict := recordTestConflict(t, service)

	if _, err := service.Get(context.Background(), "org-2", conflict.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Get() across tenants error = %v, want %v", err, repository.ErrNotFound)
	}
	if _, err := service.Resolve(context.Background(), "org-2", conflict.ID, domain.ResolutionKeepServer, "operator-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Resolve() across tenants error = %v, want %v", err, repository.ErrNotFound)
	}
}

func TestConflictService_ListByTenantFiltersResolved(t *testing.T) {
	repo := newMockConflictRepository()
	service := NewConflictService(repo, audit.Multi())
	first := recordTestConflict(t, service)
	recordTestConflict(t, service)

	if _, err := service.Resolve(context.Background(), "org-1", first.ID, domain.ResolutionKeepClient, "operator-1"); err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}

	all, err := service.ListByTenant(context.Background(), "org-1", false)
	if err != nil {
		t.Fatalf("ListByTenant() unexpected error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all conflicts = %d, want 2", len(all))
	}

	open, err := service.ListByTenant(context.Background(), "org-1", true)
	if err != nil {
		t.Fatalf("ListByTenant() unexpected error = %v", err)
	}
	if len(open) != 1 {
		t.Errorf("unresolved conflicts = %d, want 1", len(open))
	}
}
