package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"orgo-sync-server/internal/audit"
	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"
)

type mockTaskRepository struct {
	mu              sync.Mutex
	tasks           map[string]domain.Task
	revs            map[string]int
	updateConflicts map[string]int
	failUpdate      map[string]error
}

func newMockTaskRepository() *mockTaskRepository {
	return &mockTaskRepository{
		tasks:           make(map[string]domain.Task),
		revs:            make(map[string]int),
		updateConflicts: make(map[string]int),
		failUpdate:      make(map[string]error),
	}
}

func (m *mockTaskRepository) Create(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[task.ID]; exists {
		return repository.ErrConflict
	}
	m.tasks[task.ID] = *task
	m.revs[task.ID] = 1
	return nil
}

func (m *mockTaskRepository) Find(ctx context.Context, tenantID, id string) (*domain.Task, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.TenantID != tenantID {
		return nil, "", repository.ErrNotFound
	}
	found := task
	return &found, strconv.Itoa(m.revs[id]), nil
}

func (m *mockTaskRepository) Update(ctx context.Context, task *domain.Task, rev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failUpdate[task.ID]; ok {
		return err
	}
	if n := m.updateConflicts[task.ID]; n > 0 {
		m.updateConflicts[task.ID] = n - 1
		return repository.ErrConflict
	}
	if _, ok := m.tasks[task.ID]; !ok {
		return repository.ErrNotFound
	}
	if strconv.Itoa(m.revs[task.ID]) != rev {
		return repository.ErrConflict
	}
	m.tasks[task.ID] = *task
	m.revs[task.ID]++
	return nil
}

func (m *mockTaskRepository) List(ctx context.Context, tenantID string) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range m.tasks {
		if task.TenantID != tenantID {
			continue
		}
		found := task
		tasks = append(tasks, &found)
	}
	return tasks, nil
}

func (m *mockTaskRepository) ListModifiedSince(ctx context.Context, tenantID string, checkpoint time.Time) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range m.tasks {
		if task.TenantID != tenantID || !task.UpdatedAt.After(checkpoint) {
			continue
		}
		found := task
		tasks = append(tasks, &found)
	}
	return tasks, nil
}

type mockConflictRepository struct {
	mu        sync.Mutex
	conflicts map[string]domain.SyncConflict
}

func newMockConflictRepository() *mockConflictRepository {
	return &mockConflictRepository{
		conflicts: make(map[string]domain.SyncConflict),
	}
}

func (m *mockConflictRepository) Create(ctx context.Context, conflict *domain.SyncConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conflicts[conflict.ID] = *conflict
	return nil
}

func (m *mockConflictRepository) Get(ctx context.Context, conflictID string) (*domain.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conflict, ok := m.conflicts[conflictID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	found := conflict
	return &found, nil
}

func (m *mockConflictRepository) ListByTenant(ctx context.Context, tenantID string, onlyUnresolved bool) ([]*domain.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicts []*domain.SyncConflict
	for _, conflict := range m.conflicts {
		if conflict.TenantID != tenantID {
			continue
		}
		if onlyUnresolved && conflict.Resolved {
			continue
		}
		found := conflict
		conflicts = append(conflicts, &found)
	}
	return conflicts, nil
}

func (m *mockConflictRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicts []*domain.SyncConflict
	for _, conflict := range m.conflicts {
		if conflict.SessionID != sessionID {
			continue
		}
		found := conflict
		conflicts = append(conflicts, &found)
	}
	return conflicts, nil
}

func (m *mockConflictRepository) MarkResolved(ctx context.Context, conflict *domain.SyncConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conflicts[conflict.ID]; !ok {
		return repository.ErrNotFound
	}
	m.conflicts[conflict.ID] = *conflict
	return nil
}

func (m *mockConflictRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conflicts)
}

func newTestApplier(taskRepo *mockTaskRepository, conflictRepo *mockConflictRepository, opts ApplierOptions) *ChangeApplier {
	conflicts := NewConflictService(conflictRepo, audit.Multi())
	return NewChangeApplier(taskRepo, conflicts, opts)
}

func testSession() *domain.SyncSession {
	now := time.Now().UTC()
	return &domain.SyncSession{
		ID:          "session-1",
		TenantID:    "org-1",
		NodeID:      "node-1",
		Direction:   domain.DirectionUpload,
		Status:      domain.SessionRunning,
		StartedAt:   now,
		HeartbeatAt: now,
	}
}

func seedTask(t *testing.T, repo *mockTaskRepository, id string, updatedAt time.Time) *domain.Task {
	t.Helper()

	task := &domain.Task{
		ID:        id,
		TenantID:  "org-1",
		Title:     "Seeded",
		Status:    domain.TaskStatusOpen,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	if err := repo.Create(context.Background(), task); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	return task
}

func TestChangeApplier_Insert(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	change := &domain.OfflineChange{
		Op:   domain.OpInsert,
		Data: json.RawMessage(`{"title":"Inspect pump house","priority":3}`),
	}

	outcome, id, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeCreated {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeCreated)
	}
	if id == "" {
		t.Fatal("Apply() returned empty entity id for insert")
	}

	task, _, err := taskRepo.Find(context.Background(), "org-1", id)
	if err != nil {
		t.Fatalf("inserted task not found: %v", err)
	}
	if task.Title != "Inspect pump house" {
		t.Errorf("task title = %q, want %q", task.Title, "Inspect pump house")
	}
	if task.OriginNodeID != session.NodeID {
		t.Errorf("task origin node = %q, want %q", task.OriginNodeID, session.NodeID)
	}

	var attrs map[string]interface{}
	if err := json.Unmarshal(task.Attributes, &attrs); err != nil {
		t.Fatalf("failed to decode attributes: %v", err)
	}
	if _, ok := attrs["priority"]; !ok {
		t.Error("non-projected payload field did not land in attributes")
	}
}

func TestChangeApplier_InsertInvalidPayloadFailsFast(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	tests := []struct {
		name string
		data string
	}{
		{name: "empty payload", data: ""},
		{name: "null payload", data: "null"},
		{name: "non-object payload", data: `[1,2,3]`},
		{name: "missing title", data: `{"status":"open"}`},
		{name: "unknown status", data: `{"title":"x","status":"bogus"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := &domain.OfflineChange{
				Op:   domain.OpInsert,
				Data: json.RawMessage(tt.data),
			}

			_, _, err := applier.Apply(context.Background(), session, change)
			if err == nil {
				t.Fatal("Apply() expected error but got none")
			}

			var payloadErr *PayloadError
			if !errors.As(err, &payloadErr) {
				t.Errorf("Apply() error = %v, want *PayloadError", err)
			}
		})
	}
}

func TestChangeApplier_InsertReplayConvergesToUpdate(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	change := &domain.OfflineChange{
		Op:       domain.OpInsert,
		EntityID: "task-1",
		Data:     json.RawMessage(`{"title":"Replace fan belt"}`),
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("first Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeCreated {
		t.Fatalf("first Apply() outcome = %v, want %v", outcome, domain.OutcomeCreated)
	}

	outcome, id, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("replayed Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeUpdated {
		t.Errorf("replayed Apply() outcome = %v, want %v", outcome, domain.OutcomeUpdated)
	}
	if id != "task-1" {
		t.Errorf("replayed Apply() entity id = %q, want %q", id, "task-1")
	}

	tasks, _ := taskRepo.List(context.Background(), "org-1")
	if len(tasks) != 1 {
		t.Errorf("replay created a second row: %d tasks", len(tasks))
	}
}

func TestChangeApplier_UpdateByEmbeddedID(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()
	seedTask(t, taskRepo, "task-7", time.Now().UTC().Add(-time.Hour))

	change := &domain.OfflineChange{
		Op:   domain.OpUpdate,
		Data: json.RawMessage(`{"id":"task-7","title":"Retitled"}`),
	}

	outcome, id, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeUpdated {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeUpdated)
	}
	if id != "task-7" {
		t.Errorf("Apply() entity id = %q, want %q", id, "task-7")
	}

	task, _, _ := taskRepo.Find(context.Background(), "org-1", "task-7")
	if task.Title != "Retitled" {
		t.Errorf("task title = %q, want %q", task.Title, "Retitled")
	}
}

func TestChangeApplier_UpdateWithoutEntityIDSkips(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	change := &domain.OfflineChange{
		Op:   domain.OpUpdate,
		Data: json.RawMessage(`{"title":"No id anywhere"}`),
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeSkipped {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeSkipped)
	}
}

func TestChangeApplier_UpdateMissingRowRecreates(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	change := &domain.OfflineChange{
		Op:       domain.OpUpdate,
		EntityID: "ghost-1",
		Data:     json.RawMessage(`{"title":"Recovered from device"}`),
	}

	outcome, id, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeCreated {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeCreated)
	}

	task, _, err := taskRepo.Find(context.Background(), "org-1", id)
	if err != nil {
		t.Fatalf("recreated task not found: %v", err)
	}
	if task.ID != "ghost-1" {
		t.Errorf("recreated task id = %q, want %q", task.ID, "ghost-1")
	}
	if task.OriginNodeID != session.NodeID {
		t.Errorf("recreated task origin node = %q, want %q", task.OriginNodeID, session.NodeID)
	}
}

func TestChangeApplier_UpdateMissingRowPartialPayloadSkips(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	change := &domain.OfflineChange{
		Op:       domain.OpUpdate,
		EntityID: "ghost-2",
		Data:     json.RawMessage(`{"status":"completed"}`),
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeSkipped {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeSkipped)
	}

	if _, _, err := taskRepo.Find(context.Background(), "org-1", "ghost-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("partial payload must not create a row")
	}
}

func TestChangeApplier_StaleVersionConflicts(t *testing.T) {
	serverTime := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		claimed time.Time
	}{
		{name: "client behind server", claimed: serverTime.Add(-time.Minute)},
		{name: "client ahead of server", claimed: serverTime.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taskRepo := newMockTaskRepository()
			conflictRepo := newMockConflictRepository()
			applier := newTestApplier(taskRepo, conflictRepo, ApplierOptions{})
			session := testSession()
			seedTask(t, taskRepo, "task-9", serverTime)

			change := &domain.OfflineChange{
				Op:             domain.OpUpdate,
				EntityID:       "task-9",
				Data:           json.RawMessage(`{"title":"Stale edit"}`),
				ClaimedVersion: &domain.ClaimedVersion{UpdatedAt: tt.claimed},
			}

			outcome, _, err := applier.Apply(context.Background(), session, change)
			if err != nil {
				t.Fatalf("Apply() unexpected error = %v", err)
			}
			if outcome != domain.OutcomeConflicted {
				t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeConflicted)
			}
			if conflictRepo.count() != 1 {
				t.Fatalf("conflict count = %d, want 1", conflictRepo.count())
			}

			conflicts, _ := conflictRepo.ListBySession(context.Background(), session.ID)
			conflict := conflicts[0]
			if conflict.EntityID != "task-9" {
				t.Errorf("conflict entity id = %q, want %q", conflict.EntityID, "task-9")
			}
			if conflict.NodeID != session.NodeID {
				t.Errorf("conflict node id = %q, want %q", conflict.NodeID, session.NodeID)
			}
			if conflict.Resolved {
				t.Error("fresh conflict must not be resolved")
			}
			if conflict.Strategy != domain.ResolutionManualReview {
				t.Errorf("conflict strategy = %v, want %v", conflict.Strategy, domain.ResolutionManualReview)
			}

			task, _, _ := taskRepo.Find(context.Background(), "org-1", "task-9")
			if task.Title != "Seeded" {
				t.Errorf("conflicted change mutated the row: title = %q", task.Title)
			}
			if !task.UpdatedAt.Equal(serverTime) {
				t.Errorf("conflicted change bumped updated_at to %v", task.UpdatedAt)
			}
		})
	}
}

func TestChangeApplier_MatchingVersionUpdates(t *testing.T) {
	serverTime := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()
	seedTask(t, taskRepo, "task-3", serverTime)

	change := &domain.OfflineChange{
		Op:             domain.OpUpdate,
		EntityID:       "task-3",
		Data:           json.RawMessage(`{"title":"Fresh edit"}`),
		ClaimedVersion: &domain.ClaimedVersion{UpdatedAt: serverTime},
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeUpdated {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeUpdated)
	}

	task, _, _ := taskRepo.Find(context.Background(), "org-1", "task-3")
	if task.Title != "Fresh edit" {
		t.Errorf("task title = %q, want %q", task.Title, "Fresh edit")
	}
	if !task.UpdatedAt.After(serverTime) {
		t.Error("update did not advance the last-modified timestamp")
	}
}

func TestChangeApplier_VersionlessLastWriteWins(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()
	seedTask(t, taskRepo, "task-5", time.Now().UTC().Add(-time.Hour))

	change := &domain.OfflineChange{
		Op:       domain.OpUpdate,
		EntityID: "task-5",
		Data:     json.RawMessage(`{"title":"Overwrite one"}`),
	}

	for i := 0; i < 2; i++ {
		outcome, _, err := applier.Apply(context.Background(), session, change)
		if err != nil {
			t.Fatalf("Apply() run %d unexpected error = %v", i, err)
		}
		if outcome != domain.OutcomeUpdated {
			t.Errorf("Apply() run %d outcome = %v, want %v", i, outcome, domain.OutcomeUpdated)
		}
	}
}

func TestChangeApplier_RequireVersionQuarantinesVersionless(t *testing.T) {
	taskRepo := newMockTaskRepository()
	conflictRepo := newMockConflictRepository()
	applier := newTestApplier(taskRepo, conflictRepo, ApplierOptions{RequireVersion: true})
	session := testSession()
	seeded := seedTask(t, taskRepo, "task-11", time.Now().UTC().Add(-time.Hour))

	change := &domain.OfflineChange{
		Op:       domain.OpUpdate,
		EntityID: "task-11",
		Data:     json.RawMessage(`{"title":"Unversioned edit"}`),
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeConflicted {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeConflicted)
	}
	if conflictRepo.count() != 1 {
		t.Errorf("conflict count = %d, want 1", conflictRepo.count())
	}

	versioned := &domain.OfflineChange{
		Op:             domain.OpUpdate,
		EntityID:       "task-11",
		Data:           json.RawMessage(`{"title":"Versioned edit"}`),
		ClaimedVersion: &domain.ClaimedVersion{UpdatedAt: seeded.UpdatedAt},
	}

	outcome, _, err = applier.Apply(context.Background(), session, versioned)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeUpdated {
		t.Errorf("versioned Apply() outcome = %v, want %v", outcome, domain.OutcomeUpdated)
	}
}

func TestChangeApplier_DeleteSoft(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()
	seeded := seedTask(t, taskRepo, "task-13", time.Now().UTC().Add(-time.Hour))

	change := &domain.OfflineChange{
		Op:             domain.OpDelete,
		EntityID:       "task-13",
		ClaimedVersion: &domain.ClaimedVersion{UpdatedAt: seeded.UpdatedAt},
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeDeleted {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeDeleted)
	}

	task, _, err := taskRepo.Find(context.Background(), "org-1", "task-13")
	if err != nil {
		t.Fatal("soft delete must keep the row")
	}
	if task.Status != domain.TaskStatusCancelled {
		t.Errorf("task status = %v, want %v", task.Status, domain.TaskStatusCancelled)
	}
	if task.ClosedAt == nil {
		t.Error("soft delete did not set closed_at")
	}
}

func TestChangeApplier_DeleteMissingSkips(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()

	change := &domain.OfflineChange{
		Op:       domain.OpDelete,
		EntityID: "never-existed",
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeSkipped {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeSkipped)
	}
}

func TestChangeApplier_DeleteStaleVersionConflicts(t *testing.T) {
	serverTime := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	taskRepo := newMockTaskRepository()
	conflictRepo := newMockConflictRepository()
	applier := newTestApplier(taskRepo, conflictRepo, ApplierOptions{})
	session := testSession()
	seedTask(t, taskRepo, "task-17", serverTime)

	change := &domain.OfflineChange{
		Op:             domain.OpDelete,
		EntityID:       "task-17",
		ClaimedVersion: &domain.ClaimedVersion{UpdatedAt: serverTime.Add(-time.Second)},
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeConflicted {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeConflicted)
	}
	if conflictRepo.count() != 1 {
		t.Errorf("conflict count = %d, want 1", conflictRepo.count())
	}

	task, _, _ := taskRepo.Find(context.Background(), "org-1", "task-17")
	if task.Status != domain.TaskStatusOpen {
		t.Errorf("conflicted delete changed status to %v", task.Status)
	}
}

func TestChangeApplier_UpdateRetriesOnRevisionConflict(t *testing.T) {
	taskRepo := newMockTaskRepository()
	applier := newTestApplier(taskRepo, newMockConflictRepository(), ApplierOptions{})
	session := testSession()
	seedTask(t, taskRepo, "task-19", time.Now().UTC().Add(-time.Hour))

	taskRepo.updateConflicts["task-19"] = 1

	change := &domain.OfflineChange{
		Op:       domain.OpUpdate,
		EntityID: "task-19",
		Data:     json.RawMessage(`{"title":"Won after retry"}`),
	}

	outcome, _, err := applier.Apply(context.Background(), session, change)
	if err != nil {
		t.Fatalf("Apply() unexpected error = %v", err)
	}
	if outcome != domain.OutcomeUpdated {
		t.Errorf("Apply() outcome = %v, want %v", outcome, domain.OutcomeUpdated)
	}

	task, _, _ := taskRepo.Find(context.Background(), "org-1", "task-19")
	if task.Title != "Won after retry" {
		t.Errorf("task title = %q, want %q", task.Title, "Won after retry")
	}
}
