package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"

	"github.com/google/uuid"
)

// TaskService is the operator-facing side of the ledger. Sync uploads
// go through the ChangeApplier instead; this service is for direct API
// writes, which take the same compare-and-swap path against the store.
type TaskService struct {
	taskRepo repository.TaskRepository
}

func NewTaskService(taskRepo repository.TaskRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo}
}

func (s *TaskService) Create(ctx context.Context, tenantID string, req *domain.CreateTaskRequest) (*domain.Task, error) {
	now := time.Now().UTC()

	task := &domain.Task{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Title:      req.Title,
		Status:     domain.TaskStatusOpen,
		Attributes: req.Attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Status != "" {
		status := domain.TaskStatus(req.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown task status %q", ErrValidation, req.Status)
		}
		task.Status = status
	}
	if task.Status.Closed() {
		closed := now
		task.ClosedAt = &closed
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	return task, nil
}

func (s *TaskService) Get(ctx context.Context, tenantID, taskID string) (*domain.Task, error) {
	task, _, err := s.taskRepo.Find(ctx, tenantID, taskID)
	return task, err
}

func (s *TaskService) List(ctx context.Context, tenantID string, includeCancelled bool) ([]*domain.TaskResponse, error) {
	tasks, err := s.taskRepo.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})

	responses := make([]*domain.TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		if !includeCancelled && task.Status == domain.TaskStatusCancelled {
			continue
		}
		responses = append(responses, task.ToResponse())
	}

	return responses, nil
}

func (s *TaskService) Update(ctx context.Context, tenantID, taskID string, req *domain.UpdateTaskRequest) (*domain.Task, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		task, rev, err := s.taskRepo.Find(ctx, tenantID, taskID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if req.Title != nil {
			task.Title = *req.Title
		}
		if req.Status != nil {
			status := domain.TaskStatus(*req.Status)
			if !status.Valid() {
				return nil, fmt.Errorf("%w: unknown task status %q", ErrValidation, *req.Status)
			}
			task.Status = status
		}
		if req.Attributes != nil {
			task.Attributes = req.Attributes
		}
		if task.Status.Closed() {
			if task.ClosedAt == nil {
				closed := now
				task.ClosedAt = &closed
			}
		} else {
			task.ClosedAt = nil
		}
		task.UpdatedAt = now

		err = s.taskRepo.Update(ctx, task, rev)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return task, nil
	}

	return nil, fmt.Errorf("failed to update task %s: too many revision conflicts", taskID)
}

// Cancel soft-deletes through the same terminal-status path the sync
// engine uses; the row stays in the ledger.
func (s *TaskService) Cancel(ctx context.Context, tenantID, taskID string) (*domain.Task, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		task, rev, err := s.taskRepo.Find(ctx, tenantID, taskID)
		if err != nil {
			return nil, err
		}

		task.Cancel(time.Now().UTC())

		err = s.taskRepo.Update(ctx, task, rev)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return task, nil
	}

	return nil, fmt.Errorf("failed to cancel task %s: too many revision conflicts", taskID)
}
