package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"
)

const defaultSnapshotPageSize = 500

// SnapshotService builds download snapshots: every task in the tenant
// modified after a checkpoint, in a stable (updated_at, id) order so
// large snapshots can be paged with a cursor.
type SnapshotService struct {
	taskRepo repository.TaskRepository
	pageSize int
}

func NewSnapshotService(taskRepo repository.TaskRepository, pageSize int) *SnapshotService {
	if pageSize <= 0 {
		pageSize = defaultSnapshotPageSize
	}
	return &SnapshotService{
		taskRepo: taskRepo,
		pageSize: pageSize,
	}
}

// Build computes the effective checkpoint as clientCheckpoint if given,
// else the node's stored last-sync time, else the epoch for a full first
// snapshot. The snapshot covers the half-open window (checkpoint, now]:
// rows committed while the snapshot is built fall into the next window,
// so re-building with the returned checkpoint never re-delivers a row
// that was not modified again and never skips one.
func (s *SnapshotService) Build(ctx context.Context, node *domain.OfflineNode, clientCheckpoint *time.Time, cursor string, limit int) (*domain.DownloadSnapshot, error) {
	checkpoint := resolveCheckpoint(node, clientCheckpoint)
	upper := time.Now().UTC()

	var cursorTime time.Time
	var cursorID string
	hasCursor := cursor != ""
	if hasCursor {
		var err error
		cursorTime, cursorID, err = decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
	}

	tasks, err := s.taskRepo.ListModifiedSince(ctx, node.TenantID, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list modified tasks: %w", err)
	}

	eligible := make([]*domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.UpdatedAt.After(upper) {
			continue
		}
		if hasCursor && !afterCursor(task, cursorTime, cursorID) {
			continue
		}
		eligible = append(eligible, task)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].UpdatedAt.Equal(eligible[j].UpdatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].UpdatedAt.Before(eligible[j].UpdatedAt)
	})

	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	hasMore := len(eligible) > limit
	if hasMore {
		eligible = eligible[:limit]
	}

	snapshot := &domain.DownloadSnapshot{
		Tasks:      make([]*domain.TaskResponse, len(eligible)),
		Checkpoint: upper,
		HasMore:    hasMore,
	}
	for i, task := range eligible {
		snapshot.Tasks[i] = task.ToResponse()
	}
	if hasMore {
		last := eligible[len(eligible)-1]
		snapshot.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}

	return snapshot, nil
}

func resolveCheckpoint(node *domain.OfflineNode, clientCheckpoint *time.Time) time.Time {
	if clientCheckpoint != nil {
		return clientCheckpoint.UTC()
	}
	if node.LastSyncAt != nil {
		return node.LastSyncAt.UTC()
	}
	return time.Time{}
}

func afterCursor(task *domain.Task, cursorTime time.Time, cursorID string) bool {
	if task.UpdatedAt.Equal(cursorTime) {
		return task.ID > cursorID
	}
	return task.UpdatedAt.After(cursorTime)
}

func encodeCursor(t time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", t.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid page cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid page cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid page cursor")
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
