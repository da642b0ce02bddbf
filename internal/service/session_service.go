package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"orgo-sync-server/internal/audit"
	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/repository"

	"github.com/google/uuid"
)

// terminalRetries bounds the compare-and-swap loop that finishes a
// session. Contention here is rare: only the owning sync and the
// reaper ever write a running session.
const terminalRetries = 3

type SessionService struct {
	sessionRepo repository.SessionRepository
	sink        audit.Sink
}

func NewSessionService(sessionRepo repository.SessionRepository, sink audit.Sink) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		sink:        sink,
	}
}

// Start opens a running session for the node. Every sync attempt gets
// a session row, even ones that fail immediately after.
func (s *SessionService) Start(ctx context.Context, node *domain.OfflineNode, direction domain.SyncDirection) (*domain.SyncSession, error) {
	now := time.Now().UTC()
	session := &domain.SyncSession{
		ID:          uuid.New().String(),
		TenantID:    node.TenantID,
		NodeID:      node.ID,
		Direction:   direction,
		Status:      domain.SessionRunning,
		StartedAt:   now,
		HeartbeatAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create sync session: %w", err)
	}

	s.sink.SessionStarted(session)

	return session, nil
}

// Complete marks the session completed. Returns ErrSessionFinished if
// the session already reached a terminal status.
func (s *SessionService) Complete(ctx context.Context, session *domain.SyncSession) error {
	return s.finish(ctx, session, domain.SessionCompleted, "")
}

// Fail marks the session failed and records the cause.
func (s *SessionService) Fail(ctx context.Context, session *domain.SyncSession, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, session, domain.SessionFailed, msg)
}

// finish is the single terminal transition. Status, finished_at, the
// summary and the error message land in one write so no reader ever
// sees a terminal session without its outcome.
func (s *SessionService) finish(ctx context.Context, session *domain.SyncSession, status domain.SessionStatus, errMsg string) error {
	for attempt := 0; attempt < terminalRetries; attempt++ {
		current, rev, err := s.sessionRepo.Find(ctx, session.TenantID, session.ID)
		if err != nil {
			return fmt.Errorf("failed to load sync session: %w", err)
		}
		if current.Status.Terminal() {
			return ErrSessionFinished
		}

		now := time.Now().UTC()
		session.Status = status
		session.FinishedAt = &now
		session.HeartbeatAt = now
		session.Error = errMsg

		err = s.sessionRepo.Update(ctx, session, rev)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to finish sync session: %w", err)
		}

		s.sink.SessionFinished(session)
		return nil
	}

	return fmt.Errorf("failed to finish sync session %s: too many revision conflicts", session.ID)
}

// Heartbeat refreshes the liveness marker on a running session. Best
// effort: a miss only risks the reaper cutting a slow session short,
// so failures are logged and swallowed. Safe to call from concurrent
// upload workers; it patches the stored row and never writes the
// shared session struct.
func (s *SessionService) Heartbeat(ctx context.Context, session *domain.SyncSession) {
	for attempt := 0; attempt < 2; attempt++ {
		current, _, err := s.sessionRepo.Find(ctx, session.TenantID, session.ID)
		if err != nil {
			log.Printf("Heartbeat skipped for session %s: %v", session.ID, err)
			return
		}
		if current.Status.Terminal() {
			return
		}

		err = s.sessionRepo.TouchHeartbeat(ctx, session.TenantID, session.ID, time.Now().UTC())
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			log.Printf("Heartbeat failed for session %s: %v", session.ID, err)
		}
		return
	}
}

func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*domain.SyncSession, error) {
	session, _, err := s.sessionRepo.Find(ctx, tenantID, sessionID)
	return session, err
}

func (s *SessionService) ListByTenant(ctx context.Context, tenantID string) ([]*domain.SessionResponse, error) {
	sessions, err := s.sessionRepo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return sortedResponses(sessions), nil
}

func (s *SessionService) ListByNode(ctx context.Context, tenantID, nodeID string) ([]*domain.SessionResponse, error) {
	sessions, err := s.sessionRepo.ListByNode(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}
	return sortedResponses(sessions), nil
}

func sortedResponses(sessions []*domain.SyncSession) []*domain.SessionResponse {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	responses := make([]*domain.SessionResponse, len(sessions))
	for i, session := range sessions {
		responses[i] = session.ToResponse()
	}

	return responses
}

// ReapAbandoned fails every running session whose heartbeat is older
// than timeout. A node that crashed mid-sync stops heartbeating and
// its session would otherwise stay running forever, blocking nothing
// but confusing every operator reading it.
func (s *SessionService) ReapAbandoned(ctx context.Context, timeout time.Duration) (int, error) {
	running, err := s.sessionRepo.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running sessions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-timeout)
	reaped := 0

	for _, session := range running {
		if !session.HeartbeatAt.Before(cutoff) {
			continue
		}

		err := s.finish(ctx, session, domain.SessionFailed, "session abandoned: heartbeat timeout exceeded")
		if errors.Is(err, ErrSessionFinished) {
			continue
		}
		if err != nil {
			log.Printf("Failed to reap session %s: %v", session.ID, err)
			continue
		}
		reaped++
	}

	return reaped, nil
}

// RunReaper drives ReapAbandoned on a fixed interval until ctx is
// cancelled. Run it in its own goroutine.
func (s *SessionService) RunReaper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ReapAbandoned(ctx, timeout)
			if err != nil {
				log.Printf("Session reaper pass failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Reaped %d abandoned sync session(s)", n)
			}
		}
	}
}
