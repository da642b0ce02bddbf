package domain

import "time"

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// SyncSummary accumulates monotonically over one sync run. Uploaded counts
// every change processed to an outcome, including skips and conflicts.
type SyncSummary struct {
	Uploaded   int `json:"uploaded"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Deleted    int `json:"deleted"`
	Conflicted int `json:"conflicted"`
	Downloaded int `json:"downloaded"`
}

func (s *SyncSummary) Record(outcome ChangeOutcome) {
	s.Uploaded++
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeDeleted:
		s.Deleted++
	case OutcomeConflicted:
		s.Conflicted++
	}
}

type SyncSession struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	NodeID      string        `json:"node_id"`
	Direction   SyncDirection `json:"direction"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt time.Time     `json:"heartbeat_at"`
	Summary     SyncSummary   `json:"summary"`
	Error       string        `json:"error,omitempty"`
}

type SessionResponse struct {
	ID          string        `json:"id"`
	NodeID      string        `json:"node_id"`
	Direction   SyncDirection `json:"direction"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt time.Time     `json:"heartbeat_at"`
	Summary     SyncSummary   `json:"summary"`
	Error       string        `json:"error,omitempty"`
}

func (s *SyncSession) ToResponse() *SessionResponse {
	return &SessionResponse{
		ID:          s.ID,
		NodeID:      s.NodeID,
		Direction:   s.Direction,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		HeartbeatAt: s.HeartbeatAt,
		Summary:     s.Summary,
		Error:       s.Error,
	}
}
