package audit

import (
	"log"

	"orgo-sync-server/internal/domain"
)

// Sink receives engine lifecycle notifications. Delivery is fire-and-
// forget: implementations must never let a failure reach the sync path.
type Sink interface {
	SessionStarted(session *domain.SyncSession)
	SessionFinished(session *domain.SyncSession)
	ConflictDetected(conflict *domain.SyncConflict)
}

type logSink struct{}

func NewLogSink() Sink {
	return &logSink{}
}

func (s *logSink) SessionStarted(session *domain.SyncSession) {
	log.Printf("sync session %s started (node: %s, direction: %s)",
		session.ID, session.NodeID, session.Direction)
}

func (s *logSink) SessionFinished(session *domain.SyncSession) {
	if session.Status == domain.SessionFailed {
		log.Printf("sync session %s failed (node: %s): %s",
			session.ID, session.NodeID, session.Error)
		return
	}
	log.Printf("sync session %s completed (node: %s, uploaded: %d, conflicted: %d, downloaded: %d)",
		session.ID, session.NodeID,
		session.Summary.Uploaded, session.Summary.Conflicted, session.Summary.Downloaded)
}

func (s *logSink) ConflictDetected(conflict *domain.SyncConflict) {
	log.Printf("sync conflict %s detected (entity: %s/%s, session: %s)",
		conflict.ID, conflict.EntityType, conflict.EntityID, conflict.SessionID)
}

type multiSink struct {
	sinks []Sink
}

// Multi fans notifications out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) SessionStarted(session *domain.SyncSession) {
	for _, s := range m.sinks {
		s.SessionStarted(session)
	}
}

func (m *multiSink) SessionFinished(session *domain.SyncSession) {
	for _, s := range m.sinks {
		s.SessionFinished(session)
	}
}

func (m *multiSink) ConflictDetected(conflict *domain.SyncConflict) {
	for _, s := range m.sinks {
		s.ConflictDetected(conflict)
	}
}
