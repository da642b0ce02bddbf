package audit

import (
	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/websocket"
)

type broadcastSink struct {
	manager *websocket.Manager
}

// NewBroadcastSink pushes engine events to the tenant's websocket
// watchers. Undeliverable messages are dropped by the manager.
func NewBroadcastSink(manager *websocket.Manager) Sink {
	return &broadcastSink{manager: manager}
}

func (b *broadcastSink) SessionStarted(session *domain.SyncSession) {
	b.publishSession(websocket.TypeSessionStarted, session)
}

func (b *broadcastSink) SessionFinished(session *domain.SyncSession) {
	b.publishSession(websocket.TypeSessionFinished, session)
}

func (b *broadcastSink) publishSession(msgType websocket.MessageType, session *domain.SyncSession) {
	msg, err := websocket.NewMessage(msgType, websocket.SessionEventPayload{
		SessionID:  session.ID,
		NodeID:     session.NodeID,
		Direction:  string(session.Direction),
		Status:     string(session.Status),
		Uploaded:   session.Summary.Uploaded,
		Created:    session.Summary.Created,
		Updated:    session.Summary.Updated,
		Deleted:    session.Summary.Deleted,
		Conflicted: session.Summary.Conflicted,
		Downloaded: session.Summary.Downloaded,
		Error:      session.Error,
	})
	if err != nil {
		return
	}
	b.manager.BroadcastToTenant(session.TenantID, msg)
}

func (b *broadcastSink) ConflictDetected(conflict *domain.SyncConflict) {
	msg, err := websocket.NewMessage(websocket.TypeConflictDetected, websocket.ConflictEventPayload{
		ConflictID: conflict.ID,
		SessionID:  conflict.SessionID,
		NodeID:     conflict.NodeID,
		EntityType: conflict.EntityType,
		EntityID:   conflict.EntityID,
	})
	if err != nil {
		return
	}
	b.manager.BroadcastToTenant(conflict.TenantID, msg)
}
