package domain

import (
	"encoding/json"
	"time"
)

type ResolutionStrategy string

const (
	ResolutionManualReview ResolutionStrategy = "manual_review"
	ResolutionKeepServer   ResolutionStrategy = "keep_server"
	ResolutionKeepClient   ResolutionStrategy = "keep_client"
)

const EntityTypeTask = "task"

// SyncConflict quarantines a change the engine refused to apply. The
// engine never resolves conflicts itself; resolution is a separate,
// explicitly authorized action that flips the resolved flag.
type SyncConflict struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	SessionID   string             `json:"session_id"`
	NodeID      string             `json:"node_id"`
	EntityType  string             `json:"entity_type"`
	EntityID    string             `json:"entity_id"`
	ServerState json.RawMessage    `json:"server_state,omitempty"`
	ClientState json.RawMessage    `json:"client_state,omitempty"`
	Strategy    ResolutionStrategy `json:"strategy"`
	DetectedAt  time.Time          `json:"detected_at"`
	Resolved    bool               `json:"resolved"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy  string             `json:"resolved_by,omitempty"`
}

type ResolveConflictRequest struct {
	Strategy ResolutionStrategy `json:"strategy" validate:"required,oneof=manual_review keep_server keep_client"`
}

type ConflictResponse struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"session_id"`
	NodeID      string             `json:"node_id"`
	EntityType  string             `json:"entity_type"`
	EntityID    string             `json:"entity_id"`
	ServerState json.RawMessage    `json:"server_state,omitempty"`
	ClientState json.RawMessage    `json:"client_state,omitempty"`
	Strategy    ResolutionStrategy `json:"strategy"`
	DetectedAt  time.Time          `json:"detected_at"`
	Resolved    bool               `json:"resolved"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy  string             `json:"resolved_by,omitempty"`
}

func (c *SyncConflict) ToResponse() *ConflictResponse {
	return &ConflictResponse{
		ID:          c.ID,
		SessionID:   c.SessionID,
		NodeID:      c.NodeID,
		EntityType:  c.EntityType,
		EntityID:    c.EntityID,
		ServerState: c.ServerState,
		ClientState: c.ClientState,
		Strategy:    c.Strategy,
		DetectedAt:  c.DetectedAt,
		Resolved:    c.Resolved,
		ResolvedAt:  c.ResolvedAt,
		ResolvedBy:  c.ResolvedBy,
	}
}
