package domain

import (
	"encoding/json"
	"time"
)

type SyncDirection string

const (
	DirectionUpload        SyncDirection = "upload"
	DirectionDownload      SyncDirection = "download"
	DirectionBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case DirectionUpload, DirectionDownload, DirectionBidirectional:
		return true
	}
	return false
}

func (d SyncDirection) IncludesUpload() bool {
	return d == DirectionUpload || d == DirectionBidirectional
}

func (d SyncDirection) IncludesDownload() bool {
	return d == DirectionDownload || d == DirectionBidirectional
}

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

func (op ChangeOp) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

type ChangeOutcome string

const (
	OutcomeCreated    ChangeOutcome = "created"
	OutcomeUpdated    ChangeOutcome = "updated"
	OutcomeDeleted    ChangeOutcome = "deleted"
	OutcomeConflicted ChangeOutcome = "conflicted"
	OutcomeSkipped    ChangeOutcome = "skipped"
)

// ClaimedVersion is the server version a node believes it last observed
// for an entity. Absence means "apply unconditionally, last-write-wins".
type ClaimedVersion struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// OfflineChange is one client-authored mutation inside an upload batch.
// It is transient: only summary counters and conflict records survive it.
type OfflineChange struct {
	Op             ChangeOp        `json:"operation"`
	EntityID       string          `json:"entity_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	ClaimedVersion *ClaimedVersion `json:"claimed_version,omitempty"`
}

type SyncRequest struct {
	NodeIdentifier   string           `json:"node_identifier" validate:"required,min=1,max=128"`
	Direction        SyncDirection    `json:"direction" validate:"required,oneof=upload download bidirectional"`
	ClientCheckpoint *time.Time       `json:"client_checkpoint,omitempty"`
	Changes          []*OfflineChange `json:"changes,omitempty"`
	PageLimit        int              `json:"page_limit,omitempty"`
	PageCursor       string           `json:"page_cursor,omitempty"`
}

type ChangeResult struct {
	Index    int           `json:"index"`
	EntityID string        `json:"entity_id,omitempty"`
	Outcome  ChangeOutcome `json:"outcome"`
}

type DownloadSnapshot struct {
	Tasks      []*TaskResponse `json:"tasks"`
	Checkpoint time.Time       `json:"checkpoint"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

type SyncResult struct {
	SessionID string            `json:"session_id"`
	NodeID    string            `json:"node_id"`
	Direction SyncDirection     `json:"direction"`
	Summary   SyncSummary       `json:"summary"`
	Outcomes  []ChangeResult    `json:"outcomes,omitempty"`
	Snapshot  *DownloadSnapshot `json:"download_snapshot,omitempty"`
}
