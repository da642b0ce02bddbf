package domain

import "time"

type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
	NodeStatusRetired  NodeStatus = "retired"
)

type OfflineNode struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Identifier string     `json:"identifier"`
	Label      string     `json:"label,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	AppVersion string     `json:"app_version,omitempty"`
	Status     NodeStatus `json:"status"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type RegisterNodeRequest struct {
	Identifier       string `json:"identifier" validate:"required,min=1,max=128"`
	Label            string `json:"label" validate:"max=200"`
	Platform         string `json:"platform" validate:"max=100"`
	AppVersion       string `json:"app_version" validate:"max=50"`
	KeyName          string `json:"key_name" validate:"max=100"`
	EnrollmentSecret string `json:"enrollment_secret"`
}

type NodeResponse struct {
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	Label      string     `json:"label,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	AppVersion string     `json:"app_version,omitempty"`
	Status     NodeStatus `json:"status"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type RegisterNodeResponse struct {
	Node *NodeResponse          `json:"node"`
	Key  *CreateNodeKeyResponse `json:"key,omitempty"`
}

func (n *OfflineNode) ToResponse() *NodeResponse {
	return &NodeResponse{
		ID:         n.ID,
		Identifier: n.Identifier,
		Label:      n.Label,
		Platform:   n.Platform,
		AppVersion: n.AppVersion,
		Status:     n.Status,
		LastSeenAt: n.LastSeenAt,
		LastSyncAt: n.LastSyncAt,
		CreatedAt:  n.CreatedAt,
	}
}
