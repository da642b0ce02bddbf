package domain

import "time"

type NodeKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	NodeID     string     `json:"node_id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	IsRevoked  bool       `json:"is_revoked"`
}

type NodeKeyPublic struct {
	ID         string     `json:"id"`
	NodeID     string     `json:"node_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	IsRevoked  bool       `json:"is_revoked"`
}

type CreateNodeKeyRequest struct {
	Name   string   `json:"name" validate:"required,min=1,max=100"`
	Scopes []string `json:"scopes"`
}

type CreateNodeKeyResponse struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

const (
	ScopeSyncUpload   = "sync:upload"
	ScopeSyncDownload = "sync:download"
	ScopeTasksRead    = "tasks:read"
)

func DefaultNodeKeyScopes() []string {
	return []string{
		ScopeSyncUpload,
		ScopeSyncDownload,
		ScopeTasksRead,
	}
}

func (k *NodeKey) ToPublic() *NodeKeyPublic {
	return &NodeKeyPublic{
		ID:         k.ID,
		NodeID:     k.NodeID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
		IsRevoked:  k.IsRevoked,
	}
}
