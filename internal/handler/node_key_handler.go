package handler

import (
	"encoding/json"
	"net/http"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/middleware"
	"orgo-sync-server/internal/service"
	"orgo-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type NodeKeyHandler struct {
	keyService *service.NodeKeyService
	validate   *validator.Validate
}

func NewNodeKeyHandler(keyService *service.NodeKeyService) *NodeKeyHandler {
	return &NodeKeyHandler{
		keyService: keyService,
		validate:   validator.New(),
	}
}

// Issue mints a key for a node. The plain key appears in this response
// and nowhere else.
func (h *NodeKeyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.CreateNodeKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	key, err := h.keyService.Issue(r.Context(), tenantID, mux.Vars(r)["id"], &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, key)
}

func (h *NodeKeyHandler) ListForNode(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	keys, err := h.keyService.ListByNode(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		response.InternalError(w, "Failed to list node keys")
		return
	}

	response.Success(w, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

func (h *NodeKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := h.keyService.Revoke(r.Context(), tenantID, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{
		"message": "Key revoked successfully",
	})
}

// Me echoes the authenticated agent's identity, so a field device can
// verify its key and discover its node id and scopes.
func (h *NodeKeyHandler) Me(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetAgentNode(r)
	key := middleware.GetNodeKey(r)
	if node == nil || key == nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	response.Success(w, map[string]interface{}{
		"node":   node.ToResponse(),
		"key":    key.ToPublic(),
		"scopes": key.Scopes,
	})
}
