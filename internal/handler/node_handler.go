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

type NodeHandler struct {
	nodeService *service.NodeService
	keyService  *service.NodeKeyService
	validate    *validator.Validate
}

func NewNodeHandler(nodeService *service.NodeService, keyService *service.NodeKeyService) *NodeHandler {
	return &NodeHandler{
		nodeService: nodeService,
		keyService:  keyService,
		validate:    validator.New(),
	}
}

// Register enrolls a node, or refreshes its metadata when the
// identifier is already known. With a key name in the request it also
// issues the node's first access key.
func (h *NodeHandler) Register(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.RegisterNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	node, err := h.nodeService.Register(r.Context(), tenantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result := &domain.RegisterNodeResponse{Node: node.ToResponse()}
	if req.KeyName != "" {
		key, err := h.keyService.Issue(r.Context(), tenantID, node.ID, &domain.CreateNodeKeyRequest{Name: req.KeyName})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		result.Key = key
	}

	response.Created(w, result)
}

func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	nodes, err := h.nodeService.List(r.Context(), tenantID)
	if err != nil {
		response.InternalError(w, "Failed to list nodes")
		return
	}

	response.Success(w, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	node, err := h.nodeService.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, node.ToResponse())
}

// Retire takes the node out of rotation and kills its live keys in the
// same request.
func (h *NodeHandler) Retire(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}
	nodeID := mux.Vars(r)["id"]

	node, err := h.nodeService.Retire(r.Context(), tenantID, nodeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	revoked, err := h.keyService.RevokeForNode(r.Context(), tenantID, nodeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"message":      "Node retired",
		"node":         node.ToResponse(),
		"keys_revoked": revoked,
	})
}
