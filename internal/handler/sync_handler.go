package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/middleware"
	"orgo-sync-server/internal/repository"
	"orgo-sync-server/internal/service"
	"orgo-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SyncHandler struct {
	syncService     *service.SyncService
	sessionService  *service.SessionService
	conflictService *service.ConflictService
	validate        *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService, sessionService *service.SessionService, conflictService *service.ConflictService) *SyncHandler {
	return &SyncHandler{
		syncService:     syncService,
		sessionService:  sessionService,
		conflictService: conflictService,
		validate:        validator.New(),
	}
}

// Run drives a full sync invocation with the direction taken from the
// request body.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.syncService.Sync(r.Context(), tenantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// Upload ingests an offline batch without building a snapshot.
func (h *SyncHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	result, err := h.syncService.Upload(r.Context(), tenantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// Snapshot serves a download-only sync from query parameters, so page
// continuations stay plain GETs.
func (h *SyncHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	req := domain.SyncRequest{
		NodeIdentifier: r.URL.Query().Get("node"),
		Direction:      domain.DirectionDownload,
		PageCursor:     r.URL.Query().Get("cursor"),
	}

	if checkpointParam := r.URL.Query().Get("checkpoint"); checkpointParam != "" {
		checkpoint, err := time.Parse(time.RFC3339, checkpointParam)
		if err != nil {
			response.BadRequest(w, "invalid checkpoint parameter")
			return
		}
		req.ClientCheckpoint = &checkpoint
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil {
			response.BadRequest(w, "invalid limit parameter")
			return
		}
		req.PageLimit = limit
	}

	result, err := h.syncService.Sync(r.Context(), tenantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

// AgentSync is the field-device entry point. The node identity comes
// from the access key, never from the body.
func (h *SyncHandler) AgentSync(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetAgentNode(r)
	if node == nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	req.NodeIdentifier = node.Identifier

	result, err := h.syncService.Sync(r.Context(), node.TenantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *SyncHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var sessions []*domain.SessionResponse
	var err error
	if nodeID := r.URL.Query().Get("node_id"); nodeID != "" {
		sessions, err = h.sessionService.ListByNode(r.Context(), tenantID, nodeID)
	} else {
		sessions, err = h.sessionService.ListByTenant(r.Context(), tenantID)
	}
	if err != nil {
		response.InternalError(w, "Failed to list sessions")
		return
	}

	response.Success(w, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SyncHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	session, err := h.sessionService.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, session.ToResponse())
}

func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	onlyUnresolved := r.URL.Query().Get("unresolved") == "true"

	var conflicts []*domain.ConflictResponse
	var err error
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		conflicts, err = h.conflictService.ListBySession(r.Context(), tenantID, sessionID)
	} else {
		conflicts, err = h.conflictService.ListByTenant(r.Context(), tenantID, onlyUnresolved)
	}
	if err != nil {
		response.InternalError(w, "Failed to list conflicts")
		return
	}

	response.Success(w, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

func (h *SyncHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	conflict, err := h.conflictService.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, conflict.ToResponse())
}

func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	conflict, err := h.conflictService.Resolve(r.Context(), tenantID, mux.Vars(r)["id"], req.Strategy, middleware.GetSubject(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"message":  "conflict resolved",
		"conflict": conflict.ToResponse(),
	})
}

// writeServiceError maps engine errors onto HTTP statuses. Unknown
// errors stay opaque 500s.
func writeServiceError(w http.ResponseWriter, err error) {
	var payloadErr *service.PayloadError

	switch {
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrSyncInProgress):
		response.Conflict(w, err.Error())
	case errors.Is(err, service.ErrSessionFinished):
		response.Conflict(w, err.Error())
	case errors.Is(err, service.ErrConflictResolved):
		response.Conflict(w, err.Error())
	case errors.Is(err, service.ErrNodeRetired):
		response.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrEnrollmentDenied):
		response.Unauthorized(w, err.Error())
	case errors.As(err, &payloadErr):
		response.UnprocessableEntity(w, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		response.NotFound(w, err.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
