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

// TaskHandler is the direct write path into the ledger. Offline batches
// go through the sync endpoints instead.
type TaskHandler struct {
	taskService *service.TaskService
	validate    *validator.Validate
}

func NewTaskHandler(taskService *service.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validate:    validator.New(),
	}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	task, err := h.taskService.Create(r.Context(), tenantID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, task.ToResponse())
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	includeCancelled := r.URL.Query().Get("include_cancelled") == "true"

	tasks, err := h.taskService.List(r.Context(), tenantID, includeCancelled)
	if err != nil {
		response.InternalError(w, "Failed to list tasks")
		return
	}

	response.Success(w, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	task, err := h.taskService.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, task.ToResponse())
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	task, err := h.taskService.Update(r.Context(), tenantID, mux.Vars(r)["id"], &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, task.ToResponse())
}

// Cancel is a soft delete: the row keeps its history and still syncs.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r)
	if tenantID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	task, err := h.taskService.Cancel(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]interface{}{
		"message": "Task cancelled",
		"task":    task.ToResponse(),
	})
}
