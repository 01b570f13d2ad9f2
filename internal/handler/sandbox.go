package handler

import (
	"log/slog"
	"net/http"

	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

// createRequest is the closed request body for POST /sandbox/create.
// Unknown fields are rejected rather than silently ignored, per
// SPEC_FULL.md §9's "closed struct" decision for sandbox configuration.
type createRequest struct {
	ProjectID     string  `json:"project_id"`
	VNCPassword   string  `json:"vnc_password,omitempty"`
	Resolution    string  `json:"resolution,omitempty"`
	CPULimit      float64 `json:"cpu_limit,omitempty"`
	MemoryLimit   string  `json:"memory_limit,omitempty"`
	AutoStopHours int     `json:"auto_stop_hours,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" {
		h.Error(w, http.StatusBadRequest, "project_id is required")
		return
	}

	opts := workspace.CreateOptions{
		VNCPassword:   req.VNCPassword,
		Resolution:    req.Resolution,
		CPULimit:      req.CPULimit,
		MemoryLimit:   req.MemoryLimit,
		AutoStopHours: req.AutoStopHours,
	}

	view, err := h.adapter.CreateWorkspace(r.Context(), req.ProjectID, opts)
	if err != nil {
		h.log.ErrorContext(r.Context(), "create failed", slog.String("project_id", req.ProjectID), slog.Any("err", err))
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, view)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	views, err := h.adapter.ListWorkspaces(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "list failed", slog.Any("err", err))
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if views == nil {
		views = []*workspace.View{}
	}
	h.JSON(w, http.StatusOK, views)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)
	view, err := h.adapter.GetWorkspace(r.Context(), pid)
	if err != nil {
		h.log.ErrorContext(r.Context(), "get failed", slog.String("project_id", pid), slog.Any("err", err))
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	if view == nil {
		h.Error(w, http.StatusNotFound, "sandbox not found")
		return
	}
	h.JSON(w, http.StatusOK, view)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)
	view, err := h.adapter.StartWorkspace(r.Context(), pid)
	if err != nil {
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, view)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)
	if ok := h.adapter.StopWorkspace(r.Context(), pid); !ok {
		h.Error(w, http.StatusInternalServerError, "stop failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deleteSandbox(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)
	if ok := h.adapter.DeleteWorkspace(r.Context(), pid); !ok {
		h.Error(w, http.StatusInternalServerError, "delete failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

type executeRequest struct {
	Command string `json:"command"`
	Workdir string `json:"workdir,omitempty"`
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)

	var req executeRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Workdir != "" && req.Workdir[0] != '/' {
		h.Error(w, http.StatusBadRequest, "workdir must be an absolute path")
		return
	}

	res, err := h.adapter.ExecuteCommand(r.Context(), pid, req.Command, req.Workdir)
	if err != nil {
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, res)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)
	res, err := h.adapter.HealthCheck(r.Context(), pid)
	if err != nil {
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, res)
}

type infoResponse struct {
	*workspace.View
	Diagnostic string `json:"diagnostic"`
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	pid := h.projectID(r)
	view, diag, err := h.adapter.GetWorkspaceInfo(r.Context(), pid)
	if err != nil {
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, infoResponse{View: view, Diagnostic: diag})
}
