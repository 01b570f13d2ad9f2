package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jyf2100/agent-sandbox/internal/toolbase"
	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

func (h *Handler) pathParam(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		return "", errors.New("path query parameter is required")
	}
	if err := toolbase.ValidatePath(raw); err != nil {
		return "", err
	}
	return toolbase.CleanPath(raw), nil
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	p, err := h.pathParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	tb := h.toolBase(h.projectID(r))
	files, ok := tb.ListFiles(r.Context(), p)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "list files failed")
		return
	}
	if files == nil {
		files = []workspace.FileInfo{}
	}
	h.JSON(w, http.StatusOK, files)
}

type createFileRequest struct {
	Path    string `json:"path"`
	Type    string `json:"type,omitempty"` // "file" (default) or "directory"
	Content string `json:"content,omitempty"`
}

func (h *Handler) createFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := toolbase.ValidatePath(req.Path); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	tb := h.toolBase(h.projectID(r))

	var ok bool
	if req.Type == "directory" {
		ok = tb.CreateDirectory(r.Context(), req.Path)
	} else {
		ok = tb.WriteFile(r.Context(), req.Path, req.Content)
	}
	if !ok {
		h.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) readFile(w http.ResponseWriter, r *http.Request) {
	p, err := h.pathParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	tb := h.toolBase(h.projectID(r))
	if !tb.FileExists(r.Context(), p) {
		h.Error(w, http.StatusNotFound, "file not found")
		return
	}
	content, ok := tb.ReadFile(r.Context(), p)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "read failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"content": content, "path": p})
}

type writeFileRequest struct {
	Content string `json:"content"`
}

func (h *Handler) writeFile(w http.ResponseWriter, r *http.Request) {
	p, err := h.pathParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req writeFileRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tb := h.toolBase(h.projectID(r))
	if !tb.WriteFile(r.Context(), p, req.Content) {
		h.Error(w, http.StatusInternalServerError, "write failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	p, err := h.pathParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	tb := h.toolBase(h.projectID(r))
	var ok bool
	if tb.DirectoryExists(r.Context(), p) {
		ok = tb.DeleteDirectory(r.Context(), p)
	} else {
		ok = tb.DeleteFile(r.Context(), p)
	}
	if !ok {
		h.Error(w, http.StatusBadRequest, "delete failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

const maxUploadBytes = 64 << 20 // 64MiB

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	remotePath := r.FormValue("path")
	if err := toolbase.ValidatePath(remotePath); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	remotePath = toolbase.CleanPath(remotePath)

	file, header, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "sandbox-upload-*")
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "create temp file: "+err.Error())
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		h.Error(w, http.StatusInternalServerError, "buffer upload: "+err.Error())
		return
	}
	tmp.Close()

	targetPath := filepath.Join(remotePath, header.Filename)
	if err := h.adapter.UploadFile(r.Context(), h.projectID(r), tmpPath, targetPath); err != nil {
		h.Error(w, statusForErr(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	p, err := h.pathParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	tb := h.toolBase(h.projectID(r))
	if !tb.FileExists(r.Context(), p) {
		h.Error(w, http.StatusNotFound, "file not found")
		return
	}

	tmp, err := os.CreateTemp("", "sandbox-download-*")
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "create temp file: "+err.Error())
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := h.adapter.DownloadFile(r.Context(), h.projectID(r), p, tmpPath); err != nil {
		h.Error(w, statusForErr(err), err.Error())
		return
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "read downloaded file: "+err.Error())
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"filename": filepath.Base(p),
		"content":  base64.StdEncoding.EncodeToString(data),
		"size":     len(data),
	})
}
