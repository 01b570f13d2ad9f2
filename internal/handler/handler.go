// Package handler implements the HTTP façade over the Workspace Adapter,
// per SPEC_FULL.md §6.1: sandbox lifecycle, exec, file, and health/info
// routes under the /sandbox base path.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jyf2100/agent-sandbox/internal/sandbox"
	"github.com/jyf2100/agent-sandbox/internal/toolbase"
	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

// Handler holds the dependencies shared by every route.
type Handler struct {
	adapter *workspace.Adapter
	opts    workspace.CreateOptions
	log     *slog.Logger
}

// New creates a Handler over adapter. opts supplies the defaults used when
// a route implicitly creates a sandbox (GetOrCreate-style operations).
func New(adapter *workspace.Adapter, opts workspace.CreateOptions) *Handler {
	return &Handler{adapter: adapter, opts: opts, log: slog.Default().With(slog.String("component", "handler"))}
}

// Mount registers every route in SPEC_FULL.md §6.1 under r, rooted at
// /sandbox.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/sandbox", func(r chi.Router) {
		r.Use(correlationID)

		r.Post("/create", h.create)
		r.Get("/list", h.list)
		r.Get("/{pid}", h.get)
		r.Post("/{pid}/start", h.start)
		r.Post("/{pid}/stop", h.stop)
		r.Delete("/{pid}", h.deleteSandbox)
		r.Post("/{pid}/execute", h.execute)
		r.Get("/{pid}/files", h.listFiles)
		r.Post("/{pid}/files", h.createFile)
		r.Get("/{pid}/files/content", h.readFile)
		r.Put("/{pid}/files/content", h.writeFile)
		r.Delete("/{pid}/files", h.deleteFile)
		r.Post("/{pid}/upload", h.upload)
		r.Get("/{pid}/download", h.download)
		r.Get("/{pid}/health", h.health)
		r.Get("/{pid}/info", h.info)
	})
}

type correlationIDKey struct{}

// correlationID attaches a request-scoped correlation ID to the context and
// echoes it on the response in the X-Correlation-Id header. The ID is not
// written to any log line by the Adapter or the Manager.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Correlation-Id", id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) projectID(r *http.Request) string {
	return chi.URLParam(r, "pid")
}

func (h *Handler) toolBase(pid string) *toolbase.Base {
	return toolbase.New(h.adapter, pid, h.opts)
}

// JSON writes v as a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response failed", slog.Any("err", err))
	}
}

// Error writes a structured {"error": msg} response with the given status.
func (h *Handler) Error(w http.ResponseWriter, status int, msg string) {
	h.JSON(w, status, map[string]string{"error": msg})
}

// DecodeJSON decodes the request body into v, returning a 400-appropriate
// error on malformed JSON.
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusForErr maps an error from the Adapter/Manager layer to an HTTP
// status code, per SPEC_FULL.md §7's propagation policy.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
