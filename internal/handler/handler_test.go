package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/jyf2100/agent-sandbox/internal/engine"
	"github.com/jyf2100/agent-sandbox/internal/engine/mock"
	"github.com/jyf2100/agent-sandbox/internal/ports"
	"github.com/jyf2100/agent-sandbox/internal/sandbox"
	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

func newTestServer() (*httptest.Server, *mock.Client) {
	cl := mock.New()
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		return &engine.ExecResult{ExitCode: 0}, nil
	}
	mgr := sandbox.NewManager(cl, ports.NewDefault(), "local-suna-sandbox:latest", "suna-sandbox-network")
	adapter := workspace.New(mgr)
	h := New(adapter, workspace.CreateOptions{})

	r := chi.NewRouter()
	h.Mount(r)
	return httptest.NewServer(r), cl
}

func TestCreateThenGet(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	body, _ := json.Marshal(createRequest{ProjectID: "proj-1"})
	resp, err := http.Post(srv.URL+"/sandbox/create", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /sandbox/create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}

	var view workspace.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if view.ProjectID != "proj-1" {
		t.Fatalf("ProjectID = %q, want proj-1", view.ProjectID)
	}

	getResp, err := http.Get(srv.URL + "/sandbox/proj-1")
	if err != nil {
		t.Fatalf("GET /sandbox/proj-1: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getResp.StatusCode)
	}
}

func TestGetUnknownProjectReturns404(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sandbox/missing")
	if err != nil {
		t.Fatalf("GET /sandbox/missing: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateMissingProjectIDReturns400(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	body, _ := json.Marshal(createRequest{})
	resp, err := http.Post(srv.URL+"/sandbox/create", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /sandbox/create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteRejectsRelativeWorkdir(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	createBody, _ := json.Marshal(createRequest{ProjectID: "proj-2"})
	createResp, err := http.Post(srv.URL+"/sandbox/create", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	createResp.Body.Close()

	execBody, _ := json.Marshal(executeRequest{Command: "echo hi", Workdir: "relative/path"})
	resp, err := http.Post(srv.URL+"/sandbox/proj-2/execute", "application/json", bytes.NewReader(execBody))
	if err != nil {
		t.Fatalf("POST execute: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateFileReturns200(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	createBody, _ := json.Marshal(createRequest{ProjectID: "proj-3"})
	createResp, err := http.Post(srv.URL+"/sandbox/create", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	createResp.Body.Close()

	writeBody, _ := json.Marshal(createFileRequest{Path: "/workspace/notes.txt", Content: "hello"})
	writeResp, err := http.Post(srv.URL+"/sandbox/proj-3/files", "application/json", bytes.NewReader(writeBody))
	if err != nil {
		t.Fatalf("POST files: %v", err)
	}
	defer writeResp.Body.Close()
	if writeResp.StatusCode != http.StatusOK {
		t.Fatalf("create file status = %d, want 200", writeResp.StatusCode)
	}
}

func TestListFilesRejectsHomeReference(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	createBody, _ := json.Marshal(createRequest{ProjectID: "proj-4"})
	createResp, err := http.Post(srv.URL+"/sandbox/create", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	createResp.Body.Close()

	resp, err := http.Get(srv.URL + "/sandbox/proj-4/files?path=" + "~%2Fsecrets")
	if err != nil {
		t.Fatalf("GET files: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
