package workspace

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jyf2100/agent-sandbox/internal/engine"
	"github.com/jyf2100/agent-sandbox/internal/engine/mock"
	"github.com/jyf2100/agent-sandbox/internal/ports"
	"github.com/jyf2100/agent-sandbox/internal/sandbox"
)

func newTestAdapter() (*Adapter, *mock.Client) {
	cl := mock.New()
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		return &engine.ExecResult{ExitCode: 0}, nil
	}
	mgr := sandbox.NewManager(cl, ports.NewDefault(), "local-suna-sandbox:latest", "suna-sandbox-network")
	return New(mgr), cl
}

func TestGetWorkspaceNotFoundReturnsNil(t *testing.T) {
	a, _ := newTestAdapter()
	view, err := a.GetWorkspace(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if view != nil {
		t.Fatalf("expected nil view, got %+v", view)
	}
}

func TestGetOrCreateCreatesOnMiss(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	view, err := a.GetOrCreate(ctx, "p1", CreateOptions{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if view.Status != string(sandbox.StatusRunning) {
		t.Fatalf("Status = %s, want running", view.Status)
	}
}

func TestExecuteCommandNotRunningShortCircuits(t *testing.T) {
	a, cl := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ok := a.StopWorkspace(ctx, "p1"); !ok {
		t.Fatal("StopWorkspace failed")
	}

	execCalls := 0
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		execCalls++
		return &engine.ExecResult{ExitCode: 0}, nil
	}

	res, err := a.ExecuteCommand(ctx, "p1", "echo hello", "")
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if res.Success {
		t.Fatal("expected Success=false for a stopped sandbox")
	}
	if execCalls != 0 {
		t.Fatalf("exec should not be invoked when not running, called %d times", execCalls)
	}
}

func TestExecuteCommandRunning(t *testing.T) {
	a, cl := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		return &engine.ExecResult{ExitCode: 0, Stdout: []byte("hello\n")}, nil
	}

	res, err := a.ExecuteCommand(ctx, "p1", "echo hello", "/workspace")
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !res.Success || res.Stdout != "hello\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHealthCheckAllReady(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	h, err := a.HealthCheck(ctx, "p1")
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !h.Healthy {
		t.Fatalf("expected healthy, got %+v", h)
	}
	if len(h.Roles) != 4 {
		t.Fatalf("expected 4 roles, got %d", len(h.Roles))
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	a, cl := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	// The mock engine doesn't actually store archive contents; route
	// PutArchive's stream straight back out of GetArchive to exercise
	// the adapter's tar framing round trip.
	var stored []byte
	cl.PutArchiveFunc = func(ctx context.Context, id, path string, r io.Reader) error {
		var err error
		stored, err = io.ReadAll(r)
		return err
	}
	cl.GetArchiveFunc = func(ctx context.Context, id, path string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(stored)), nil
	}

	dir := t.TempDir()
	localSrc := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(localSrc, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write local src: %v", err)
	}

	if err := a.UploadFile(ctx, "p1", localSrc, "/workspace/a.txt"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	localDst := filepath.Join(dir, "out", "a.txt")
	if err := a.DownloadFile(ctx, "p1", "/workspace/a.txt", localDst); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	got, err := os.ReadFile(localDst)
	if err != nil {
		t.Fatalf("read local dst: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("downloaded content = %q, want %q", got, "abc")
	}
}

func TestListFilesSkipsDotEntriesAndHeader(t *testing.T) {
	a, cl := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	listing := "total 8\n" +
		"drwxr-xr-x 2 root root 4096 Jan  1 00:00 .\n" +
		"drwxr-xr-x 3 root root 4096 Jan  1 00:00 ..\n" +
		"-rw-r--r-- 1 root root    3 Jan  1 00:01 a.txt\n"

	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		if len(opts.Cmd) > 0 && opts.Cmd[0] == "ls" {
			return &engine.ExecResult{ExitCode: 0, Stdout: []byte(listing)}, nil
		}
		return &engine.ExecResult{ExitCode: 0}, nil
	}

	files, err := a.ListFiles(ctx, "p1", "/workspace")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].Name != "a.txt" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if files[0].Size != 3 {
		t.Fatalf("Size = %d, want 3", files[0].Size)
	}
}

func TestDeleteWorkspaceIdempotent(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ok := a.DeleteWorkspace(ctx, "p1"); !ok {
		t.Fatal("first DeleteWorkspace should succeed")
	}
	if ok := a.DeleteWorkspace(ctx, "p1"); ok {
		t.Fatal("second DeleteWorkspace should report failure (not found)")
	}

	view, err := a.GetWorkspace(ctx, "p1")
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if view != nil {
		t.Fatal("expected nil view after delete")
	}
}

func TestErrorsIsAlreadyExistsPropagates(t *testing.T) {
	a, _ := newTestAdapter()
	ctx := context.Background()

	if _, err := a.CreateWorkspace(ctx, "p1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	_, err := a.CreateWorkspace(ctx, "p1", CreateOptions{})
	if !errors.Is(err, sandbox.ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}
