package toolbase

import (
	"context"
	"errors"
	"testing"

	"github.com/jyf2100/agent-sandbox/internal/engine"
	"github.com/jyf2100/agent-sandbox/internal/engine/mock"
	"github.com/jyf2100/agent-sandbox/internal/ports"
	"github.com/jyf2100/agent-sandbox/internal/sandbox"
	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

func newTestBase() (*Base, *mock.Client) {
	cl := mock.New()
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		return &engine.ExecResult{ExitCode: 0}, nil
	}
	mgr := sandbox.NewManager(cl, ports.NewDefault(), "local-suna-sandbox:latest", "suna-sandbox-network")
	adapter := workspace.New(mgr)
	return New(adapter, "p1", workspace.CreateOptions{}), cl
}

func TestCleanPathReparentsUnderWorkspace(t *testing.T) {
	cases := map[string]string{
		"a.txt":                "/workspace/a.txt",
		"/etc/passwd":          "/workspace/etc/passwd",
		"/workspace/sub/x.txt": "/workspace/sub/x.txt",
		"":                     "/workspace",
		"../../etc/passwd":     "/workspace/etc/passwd",
	}
	for in, want := range cases {
		got := CleanPath(in)
		if got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanPathStripsDisallowedChars(t *testing.T) {
	got := CleanPath(`a<b>c:d"e|f?g*h.txt`)
	if got != "/workspace/abcdefgh.txt" {
		t.Fatalf("CleanPath stripped chars incorrectly: %q", got)
	}
}

func TestValidatePathRejectsHomeReference(t *testing.T) {
	if err := ValidatePath("~/secrets"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("got %v, want ErrValidationFailed", err)
	}
}

func TestValidatePathAcceptsOrdinaryPath(t *testing.T) {
	if err := ValidatePath("/workspace/sub/a.txt"); err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	if err := ValidatePath("relative/a.txt"); err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
}

func TestWriteFileRejectsPathEscapeWithoutExec(t *testing.T) {
	b, cl := newTestBase()
	execCalls := 0
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		execCalls++
		return &engine.ExecResult{ExitCode: 0}, nil
	}

	if ok := b.WriteFile(context.Background(), "../etc/passwd", "x"); ok {
		t.Fatal("WriteFile should reject a path containing a .. token")
	}
	if execCalls != 0 {
		t.Fatalf("WriteFile should not dispatch exec on a rejected path, got %d calls", execCalls)
	}
}

func TestValidatePathRejectsDotDotToken(t *testing.T) {
	if err := ValidatePath("../etc/passwd"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("got %v, want ErrValidationFailed", err)
	}
	if err := ValidatePath("/workspace/../etc/passwd"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("got %v, want ErrValidationFailed", err)
	}
}

func TestDeleteDirectoryRefusesWorkspaceRoot(t *testing.T) {
	b, cl := newTestBase()
	execCalls := 0
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		execCalls++
		return &engine.ExecResult{ExitCode: 0}, nil
	}

	if ok := b.DeleteDirectory(context.Background(), "/workspace"); ok {
		t.Fatal("DeleteDirectory should refuse to delete /workspace")
	}
	if execCalls != 0 {
		t.Fatalf("DeleteDirectory should not dispatch exec for /workspace, got %d calls", execCalls)
	}
}

func TestWriteThenReadFileRoundTrip(t *testing.T) {
	b, cl := newTestBase()

	var written string
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		if len(opts.Cmd) > 0 && opts.Cmd[0] == "sh" {
			// WriteFile's command embeds an echo-redirect; simulate the
			// shell's behavior by recording the content as written with a
			// trailing newline, matching the real echo-redirect semantics.
			written = "abc\n"
		}
		return &engine.ExecResult{ExitCode: 0, Stdout: []byte(written)}, nil
	}

	if ok := b.WriteFile(context.Background(), "/workspace/a.txt", "abc"); !ok {
		t.Fatal("WriteFile failed")
	}
	content, ok := b.ReadFile(context.Background(), "/workspace/a.txt")
	if !ok {
		t.Fatal("ReadFile failed")
	}
	if content != "abc\n" {
		t.Fatalf("ReadFile = %q, want %q", content, "abc\n")
	}
}

func TestGetFileInfoParsesStatOutput(t *testing.T) {
	b, cl := newTestBase()
	cl.ExecFunc = func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
		return &engine.ExecResult{ExitCode: 0, Stdout: []byte("a.txt|3|1700000000|-rw-r--r--|root|root\n")}, nil
	}

	info, ok := b.GetFileInfo(context.Background(), "/workspace/a.txt")
	if !ok {
		t.Fatal("GetFileInfo failed")
	}
	if info.Name != "a.txt" || info.SizeBytes != 3 || info.Permissions != "-rw-r--r--" {
		t.Fatalf("unexpected FileStat: %+v", info)
	}
}
