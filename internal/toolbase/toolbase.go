// Package toolbase pairs a project_id with a Workspace Adapter handle and
// adds path sanitization and file primitives for concrete tool
// implementations to build on.
package toolbase

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

const workspaceRoot = "/workspace"

// charsToStrip are removed from any path argument before normalization.
const charsToStrip = `<>:"|?*`

// Base is a stateful per-project handle. It guarantees the sandbox exists
// (creating it on first use) before dispatching any operation.
type Base struct {
	adapter   *workspace.Adapter
	projectID string
	opts      workspace.CreateOptions
}

// New creates a Base for projectID over adapter. The sandbox is not
// created until the first operation that needs it.
func New(adapter *workspace.Adapter, projectID string, opts workspace.CreateOptions) *Base {
	return &Base{adapter: adapter, projectID: projectID, opts: opts}
}

func (b *Base) ensureRunning(ctx context.Context) error {
	_, err := b.adapter.GetOrCreate(ctx, b.projectID, b.opts)
	return err
}

// CleanPath applies the sanitization rules from SPEC_FULL.md §4.5: strip
// disallowed characters, normalize, and reparent under /workspace.
func CleanPath(p string) string {
	for _, c := range charsToStrip {
		p = strings.ReplaceAll(p, string(c), "")
	}
	p = path.Clean("/" + p)
	if p == "/" {
		return workspaceRoot
	}
	if !strings.HasPrefix(p, workspaceRoot) {
		p = path.Join(workspaceRoot, p)
	}
	return p
}

// ValidatePath rejects paths that attempt to escape /workspace. It is
// applied to the raw, pre-clean input: CleanPath fully resolves ".."
// segments against a rooted path before reparenting, so by the time a
// cleaned path is available a traversal attempt is indistinguishable from
// an ordinary path and would otherwise be silently reparented instead of
// rejected.
func ValidatePath(raw string) error {
	if strings.HasPrefix(strings.TrimSpace(raw), "~") {
		return fmt.Errorf("%w: path must not reference home directory: %q", ErrValidationFailed, raw)
	}
	if hasDotDotToken(raw) {
		return fmt.Errorf("%w: path escapes workspace: %q", ErrValidationFailed, raw)
	}
	cleaned := CleanPath(raw)
	if !strings.HasPrefix(cleaned, workspaceRoot) {
		return fmt.Errorf("%w: path not rooted at %s: %q", ErrValidationFailed, workspaceRoot, raw)
	}
	return nil
}

// hasDotDotToken reports whether raw contains a literal ".." path segment.
func hasDotDotToken(raw string) bool {
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Exec runs cmd inside the sandbox, creating/starting it if necessary.
// workdir defaults to /workspace.
func (b *Base) Exec(ctx context.Context, cmd, workdir string) (*workspace.ExecResult, error) {
	if err := b.ensureRunning(ctx); err != nil {
		return nil, err
	}
	if workdir == "" {
		workdir = workspaceRoot
	}
	return b.adapter.ExecuteCommand(ctx, b.projectID, cmd, workdir)
}

// ReadFile returns the contents of path via `cat`.
func (b *Base) ReadFile(ctx context.Context, rawPath string) (string, bool) {
	if err := ValidatePath(rawPath); err != nil {
		return "", false
	}
	p := CleanPath(rawPath)

	res, err := b.Exec(ctx, fmt.Sprintf("cat %s", shellQuote(p)), "")
	if err != nil || !res.Success {
		return "", false
	}
	return res.Stdout, true
}

// WriteFile writes content to path via a shell echo-redirect, creating the
// parent directory first. This appends a trailing newline, matching the
// source's echo-redirect semantics (SPEC_FULL.md §9) — callers needing a
// byte-exact write should use workspace.Adapter.UploadFile instead.
func (b *Base) WriteFile(ctx context.Context, rawPath, content string) bool {
	if err := ValidatePath(rawPath); err != nil {
		return false
	}
	p := CleanPath(rawPath)

	cmd := fmt.Sprintf("mkdir -p %s && echo %s > %s", shellQuote(path.Dir(p)), shellQuote(content), shellQuote(p))
	res, err := b.Exec(ctx, cmd, "")
	return err == nil && res.Success
}

// ListFiles lists path's contents.
func (b *Base) ListFiles(ctx context.Context, rawPath string) ([]workspace.FileInfo, bool) {
	if err := ValidatePath(rawPath); err != nil {
		return nil, false
	}
	p := CleanPath(rawPath)

	if err := b.ensureRunning(ctx); err != nil {
		return nil, false
	}
	files, err := b.adapter.ListFiles(ctx, b.projectID, p)
	if err != nil {
		return nil, false
	}
	return files, true
}

// CreateDirectory creates path and its parents.
func (b *Base) CreateDirectory(ctx context.Context, rawPath string) bool {
	if err := ValidatePath(rawPath); err != nil {
		return false
	}
	p := CleanPath(rawPath)

	if err := b.ensureRunning(ctx); err != nil {
		return false
	}
	return b.adapter.CreateDirectory(ctx, b.projectID, p) == nil
}

// FileExists reports whether path is a regular file.
func (b *Base) FileExists(ctx context.Context, rawPath string) bool {
	if err := ValidatePath(rawPath); err != nil {
		return false
	}
	p := CleanPath(rawPath)
	res, err := b.Exec(ctx, fmt.Sprintf("test -f %s", shellQuote(p)), "")
	return err == nil && res.Success
}

// DirectoryExists reports whether path is a directory.
func (b *Base) DirectoryExists(ctx context.Context, rawPath string) bool {
	if err := ValidatePath(rawPath); err != nil {
		return false
	}
	p := CleanPath(rawPath)
	res, err := b.Exec(ctx, fmt.Sprintf("test -d %s", shellQuote(p)), "")
	return err == nil && res.Success
}

// DeleteFile removes a single file.
func (b *Base) DeleteFile(ctx context.Context, rawPath string) bool {
	if err := ValidatePath(rawPath); err != nil {
		return false
	}
	p := CleanPath(rawPath)
	res, err := b.Exec(ctx, fmt.Sprintf("rm -f %s", shellQuote(p)), "")
	return err == nil && res.Success
}

// DeleteDirectory removes a directory and its contents. Deleting
// /workspace itself is always refused.
func (b *Base) DeleteDirectory(ctx context.Context, rawPath string) bool {
	if err := ValidatePath(rawPath); err != nil {
		return false
	}
	p := CleanPath(rawPath)
	if p == workspaceRoot {
		return false
	}
	res, err := b.Exec(ctx, fmt.Sprintf("rm -rf %s", shellQuote(p)), "")
	return err == nil && res.Success
}

// FileStat is the structured result of GetFileInfo.
type FileStat struct {
	Name        string
	SizeBytes   int64
	ModTimeUnix int64
	Permissions string
	Owner       string
	Group       string
}

// GetFileInfo stats path via a fixed-format `stat` invocation.
func (b *Base) GetFileInfo(ctx context.Context, rawPath string) (*FileStat, bool) {
	if err := ValidatePath(rawPath); err != nil {
		return nil, false
	}
	p := CleanPath(rawPath)

	res, err := b.Exec(ctx, fmt.Sprintf("stat -c '%%n|%%s|%%Y|%%A|%%U|%%G' %s", shellQuote(p)), "")
	if err != nil || !res.Success {
		return nil, false
	}

	fields := strings.SplitN(strings.TrimSpace(res.Stdout), "|", 6)
	if len(fields) != 6 {
		return nil, false
	}
	size, _ := strconv.ParseInt(fields[1], 10, 64)
	modTime, _ := strconv.ParseInt(fields[2], 10, 64)

	return &FileStat{
		Name:        fields[0],
		SizeBytes:   size,
		ModTimeUnix: modTime,
		Permissions: fields[3],
		Owner:       fields[4],
		Group:       fields[5],
	}, true
}

// shellQuote wraps s in single quotes, escaping embedded single quotes the
// standard POSIX-shell way: close the quote, emit an escaped quote, reopen.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
