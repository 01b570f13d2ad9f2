// Package workspace presents a stable façade over the Sandbox Manager for
// tool code: exec, file operations, archive transfer, health checks, and URL
// discovery.
package workspace

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jyf2100/agent-sandbox/internal/engine"
	"github.com/jyf2100/agent-sandbox/internal/ports"
	"github.com/jyf2100/agent-sandbox/internal/sandbox"
)

const (
	fixedDisplay   = ":99"
	fixedPyUnbuf   = "1"
	defaultWorkdir = "/workspace"
)

// View is the stable, JSON-friendly projection of a sandbox returned to
// tool code and the HTTP façade.
type View struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	ProjectID string            `json:"project_id"`
	Status    string            `json:"status"`
	URLs      map[string]string `json:"urls"`
	Ports     map[string]int    `json:"ports"`
	CreatedAt time.Time         `json:"created_at"`
}

// ExecResult is the structured outcome of ExecuteCommand, matching
// SPEC_FULL.md §4.4's contract.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Success  bool   `json:"success"`
}

// FileInfo is one entry returned by ListFiles.
type FileInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Modified    string `json:"modified"`
	Permissions string `json:"permissions"`
	Type        string `json:"type"` // "file" or "directory"
}

// Health is the result of HealthCheck.
type Health struct {
	Healthy bool            `json:"healthy"`
	Roles   map[string]bool `json:"roles"`
}

// CreateOptions carries the caller-supplied overrides for sandbox creation.
type CreateOptions struct {
	VNCPassword   string
	Resolution    string
	CPULimit      float64
	MemoryLimit   string
	AutoStopHours int
}

func (o CreateOptions) toSandboxConfig() sandbox.Config {
	cfg := sandbox.DefaultConfig()
	if o.VNCPassword != "" {
		cfg.VNCPassword = o.VNCPassword
	}
	if o.Resolution != "" {
		cfg.Resolution = o.Resolution
	}
	if o.CPULimit > 0 {
		cfg.CPULimit = o.CPULimit
	}
	if o.MemoryLimit != "" {
		cfg.MemoryLimit = o.MemoryLimit
	}
	if o.AutoStopHours > 0 {
		cfg.AutoStopHours = o.AutoStopHours
	}
	return cfg
}

// Adapter composes over a sandbox.Manager. StopWorkspace and DeleteWorkspace
// log failures and report them as a boolean, GetWorkspace returns nil for a
// missing project, and ExecuteCommand reports a stopped sandbox as a
// structured result. Every other failure, including engine-level errors, is
// returned to the caller unchanged.
type Adapter struct {
	manager *sandbox.Manager
	log     *slog.Logger
}

// New creates an Adapter over the given Manager.
func New(manager *sandbox.Manager) *Adapter {
	return &Adapter{manager: manager, log: slog.Default().With(slog.String("component", "workspace.Adapter"))}
}

func toView(sb *sandbox.Sandbox) *View {
	portsOut := make(map[string]int, len(sb.Ports))
	for role, port := range sb.Ports {
		portsOut[string(role)] = port
	}
	return &View{
		ID:        sb.ContainerID,
		Name:      sb.ContainerName,
		ProjectID: sb.ProjectID,
		Status:    string(sb.Status),
		URLs:      sb.URLs(),
		Ports:     portsOut,
		CreatedAt: sb.CreatedAt,
	}
}

// CreateWorkspace creates a new sandbox for projectID.
func (a *Adapter) CreateWorkspace(ctx context.Context, projectID string, opts CreateOptions) (*View, error) {
	sb, err := a.manager.Create(ctx, projectID, opts.toSandboxConfig())
	if err != nil {
		return nil, err
	}
	return toView(sb), nil
}

// GetWorkspace returns the view for projectID, or nil (with no error) if
// it doesn't exist.
func (a *Adapter) GetWorkspace(ctx context.Context, projectID string) (*View, error) {
	sb, err := a.manager.Get(ctx, projectID)
	if errors.Is(err, sandbox.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toView(sb), nil
}

// GetOrCreate returns a running workspace for projectID, creating and/or
// starting it as needed.
func (a *Adapter) GetOrCreate(ctx context.Context, projectID string, opts CreateOptions) (*View, error) {
	view, err := a.GetWorkspace(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return a.CreateWorkspace(ctx, projectID, opts)
	}
	if view.Status != string(sandbox.StatusRunning) {
		return a.StartWorkspace(ctx, projectID)
	}
	return view, nil
}

// StartWorkspace starts a stopped sandbox.
func (a *Adapter) StartWorkspace(ctx context.Context, projectID string) (*View, error) {
	sb, err := a.manager.Start(ctx, projectID)
	if err != nil {
		a.log.WarnContext(ctx, "start failed", slog.String("project_id", projectID), slog.Any("err", err))
		return nil, err
	}
	return toView(sb), nil
}

// StopWorkspace stops a running sandbox, returning whether it succeeded.
func (a *Adapter) StopWorkspace(ctx context.Context, projectID string) bool {
	if err := a.manager.Stop(ctx, projectID); err != nil {
		a.log.WarnContext(ctx, "stop failed", slog.String("project_id", projectID), slog.Any("err", err))
		return false
	}
	return true
}

// DeleteWorkspace removes a sandbox entirely, returning whether it
// succeeded.
func (a *Adapter) DeleteWorkspace(ctx context.Context, projectID string) bool {
	if err := a.manager.Delete(ctx, projectID); err != nil {
		a.log.WarnContext(ctx, "delete failed", slog.String("project_id", projectID), slog.Any("err", err))
		return false
	}
	return true
}

// ListWorkspaces returns every known sandbox.
func (a *Adapter) ListWorkspaces(ctx context.Context) ([]*View, error) {
	sandboxes, err := a.manager.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*View, 0, len(sandboxes))
	for _, sb := range sandboxes {
		out = append(out, toView(sb))
	}
	return out, nil
}

// ExecuteCommand runs cmd inside the project's sandbox. If the sandbox is
// not running, it returns a structured failure without attempting exec, per
// SPEC_FULL.md §4.4.
func (a *Adapter) ExecuteCommand(ctx context.Context, projectID, cmd, workdir string) (*ExecResult, error) {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if sb.Status != sandbox.StatusRunning {
		return &ExecResult{
			ExitCode: -1,
			Success:  false,
			Stderr:   fmt.Sprintf("Container is not running (status: %s)", sb.Status),
		}, nil
	}

	if workdir == "" {
		workdir = defaultWorkdir
	}

	res, err := a.exec(ctx, sb, []string{"sh", "-c", cmd}, workdir)
	if err != nil {
		return nil, err
	}
	return &ExecResult{
		ExitCode: res.ExitCode,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		Success:  res.ExitCode == 0,
	}, nil
}

func (a *Adapter) exec(ctx context.Context, sb *sandbox.Sandbox, cmd []string, workdir string) (*engine.ExecResult, error) {
	return a.manager.ExecIn(ctx, sb, cmd, workdir, []string{
		"DISPLAY=" + fixedDisplay,
		"PYTHONUNBUFFERED=" + fixedPyUnbuf,
	})
}

// UploadFile packs localPath's bytes into a single-entry tar and writes it
// into the sandbox at remotePath.
func (a *Adapter) UploadFile(ctx context.Context, projectID, localPath, remotePath string) error {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file %s: %w", localPath, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filepath.Base(remotePath),
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	return a.manager.PutArchive(ctx, sb, filepath.Dir(remotePath), &buf)
}

// DownloadFile reads remotePath from the sandbox and writes its contents
// to localPath, creating parent directories as needed.
func (a *Adapter) DownloadFile(ctx context.Context, projectID, remotePath, localPath string) error {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return err
	}

	rc, err := a.manager.GetArchive(ctx, sb, remotePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	if _, err := tr.Next(); err != nil {
		return fmt.Errorf("read tar member: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, tr); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

// ListFiles lists the contents of path inside the sandbox, ensuring it
// exists first.
func (a *Adapter) ListFiles(ctx context.Context, projectID, path string) ([]FileInfo, error) {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if _, err := a.exec(ctx, sb, []string{"mkdir", "-p", path}, defaultWorkdir); err != nil {
		return nil, err
	}

	res, err := a.exec(ctx, sb, []string{"ls", "-la", path}, defaultWorkdir)
	if err != nil {
		return nil, err
	}

	return parseLongListing(path, string(res.Stdout)), nil
}

func parseLongListing(basePath, output string) []FileInfo {
	var out []FileInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		typ := "file"
		if strings.HasPrefix(fields[0], "d") {
			typ = "directory"
		}
		out = append(out, FileInfo{
			Name:        name,
			Path:        filepath.Join(basePath, name),
			Size:        size,
			Modified:    strings.Join(fields[5:8], " "),
			Permissions: fields[0],
			Type:        typ,
		})
	}
	return out
}

// CreateDirectory creates path (and parents) inside the sandbox.
func (a *Adapter) CreateDirectory(ctx context.Context, projectID, path string) error {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return err
	}
	_, err = a.exec(ctx, sb, []string{"mkdir", "-p", path}, defaultWorkdir)
	return err
}

// HealthCheck reports whether the sandbox is running and each internal
// service role answers a TCP probe.
func (a *Adapter) HealthCheck(ctx context.Context, projectID string) (*Health, error) {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	h := &Health{Roles: map[string]bool{}}
	if sb.Status != sandbox.StatusRunning {
		return h, nil
	}

	allReady := true
	for role, internalPort := range map[ports.Role]int{
		ports.RoleVNC:        5901,
		ports.RoleNoVNC:      6080,
		ports.RoleBrowserAPI: 7788,
		ports.RoleFileServer: 8080,
	} {
		res, err := a.exec(ctx, sb, []string{"nc", "-z", "localhost", strconv.Itoa(internalPort)}, defaultWorkdir)
		ready := err == nil && res.ExitCode == 0
		h.Roles[string(role)] = ready
		if !ready {
			allReady = false
		}
	}
	h.Healthy = allReady
	return h, nil
}

// WaitHealthy polls HealthCheck until it reports healthy or timeout
// elapses, returning the last observed snapshot either way. This is the
// supplemental helper noted in SPEC_FULL.md §9/§12 for callers that need a
// hard readiness guarantee rather than Create's soft-ready default.
func (a *Adapter) WaitHealthy(ctx context.Context, projectID string, timeout time.Duration) (*Health, error) {
	deadline := time.Now().Add(timeout)
	for {
		h, err := a.HealthCheck(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if h.Healthy || time.Now().After(deadline) {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return h, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// GetWorkspaceInfo merges the sandbox view with a small diagnostic
// command's output.
func (a *Adapter) GetWorkspaceInfo(ctx context.Context, projectID string) (*View, string, error) {
	sb, err := a.manager.Get(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	res, err := a.exec(ctx, sb, []string{"sh", "-c", "uname -a && df -h /workspace"}, defaultWorkdir)
	if err != nil {
		return toView(sb), "", err
	}
	return toView(sb), string(res.Stdout), nil
}
