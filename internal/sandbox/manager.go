package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jyf2100/agent-sandbox/internal/engine"
	"github.com/jyf2100/agent-sandbox/internal/ports"
)

// Fixed environment and resource parameters shared by every sandbox
// container, per SPEC_FULL.md §4.3.
const (
	envWorkspacePath        = "/workspace"
	envDisplay              = ":99"
	envChromePersistSession = "true"
	shmSizeBytes            = 2 << 30 // 2g
	capSysAdmin             = "SYS_ADMIN"
	restartPolicyUnlessStop = "unless-stopped"
)

// Manager owns the sandbox lifecycle for a single process. The in-memory
// cache is a performance/consistency convenience; engine container labels
// remain the source of truth and are what recovery reads from.
type Manager struct {
	client    engine.Client
	allocator *ports.Allocator
	image     string
	network   string

	cacheMu sync.Mutex
	cache   map[string]*Sandbox
	locks   map[string]*sync.Mutex // per-project reconstruction locks

	sweepMu      sync.Mutex
	sweepRunning bool
	sweepStop    chan struct{}
	sweepDone    chan struct{}
	sweepOnce    sync.Once

	log *slog.Logger
}

// NewManager constructs a Manager. image is the sandbox container image;
// network is the shared bridge network name, created by Init.
func NewManager(client engine.Client, allocator *ports.Allocator, image, network string) *Manager {
	return &Manager{
		client:    client,
		allocator: allocator,
		image:     image,
		network:   network,
		cache:     make(map[string]*Sandbox),
		locks:     make(map[string]*sync.Mutex),
		log:       slog.Default().With(slog.String("component", "sandbox.Manager")),
	}
}

// Init ensures the shared bridge network exists. Call once at startup.
func (m *Manager) Init(ctx context.Context) error {
	return m.client.EnsureBridge(ctx, m.network)
}

func (m *Manager) projectLock(projectID string) *sync.Mutex {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	l, ok := m.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[projectID] = l
	}
	return l
}

// Create allocates ports, creates the volume and container, and runs the
// readiness probe for a new project. It fails with ErrAlreadyExists if the
// project is already known, either in cache or by container name.
func (m *Manager) Create(ctx context.Context, projectID string, cfg Config) (*Sandbox, error) {
	pl := m.projectLock(projectID)
	pl.Lock()
	defer pl.Unlock()

	m.cacheMu.Lock()
	_, cached := m.cache[projectID]
	m.cacheMu.Unlock()
	if cached {
		return nil, fmt.Errorf("%w: project %s", ErrAlreadyExists, projectID)
	}

	name := ContainerName(projectID)
	if _, err := m.client.Get(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: project %s", ErrAlreadyExists, projectID)
	}

	assigned, err := m.allocator.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortsExhausted, err)
	}

	volName := VolumeName(projectID)
	if err := m.client.EnsureNamed(ctx, volName, map[string]string{
		LabelProjectID: projectID,
	}); err != nil {
		m.allocator.Release(assigned)
		return nil, err
	}

	now := time.Now().UTC()
	autoStopAt := now.Add(time.Duration(cfg.AutoStopHours) * time.Hour)

	spec := m.buildSpec(projectID, name, volName, cfg, assigned, now, autoStopAt)

	cont, err := m.client.Run(ctx, spec)
	if err != nil {
		m.allocator.Release(assigned)
		m.removeOrphan(ctx, projectID, name)
		return nil, err
	}

	sb := &Sandbox{
		ProjectID:     projectID,
		ContainerID:   cont.ID,
		ContainerName: name,
		VolumeName:    volName,
		Ports:         assigned,
		Config:        cfg,
		Status:        StatusRunning,
		CreatedAt:     now,
		AutoStopAt:    autoStopAt,
	}

	if err := m.waitReady(ctx, sb); err != nil {
		m.log.WarnContext(ctx, "readiness probe did not complete, returning soft-ready sandbox",
			slog.String("project_id", projectID), slog.Any("err", err))
	}

	m.cacheMu.Lock()
	m.cache[projectID] = sb
	m.cacheMu.Unlock()

	return sb, nil
}

func (m *Manager) buildSpec(projectID, name, volName string, cfg Config, assigned map[ports.Role]int, now, autoStopAt time.Time) engine.ContainerSpec {
	width, height := splitResolution(cfg.Resolution)

	env := []string{
		"VNC_PASSWORD=" + cfg.VNCPassword,
		"RESOLUTION=" + cfg.Resolution,
		"RESOLUTION_WIDTH=" + width,
		"RESOLUTION_HEIGHT=" + height,
		"WORKSPACE_PATH=" + envWorkspacePath,
		"DISPLAY=" + envDisplay,
		"CHROME_PERSISTENT_SESSION=" + envChromePersistSession,
	}

	portBindings := map[int]int{
		internalVNC:        assigned[ports.RoleVNC],
		internalNoVNC:      assigned[ports.RoleNoVNC],
		internalBrowserAPI: assigned[ports.RoleBrowserAPI],
		internalFileServer: assigned[ports.RoleFileServer],
	}

	return engine.ContainerSpec{
		Name:  name,
		Image: m.image,
		Env:   env,
		Labels: map[string]string{
			LabelProjectID: projectID,
			LabelCreatedAt: now.Format(time.RFC3339),
			LabelAutoStop:  autoStopAt.Format(time.RFC3339),
		},
		PortBindings: portBindings,
		VolumeMounts: []engine.VolumeMount{
			{VolumeName: volName, Target: workspaceMountPath},
		},
		ShmSizeBytes:  shmSizeBytes,
		CapAdd:        []string{capSysAdmin},
		SeccompUnconf: true,
		RestartPolicy: restartPolicyUnlessStop,
		Network:       m.network,
		MemoryBytes:   parseMemoryLimit(cfg.MemoryLimit),
		CPUCount:      cfg.CPULimit,
	}
}

// removeOrphan attempts to remove a container left behind by a failed Run
// call, per SPEC_FULL.md §4.3's Create failure discipline. Best effort: a
// failed lookup (e.g. the container was never created) is ignored silently,
// and a removal error is logged and swallowed, so the original Run error is
// what propagates.
func (m *Manager) removeOrphan(ctx context.Context, projectID, name string) {
	cont, err := m.client.Get(ctx, name)
	if err != nil {
		return
	}
	if err := m.client.Remove(ctx, cont.ID, true); err != nil {
		m.log.WarnContext(ctx, "best-effort container remove after failed Run also failed",
			slog.String("project_id", projectID), slog.Any("err", err))
	}
}

func splitResolution(res string) (width, height string) {
	parts := strings.SplitN(res, "x", 3)
	if len(parts) < 2 {
		return "1024", "768"
	}
	return parts[0], parts[1]
}

// parseMemoryLimit parses Docker-style shorthand ("4g", "512m") into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 0
	}
	suffix := s[len(s)-1]
	var mult int64 = 1
	numPart := s
	switch suffix {
	case 'g', 'G':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'k', 'K':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0
	}
	return n * mult
}

// Get resolves a project's sandbox, reconstructing it from the container
// engine if it is not already cached. Cache reconstruction is guarded per
// project to avoid double-reserving ports on concurrent cache misses.
func (m *Manager) Get(ctx context.Context, projectID string) (*Sandbox, error) {
	m.cacheMu.Lock()
	sb, ok := m.cache[projectID]
	m.cacheMu.Unlock()
	if ok {
		return m.refresh(ctx, sb)
	}

	pl := m.projectLock(projectID)
	pl.Lock()
	defer pl.Unlock()

	// Re-check after acquiring the lock; another goroutine may have
	// reconstructed the entry while we waited.
	m.cacheMu.Lock()
	sb, ok = m.cache[projectID]
	m.cacheMu.Unlock()
	if ok {
		return m.refresh(ctx, sb)
	}

	return m.recover(ctx, projectID)
}

func (m *Manager) refresh(ctx context.Context, sb *Sandbox) (*Sandbox, error) {
	cont, err := m.client.Inspect(ctx, sb.ContainerID)
	if err != nil {
		return nil, err
	}
	sb.Status = statusFromEngine(cont.Status)
	return sb, nil
}

func statusFromEngine(s engine.Status) Status {
	switch s {
	case engine.StatusRunning:
		return StatusRunning
	case engine.StatusCreated:
		return StatusCreated
	default:
		return StatusExited
	}
}

// recover reconstructs a cache entry from container labels, per
// SPEC_FULL.md §4.3.1. Every host port discovered is reserved in the
// allocator so it cannot be handed out again.
func (m *Manager) recover(ctx context.Context, projectID string) (*Sandbox, error) {
	name := ContainerName(projectID)
	cont, err := m.client.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if cont.Labels[LabelProjectID] != projectID {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}

	assigned := make(map[ports.Role]int, len(roleByInternalPort))
	for internalPort, hostPort := range cont.Ports {
		role, ok := roleByInternalPort[internalPort]
		if !ok {
			continue
		}
		assigned[role] = hostPort
		m.allocator.Reserve(role, hostPort)
	}

	createdAt, _ := time.Parse(time.RFC3339, cont.Labels[LabelCreatedAt])
	autoStopAt, autoStopErr := time.Parse(time.RFC3339, cont.Labels[LabelAutoStop])
	if autoStopErr != nil {
		m.log.WarnContext(ctx, "malformed auto_stop_at label during recovery",
			slog.String("project_id", projectID), slog.String("raw", cont.Labels[LabelAutoStop]))
	}

	sb := &Sandbox{
		ProjectID:     projectID,
		ContainerID:   cont.ID,
		ContainerName: name,
		VolumeName:    VolumeName(projectID),
		Ports:         assigned,
		Status:        statusFromEngine(cont.Status),
		CreatedAt:     createdAt,
		AutoStopAt:    autoStopAt,
	}

	m.cacheMu.Lock()
	m.cache[projectID] = sb
	m.cacheMu.Unlock()

	return sb, nil
}

// Start starts a sandbox if it is not already running. Idempotent.
func (m *Manager) Start(ctx context.Context, projectID string) (*Sandbox, error) {
	sb, err := m.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if sb.Status == StatusRunning {
		return sb, nil
	}

	if err := m.client.Start(ctx, sb.ContainerID); err != nil {
		return nil, err
	}
	sb.Status = StatusRunning

	if err := m.waitReady(ctx, sb); err != nil {
		m.log.WarnContext(ctx, "readiness probe did not complete after start",
			slog.String("project_id", projectID), slog.Any("err", err))
	}
	return sb, nil
}

// Stop stops a sandbox's container. The volume, ports, and cache entry are
// retained so the sandbox can be restarted later.
func (m *Manager) Stop(ctx context.Context, projectID string) error {
	sb, err := m.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if err := m.client.Stop(ctx, sb.ContainerID, 30*time.Second); err != nil {
		return err
	}
	sb.Status = StatusExited
	return nil
}

// Delete stops (best effort), removes the container and volume, releases
// ports, and drops the cache entry. Calling Delete on an already-deleted
// project returns ErrNotFound without side effects, making it safe to call
// repeatedly.
func (m *Manager) Delete(ctx context.Context, projectID string) error {
	sb, err := m.Get(ctx, projectID)
	if err != nil {
		return err
	}

	if err := m.client.Stop(ctx, sb.ContainerID, 30*time.Second); err != nil {
		m.log.WarnContext(ctx, "stop before delete failed, continuing",
			slog.String("project_id", projectID), slog.Any("err", err))
	}
	if err := m.client.Remove(ctx, sb.ContainerID, true); err != nil {
		return err
	}
	if err := m.client.RemoveVolume(ctx, sb.VolumeName); err != nil {
		m.log.WarnContext(ctx, "volume removal failed",
			slog.String("project_id", projectID), slog.Any("err", err))
	}

	m.allocator.Release(sb.Ports)

	m.cacheMu.Lock()
	delete(m.cache, projectID)
	delete(m.locks, projectID)
	m.cacheMu.Unlock()

	return nil
}

// List enumerates every sandbox the container engine knows about via the
// suna.project_id label, refreshing status for each.
func (m *Manager) List(ctx context.Context) ([]*Sandbox, error) {
	// The engine selector matches on exact key=value pairs, not key
	// presence, so list everything and filter client-side on whichever
	// containers carry a non-empty suna.project_id label.
	conts, err := m.client.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	var out []*Sandbox
	seen := make(map[string]bool)
	for _, cont := range conts {
		projectID := cont.Labels[LabelProjectID]
		if projectID == "" || seen[projectID] {
			continue
		}
		seen[projectID] = true
		sb, err := m.Get(ctx, projectID)
		if err != nil {
			m.log.WarnContext(ctx, "list: get failed for discovered project",
				slog.String("project_id", projectID), slog.Any("err", err))
			continue
		}
		out = append(out, sb)
	}
	return out, nil
}

// CleanupExpired removes every sandbox whose auto_stop_at label has
// passed. Malformed timestamps are logged and skipped rather than treated
// as expired.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	sandboxes, err := m.List(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, sb := range sandboxes {
		if sb.AutoStopAt.IsZero() {
			continue
		}
		if sb.AutoStopAt.After(now) {
			continue
		}
		if err := m.Delete(ctx, sb.ProjectID); err != nil {
			m.log.ErrorContext(ctx, "cleanup: delete failed",
				slog.String("project_id", sb.ProjectID), slog.Any("err", err))
		}
	}
	return nil
}

// StartCleanupSweep launches the background reclamation sweep as a
// supervised goroutine running CleanupExpired on interval, backing off to
// errBackoff after a failed pass. It must not be called concurrently with
// itself; a second call while one sweep is already running is a no-op.
func (m *Manager) StartCleanupSweep(interval, errBackoff time.Duration) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	if m.sweepRunning {
		return
	}
	m.sweepRunning = true
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})
	m.sweepOnce = sync.Once{}

	go m.runCleanupSweep(interval, errBackoff)
}

func (m *Manager) runCleanupSweep(interval, errBackoff time.Duration) {
	defer close(m.sweepDone)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			err := m.CleanupExpired(ctx)
			cancel()

			next := interval
			if err != nil {
				m.log.Error("cleanup sweep failed, backing off", slog.Any("err", err))
				next = errBackoff
			}
			timer.Reset(next)
		}
	}
}

// StopCleanupSweep stops the background reclamation sweep and waits for
// the current pass, if any, to finish.
func (m *Manager) StopCleanupSweep() {
	m.sweepMu.Lock()
	running := m.sweepRunning
	stop := m.sweepStop
	done := m.sweepDone
	m.sweepRunning = false
	m.sweepMu.Unlock()

	if !running {
		return
	}
	m.sweepOnce.Do(func() { close(stop) })
	<-done
}

// ExecIn runs cmd inside an already-resolved sandbox. It exists so the
// Workspace Adapter can exec without reaching into the engine client
// directly, keeping the Manager as the sole owner of container handles.
func (m *Manager) ExecIn(ctx context.Context, sb *Sandbox, cmd []string, workdir string, env []string) (*engine.ExecResult, error) {
	return m.client.Exec(ctx, sb.ContainerID, engine.ExecOptions{
		Cmd:     cmd,
		WorkDir: workdir,
		Env:     env,
	})
}

// PutArchive writes a tar stream into the sandbox rooted at path.
func (m *Manager) PutArchive(ctx context.Context, sb *Sandbox, path string, tar io.Reader) error {
	return m.client.PutArchive(ctx, sb.ContainerID, path, tar)
}

// GetArchive returns a tar stream of path inside the sandbox.
func (m *Manager) GetArchive(ctx context.Context, sb *Sandbox, path string) (io.ReadCloser, error) {
	return m.client.GetArchive(ctx, sb.ContainerID, path)
}
