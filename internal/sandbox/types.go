// Package sandbox is the authoritative lifecycle owner for per-project
// containerized workspaces: it creates, recovers, probes, and reclaims
// them, keyed by project_id.
package sandbox

import (
	"errors"
	"strconv"
	"time"

	"github.com/jyf2100/agent-sandbox/internal/ports"
)

// Fixed internal container ports for each service role.
const (
	internalVNC        = 5901
	internalNoVNC      = 6080
	internalBrowserAPI = 7788
	internalFileServer = 8080
)

var roleByInternalPort = map[int]ports.Role{
	internalVNC:        ports.RoleVNC,
	internalNoVNC:      ports.RoleNoVNC,
	internalBrowserAPI: ports.RoleBrowserAPI,
	internalFileServer: ports.RoleFileServer,
}

// Label keys persisted on every sandbox container; together they form the
// sole recovery record across orchestrator restarts.
const (
	LabelProjectID = "suna.project_id"
	LabelCreatedAt = "suna.created_at"
	LabelAutoStop  = "suna.auto_stop_at"
)

const (
	containerNamePrefix = "suna-sandbox-"
	volumeNamePrefix    = "suna-workspace-"
	workspaceMountPath  = "/workspace"
)

// ContainerName returns the deterministic container name for a project.
func ContainerName(projectID string) string {
	return containerNamePrefix + projectID
}

// VolumeName returns the deterministic volume name for a project.
func VolumeName(projectID string) string {
	return volumeNamePrefix + projectID
}

// Status mirrors the lifecycle states driven by Manager operations.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusRemoved Status = "removed"
)

// Config is the immutable per-sandbox configuration supplied at create
// time. Unknown keys at the HTTP façade produce a validation error rather
// than being silently ignored, per the closed-struct design in SPEC_FULL.md.
type Config struct {
	VNCPassword   string
	Resolution    string // e.g. "1024x768x24"
	CPULimit      float64
	MemoryLimit   string // e.g. "4g"
	AutoStopHours int
}

// DefaultConfig returns the documented defaults for every Config field.
func DefaultConfig() Config {
	return Config{
		VNCPassword:   "vncpassword",
		Resolution:    "1024x768x24",
		CPULimit:      2,
		MemoryLimit:   "4g",
		AutoStopHours: 24,
	}
}

// Sandbox is the composed view of a single project's container.
type Sandbox struct {
	ProjectID     string
	ContainerID   string
	ContainerName string
	VolumeName    string
	Ports         map[ports.Role]int
	Config        Config
	Status        Status
	CreatedAt     time.Time
	AutoStopAt    time.Time
}

// URLs derives the client-facing service URLs for a sandbox's ports, per
// SPEC_FULL.md §4.3.3. The vnc scheme is documentational only.
func (s *Sandbox) URLs() map[string]string {
	return map[string]string{
		"vnc":         "vnc://localhost:" + strconv.Itoa(s.Ports[ports.RoleVNC]),
		"novnc":       "http://localhost:" + strconv.Itoa(s.Ports[ports.RoleNoVNC]),
		"browser_api": "http://localhost:" + strconv.Itoa(s.Ports[ports.RoleBrowserAPI]),
		"file_server": "http://localhost:" + strconv.Itoa(s.Ports[ports.RoleFileServer]),
	}
}

// Error kinds returned by Manager operations, per SPEC_FULL.md §7.
var (
	ErrNotFound         = errors.New("sandbox: not found")
	ErrAlreadyExists    = errors.New("sandbox: already exists")
	ErrPortsExhausted   = errors.New("sandbox: ports exhausted")
	ErrReadinessTimeout = errors.New("sandbox: readiness timeout")
)
