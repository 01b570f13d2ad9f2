// Package engine abstracts a local container engine (Docker) behind a
// sandbox-shaped interface: networks, named volumes, and containers with
// exec and archive transfer, with no sandbox-lifecycle semantics of its own.
package engine

import (
	"context"
	"io"
	"time"
)

// Client is the full engine surface the Sandbox Manager depends on.
type Client interface {
	// Ping verifies connectivity to the engine.
	Ping(ctx context.Context) error

	// Close releases any resources held by the client.
	Close() error

	Networks
	Volumes
	Containers
}

// Networks manages container networks.
type Networks interface {
	// EnsureBridge creates a bridge network with the given name if one
	// does not already exist. Idempotent.
	EnsureBridge(ctx context.Context, name string) error
}

// Volumes manages named persistent volumes.
type Volumes interface {
	// EnsureNamed creates a named volume with the given labels if one
	// does not already exist. Idempotent.
	EnsureNamed(ctx context.Context, name string, labels map[string]string) error

	// RemoveVolume removes a named volume. Returns nil if the volume is
	// already gone.
	RemoveVolume(ctx context.Context, name string) error
}

// Containers manages container lifecycle, exec, and archive transfer.
type Containers interface {
	// Run creates and starts a container from spec, returning its handle.
	Run(ctx context.Context, spec ContainerSpec) (*Container, error)

	// Get returns the container registered under name, or ErrNotFound.
	Get(ctx context.Context, name string) (*Container, error)

	// List returns containers whose labels contain every key/value pair
	// in labelSelector.
	List(ctx context.Context, labelSelector map[string]string) ([]*Container, error)

	// Inspect refreshes a container's status, ports, and labels.
	Inspect(ctx context.Context, id string) (*Container, error)

	// Start starts a previously created or stopped container.
	Start(ctx context.Context, id string) error

	// Stop stops a running container. Idempotent: stopping an
	// already-stopped container is not an error.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	// Remove removes a container. If force is true, a running container
	// is stopped first.
	Remove(ctx context.Context, id string, force bool) error

	// Exec runs a non-interactive command and waits for it to finish.
	Exec(ctx context.Context, id string, opts ExecOptions) (*ExecResult, error)

	// GetArchive returns a tar stream of the file or directory at path
	// inside the container.
	GetArchive(ctx context.Context, id, path string) (io.ReadCloser, error)

	// PutArchive writes a tar stream into the container rooted at path.
	PutArchive(ctx context.Context, id, path string, tar io.Reader) error
}

// ContainerSpec describes the container to create in Run.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Labels        map[string]string
	PortBindings  map[int]int // container port -> host port
	VolumeMounts  []VolumeMount
	BindMounts    []BindMount
	ShmSizeBytes  int64
	CapAdd        []string
	SeccompUnconf bool
	RestartPolicy string // e.g. "unless-stopped"
	Network       string
	MemoryBytes   int64
	CPUCount      float64
	Hostname      string
}

// VolumeMount mounts a named volume into the container.
type VolumeMount struct {
	VolumeName string
	Target     string
	ReadOnly   bool
}

// BindMount mounts a host path into the container.
type BindMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Container is a handle to a created container plus its observed state.
type Container struct {
	ID        string
	Name      string
	Status    Status
	Image     string
	Labels    map[string]string
	Ports     map[int]int // container port -> host port
	CreatedAt time.Time
}

// Status is the lifecycle state of a container as reported by the engine.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusUnknown Status = "unknown"
)

// ExecOptions configures a non-interactive command execution.
type ExecOptions struct {
	Cmd     []string
	WorkDir string
	Env     []string
}

// ExecResult is the outcome of a non-interactive command execution.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}
