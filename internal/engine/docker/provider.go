// Package docker implements engine.Client against a local Docker daemon.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	networktypes "github.com/docker/docker/api/types/network"
	volumetypes "github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/jyf2100/agent-sandbox/internal/engine"
)

// Provider implements engine.Client against the Docker Engine API.
type Provider struct {
	cli *client.Client

	mu  sync.RWMutex
	ids map[string]string // container name -> container ID, populated lazily
}

// New creates a Provider using the given Docker host address. An empty host
// lets the SDK auto-detect (unix socket on Linux/macOS, named pipe on
// Windows).
func New(host string) (*Provider, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
	}
	return &Provider{cli: cli, ids: make(map[string]string)}, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	if _, err := p.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
	}
	return nil
}

func (p *Provider) Close() error {
	return p.cli.Close()
}

// EnsureBridge creates a bridge network with the given name if absent.
func (p *Provider) EnsureBridge(ctx context.Context, name string) error {
	if _, err := p.cli.NetworkInspect(ctx, name, networktypes.InspectOptions{}); err == nil {
		return nil
	} else if !cerrdefs.IsNotFound(err) {
		log.Printf("docker: network inspect %s failed, attempting create anyway: %v", name, err)
	}

	_, err := p.cli.NetworkCreate(ctx, name, networktypes.CreateOptions{Driver: "bridge"})
	if err != nil && !cerrdefs.IsConflict(err) {
		return fmt.Errorf("%w: create network %s: %v", engine.ErrEngineOperationFailed, name, err)
	}
	return nil
}

// EnsureNamed creates a named volume with the given labels if absent.
func (p *Provider) EnsureNamed(ctx context.Context, name string, labels map[string]string) error {
	if _, err := p.cli.VolumeInspect(ctx, name); err == nil {
		return nil
	} else if !cerrdefs.IsNotFound(err) {
		log.Printf("docker: volume inspect %s failed, attempting create anyway: %v", name, err)
	}

	_, err := p.cli.VolumeCreate(ctx, volumetypes.CreateOptions{Name: name, Labels: labels})
	if err != nil {
		return fmt.Errorf("%w: create volume %s: %v", engine.ErrEngineOperationFailed, name, err)
	}
	return nil
}

func (p *Provider) RemoveVolume(ctx context.Context, name string) error {
	err := p.cli.VolumeRemove(ctx, name, true)
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: remove volume %s: %v", engine.ErrEngineOperationFailed, name, err)
	}
	return nil
}

// Run creates and starts a container from spec.
func (p *Provider) Run(ctx context.Context, spec engine.ContainerSpec) (*engine.Container, error) {
	if existing, err := p.cli.ContainerInspect(ctx, spec.Name); err == nil {
		return nil, fmt.Errorf("%w: container %s", engine.ErrAlreadyExists, existing.Name)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range spec.PortBindings {
		port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(hostPort),
		}}
	}

	var mounts []mount.Mount
	for _, v := range spec.VolumeMounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   v.VolumeName,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}
	for _, b := range spec.BindMounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   b.Source,
			Target:   b.Target,
			ReadOnly: b.ReadOnly,
		})
	}

	containerConfig := &containertypes.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		Hostname:     spec.Hostname,
		ExposedPorts: exposed,
	}

	hostConfig := &containertypes.HostConfig{
		Mounts:        mounts,
		CapAdd:        spec.CapAdd,
		PortBindings:  bindings,
		RestartPolicy: containertypes.RestartPolicy{Name: containertypes.RestartPolicyMode(spec.RestartPolicy)},
		ShmSize:       spec.ShmSizeBytes,
	}
	if spec.SeccompUnconf {
		hostConfig.SecurityOpt = []string{"seccomp=unconfined"}
	}
	if spec.Network != "" {
		hostConfig.NetworkMode = containertypes.NetworkMode(spec.Network)
	}
	if spec.MemoryBytes > 0 {
		hostConfig.Memory = spec.MemoryBytes
	}
	if spec.CPUCount > 0 {
		hostConfig.NanoCPUs = int64(spec.CPUCount * 1e9)
	}

	resp, err := p.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: create container %s: %v", engine.ErrEngineOperationFailed, spec.Name, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: start container %s: %v", engine.ErrEngineOperationFailed, spec.Name, err)
	}

	p.mu.Lock()
	p.ids[spec.Name] = resp.ID
	p.mu.Unlock()

	return p.Inspect(ctx, resp.ID)
}

func (p *Provider) Get(ctx context.Context, name string) (*engine.Container, error) {
	id, err := p.resolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	return p.Inspect(ctx, id)
}

func (p *Provider) resolveID(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	id, cached := p.ids[name]
	p.mu.RUnlock()
	if cached {
		return id, nil
	}

	info, err := p.cli.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", fmt.Errorf("%w: container %s", engine.ErrNotFound, name)
		}
		return "", fmt.Errorf("%w: inspect %s: %v", engine.ErrEngineOperationFailed, name, err)
	}

	p.mu.Lock()
	p.ids[name] = info.ID
	p.mu.Unlock()
	return info.ID, nil
}

func (p *Provider) List(ctx context.Context, labelSelector map[string]string) ([]*engine.Container, error) {
	args := filters.NewArgs()
	for k, v := range labelSelector {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	summaries, err := p.cli.ContainerList(ctx, containertypes.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("%w: list containers: %v", engine.ErrEngineOperationFailed, err)
	}

	out := make([]*engine.Container, 0, len(summaries))
	for _, s := range summaries {
		c, err := p.Inspect(ctx, s.ID)
		if err != nil {
			log.Printf("docker: inspect during list failed for %s: %v", s.ID, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Provider) Inspect(ctx context.Context, id string) (*engine.Container, error) {
	info, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: container %s", engine.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: inspect %s: %v", engine.ErrEngineOperationFailed, id, err)
	}

	status := engine.StatusUnknown
	switch {
	case info.State == nil:
	case info.State.Running:
		status = engine.StatusRunning
	case info.State.Status == "created":
		status = engine.StatusCreated
	default:
		status = engine.StatusExited
	}

	ports := map[int]int{}
	for containerPort, bindings := range info.NetworkSettings.Ports {
		if len(bindings) == 0 {
			continue
		}
		cp := containerPort.Int()
		hp, err := strconv.Atoi(bindings[0].HostPort)
		if err != nil {
			continue
		}
		ports[cp] = hp
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, info.Created)

	name := strings.TrimPrefix(info.Name, "/")
	return &engine.Container{
		ID:        info.ID,
		Name:      name,
		Status:    status,
		Image:     info.Config.Image,
		Labels:    info.Config.Labels,
		Ports:     ports,
		CreatedAt: createdAt,
	}, nil
}

func (p *Provider) Start(ctx context.Context, id string) error {
	if err := p.cli.ContainerStart(ctx, id, containertypes.StartOptions{}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: container %s", engine.ErrNotFound, id)
		}
		return fmt.Errorf("%w: start %s: %v", engine.ErrEngineOperationFailed, id, err)
	}
	return nil
}

func (p *Provider) Stop(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	err := p.cli.ContainerStop(ctx, id, containertypes.StopOptions{Timeout: &seconds})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: stop %s: %v", engine.ErrEngineOperationFailed, id, err)
	}
	return nil
}

func (p *Provider) Remove(ctx context.Context, id string, force bool) error {
	err := p.cli.ContainerRemove(ctx, id, containertypes.RemoveOptions{Force: force, RemoveVolumes: false})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: remove %s: %v", engine.ErrEngineOperationFailed, id, err)
	}
	return nil
}

func (p *Provider) Exec(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
	execConfig := containertypes.ExecOptions{
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := p.cli.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: container %s", engine.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: exec create %s: %v", engine.ErrEngineOperationFailed, id, err)
	}

	attach, err := p.cli.ContainerExecAttach(ctx, created.ID, containertypes.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: exec attach %s: %v", engine.ErrEngineOperationFailed, id, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: exec demux %s: %v", engine.ErrEngineOperationFailed, id, err)
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: exec inspect %s: %v", engine.ErrEngineOperationFailed, id, err)
	}

	return &engine.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

func (p *Provider) GetArchive(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := p.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s:%s", engine.ErrNotFound, id, path)
		}
		return nil, fmt.Errorf("%w: get archive %s:%s: %v", engine.ErrEngineOperationFailed, id, path, err)
	}
	return rc, nil
}

func (p *Provider) PutArchive(ctx context.Context, id, path string, tar io.Reader) error {
	err := p.cli.CopyToContainer(ctx, id, path, tar, containertypes.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("%w: put archive %s:%s: %v", engine.ErrEngineOperationFailed, id, path, err)
	}
	return nil
}

var _ engine.Client = (*Provider)(nil)
