// Package mock provides an in-memory engine.Client test double.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jyf2100/agent-sandbox/internal/engine"
)

// Client is an in-memory engine.Client. Each *Func field, if set, is
// checked before falling back to the default in-memory behavior, letting
// tests override a single operation without reimplementing the rest.
type Client struct {
	PingFunc       func(ctx context.Context) error
	RunFunc        func(ctx context.Context, spec engine.ContainerSpec) (*engine.Container, error)
	ExecFunc       func(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error)
	GetArchiveFunc func(ctx context.Context, id, path string) (io.ReadCloser, error)
	PutArchiveFunc func(ctx context.Context, id, path string, tar io.Reader) error

	mu         sync.RWMutex
	containers map[string]*engine.Container // keyed by name
	volumes    map[string]bool
	networks   map[string]bool
}

// New creates an empty in-memory Client.
func New() *Client {
	return &Client{
		containers: make(map[string]*engine.Container),
		volumes:    make(map[string]bool),
		networks:   make(map[string]bool),
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.PingFunc != nil {
		return c.PingFunc(ctx)
	}
	return nil
}

func (c *Client) Close() error { return nil }

func (c *Client) EnsureBridge(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networks[name] = true
	return nil
}

func (c *Client) EnsureNamed(ctx context.Context, name string, labels map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volumes[name] = true
	return nil
}

func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.volumes, name)
	return nil
}

func (c *Client) Run(ctx context.Context, spec engine.ContainerSpec) (*engine.Container, error) {
	if c.RunFunc != nil {
		return c.RunFunc(ctx, spec)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.containers[spec.Name]; exists {
		return nil, fmt.Errorf("%w: container %s", engine.ErrAlreadyExists, spec.Name)
	}

	ports := make(map[int]int, len(spec.PortBindings))
	for cp, hp := range spec.PortBindings {
		ports[cp] = hp
	}

	cont := &engine.Container{
		ID:        "mock-" + spec.Name,
		Name:      spec.Name,
		Status:    engine.StatusRunning,
		Image:     spec.Image,
		Labels:    spec.Labels,
		Ports:     ports,
		CreatedAt: time.Now(),
	}
	c.containers[spec.Name] = cont
	return cont, nil
}

func (c *Client) Get(ctx context.Context, name string) (*engine.Container, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cont, ok := c.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: container %s", engine.ErrNotFound, name)
	}
	return cont, nil
}

func (c *Client) List(ctx context.Context, labelSelector map[string]string) ([]*engine.Container, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*engine.Container
	for _, cont := range c.containers {
		if matchesLabels(cont.Labels, labelSelector) {
			out = append(out, cont)
		}
	}
	return out, nil
}

func matchesLabels(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func (c *Client) Inspect(ctx context.Context, id string) (*engine.Container, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cont := range c.containers {
		if cont.ID == id {
			return cont, nil
		}
	}
	return nil, fmt.Errorf("%w: container %s", engine.ErrNotFound, id)
}

func (c *Client) Start(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cont := range c.containers {
		if cont.ID == id {
			cont.Status = engine.StatusRunning
			return nil
		}
	}
	return fmt.Errorf("%w: container %s", engine.ErrNotFound, id)
}

func (c *Client) Stop(ctx context.Context, id string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cont := range c.containers {
		if cont.ID == id {
			cont.Status = engine.StatusExited
			return nil
		}
	}
	return nil // stop is idempotent; already gone is not an error
}

func (c *Client) Remove(ctx context.Context, id string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, cont := range c.containers {
		if cont.ID == id {
			delete(c.containers, name)
			return nil
		}
	}
	return nil
}

func (c *Client) Exec(ctx context.Context, id string, opts engine.ExecOptions) (*engine.ExecResult, error) {
	if c.ExecFunc != nil {
		return c.ExecFunc(ctx, id, opts)
	}
	return &engine.ExecResult{ExitCode: 0}, nil
}

func (c *Client) GetArchive(ctx context.Context, id, path string) (io.ReadCloser, error) {
	if c.GetArchiveFunc != nil {
		return c.GetArchiveFunc(ctx, id, path)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (c *Client) PutArchive(ctx context.Context, id, path string, tar io.Reader) error {
	if c.PutArchiveFunc != nil {
		return c.PutArchiveFunc(ctx, id, path, tar)
	}
	return nil
}

// Containers exposes the in-memory container map for assertions in tests
// that don't go through the engine.Client interface.
func (c *Client) Containers() map[string]*engine.Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*engine.Container, len(c.containers))
	for k, v := range c.containers {
		out[k] = v
	}
	return out
}

var _ engine.Client = (*Client)(nil)
