package docker

import (
	"context"
	"testing"
	"time"

	"github.com/jyf2100/agent-sandbox/internal/engine"
)

// requireDocker skips the test unless a real daemon is expected to be
// reachable; these tests exercise the actual Docker Engine API and are not
// meant to run in environments without a socket.
func requireDocker(t *testing.T) *Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Docker integration test in -short mode")
	}

	p, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		t.Skipf("no reachable Docker daemon: %v", err)
	}
	return p
}

func TestProviderEnsureBridgeIdempotent(t *testing.T) {
	p := requireDocker(t)
	defer p.Close()

	ctx := context.Background()
	const name = "agent-sandbox-test-network"

	if err := p.EnsureBridge(ctx, name); err != nil {
		t.Fatalf("first EnsureBridge: %v", err)
	}
	if err := p.EnsureBridge(ctx, name); err != nil {
		t.Fatalf("second EnsureBridge: %v", err)
	}
}

func TestProviderVolumeLifecycle(t *testing.T) {
	p := requireDocker(t)
	defer p.Close()

	ctx := context.Background()
	const name = "agent-sandbox-test-volume"

	if err := p.EnsureNamed(ctx, name, map[string]string{"suna.managed": "true"}); err != nil {
		t.Fatalf("EnsureNamed: %v", err)
	}
	if err := p.RemoveVolume(ctx, name); err != nil {
		t.Fatalf("RemoveVolume: %v", err)
	}
	// Removing again must be a no-op, not an error.
	if err := p.RemoveVolume(ctx, name); err != nil {
		t.Fatalf("second RemoveVolume: %v", err)
	}
}

func TestProviderContainerLifecycle(t *testing.T) {
	p := requireDocker(t)
	defer p.Close()

	ctx := context.Background()
	spec := engine.ContainerSpec{
		Name:  "agent-sandbox-test-container",
		Image: "alpine:latest",
		Labels: map[string]string{
			"suna.project_id": "provider-test",
		},
	}

	c, err := p.Run(ctx, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer p.Remove(ctx, c.ID, true)

	got, err := p.Get(ctx, spec.Name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != engine.StatusRunning {
		t.Fatalf("Status = %s, want running", got.Status)
	}

	res, err := p.Exec(ctx, c.ID, engine.ExecOptions{Cmd: []string{"echo", "hello"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}

	if err := p.Stop(ctx, c.ID, 5*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Remove(ctx, c.ID, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := p.Get(ctx, spec.Name); err == nil {
		t.Fatal("Get after Remove should fail")
	}
}

func BenchmarkProviderInspect(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping Docker benchmark in -short mode")
	}
	p, err := New("")
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if err := p.Ping(ctx); err != nil {
		b.Skipf("no reachable Docker daemon: %v", err)
	}

	spec := engine.ContainerSpec{Name: "agent-sandbox-bench-container", Image: "alpine:latest"}
	c, err := p.Run(ctx, spec)
	if err != nil {
		b.Fatalf("Run: %v", err)
	}
	defer p.Remove(ctx, c.ID, true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Inspect(ctx, c.ID); err != nil {
			b.Fatalf("Inspect: %v", err)
		}
	}
}
