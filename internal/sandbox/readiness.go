package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jyf2100/agent-sandbox/internal/engine"
	"github.com/jyf2100/agent-sandbox/internal/ports"
)

func execOpts(cmd ...string) engine.ExecOptions {
	return engine.ExecOptions{Cmd: cmd}
}

// Two-phase readiness budget, per SPEC_FULL.md §4.3.2.
const (
	supervisorPhaseBudget  = 30 * time.Second
	supervisorPollInterval = 2 * time.Second
	totalReadinessBudget   = 120 * time.Second
	servicePollInterval    = 3 * time.Second
	readinessSettleDelay   = 5 * time.Second
)

// waitReady blocks until the container's init supervisor is alive and all
// four internal service ports accept connections, or the combined budget
// elapses. On timeout it returns an error describing which roles never
// became ready; callers log this and continue — the sandbox is returned
// "soft ready" rather than treated as a hard failure.
func (m *Manager) waitReady(ctx context.Context, sb *Sandbox) error {
	deadline := time.Now().Add(totalReadinessBudget)

	if err := m.waitSupervisor(ctx, sb); err != nil {
		return err
	}

	remaining := time.Until(deadline)
	notReady, err := m.waitServices(ctx, sb, remaining)
	time.Sleep(readinessSettleDelay)
	if err != nil {
		return fmt.Errorf("%w: roles not ready: %v", ErrReadinessTimeout, notReady)
	}
	return nil
}

func (m *Manager) waitSupervisor(ctx context.Context, sb *Sandbox) error {
	deadline := time.Now().Add(supervisorPhaseBudget)
	for {
		res, err := m.client.Exec(ctx, sb.ContainerID, execOpts("pgrep", "-x", "supervisord"))
		if err == nil && res.ExitCode == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: supervisor not ready after %s", ErrReadinessTimeout, supervisorPhaseBudget)
		}
		if err := sleepOrCancel(ctx, supervisorPollInterval); err != nil {
			return err
		}
	}
}

func (m *Manager) waitServices(ctx context.Context, sb *Sandbox, budget time.Duration) ([]ports.Role, error) {
	pending := map[ports.Role]int{
		ports.RoleVNC:        internalVNC,
		ports.RoleNoVNC:      internalNoVNC,
		ports.RoleBrowserAPI: internalBrowserAPI,
		ports.RoleFileServer: internalFileServer,
	}

	deadline := time.Now().Add(budget)
	for len(pending) > 0 {
		for role, internalPort := range pending {
			cmd := execOpts("nc", "-z", "localhost", fmt.Sprintf("%d", internalPort))
			res, err := m.client.Exec(ctx, sb.ContainerID, cmd)
			if err == nil && res.ExitCode == 0 {
				delete(pending, role)
			}
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			notReady := make([]ports.Role, 0, len(pending))
			for role := range pending {
				notReady = append(notReady, role)
			}
			return notReady, fmt.Errorf("%w", ErrReadinessTimeout)
		}
		if err := sleepOrCancel(ctx, servicePollInterval); err != nil {
			return rolesOf(pending), err
		}
	}
	return nil, nil
}

func rolesOf(m map[ports.Role]int) []ports.Role {
	out := make([]ports.Role, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	return out
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
