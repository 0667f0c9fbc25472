package infra

import (
	"context"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// ProcessControlImpl implements domain.ProcessControl on top of a Platform.
type ProcessControlImpl struct {
	platform domain.Platform
	pm       domain.ProcessManager
}

// NewProcessControl creates the OS-backed process control.
func NewProcessControl(platform domain.Platform, pm domain.ProcessManager) *ProcessControlImpl {
	return &ProcessControlImpl{platform: platform, pm: pm}
}

func (c *ProcessControlImpl) StopProcessTree(ctx context.Context, pid int) domain.StopResult {
	if pid <= 0 {
		return domain.StopResult{OK: false, Stderr: "invalid pid"}
	}
	return c.platform.Terminate(ctx, pid)
}

func (c *ProcessControlImpl) IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return c.pm.IsRunning(pid)
}

func (c *ProcessControlImpl) FindListeningPIDByPort(ctx context.Context, port int) (int, bool) {
	if port <= 0 || port > 65535 {
		return 0, false
	}
	return c.platform.ResolvePortPID(ctx, port)
}

// Ensure ProcessControlImpl implements domain.ProcessControl.
var _ domain.ProcessControl = (*ProcessControlImpl)(nil)
