package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// PosixPlatform implements domain.Platform with ps, lsof and signals.
type PosixPlatform struct {
	runner      CommandRunner
	pm          domain.ProcessManager
	grace       time.Duration
	poll        time.Duration
	logger      *zap.Logger
	connections func(ctx context.Context) ([]psnet.ConnectionStat, error)
}

// NewPosixPlatform creates the POSIX platform.
func NewPosixPlatform(runner CommandRunner, pm domain.ProcessManager, grace, poll time.Duration, logger *zap.Logger) *PosixPlatform {
	return &PosixPlatform{
		runner: runner,
		pm:     pm,
		grace:  grace,
		poll:   poll,
		logger: logger,
		connections: func(ctx context.Context) ([]psnet.ConnectionStat, error) {
			return psnet.ConnectionsWithContext(ctx, "tcp")
		},
	}
}

func (p *PosixPlatform) Source() domain.InventorySource {
	return domain.SourcePosix
}

// Collect lists processes with `ps -A -o pid=,ppid=,comm=,args=`, then
// `ps -A -o pid=,comm=` for names that contain spaces.
func (p *PosixPlatform) Collect(ctx context.Context) domain.SnapshotResult {
	res := p.runner.Run(ctx, "ps", "-A", "-o", "pid=,ppid=,comm=,args=")
	if !res.OK() {
		stderr := res.Stderr
		if stderr == "" && res.Err != nil {
			stderr = res.Err.Error()
		}
		return domain.SnapshotResult{
			OK:      false,
			Records: []domain.RawProcess{},
			Stderr:  stderr,
			Stdout:  res.Stdout,
			Source:  domain.SourcePosix,
		}
	}
	return domain.SnapshotResult{
		OK:      true,
		Records: ParsePosixSnapshotWithNames(res.Stdout, p.commandNames(ctx)),
		Source:  domain.SourcePosix,
	}
}

// commandNames lists comm alone, where it is the last column and may hold spaces.
// Nil when the listing fails; the combined listing is then split on whitespace.
func (p *PosixPlatform) commandNames(ctx context.Context) map[int]string {
	res := p.runner.Run(ctx, "ps", "-A", "-o", "pid=,comm=")
	if !res.OK() {
		p.logDebug("process name listing failed", zap.String("stderr", res.Stderr))
		return nil
	}
	return ParsePosixNames(res.Stdout)
}

// ResolvePortPID asks lsof for the listener on port. When lsof is not
// installed it falls back to the kernel connection table via gopsutil.
func (p *PosixPlatform) ResolvePortPID(ctx context.Context, port int) (int, bool) {
	if port <= 0 {
		return 0, false
	}
	res := p.runner.Run(ctx, "lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-t")
	if res.NotFound() {
		return p.resolvePortConnections(ctx, port)
	}
	if !res.OK() {
		return 0, false // lsof exits 1 when nothing listens
	}

	// Lowest PID is the main listener, not forked children
	minPID := 0
	for _, line := range strings.Split(res.Stdout, "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 {
			continue
		}
		if minPID == 0 || pid < minPID {
			minPID = pid
		}
	}
	return minPID, minPID > 0
}

func (p *PosixPlatform) resolvePortConnections(ctx context.Context, port int) (int, bool) {
	conns, err := p.connections(ctx)
	if err != nil {
		p.logDebug("connection table unavailable", zap.Int("port", port), zap.Error(err))
		return 0, false
	}
	minPID := 0
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		if minPID == 0 || int(c.Pid) < minPID {
			minPID = int(c.Pid)
		}
	}
	return minPID, minPID > 0
}

// Terminate sends SIGTERM, waits up to the grace period, then sends SIGKILL.
func (p *PosixPlatform) Terminate(ctx context.Context, pid int) domain.StopResult {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return domain.StopResult{OK: true, Stdout: "process already exited"}
		}
		return domain.StopResult{OK: false, Stderr: err.Error()}
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		if !p.pm.IsRunning(pid) {
			return domain.StopResult{OK: true, Stdout: "process already exited"}
		}
		return domain.StopResult{OK: false, Stderr: fmt.Sprintf("SIGTERM failed: %v", err)}
	}

	if waitForExit(ctx, p.pm.IsRunning, pid, p.grace, p.poll) {
		return domain.StopResult{OK: true, Stdout: "terminated with SIGTERM"}
	}

	p.logDebug("grace period elapsed, escalating", zap.Int("pid", pid), zap.Duration("grace", p.grace))
	if err := proc.KillWithContext(ctx); err != nil {
		if !p.pm.IsRunning(pid) {
			return domain.StopResult{OK: true, Stdout: "terminated with SIGTERM"}
		}
		return domain.StopResult{OK: false, Stderr: fmt.Sprintf("SIGKILL failed: %v", err)}
	}
	waitForExit(ctx, p.pm.IsRunning, pid, p.grace, p.poll)
	return domain.StopResult{OK: true, Stdout: "killed with SIGKILL"}
}

func (p *PosixPlatform) logDebug(msg string, fields ...zap.Field) {
	if p.logger != nil {
		p.logger.Debug(msg, fields...)
	}
}

// Ensure PosixPlatform implements domain.Platform.
var _ domain.Platform = (*PosixPlatform)(nil)
