package infra

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

const windowsProcessQuery = "Get-CimInstance Win32_Process | " +
	"Select-Object ProcessId,ParentProcessId,Name,CommandLine | " +
	"ConvertTo-Json -Compress"

// WindowsPlatform implements domain.Platform with PowerShell, netstat and taskkill.
type WindowsPlatform struct {
	runner CommandRunner
	logger *zap.Logger
}

// NewWindowsPlatform creates the Windows platform.
func NewWindowsPlatform(runner CommandRunner, logger *zap.Logger) *WindowsPlatform {
	return &WindowsPlatform{runner: runner, logger: logger}
}

func (w *WindowsPlatform) Source() domain.InventorySource {
	return domain.SourceWindows
}

func (w *WindowsPlatform) Collect(ctx context.Context) domain.SnapshotResult {
	res := w.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", windowsProcessQuery)
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
			Source:  domain.SourceWindows,
		}
	}
	return domain.SnapshotResult{
		OK:      true,
		Records: ParseWindowsSnapshot(res.Stdout),
		Source:  domain.SourceWindows,
	}
}

func (w *WindowsPlatform) ResolvePortPID(ctx context.Context, port int) (int, bool) {
	if port <= 0 {
		return 0, false
	}
	res := w.runner.Run(ctx, "netstat", "-ano", "-p", "tcp")
	if !res.OK() {
		if w.logger != nil {
			w.logger.Debug("netstat failed", zap.Int("port", port), zap.String("stderr", res.Stderr))
		}
		return 0, false
	}
	return ParseNetstatListeningPID(res.Stdout, port)
}

// Terminate force-kills the whole process tree. A missing process is success.
func (w *WindowsPlatform) Terminate(ctx context.Context, pid int) domain.StopResult {
	res := w.runner.Run(ctx, "taskkill", "/PID", strconv.Itoa(pid), "/T", "/F")
	if res.OK() {
		return domain.StopResult{OK: true, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	combined := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	if strings.Contains(combined, "not found") {
		return domain.StopResult{OK: true, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	stderr := res.Stderr
	if stderr == "" && res.Err != nil {
		stderr = res.Err.Error()
	}
	return domain.StopResult{OK: false, Stdout: res.Stdout, Stderr: stderr}
}

// Ensure WindowsPlatform implements domain.Platform.
var _ domain.Platform = (*WindowsPlatform)(nil)
