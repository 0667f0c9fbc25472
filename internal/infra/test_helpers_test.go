package infra

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	mu          sync.Mutex
	runningPIDs map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
	}
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) GetParentPID() int {
	return os.Getppid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningPIDs[pid] = running
}

// fakeRunner returns scripted results keyed by full command line or tool name
// (full line wins) and records every call.
type fakeRunner struct {
	results map[string]CommandResult
	calls   [][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string]CommandResult)}
}

func (f *fakeRunner) On(name string, result CommandResult) *fakeRunner {
	f.results[name] = result
	return f
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) CommandResult {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if r, ok := f.results[strings.Join(call, " ")]; ok {
		return r
	}
	if r, ok := f.results[name]; ok {
		return r
	}
	return CommandResult{ExitCode: -1, Err: &exec.Error{Name: name, Err: exec.ErrNotFound}}
}

func (f *fakeRunner) commandLines() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// stubPlatform is a scripted domain.Platform.
type stubPlatform struct {
	source     domain.InventorySource
	snapshot   domain.SnapshotResult
	ports      map[int]int
	terminated []int
	stop       domain.StopResult
}

func (s *stubPlatform) Source() domain.InventorySource { return s.source }

func (s *stubPlatform) Collect(context.Context) domain.SnapshotResult { return s.snapshot }

func (s *stubPlatform) ResolvePortPID(_ context.Context, port int) (int, bool) {
	pid, ok := s.ports[port]
	return pid, ok
}

func (s *stubPlatform) Terminate(_ context.Context, pid int) domain.StopResult {
	s.terminated = append(s.terminated, pid)
	return s.stop
}

var (
	_ domain.ProcessManager = (*mockProcessManager)(nil)
	_ CommandRunner         = (*fakeRunner)(nil)
	_ domain.Platform       = (*stubPlatform)(nil)
)
