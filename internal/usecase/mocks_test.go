package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// mockCollector implements domain.SnapshotCollector for testing
type mockCollector struct {
	snapshot domain.SnapshotResult
	lastOpts domain.CollectOptions
	calls    int
}

func (m *mockCollector) Collect(_ context.Context, opts domain.CollectOptions) domain.SnapshotResult {
	m.calls++
	m.lastOpts = opts
	if opts.Processes != nil {
		return domain.SnapshotResult{OK: true, Records: opts.Processes, Source: domain.SourceProvided}
	}
	return m.snapshot
}

// mockControl implements domain.ProcessControl for testing.
// Stopping a pid marks it dead unless it is listed in survivors.
type mockControl struct {
	mu        sync.Mutex
	alive     map[int]bool
	ports     map[int]int
	stopFail  map[int]domain.StopResult
	survivors map[int]bool
	stopped   []int
}

func newMockControl() *mockControl {
	return &mockControl{
		alive:     make(map[int]bool),
		ports:     make(map[int]int),
		stopFail:  make(map[int]domain.StopResult),
		survivors: make(map[int]bool),
	}
}

func (m *mockControl) StopProcessTree(_ context.Context, pid int) domain.StopResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, pid)
	if res, ok := m.stopFail[pid]; ok {
		return res
	}
	if !m.survivors[pid] {
		m.alive[pid] = false
	}
	return domain.StopResult{OK: true}
}

func (m *mockControl) IsProcessAlive(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive[pid]
}

func (m *mockControl) FindListeningPIDByPort(_ context.Context, port int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.ports[port]
	return pid, ok
}

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	self   int
	parent int
}

func (m *mockProcessManager) IsRunning(int) bool { return false }
func (m *mockProcessManager) GetCurrentPID() int { return m.self }
func (m *mockProcessManager) GetParentPID() int { return m.parent }

// mockTracked implements domain.TrackedPIDSource for testing
type mockTracked struct {
	pids []int
}

func (m *mockTracked) TrackedPIDs() []int { return m.pids }

// mockCleaner implements domain.StateCleaner for testing
type mockCleaner struct {
	calls          int
	includeSession bool
	removed        []string
	err            error
}

func (m *mockCleaner) ClearRuntimeState(includeSession bool) ([]string, error) {
	m.calls++
	m.includeSession = includeSession
	return m.removed, m.err
}

// mockJournal implements domain.ReclaimJournal for testing
type mockJournal struct {
	recorded []*domain.ReclaimResult
	err      error
}

func (m *mockJournal) Record(_ context.Context, _ *domain.ReclaimPlan, result *domain.ReclaimResult) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.recorded = append(m.recorded, result)
	return "run-1", nil
}

func (m *mockJournal) Recent(context.Context, int) ([]domain.JournalEntry, error) { return nil, nil }
func (m *mockJournal) Close() error { return nil }

// mockStore implements domain.RuntimeStateStore in memory
type mockStore struct {
	state   *domain.RuntimeState
	readErr error
	cleared int
}

func (m *mockStore) Read() (*domain.RuntimeState, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.state == nil {
		return nil, nil
	}
	copied := *m.state
	copied.URL = copied.LocalURL()
	return &copied, nil
}

func (m *mockStore) Write(state domain.RuntimeState) (*domain.RuntimeState, error) {
	m.state = &state
	return m.Read()
}

func (m *mockStore) Clear() error {
	m.cleared++
	m.state = nil
	m.readErr = nil
	return nil
}

func (m *mockStore) Path() string { return "/tmp/runtime.json" }

// mockPlanBuilder implements PlanBuilder for testing
type mockPlanBuilder struct {
	plan    *domain.ReclaimPlan
	err     error
	lastReq PlanRequest
	calls   int
}

func (m *mockPlanBuilder) BuildPlan(_ context.Context, req PlanRequest) (*domain.ReclaimPlan, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	plan := *m.plan
	plan.Scope = req.Scope
	plan.DryRun = req.DryRun
	return &plan, nil
}

// mockExecutor implements PlanExecutor for testing
type mockExecutor struct {
	calls    int
	lastPlan *domain.ReclaimPlan
	lastOpts ExecuteOptions
	result   *domain.ReclaimResult
}

func (m *mockExecutor) ExecutePlan(_ context.Context, plan *domain.ReclaimPlan, opts ExecuteOptions) *domain.ReclaimResult {
	m.calls++
	m.lastPlan = plan
	m.lastOpts = opts
	if m.result != nil {
		return m.result
	}
	return &domain.ReclaimResult{OK: true, DryRun: plan.DryRun, Message: "ok"}
}

var errBoom = errors.New("boom")

var (
	_ domain.SnapshotCollector = (*mockCollector)(nil)
	_ domain.ProcessControl    = (*mockControl)(nil)
	_ domain.ProcessManager    = (*mockProcessManager)(nil)
	_ domain.TrackedPIDSource  = (*mockTracked)(nil)
	_ domain.StateCleaner      = (*mockCleaner)(nil)
	_ domain.ReclaimJournal    = (*mockJournal)(nil)
	_ domain.RuntimeStateStore = (*mockStore)(nil)
	_ PlanBuilder              = (*mockPlanBuilder)(nil)
	_ PlanExecutor             = (*mockExecutor)(nil)
)
