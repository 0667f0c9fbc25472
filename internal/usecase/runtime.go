package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// LocateSource says where a located runtime came from.
type LocateSource string

const (
	LocatePersisted LocateSource = "persisted"
	LocateDetected  LocateSource = "detected"
	LocateNone      LocateSource = "none"
)

// LocateResult is the runtime the open workflow should reuse, if any.
type LocateResult struct {
	Source LocateSource         `json:"source"`
	State  *domain.RuntimeState `json:"state,omitempty"`
}

// StopOutcome reports a runtime stop.
type StopOutcome struct {
	OK      bool                  `json:"ok"`
	Message string                `json:"message"`
	State   *domain.RuntimeState  `json:"state,omitempty"`
	Result  *domain.ReclaimResult `json:"result,omitempty"`
}

// RuntimeService evaluates and manages the single active runtime record.
type RuntimeService struct {
	store    domain.RuntimeStateStore
	control  domain.ProcessControl
	executor PlanExecutor
	pm       domain.ProcessManager
	cfg      config.Config
	logger   *zap.Logger
}

// NewRuntimeService creates the service.
func NewRuntimeService(
	store domain.RuntimeStateStore,
	control domain.ProcessControl,
	executor PlanExecutor,
	pm domain.ProcessManager,
	cfg config.Config,
	logger *zap.Logger,
) *RuntimeService {
	return &RuntimeService{
		store:    store,
		control:  control,
		executor: executor,
		pm:       pm,
		cfg:      cfg,
		logger:   logger,
	}
}

// Health checks the record. Server modes need a live pid that also owns the
// port. Desktop needs any of electron, server or an app port listener.
func (s *RuntimeService) Health(ctx context.Context, state domain.RuntimeState) domain.RuntimeHealth {
	var h domain.RuntimeHealth

	if state.Mode == domain.ModeDesktop {
		d := state.Desktop
		if d == nil {
			d = &domain.DesktopRuntime{}
		}
		h.Details.ElectronAlive = s.control.IsProcessAlive(d.ElectronPID)
		h.Details.ServerAlive = s.control.IsProcessAlive(d.ServerPID)
		if pid, ok := s.control.FindListeningPIDByPort(ctx, state.ServedPort()); ok && pid > 0 {
			h.Details.PortPID = pid
			h.Details.PortListening = true
		}
		h.Running = h.Details.ElectronAlive || h.Details.ServerAlive || h.Details.PortListening
		return h
	}

	h.Details.PIDAlive = s.control.IsProcessAlive(state.PID)
	if pid, ok := s.control.FindListeningPIDByPort(ctx, state.Port); ok {
		h.Details.PortPID = pid
		h.Details.PortOwned = pid == state.PID && pid > 0
	}
	h.Running = h.Details.PIDAlive && h.Details.PortOwned
	return h
}

// LoadActive reads the record and checks it. An unhealthy or unreadable record
// is reported stale, and deleted when cleanupStale is set.
func (s *RuntimeService) LoadActive(ctx context.Context, cleanupStale bool) (*domain.ActiveRuntime, error) {
	state, err := s.store.Read()
	if err != nil {
		s.logger.Warn("runtime record unreadable", zap.String("path", s.store.Path()), zap.Error(err))
		if cleanupStale {
			if cerr := s.store.Clear(); cerr != nil {
				return nil, cerr
			}
		}
		return &domain.ActiveRuntime{Stale: true}, nil
	}
	if state == nil {
		return &domain.ActiveRuntime{}, nil
	}

	health := s.Health(ctx, *state)
	if health.Running {
		return &domain.ActiveRuntime{Running: true, State: state, Health: health}, nil
	}

	if cleanupStale {
		if err := s.store.Clear(); err != nil {
			return nil, err
		}
		s.logger.Info("stale runtime record cleared",
			zap.Int("pid", state.PID),
			zap.Int("port", state.Port),
			zap.String("mode", string(state.Mode)))
	}
	return &domain.ActiveRuntime{Stale: true, State: state, Health: health}, nil
}

// DetectByPort builds a record from whatever live process listens on port.
// A zero port means the mode's default.
func (s *RuntimeService) DetectByPort(ctx context.Context, mode domain.RuntimeMode, port int) *domain.RuntimeState {
	switch mode {
	case domain.ModeApp, domain.ModePackage, domain.ModeDesktop:
	default:
		mode = domain.ModePackage
	}
	if port <= 0 {
		port = s.cfg.DefaultPortFor(string(mode))
	}

	pid, ok := s.control.FindListeningPIDByPort(ctx, port)
	if !ok || pid <= 0 || !s.control.IsProcessAlive(pid) {
		return nil
	}

	state := domain.RuntimeState{PID: pid, Port: port, Mode: mode}
	if mode == domain.ModeDesktop {
		state.Desktop = &domain.DesktopRuntime{AppPort: port, ServerPID: pid}
	}
	state.URL = state.LocalURL()
	return &state
}

// URLFor returns the loopback URL of state.
func (s *RuntimeService) URLFor(state domain.RuntimeState) string {
	return state.LocalURL()
}

// Locate prefers a healthy persisted record for the same workspace and mode,
// then a port-detected one.
func (s *RuntimeService) Locate(ctx context.Context, workspaceRoot string, mode domain.RuntimeMode) (*LocateResult, error) {
	active, err := s.LoadActive(ctx, true)
	if err != nil {
		return nil, err
	}
	if active.Running && active.State != nil &&
		active.State.Mode == mode && sameWorkspace(active.State.WorkspaceRoot, workspaceRoot) {
		return &LocateResult{Source: LocatePersisted, State: active.State}, nil
	}

	if detected := s.DetectByPort(ctx, mode, 0); detected != nil {
		return &LocateResult{Source: LocateDetected, State: detected}, nil
	}
	return &LocateResult{Source: LocateNone}, nil
}

// Stop terminates the recorded runtime's processes through the executor,
// which clears the state files when all of them are confirmed dead. A record
// that fails its health check is stale: it is cleared and nothing is stopped,
// since its pids may have been reused by unrelated processes.
func (s *RuntimeService) Stop(ctx context.Context, dryRun bool) (*StopOutcome, error) {
	state, err := s.store.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime record: %w", err)
	}
	if state == nil {
		return &StopOutcome{OK: true, Message: "no runtime recorded"}, nil
	}

	health := s.Health(ctx, *state)
	if !health.Running {
		if dryRun {
			return &StopOutcome{OK: true, Message: "runtime is not running", State: state}, nil
		}
		if err := s.store.Clear(); err != nil {
			return nil, err
		}
		s.logger.Info("stale runtime record cleared",
			zap.Int("pid", state.PID),
			zap.Int("port", state.Port),
			zap.String("mode", string(state.Mode)))
		return &StopOutcome{OK: true, Message: "runtime was not running; stale record cleared", State: state}, nil
	}

	plan := s.stopPlan(*state, health, dryRun)
	if len(plan.Targets) == 0 {
		return &StopOutcome{OK: true, Message: "runtime processes are protected; nothing stopped", State: state}, nil
	}

	result := s.executor.ExecutePlan(ctx, plan, ExecuteOptions{})
	return &StopOutcome{OK: result.OK, Message: result.Message, State: state, Result: result}, nil
}

// stopPlan targets only pids the health check vouched for: the runtime pid
// when it owns the port, and in desktop mode the live electron and server pids.
func (s *RuntimeService) stopPlan(state domain.RuntimeState, health domain.RuntimeHealth, dryRun bool) *domain.ReclaimPlan {
	type candidate struct {
		pid  int
		name string
	}
	var candidates []candidate
	if state.Mode == domain.ModeDesktop {
		if health.Details.PortPID > 0 && health.Details.PortPID == state.PID {
			candidates = append(candidates, candidate{state.PID, "runtime"})
		}
		if d := state.Desktop; d != nil {
			if health.Details.ElectronAlive {
				candidates = append(candidates, candidate{d.ElectronPID, "electron"})
			}
			if health.Details.ServerAlive {
				candidates = append(candidates, candidate{d.ServerPID, "desktop-server"})
			}
		}
	} else if health.Details.PortOwned {
		candidates = append(candidates, candidate{state.PID, "runtime"})
	}

	protected := config.SortedUnique([]int{s.pm.GetCurrentPID(), s.pm.GetParentPID()})
	isProtected := make(map[int]bool, len(protected))
	for _, pid := range protected {
		isProtected[pid] = true
	}

	action := domain.ActionKill
	if dryRun {
		action = domain.ActionWouldKill
	}

	plan := &domain.ReclaimPlan{
		Scope:         domain.ScopeRepoStudio,
		DryRun:        dryRun,
		RepoRoot:      state.WorkspaceRoot,
		KnownPorts:    config.SortedUnique([]int{state.Port, state.ServedPort()}),
		SafePorts:     s.cfg.SafePorts(),
		ProtectedPIDs: protected,
		Targets:       []domain.ReclaimTarget{},
		Skipped:       []domain.SkippedProcess{},
	}

	seen := make(map[int]bool)
	var tracked []int
	for _, c := range candidates {
		if c.pid <= 0 || seen[c.pid] {
			continue
		}
		seen[c.pid] = true
		tracked = append(tracked, c.pid)

		rec := domain.ProcessRecord{PID: c.pid, Name: c.name, RepoOwned: true, RepoStudioOwned: true, KnownPorts: []int{}}
		if isProtected[c.pid] {
			plan.Skipped = append(plan.Skipped, domain.SkippedProcess{ProcessRecord: rec, Reason: domain.SkipProtectedPID})
			continue
		}
		plan.Targets = append(plan.Targets, domain.ReclaimTarget{
			ProcessRecord: rec,
			Action:        action,
			Reason:        string(domain.ReasonRepoStudio),
		})
	}
	sort.Slice(plan.Targets, func(i, j int) bool { return plan.Targets[i].PID < plan.Targets[j].PID })
	sort.Slice(plan.Skipped, func(i, j int) bool { return plan.Skipped[i].PID < plan.Skipped[j].PID })
	plan.TrackedPIDs = config.SortedUnique(tracked)
	return plan
}

func sameWorkspace(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if abs, err := filepath.Abs(a); err == nil {
		a = abs
	}
	if abs, err := filepath.Abs(b); err == nil {
		b = abs
	}
	return normalizeForMatch(a) == normalizeForMatch(b)
}
