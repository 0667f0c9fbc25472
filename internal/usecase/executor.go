package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize/english"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// ExecuteOptions substitutes the OS primitives and selects session cleanup.
type ExecuteOptions struct {
	StopProcessTree func(ctx context.Context, pid int) domain.StopResult
	IsProcessAlive  func(pid int) bool
	// ClearSession also removes the companion session metadata on full success.
	ClearSession bool
}

// PlanExecutor executes reclaim plans.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan *domain.ReclaimPlan, opts ExecuteOptions) *domain.ReclaimResult
}

// Executor terminates plan targets one at a time and clears persisted state
// when every target is confirmed dead.
type Executor struct {
	control domain.ProcessControl
	cleaner domain.StateCleaner
	journal domain.ReclaimJournal
	logger  *zap.Logger
	now     func() time.Time
}

// NewExecutor creates an executor. journal may be nil.
func NewExecutor(
	control domain.ProcessControl,
	cleaner domain.StateCleaner,
	journal domain.ReclaimJournal,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		control: control,
		cleaner: cleaner,
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
}

// ExecutePlan never returns an error; an invalid plan yields OK=false with the reason in Message.
func (e *Executor) ExecutePlan(ctx context.Context, plan *domain.ReclaimPlan, opts ExecuteOptions) *domain.ReclaimResult {
	start := e.now()
	result := &domain.ReclaimResult{
		Stopped:    []domain.StoppedProcess{},
		Failed:     []domain.FailedProcess{},
		ExecutedAt: start,
	}

	if plan != nil && plan.DryRun {
		result.DryRun = true
		result.OK = true
		result.Message = fmt.Sprintf("dry run: %s would be stopped", english.Plural(len(plan.Targets), "process", "processes"))
		return result
	}

	if err := validatePlan(plan); err != nil {
		result.OK = false
		result.Message = err.Error()
		e.logger.Warn("refusing to execute plan", zap.Error(err))
		return result
	}

	stop := opts.StopProcessTree
	if stop == nil {
		stop = e.control.StopProcessTree
	}
	alive := opts.IsProcessAlive
	if alive == nil {
		alive = e.control.IsProcessAlive
	}

	targets := append([]domain.ReclaimTarget(nil), plan.Targets...)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].PID < targets[j].PID })

	for _, t := range targets {
		res := stop(ctx, t.PID)
		stillAlive := alive(t.PID)

		if res.OK && !stillAlive {
			e.logger.Info("process stopped",
				zap.Int("pid", t.PID),
				zap.String("name", t.Name),
				zap.String("reason", t.Reason))
			result.Stopped = append(result.Stopped, domain.StoppedProcess{PID: t.PID, Name: t.Name, Reason: t.Reason})
			continue
		}

		e.logger.Warn("process stop failed",
			zap.Int("pid", t.PID),
			zap.String("name", t.Name),
			zap.Bool("tool_ok", res.OK),
			zap.Bool("alive", stillAlive),
			zap.String("stderr", res.Stderr))
		result.Failed = append(result.Failed, domain.FailedProcess{
			PID:    t.PID,
			Name:   t.Name,
			Reason: t.Reason,
			Alive:  stillAlive,
			Stdout: res.Stdout,
			Stderr: res.Stderr,
		})
	}

	var cleanupErr error
	if len(result.Stopped) > 0 && len(result.Failed) == 0 && e.cleaner != nil {
		removed, err := e.cleaner.ClearRuntimeState(opts.ClearSession)
		result.ClearedFiles = removed
		if err != nil {
			cleanupErr = err
			e.logger.Warn("failed to clear runtime state", zap.Error(err))
		} else {
			result.ClearedState = true
			e.logger.Info("runtime state cleared", zap.Strings("files", removed))
		}
	}

	result.OK = len(result.Failed) == 0
	result.Message = summarize(result, cleanupErr)
	result.DurationMs = e.now().Sub(start).Milliseconds()

	e.record(ctx, plan, result)
	return result
}

func (e *Executor) record(ctx context.Context, plan *domain.ReclaimPlan, result *domain.ReclaimResult) {
	if e.journal == nil {
		return
	}
	runID, err := e.journal.Record(ctx, plan, result)
	if err != nil {
		e.logger.Warn("failed to record reclaim run", zap.Error(err))
		return
	}
	if runID != "" {
		e.logger.Debug("reclaim run recorded", zap.String("run_id", runID))
	}
}

func validatePlan(plan *domain.ReclaimPlan) error {
	if plan == nil {
		return fmt.Errorf("%w: plan is nil", domain.ErrInvalidPlan)
	}
	switch plan.Scope {
	case domain.ScopeRepoStudio, domain.ScopeRepo:
	default:
		return fmt.Errorf("%w: unknown scope %q", domain.ErrInvalidPlan, plan.Scope)
	}
	seen := make(map[int]bool, len(plan.Targets))
	for _, t := range plan.Targets {
		if t.PID <= 0 {
			return fmt.Errorf("%w: target pid %d is not positive", domain.ErrInvalidPlan, t.PID)
		}
		if seen[t.PID] {
			return fmt.Errorf("%w: target pid %d appears twice", domain.ErrInvalidPlan, t.PID)
		}
		seen[t.PID] = true
	}
	return nil
}

func summarize(result *domain.ReclaimResult, cleanupErr error) string {
	if len(result.Stopped) == 0 && len(result.Failed) == 0 {
		return "nothing to reclaim"
	}
	parts := []string{fmt.Sprintf("stopped %s", english.Plural(len(result.Stopped), "process", "processes"))}
	if len(result.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", len(result.Failed)))
	}
	if result.ClearedState {
		parts = append(parts, "runtime state cleared")
	}
	if cleanupErr != nil {
		parts = append(parts, "runtime state cleanup failed: "+cleanupErr.Error())
	}
	return strings.Join(parts, ", ")
}

// Ensure Executor implements PlanExecutor.
var _ PlanExecutor = (*Executor)(nil)
