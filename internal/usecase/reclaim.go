package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/policy"
)

// ReclaimRequest is one `processes` or `reclaim` invocation.
type ReclaimRequest struct {
	Scope        string
	RepoRoot     string
	DryRun       bool
	Force        bool
	ClearSession bool
	ExcludePIDs  []int
}

// ReclaimOutcome is what the CLI reports. Blocked is set when the scope guard refused to run.
type ReclaimOutcome struct {
	OK      bool                  `json:"ok"`
	Blocked bool                  `json:"blocked,omitempty"`
	Message string                `json:"message"`
	Plan    *domain.ReclaimPlan   `json:"plan,omitempty"`
	Result  *domain.ReclaimResult `json:"result,omitempty"`
}

// ReclaimService wires the scope guard, planner and executor.
type ReclaimService struct {
	planner  PlanBuilder
	executor PlanExecutor
	logger   *zap.Logger
}

// NewReclaimService creates the service.
func NewReclaimService(planner PlanBuilder, executor PlanExecutor, logger *zap.Logger) *ReclaimService {
	return &ReclaimService{planner: planner, executor: executor, logger: logger}
}

// Preview builds a dry-run plan. Nothing is stopped.
func (s *ReclaimService) Preview(ctx context.Context, req ReclaimRequest) (*domain.ReclaimPlan, error) {
	scope, err := policy.ParseScope(req.Scope)
	if err != nil {
		return nil, err
	}
	return s.planner.BuildPlan(ctx, PlanRequest{
		Scope:       scope,
		Force:       req.Force,
		DryRun:      true,
		RepoRoot:    req.RepoRoot,
		ExcludePIDs: req.ExcludePIDs,
	})
}

// Reclaim plans and executes. A wide-scope run without --dry-run or --force is
// refused before planning and the executor is never called.
func (s *ReclaimService) Reclaim(ctx context.Context, req ReclaimRequest) (*ReclaimOutcome, error) {
	scope, err := policy.ParseScope(req.Scope)
	if err != nil {
		return &ReclaimOutcome{OK: false, Message: err.Error()}, err
	}

	if scope == domain.ScopeRepo && !req.DryRun && !req.Force {
		s.logger.Warn("repo scope reclaim blocked", zap.String("repo_root", req.RepoRoot))
		return &ReclaimOutcome{
			OK:      false,
			Blocked: true,
			Message: fmt.Sprintf("%s. Preview the targets with --dry-run, then re-run with --force to stop them.",
				domain.ErrScopeGuard),
		}, nil
	}

	plan, err := s.planner.BuildPlan(ctx, PlanRequest{
		Scope:       scope,
		Force:       req.Force,
		DryRun:      req.DryRun,
		RepoRoot:    req.RepoRoot,
		ExcludePIDs: req.ExcludePIDs,
	})
	if err != nil {
		return &ReclaimOutcome{OK: false, Message: err.Error()}, err
	}

	result := s.executor.ExecutePlan(ctx, plan, ExecuteOptions{ClearSession: req.ClearSession})
	message := result.Message
	if !plan.Inventory.OK {
		message = fmt.Sprintf("%s (process listing unavailable: %s)", message, plan.Inventory.Error)
	}

	s.logger.Info("reclaim finished",
		zap.String("scope", string(scope)),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("stopped", len(result.Stopped)),
		zap.Int("failed", len(result.Failed)),
		zap.Bool("ok", result.OK))

	return &ReclaimOutcome{
		OK:      result.OK,
		Message: message,
		Plan:    plan,
		Result:  result,
	}, nil
}
