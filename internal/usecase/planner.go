package usecase

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/policy"
)

// PlanRequest describes one reclaim planning pass. Nil slices mean "derive".
type PlanRequest struct {
	Scope    domain.Scope
	Force    bool
	DryRun   bool
	RepoRoot string

	// KnownPorts overrides the scope's port set.
	KnownPorts []int
	// Inventory reuses a prebuilt inventory instead of collecting.
	Inventory *domain.ProcessInventory
	// TrackedPIDs overrides the pids read from persisted state.
	TrackedPIDs []int
	// ExcludePIDs are protected in addition to the caller and its parent.
	ExcludePIDs []int

	Platform  domain.Platform
	Processes []domain.RawProcess
	PIDByPort PortResolver
}

// PlanBuilder builds reclaim plans.
type PlanBuilder interface {
	BuildPlan(ctx context.Context, req PlanRequest) (*domain.ReclaimPlan, error)
}

// Planner turns an inventory into reclaim targets and skipped processes.
// It never changes OS state.
type Planner struct {
	policies  *policy.Registry
	inventory *InventoryBuilder
	tracked   domain.TrackedPIDSource
	pm        domain.ProcessManager
	safePorts []int
	logger    *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(
	cfg config.Config,
	policies *policy.Registry,
	inventory *InventoryBuilder,
	tracked domain.TrackedPIDSource,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *Planner {
	return &Planner{
		policies:  policies,
		inventory: inventory,
		tracked:   tracked,
		pm:        pm,
		safePorts: cfg.SafePorts(),
		logger:    logger,
	}
}

// BuildPlan returns an error only for an unknown scope. Collection failures
// are carried in plan.Inventory and produce no targets.
func (p *Planner) BuildPlan(ctx context.Context, req PlanRequest) (*domain.ReclaimPlan, error) {
	scope := req.Scope
	if scope == "" {
		scope = domain.ScopeRepoStudio
	}
	pol, err := p.policies.Get(scope)
	if err != nil {
		return nil, err
	}

	knownPorts := pol.KnownPorts()
	if req.KnownPorts != nil {
		knownPorts = config.SortedUnique(req.KnownPorts)
	}

	var tracked []int
	if req.TrackedPIDs != nil {
		tracked = config.SortedUnique(req.TrackedPIDs)
	} else if p.tracked != nil {
		tracked = config.SortedUnique(p.tracked.TrackedPIDs())
	} else {
		tracked = []int{}
	}

	protectedList := []int{p.pm.GetCurrentPID(), p.pm.GetParentPID()}
	protectedList = config.SortedUnique(append(protectedList, req.ExcludePIDs...))
	protected := make(map[int]bool, len(protectedList))
	for _, pid := range protectedList {
		protected[pid] = true
	}

	var inv domain.ProcessInventory
	if req.Inventory != nil {
		inv = *req.Inventory
	} else {
		inv = p.inventory.Build(ctx, InventoryRequest{
			RepoRoot:   req.RepoRoot,
			KnownPorts: knownPorts,
			PIDByPort:  req.PIDByPort,
			Collect: domain.CollectOptions{
				Processes: req.Processes,
				Platform:  req.Platform,
			},
		})
	}

	plan := &domain.ReclaimPlan{
		Scope:         scope,
		Force:         req.Force,
		DryRun:        req.DryRun,
		RepoRoot:      inv.RepoRoot,
		KnownPorts:    knownPorts,
		SafePorts:     append([]int(nil), p.safePorts...),
		Inventory:     inv,
		TrackedPIDs:   tracked,
		ProtectedPIDs: protectedList,
		Targets:       []domain.ReclaimTarget{},
		Skipped:       []domain.SkippedProcess{},
	}
	if plan.RepoRoot == "" {
		plan.RepoRoot = req.RepoRoot
	}

	action := domain.ActionKill
	if req.DryRun {
		action = domain.ActionWouldKill
	}

	match := policy.NewMatch(p.safePorts, knownPorts, tracked)
	for _, rec := range inv.Processes {
		reasons := pol.Reasons(rec, match)
		if len(reasons) == 0 {
			if !rec.RepoOwned && policy.HasPortIn(rec.KnownPorts, match.KnownPorts) {
				plan.Skipped = append(plan.Skipped, domain.SkippedProcess{
					ProcessRecord: rec,
					Reason:        domain.SkipKnownPortNotRepoOwned,
				})
			}
			continue
		}

		if protected[rec.PID] {
			plan.Skipped = append(plan.Skipped, domain.SkippedProcess{
				ProcessRecord: rec,
				Reason:        domain.SkipProtectedPID,
			})
			continue
		}

		plan.Targets = append(plan.Targets, domain.ReclaimTarget{
			ProcessRecord: rec,
			Action:        action,
			Reason:        joinReasons(reasons),
		})
	}

	sort.SliceStable(plan.Targets, func(i, j int) bool { return plan.Targets[i].PID < plan.Targets[j].PID })
	sort.SliceStable(plan.Skipped, func(i, j int) bool { return plan.Skipped[i].PID < plan.Skipped[j].PID })

	p.logger.Debug("reclaim plan built",
		zap.String("scope", string(scope)),
		zap.Bool("dry_run", req.DryRun),
		zap.Bool("inventory_ok", inv.OK),
		zap.Int("processes", len(inv.Processes)),
		zap.Int("targets", len(plan.Targets)),
		zap.Int("skipped", len(plan.Skipped)))

	return plan, nil
}

func joinReasons(reasons []domain.ReclaimReason) string {
	seen := make(map[domain.ReclaimReason]bool, len(reasons))
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		seen[r] = true
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// Ensure Planner implements PlanBuilder.
var _ PlanBuilder = (*Planner)(nil)
