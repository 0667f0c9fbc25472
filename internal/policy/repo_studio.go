package policy

import (
	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// RepoStudioPolicy targets only the tool's own processes.
type RepoStudioPolicy struct {
	safePorts []int
}

// NewRepoStudioPolicy creates the narrow scope policy from config.
func NewRepoStudioPolicy(cfg config.Config) *RepoStudioPolicy {
	return &RepoStudioPolicy{safePorts: cfg.SafePorts()}
}

func (p *RepoStudioPolicy) ID() domain.Scope {
	return domain.ScopeRepoStudio
}

func (p *RepoStudioPolicy) Name() string {
	return "Repo Studio processes"
}

// KnownPorts is the safe port set for this scope.
func (p *RepoStudioPolicy) KnownPorts() []int {
	return append([]int(nil), p.safePorts...)
}

// Reasons tags repo-studio when the process is studio-owned and either
// listens on a safe port or is tracked, or is repo-owned on a safe port.
func (p *RepoStudioPolicy) Reasons(rec domain.ProcessRecord, m Match) []domain.ReclaimReason {
	onSafePort := HasPortIn(rec.KnownPorts, m.SafePorts)
	studio := rec.RepoStudioOwned && (onSafePort || m.Tracked[rec.PID])
	if studio || (rec.RepoOwned && onSafePort) {
		return []domain.ReclaimReason{domain.ReasonRepoStudio}
	}
	return nil
}

// Ensure RepoStudioPolicy implements ScopePolicy.
var _ ScopePolicy = (*RepoStudioPolicy)(nil)
