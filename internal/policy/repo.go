package policy

import (
	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// RepoPolicy extends RepoStudioPolicy to any runtime process rooted under the workspace.
type RepoPolicy struct {
	studio       *RepoStudioPolicy
	knownPorts   []int
	runtimeTools []string
}

// NewRepoPolicy creates the wide scope policy from config.
func NewRepoPolicy(cfg config.Config) *RepoPolicy {
	return &RepoPolicy{
		studio:       NewRepoStudioPolicy(cfg),
		knownPorts:   cfg.RepoPorts(),
		runtimeTools: append([]string(nil), cfg.Reclaim.RuntimeTools...),
	}
}

func (p *RepoPolicy) ID() domain.Scope {
	return domain.ScopeRepo
}

func (p *RepoPolicy) Name() string {
	return "All workspace processes"
}

// KnownPorts is the safe set plus common dev server ports.
func (p *RepoPolicy) KnownPorts() []int {
	return append([]int(nil), p.knownPorts...)
}

// RuntimeTools returns the binary name patterns treated as runtime tools.
func (p *RepoPolicy) RuntimeTools() []string {
	return append([]string(nil), p.runtimeTools...)
}

func (p *RepoPolicy) Reasons(rec domain.ProcessRecord, m Match) []domain.ReclaimReason {
	reasons := p.studio.Reasons(rec, m)
	if !rec.RepoOwned {
		return reasons
	}
	if MatchesRuntimeTool(rec.Name, p.runtimeTools) {
		reasons = appendReason(reasons, domain.ReasonRuntimeProcess)
	} else if HasPortIn(rec.KnownPorts, m.KnownPorts) {
		reasons = appendReason(reasons, domain.ReasonKnownPort)
	}
	return reasons
}

// Ensure RepoPolicy implements ScopePolicy.
var _ ScopePolicy = (*RepoPolicy)(nil)
