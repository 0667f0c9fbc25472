// Package policy implements the Strategy pattern for reclaim scopes.
// Each scope decides which reasons make a process a reclaim target.
package policy

import (
	"fmt"
	"strings"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// ScopePolicy defines the strategy interface for a reclaim scope.
type ScopePolicy interface {
	// ID returns the scope this policy implements.
	ID() domain.Scope

	// Name returns human-readable name for display.
	Name() string

	// KnownPorts returns the ports whose listeners are correlated for this scope. Sorted.
	KnownPorts() []int

	// Reasons returns the de-duplicated reclaim reasons for rec, in rule order.
	// An empty result means the process does not qualify under this scope.
	Reasons(rec domain.ProcessRecord, m Match) []domain.ReclaimReason
}

// Match carries the per-plan sets a policy evaluates against.
type Match struct {
	SafePorts  map[int]bool
	KnownPorts map[int]bool
	Tracked    map[int]bool
}

// NewMatch builds lookup sets from plain slices.
func NewMatch(safePorts, knownPorts, tracked []int) Match {
	return Match{
		SafePorts:  toSet(safePorts),
		KnownPorts: toSet(knownPorts),
		Tracked:    toSet(tracked),
	}
}

// ParseScope validates a scope name. Empty defaults to repo-studio.
func ParseScope(s string) (domain.Scope, error) {
	switch strings.TrimSpace(s) {
	case "", string(domain.ScopeRepoStudio):
		return domain.ScopeRepoStudio, nil
	case string(domain.ScopeRepo):
		return domain.ScopeRepo, nil
	default:
		return "", fmt.Errorf("%w: %q (want repo-studio or repo)", domain.ErrInvalidScope, s)
	}
}

// HasPortIn reports whether any of ports is in set.
func HasPortIn(ports []int, set map[int]bool) bool {
	for _, p := range ports {
		if set[p] {
			return true
		}
	}
	return false
}

// MatchesRuntimeTool reports whether a process name looks like one of the
// runtime tool binaries (exact or substring, case-insensitive, ".exe" ignored).
func MatchesRuntimeTool(name string, patterns []string) bool {
	n := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".exe")
	if n == "" {
		return false
	}
	for _, pattern := range patterns {
		p := strings.ToLower(strings.TrimSpace(pattern))
		if p == "" {
			continue
		}
		if n == p || strings.Contains(n, p) {
			return true
		}
	}
	return false
}

func toSet(values []int) map[int]bool {
	set := make(map[int]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func appendReason(reasons []domain.ReclaimReason, r domain.ReclaimReason) []domain.ReclaimReason {
	for _, existing := range reasons {
		if existing == r {
			return reasons
		}
	}
	return append(reasons, r)
}
