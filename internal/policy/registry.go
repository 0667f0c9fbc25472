package policy

import (
	"fmt"
	"sort"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// Registry holds all scope policies.
type Registry struct {
	policies map[domain.Scope]ScopePolicy
}

// NewRegistry creates a registry with both built-in scopes configured from cfg.
func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{
		policies: make(map[domain.Scope]ScopePolicy),
	}

	r.Register(NewRepoStudioPolicy(cfg))
	r.Register(NewRepoPolicy(cfg))

	return r
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(policies ...ScopePolicy) *Registry {
	r := &Registry{
		policies: make(map[domain.Scope]ScopePolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy to the registry.
func (r *Registry) Register(p ScopePolicy) {
	r.policies[p.ID()] = p
}

// Get returns the policy for scope.
func (r *Registry) Get(scope domain.Scope) (ScopePolicy, error) {
	p, ok := r.policies[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidScope, scope)
	}
	return p, nil
}

// List returns all registered scopes, sorted.
func (r *Registry) List() []domain.Scope {
	scopes := make([]domain.Scope, 0, len(r.policies))
	for s := range r.policies {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes
}
