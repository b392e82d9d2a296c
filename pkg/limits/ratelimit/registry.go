package ratelimit

import (
	"sort"

	"mercator-hq/tollgate/pkg/config"
)

// Registry holds the named policies loaded at startup. It is immutable and
// safe for concurrent use.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds policies from validated configuration.
func NewRegistry(cfgs map[string]config.RateLimitConfig) *Registry {
	r := &Registry{policies: make(map[string]Policy, len(cfgs))}
	for name, c := range cfgs {
		r.policies[name] = Policy{
			Name:               name,
			Window:             c.Window,
			Max:                c.Max,
			KeyStrategy:        KeyStrategy(c.KeyStrategy),
			SkipFailedRequests: c.SkipFailedRequests,
		}
	}
	return r
}

// Lookup returns the policy called name.
func (r *Registry) Lookup(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Names returns the sorted policy names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
