// Package policy resolves which providers to try, in what order, for one
// tenant and task. Explicit policy order is authoritative: once a tenant or
// strategy has defined a chain, catalog priority never reorders it.
// Priority only orders the system default chain.
package policy

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
)

// Resolver produces the ordered candidate list for a routed request.
type Resolver struct {
	catalog    *catalog.Catalog
	policies   store.PolicyStore
	strategies store.StrategyStore

	// lastResort guarantees the engine never receives an empty candidate
	// list: it is returned alone when filtering empties the chain.
	lastResort string
}

// NewResolver creates a resolver. lastResort is the deployment-configured
// always-available provider id; empty disables the guarantee.
func NewResolver(cat *catalog.Catalog, policies store.PolicyStore, strategies store.StrategyStore, lastResort string) *Resolver {
	return &Resolver{
		catalog:    cat,
		policies:   policies,
		strategies: strategies,
		lastResort: lastResort,
	}
}

// Resolve returns the ordered candidate list for one tenant and task type.
//
// Precedence: custom fallback chain (verbatim) > strategy task override >
// strategy chain > system default (enabled providers by priority). The
// result is filtered by the tenant allow-list and catalog enablement while
// preserving relative order. Providers named by a chain but absent or
// disabled in the catalog are configuration drift and are silently skipped.
func (r *Resolver) Resolve(ctx context.Context, orgID string, taskType models.TaskType) ([]string, error) {
	pol, err := r.policies.GetPolicy(ctx, orgID)
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, err
		}
		pol = nil
	}

	chain, err := r.baseChain(ctx, pol, taskType)
	if err != nil {
		return nil, err
	}

	candidates, err := r.filter(ctx, pol, chain)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 && r.lastResort != "" {
		log.Warn().
			Str("org_id", orgID).
			Str("task_type", string(taskType)).
			Str("last_resort", r.lastResort).
			Msg("Policy filtering emptied the candidate list, using last resort")
		// The id comes from deployment config, not the catalog; if it has
		// drifted the attempt will fail, so make the misconfiguration loud.
		if p, err := r.catalog.Get(ctx, r.lastResort); store.IsNotFound(err) {
			log.Warn().
				Str("last_resort", r.lastResort).
				Msg("Last-resort provider is not registered in the catalog")
		} else if err == nil && !p.Enabled {
			log.Warn().
				Str("last_resort", r.lastResort).
				Msg("Last-resort provider is disabled in the catalog")
		}
		return []string{r.lastResort}, nil
	}
	return candidates, nil
}

// baseChain picks the unfiltered ordered chain for the tenant.
func (r *Resolver) baseChain(ctx context.Context, pol *models.OrganizationPolicy, taskType models.TaskType) ([]string, error) {
	if pol == nil {
		return r.defaultChain(ctx)
	}

	// A non-empty custom chain is the sole source of ordering; it
	// supersedes the strategy entirely.
	if len(pol.CustomFallbackChain) > 0 {
		return pol.CustomFallbackChain, nil
	}

	if pol.FallbackStrategyID != "" {
		strat, err := r.strategies.GetStrategy(ctx, pol.FallbackStrategyID)
		if err != nil {
			if !store.IsNotFound(err) {
				return nil, err
			}
			// Dangling strategy reference is configuration drift.
			log.Warn().
				Str("org_id", pol.OrgID).
				Str("strategy_id", pol.FallbackStrategyID).
				Msg("Policy references unknown strategy, using default chain")
			return r.defaultChain(ctx)
		}
		return strat.Chain(taskType), nil
	}

	if pol.DefaultProvider != "" {
		chain, err := r.defaultChain(ctx)
		if err != nil {
			return nil, err
		}
		return frontload(chain, pol.DefaultProvider), nil
	}

	return r.defaultChain(ctx)
}

// defaultChain is the documented system default: globally enabled providers
// ordered by catalog priority descending (stable ID tiebreak).
func (r *Resolver) defaultChain(ctx context.Context) ([]string, error) {
	providers, err := r.catalog.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	chain := make([]string, 0, len(providers))
	for _, p := range providers {
		chain = append(chain, p.ID)
	}
	return chain, nil
}

// filter drops providers outside the allow-list and providers absent or
// disabled in the catalog, preserving relative order.
func (r *Resolver) filter(ctx context.Context, pol *models.OrganizationPolicy, chain []string) ([]string, error) {
	out := make([]string, 0, len(chain))
	seen := make(map[string]bool, len(chain))

	for _, id := range chain {
		if seen[id] {
			continue
		}
		seen[id] = true

		if pol != nil && !pol.Allows(id) {
			continue
		}

		p, err := r.catalog.Get(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				// Chain references a provider the catalog no longer has:
				// configuration drift, skipped silently.
				continue
			}
			return nil, err
		}
		if !p.Enabled {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// frontload moves id to the head of chain, appending it if absent.
func frontload(chain []string, id string) []string {
	out := make([]string, 0, len(chain)+1)
	out = append(out, id)
	for _, c := range chain {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}
