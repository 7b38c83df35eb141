// Package source defines the lookup interface over external death-detail
// providers and the adapters implementing it: structured databases first,
// then web text, then paid AI answers.
package source

import (
	"context"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// Source is one external provider of death details. Implementations are
// safe for sequential use by a single orchestrator; they do not share
// mutable state across calls.
type Source interface {
	// Name is the stable identifier used in config, logs, and ledgers.
	Name() string
	// Free reports whether lookups cost nothing.
	Free() bool
	// EstimatedCostPerQuery is the worst-case USD cost of one Lookup,
	// used for batch dry-run estimates. Zero for free sources.
	EstimatedCostPerQuery() float64
	// Tier ranks the evidence quality of what this source returns.
	Tier() model.SourceTier
	// Reliability is the trust score in [0,1] weighed against the
	// reliability threshold when deciding whether to stop the cascade.
	Reliability() float64
	// Available reports whether the source can serve lookups right now,
	// typically credential presence. Checked once at registry build.
	Available() bool
	// Lookup queries the provider for one actor. A miss is (Found=false,
	// nil error); errors are reserved for transport and provider failures.
	Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error)
}

// Category buckets sources for config toggles.
type Category string

const (
	CategoryFree Category = "free"
	CategoryPaid Category = "paid"
	CategoryAI   Category = "ai"
)
