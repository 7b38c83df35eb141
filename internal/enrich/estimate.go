package enrich

import (
	"fmt"
	"strings"

	"github.com/deadonfilm/enrichment-cli/internal/source"
)

// SourceEstimate is one source's share of a worst-case batch estimate.
type SourceEstimate struct {
	Name     string
	PerQuery float64
	TotalUSD float64
}

// Estimate is the worst-case price of a batch: every actor asks every
// source and each bills its full per-query estimate. Actual runs come in
// far under it because the cascade stops early and free sources answer
// most queries, but the ceiling is what the budget has to cover.
type Estimate struct {
	Actors      int
	PerActorUSD float64
	TotalUSD    float64
	BySource    []SourceEstimate
}

// EstimateBatch prices a batch of actorCount actors against the cascade.
func EstimateBatch(sources []source.Source, actorCount int) Estimate {
	est := Estimate{Actors: actorCount}
	for _, src := range sources {
		per := src.EstimatedCostPerQuery()
		est.PerActorUSD += per
		est.BySource = append(est.BySource, SourceEstimate{
			Name:     src.Name(),
			PerQuery: per,
			TotalUSD: per * float64(actorCount),
		})
	}
	est.TotalUSD = est.PerActorUSD * float64(actorCount)
	return est
}

// FormatEstimate renders an estimate for the dry-run output.
func FormatEstimate(est Estimate) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Batch Estimate: %d actors\n\n", est.Actors)
	b.WriteString("## Worst Case\n")
	fmt.Fprintf(&b, "- Per actor: $%.4f\n", est.PerActorUSD)
	fmt.Fprintf(&b, "- Total: $%.4f\n\n", est.TotalUSD)

	b.WriteString("## By Source\n")
	for _, s := range est.BySource {
		if s.PerQuery == 0 {
			fmt.Fprintf(&b, "- %s: free\n", s.Name)
			continue
		}
		fmt.Fprintf(&b, "- %s: $%.4f/query, $%.4f total\n", s.Name, s.PerQuery, s.TotalUSD)
	}

	return b.String()
}
