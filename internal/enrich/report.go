package enrich

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// FormatBatchReport generates a human-readable batch summary.
func FormatBatchReport(stats *model.BatchStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Batch Report: %s\n", stats.BatchID)
	fmt.Fprintf(&b, "Duration: %s\n\n", (time.Duration(stats.DurationMS) * time.Millisecond).Round(time.Millisecond))

	// Summary.
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Actors processed: %d\n", stats.Processed)
	fmt.Fprintf(&b, "- Nothing found: %d\n", stats.Failed)
	fmt.Fprintf(&b, "- Total cost: $%.4f\n\n", stats.TotalCostUSD)

	// Field fill rates.
	b.WriteString("## Field Fill\n")
	if stats.Processed == 0 || len(stats.FieldFill) == 0 {
		b.WriteString("No fields filled.\n\n")
	} else {
		for _, key := range model.AllFieldKeys() {
			n := stats.FieldFill[key]
			if n == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %d/%d (%.0f%%)\n",
				key, n, stats.Processed, 100*float64(n)/float64(stats.Processed))
		}
		b.WriteString("\n")
	}

	// Per-source breakdown, cascade-agnostic: sorted by name so the
	// report is stable.
	b.WriteString("## Sources\n")
	if len(stats.BySource) == 0 {
		b.WriteString("No sources attempted.\n\n")
	} else {
		names := make([]string, 0, len(stats.BySource))
		for name := range stats.BySource {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := stats.BySource[name]
			line := fmt.Sprintf("- %s: %d attempts, %d hits", name, s.Attempts, s.Hits)
			if s.Attempts > 0 {
				line += fmt.Sprintf(" (%.0f%%)", 100*float64(s.Hits)/float64(s.Attempts))
			}
			if s.Errors > 0 {
				line += fmt.Sprintf(", %d errors", s.Errors)
			}
			if s.Skipped > 0 {
				line += fmt.Sprintf(", %d skipped", s.Skipped)
			}
			if s.CostUSD > 0 {
				line += fmt.Sprintf(", $%.4f", s.CostUSD)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	// Errors.
	if len(stats.Errors) > 0 {
		b.WriteString("## Errors\n")
		for _, e := range stats.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}
