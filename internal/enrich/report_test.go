package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

func TestFormatBatchReport(t *testing.T) {
	stats := &model.BatchStats{
		BatchID:   "batch-7",
		Processed: 4,
		Failed:    1,
		FieldFill: map[model.FieldKey]int{
			model.FieldCircumstances: 3,
			model.FieldLocation:      2,
		},
		BySource: map[string]model.SourceBatchStats{
			"wikidata":   {Attempts: 4, Hits: 2},
			"perplexity": {Attempts: 2, Hits: 2, CostUSD: 0.01},
			"nytimes":    {Attempts: 1, Errors: 1, Skipped: 3, CostUSD: 0.001},
		},
		TotalCostUSD: 0.011,
		DurationMS:   5200,
		Errors:       []string{"nm0000001 nytimes: rate limited: status 429"},
	}

	out := FormatBatchReport(stats)

	assert.Contains(t, out, "# Batch Report: batch-7")
	assert.Contains(t, out, "Actors processed: 4")
	assert.Contains(t, out, "Nothing found: 1")
	assert.Contains(t, out, "Total cost: $0.0110")
	assert.Contains(t, out, "circumstances: 3/4 (75%)")
	assert.Contains(t, out, "location: 2/4 (50%)")
	assert.Contains(t, out, "wikidata: 4 attempts, 2 hits (50%)")
	assert.Contains(t, out, "perplexity: 2 attempts, 2 hits (100%), $0.0100")
	assert.Contains(t, out, "nytimes: 1 attempts, 0 hits (0%), 1 errors, 3 skipped, $0.0010")
	assert.Contains(t, out, "## Errors")
	assert.Contains(t, out, "nm0000001 nytimes: rate limited")
}

func TestFormatBatchReport_Empty(t *testing.T) {
	out := FormatBatchReport(&model.BatchStats{BatchID: "empty"})

	assert.Contains(t, out, "No fields filled.")
	assert.Contains(t, out, "No sources attempted.")
	assert.NotContains(t, out, "## Errors")
}
