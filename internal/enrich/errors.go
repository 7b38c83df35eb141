package enrich

import (
	"fmt"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// BatchCostLimitError aborts a batch whose total spend reached the
// aggregate budget. Partial carries every result finished before the
// breach so the caller can report completed work; the checkpoint is left
// in place for a later resume with a raised limit.
type BatchCostLimitError struct {
	BatchID string
	Limit   float64
	Spent   float64
	Partial map[int64]*model.ExtendedResult
}

func (e *BatchCostLimitError) Error() string {
	return fmt.Sprintf("batch %s: spend $%.4f reached the $%.2f budget after %d actors",
		e.BatchID, e.Spent, e.Limit, len(e.Partial))
}
