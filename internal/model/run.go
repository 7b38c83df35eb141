package model

import "time"

// RunStatus represents the current state of an enrichment run.
type RunStatus string

const (
	RunStatusQueued       RunStatus = "queued"
	RunStatusEnriching    RunStatus = "enriching"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
)

// Run represents a single enrichment run for an actor.
type Run struct {
	ID        string     `json:"id"`
	Actor     Actor      `json:"actor"`
	BatchID   string     `json:"batch_id,omitempty"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	FieldsFound  int     `json:"fields_found"`
	FieldsTotal  int     `json:"fields_total"`
	FinalSource  string  `json:"final_source,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Synthesized  bool    `json:"synthesized,omitempty"`
	Error        string  `json:"error,omitempty"`
}
