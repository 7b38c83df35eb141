package model

import "time"

// AttemptRecord is one source attempt during an actor's cascade.
type AttemptRecord struct {
	Source     string  `json:"source"`
	OK         bool    `json:"ok"`
	Skipped    bool    `json:"skipped,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	DelayMS    int64   `json:"delay_ms,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ActorStats summarizes a single actor's enrichment.
type ActorStats struct {
	PersonID        int64              `json:"person_id"`
	FieldsBefore    int                `json:"fields_before"`
	FieldsAfter     int                `json:"fields_after"`
	Attempts        []AttemptRecord    `json:"attempts"`
	FinalSource     string             `json:"final_source,omitempty"`
	FinalConfidence float64            `json:"final_confidence,omitempty"`
	CostBySource    map[string]float64 `json:"cost_by_source,omitempty"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	DurationMS      int64              `json:"duration_ms"`
	CostLimited     bool               `json:"cost_limited,omitempty"`
}

// ExtendedResult bundles an actor's merged record with its run stats and
// the synthesis-stage material.
type ExtendedResult struct {
	Actor            Actor        `json:"actor"`
	Record           *DeathRecord `json:"record"`
	Stats            ActorStats   `json:"stats"`
	RawExcerpts      []RawExcerpt `json:"raw_excerpts,omitempty"`
	SynthesisApplied bool         `json:"synthesis_applied,omitempty"`
	SynthesisError   string       `json:"synthesis_error,omitempty"`
}

// SourceBatchStats aggregates one source's performance across a batch.
type SourceBatchStats struct {
	Attempts int     `json:"attempts"`
	Hits     int     `json:"hits"`
	Errors   int     `json:"errors"`
	Skipped  int     `json:"skipped"`
	CostUSD  float64 `json:"cost_usd"`
}

// BatchStats summarizes a whole batch run.
type BatchStats struct {
	BatchID      string                      `json:"batch_id"`
	Processed    int                         `json:"processed"`
	Failed       int                         `json:"failed"`
	FieldFill    map[FieldKey]int            `json:"field_fill"`
	BySource     map[string]SourceBatchStats `json:"by_source"`
	TotalCostUSD float64                     `json:"total_cost_usd"`
	DurationMS   int64                       `json:"duration_ms"`
	Errors       []string                    `json:"errors,omitempty"`
}

// Checkpoint is the durable batch-progress record. Created when a batch is
// submitted, rewritten after every actor, deleted only when the batch
// finishes cleanly.
type Checkpoint struct {
	BatchID      string         `json:"batch_id"`
	SubmittedIDs []int64        `json:"submitted_ids"`
	ProcessedIDs []int64        `json:"processed_ids"`
	Counters     map[string]int `json:"counters,omitempty"`
	SpentUSD     float64        `json:"spent_usd"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Processed reports whether the given person was already handled in an
// earlier attempt of this batch.
func (c *Checkpoint) Processed(personID int64) bool {
	if c == nil {
		return false
	}
	for _, id := range c.ProcessedIDs {
		if id == personID {
			return true
		}
	}
	return false
}
