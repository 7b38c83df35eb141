package enrich

// SynthesisCategory is the ledger key for synthesis-stage spend. Kept
// distinct from every source name so reports can break it out.
const SynthesisCategory = "synthesis"

// Ledger accumulates one actor's USD spend by source. Totals only ever
// grow; a lookup that billed and then failed still counts.
type Ledger struct {
	bySource map[string]float64
	total    float64
}

// NewLedger returns an empty per-actor ledger.
func NewLedger() *Ledger {
	return &Ledger{bySource: make(map[string]float64)}
}

// Add folds one attempt's cost into the ledger. Zero and negative amounts
// are ignored.
func (l *Ledger) Add(source string, usd float64) {
	if usd <= 0 {
		return
	}
	l.bySource[source] += usd
	l.total += usd
}

// ActorTotal returns the cumulative spend across all sources.
func (l *Ledger) ActorTotal() float64 {
	return l.total
}

// BySource returns a copy of the per-source spend breakdown.
func (l *Ledger) BySource() map[string]float64 {
	if len(l.bySource) == 0 {
		return nil
	}
	out := make(map[string]float64, len(l.bySource))
	for k, v := range l.bySource {
		out[k] = v
	}
	return out
}

// OverActorLimit reports whether spend has reached the per-actor guard.
// A zero or negative limit disables the guard.
func (l *Ledger) OverActorLimit(limit float64) bool {
	return limit > 0 && l.total >= limit
}

// BatchLedger accumulates spend across a whole batch. Seeded from the
// checkpoint on resume so the aggregate guard cannot overshoot across
// restarts.
type BatchLedger struct {
	limit float64
	spent float64
}

// NewBatchLedger creates a batch ledger with the given USD limit. A zero
// or negative limit disables the guard.
func NewBatchLedger(limit float64) *BatchLedger {
	return &BatchLedger{limit: limit}
}

// Fold adds spend to the batch total.
func (b *BatchLedger) Fold(usd float64) {
	if usd <= 0 {
		return
	}
	b.spent += usd
}

// Spent returns the cumulative batch spend.
func (b *BatchLedger) Spent() float64 {
	return b.spent
}

// Limit returns the configured batch budget.
func (b *BatchLedger) Limit() float64 {
	return b.limit
}

// OverBatchLimit reports whether batch spend has reached the budget.
func (b *BatchLedger) OverBatchLimit() bool {
	return b.limit > 0 && b.spent >= b.limit
}
