package anthropic

import "go.uber.org/zap"

// TokenUsage is the token accounting attached to every reply.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelRate is per-million-token pricing.
type modelRate struct {
	input  float64
	output float64
}

var modelRates = map[string]modelRate{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
	"claude-opus-4-6":            {input: 15.00, output: 75.00},
}

// Cache writes bill at a premium on the input rate, cache reads at a
// steep discount.
const (
	cacheWritePremium = 1.25
	cacheReadDiscount = 0.10
)

// EstimateCost prices the usage in USD for the given model. Unknown
// models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	r, ok := modelRates[model]
	if !ok {
		return 0
	}
	const mtok = 1e6
	cost := float64(u.InputTokens) / mtok * r.input
	cost += float64(u.OutputTokens) / mtok * r.output
	cost += float64(u.CacheCreationInputTokens) / mtok * r.input * cacheWritePremium
	cost += float64(u.CacheReadInputTokens) / mtok * r.input * cacheReadDiscount
	return cost
}

// LogCost emits one structured cost attribution line for the call.
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
