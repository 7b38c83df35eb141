package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerQueryRate         `yaml:"perplexity" mapstructure:"perplexity"`
	NYTimes    PerQueryRate         `yaml:"nytimes" mapstructure:"nytimes"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerQueryRate holds flat per-request pricing.
type PerQueryRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Calculator computes USD costs for external API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call from token usage.
func (c *Calculator) Claude(model string, input, output int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	const mtok = 1e6
	return float64(input)/mtok*rate.Input + float64(output)/mtok*rate.Output
}

// PerplexityQuery returns the flat cost per Perplexity query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.Perplexity.PerQuery
}

// NYTimesQuery returns the nominal cost booked per NYT Article Search call.
// The API itself is keyed but unbilled; the charge keeps paid-category
// budgeting honest about quota consumption.
func (c *Calculator) NYTimesQuery() float64 {
	return c.rates.NYTimes.PerQuery
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Perplexity: PerQueryRate{PerQuery: 0.005},
		NYTimes:    PerQueryRate{PerQuery: 0.001},
	}
}

// FromConfig merges configured overrides onto the default rates.
func FromConfig(anthropic map[string]ModelRate, perplexityPerQuery, nytPerQuery float64) Rates {
	rates := DefaultRates()
	for model, rate := range anthropic {
		if rate.Input > 0 || rate.Output > 0 {
			rates.Anthropic[model] = rate
		}
	}
	if perplexityPerQuery > 0 {
		rates.Perplexity.PerQuery = perplexityPerQuery
	}
	if nytPerQuery > 0 {
		rates.NYTimes.PerQuery = nytPerQuery
	}
	return rates
}
