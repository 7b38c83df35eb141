package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 0.80, Output: 4.00},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
		Perplexity: PerQueryRate{PerQuery: 0.005},
		NYTimes:    PerQueryRate{PerQuery: 0.001},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{
			name:  "haiku simple",
			model: "haiku",
			input: 1000000, output: 100000,
			want: 0.80 + 0.40, // 0.80 input + 0.40 output
		},
		{
			name:  "sonnet",
			model: "sonnet",
			input: 1000000, output: 100000,
			want: 3.00 + 1.50,
		},
		{
			name:  "small call",
			model: "haiku",
			input: 1200, output: 350,
			want: 1200.0/1e6*0.80 + 350.0/1e6*4.00,
		},
		{
			name:  "unknown model returns 0",
			model: "unknown",
			input: 1000000, output: 1000000,
			want: 0,
		},
		{
			name:  "zero tokens returns 0",
			model: "haiku",
			want:  0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.input, tt.output)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestPerQueryRates(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.005, calc.PerplexityQuery(), 0.0001)
	assert.InDelta(t, 0.001, calc.NYTimesQuery(), 0.0001)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5-20250929")
	assert.Contains(t, rates.Anthropic, "claude-opus-4-6")
	assert.InDelta(t, 0.005, rates.Perplexity.PerQuery, 0.001)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	rates := FromConfig(map[string]ModelRate{
		"claude-haiku-4-5-20251001": {Input: 1.00, Output: 5.00},
		"custom-model":              {Input: 2.00, Output: 6.00},
	}, 0.01, 0)

	assert.InDelta(t, 1.00, rates.Anthropic["claude-haiku-4-5-20251001"].Input, 0.001)
	assert.InDelta(t, 2.00, rates.Anthropic["custom-model"].Input, 0.001)
	// Untouched defaults survive
	assert.InDelta(t, 3.00, rates.Anthropic["claude-sonnet-4-5-20250929"].Input, 0.001)
	assert.InDelta(t, 0.01, rates.Perplexity.PerQuery, 0.0001)
	assert.InDelta(t, 0.001, rates.NYTimes.PerQuery, 0.0001)
}
