package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost(t *testing.T) {
	fullMillion := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	tests := []struct {
		name  string
		usage TokenUsage
		model string
		want  float64
	}{
		{"haiku", fullMillion, "claude-haiku-4-5-20251001", 4.80},
		{"sonnet", fullMillion, "claude-sonnet-4-5-20250929", 18.00},
		{"opus", fullMillion, "claude-opus-4-6", 90.00},
		{"unknown model costs nothing", fullMillion, "unknown-model", 0},
		{"zero tokens", TokenUsage{}, "claude-haiku-4-5-20251001", 0},
		{
			// 0.5M in + 0.1M out + 0.2M cache write at 1.25x + 0.3M
			// cache read at 0.10x, all on haiku rates.
			name: "cache writes and reads",
			usage: TokenUsage{
				InputTokens:              500_000,
				OutputTokens:             100_000,
				CacheCreationInputTokens: 200_000,
				CacheReadInputTokens:     300_000,
			},
			model: "claude-haiku-4-5-20251001",
			want:  1.024,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	usage := TokenUsage{InputTokens: 100, OutputTokens: 50}
	assert.NotPanics(t, func() { usage.LogCost("claude-haiku-4-5-20251001", "synthesis") })
	assert.NotPanics(t, func() { usage.LogCost("unknown-model", "synthesis") })
}
