package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SpacingAt100RPM(t *testing.T) {
	g := NewGate(func(string) int { return 100 })
	ctx := context.Background()

	start := time.Now()
	_, err := g.Wait(ctx, "perplexity")
	require.NoError(t, err)
	delay, err := g.Wait(ctx, "perplexity")
	require.NoError(t, err)

	// 100 requests/minute means 600ms between consecutive grants.
	assert.GreaterOrEqual(t, time.Since(start), 590*time.Millisecond)
	assert.GreaterOrEqual(t, delay, 500*time.Millisecond, "second wait reports its delay")
}

func TestGate_FirstCallImmediate(t *testing.T) {
	g := NewGate(func(string) int { return 1 })

	start := time.Now()
	_, err := g.Wait(context.Background(), "wikidata")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "burst of one passes straight through")
}

func TestGate_KeysAreIndependent(t *testing.T) {
	g := NewGate(func(string) int { return 1 })
	ctx := context.Background()

	start := time.Now()
	_, err := g.Wait(ctx, "wikidata")
	require.NoError(t, err)
	_, err = g.Wait(ctx, "wikipedia")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 200*time.Millisecond, "different keys do not queue on each other")
}

func TestGate_ContextCancelled(t *testing.T) {
	g := NewGate(func(string) int { return 1 })
	ctx, cancel := context.WithCancel(context.Background())

	_, err := g.Wait(ctx, "nytimes")
	require.NoError(t, err)

	cancel()
	_, err = g.Wait(ctx, "nytimes")
	assert.Error(t, err, "a cancelled context unblocks the wait")
}

func TestGate_DefaultRPM(t *testing.T) {
	g := NewGate(func(string) int { return 0 })

	lim := g.limiterFor("anything")
	assert.InDelta(t, float64(defaultRPM)/60.0, float64(lim.Limit()), 1e-9)
}
