package source

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/enrichment-cli/internal/resilience"
	"github.com/deadonfilm/enrichment-cli/pkg/perplexity"
	"github.com/deadonfilm/enrichment-cli/pkg/wikimedia"
)

type fakeNetTimeout struct{}

func (fakeNetTimeout) Error() string   { return "dial tcp: i/o timeout" }
func (fakeNetTimeout) Timeout() bool   { return true }
func (fakeNetTimeout) Temporary() bool { return true }

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, Classify("wikidata", nil, false))
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	err := Classify("perplexity", context.DeadlineExceeded, true)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "perplexity", timeoutErr.Source)
	assert.True(t, timeoutErr.HighPriority)
}

func TestClassify_NetTimeout(t *testing.T) {
	err := Classify("wikipedia", fakeNetTimeout{}, false)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.False(t, timeoutErr.HighPriority)
}

func TestClassify_CircuitOpen(t *testing.T) {
	err := Classify("websearch", resilience.ErrCircuitOpen, false)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "websearch", rateErr.Source)
	assert.Contains(t, rateErr.Detail, "circuit open")
}

func TestClassify_AccessBlocked(t *testing.T) {
	for _, status := range []int{401, 403} {
		err := Classify("nytimes", &HTTPStatusError{Status: status, URL: "https://api.nytimes.com"}, true)

		var blockedErr *AccessBlockedError
		require.ErrorAs(t, err, &blockedErr, "status %d", status)
		assert.Equal(t, status, blockedErr.Status)
		assert.Equal(t, "nytimes", blockedErr.Source)
	}
}

func TestClassify_RateLimited(t *testing.T) {
	err := Classify("perplexity", &perplexity.APIError{StatusCode: 429, Body: "slow down"}, true)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "perplexity", rateErr.Source)
}

func TestClassify_WrappedStatusStillClassified(t *testing.T) {
	wrapped := eris.Wrap(&wikimedia.APIError{StatusCode: 403, Body: "blocked"}, "wikimedia: query")
	err := Classify("wikidata", wrapped, false)

	var blockedErr *AccessBlockedError
	require.ErrorAs(t, err, &blockedErr)
	assert.Equal(t, 403, blockedErr.Status)
}

func TestClassify_ServerErrorPassesThrough(t *testing.T) {
	cause := &HTTPStatusError{Status: 500, URL: "https://example.com"}
	err := Classify("websearch", cause, false)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 500, statusErr.Status)
}

func TestClassify_UnknownPassesThrough(t *testing.T) {
	cause := eris.New("malformed payload")
	assert.Equal(t, cause, Classify("wikidata", cause, false))
}
