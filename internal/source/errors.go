package source

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/deadonfilm/enrichment-cli/internal/resilience"
	sdkanthropic "github.com/deadonfilm/enrichment-cli/pkg/anthropic"
	"github.com/deadonfilm/enrichment-cli/pkg/imdb"
	"github.com/deadonfilm/enrichment-cli/pkg/perplexity"
	"github.com/deadonfilm/enrichment-cli/pkg/wikimedia"
)

// AccessBlockedError means the provider rejected our credentials or IP.
// The cascade moves on to the next source.
type AccessBlockedError struct {
	Source string
	Status int
}

func (e *AccessBlockedError) Error() string {
	return fmt.Sprintf("%s: access blocked (status %d)", e.Source, e.Status)
}

// TimeoutError means the provider did not answer in time. HighPriority
// marks sources whose silence is worth a human look, paid ones mostly.
type TimeoutError struct {
	Source       string
	HighPriority bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out", e.Source)
}

// RateLimitError means the provider throttled us. The source is skipped
// for the remainder of the batch.
type RateLimitError struct {
	Source string
	Detail string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.Source, e.Detail)
}

// Classify turns transport failures into the typed errors the orchestrator
// routes on. Errors it does not recognize pass through unchanged.
func Classify(sourceName string, err error, highPriority bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Source: sourceName, HighPriority: highPriority}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Source: sourceName, HighPriority: highPriority}
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// A tripped breaker means the host kept failing; bench the source
		// for the rest of the batch rather than probing it per actor.
		return &RateLimitError{Source: sourceName, Detail: "circuit open"}
	}
	if status, ok := statusOf(err); ok {
		return classifyStatus(sourceName, status, err)
	}
	return err
}

func classifyStatus(sourceName string, status int, cause error) error {
	switch status {
	case 401, 403:
		return &AccessBlockedError{Source: sourceName, Status: status}
	case 429:
		return &RateLimitError{Source: sourceName, Detail: fmt.Sprintf("status %d", status)}
	}
	return cause
}

// statusOf extracts an HTTP status from any of the client libraries' typed
// errors.
func statusOf(err error) (int, bool) {
	var wikiErr *wikimedia.APIError
	if errors.As(err, &wikiErr) {
		return wikiErr.StatusCode, true
	}
	var pplxErr *perplexity.APIError
	if errors.As(err, &pplxErr) {
		return pplxErr.StatusCode, true
	}
	var imdbErr *imdb.APIError
	if errors.As(err, &imdbErr) {
		return imdbErr.StatusCode, true
	}
	if code, ok := sdkanthropic.StatusCode(err); ok {
		return code, true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.Status, true
	}
	return 0, false
}
