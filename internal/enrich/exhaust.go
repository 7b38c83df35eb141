package enrich

import (
	"errors"
	"sort"
	"strings"

	"github.com/deadonfilm/enrichment-cli/internal/source"
)

// ExhaustedSet tracks sources benched for the remainder of a batch after
// rate-limit or quota failures. It is owned by the batch runner and
// mutated only by the batch's single processing goroutine; exhausted
// sources are skipped without consuming a rate-gate slot.
type ExhaustedSet struct {
	names map[string]bool
}

// NewExhaustedSet returns an empty set.
func NewExhaustedSet() *ExhaustedSet {
	return &ExhaustedSet{names: make(map[string]bool)}
}

// Mark benches a source for the rest of the batch.
func (s *ExhaustedSet) Mark(name string) {
	s.names[name] = true
}

// Has reports whether the source is benched.
func (s *ExhaustedSet) Has(name string) bool {
	return s.names[name]
}

// Len returns how many sources are benched.
func (s *ExhaustedSet) Len() int {
	return len(s.names)
}

// Names returns the benched source names, sorted for stable logs.
func (s *ExhaustedSet) Names() []string {
	if len(s.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// rateLimitMarkers is the vocabulary that flags an opaque third-party
// error as a quota problem.
var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota",
	"429",
	"exhausted",
}

// IsRateLimitErr reports whether err is a provider telling us to back
// off: a typed RateLimitError first, then rate-limit vocabulary in the
// error text. Third-party errors often arrive as opaque strings, so the
// text match is a heuristic fallback, not a taxonomy.
func IsRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	var rl *source.RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
