package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deadonfilm/enrichment-cli/internal/match"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/pkg/wikimedia"
)

// Wikipedia reads the lead extract of the person's article and mines it for
// death sentences. Title lookup goes direct first, then through search when
// the bare name misses or lands on a disambiguation page.
type Wikipedia struct {
	client  wikimedia.Client
	timeout time.Duration
}

// NewWikipedia creates the Wikipedia source.
func NewWikipedia(client wikimedia.Client) *Wikipedia {
	return &Wikipedia{client: client, timeout: 20 * time.Second}
}

func (s *Wikipedia) Name() string                  { return "wikipedia" }
func (s *Wikipedia) Free() bool                    { return true }
func (s *Wikipedia) EstimatedCostPerQuery() float64 { return 0 }
func (s *Wikipedia) Tier() model.SourceTier        { return model.TierSecondaryCompilation }
func (s *Wikipedia) Reliability() float64          { return 0.80 }
func (s *Wikipedia) Available() bool               { return true }

func (s *Wikipedia) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.client.PageSummary(ctx, actor.Name)
	if err != nil {
		return nil, Classify(s.Name(), err, false)
	}
	if !usablePage(summary, actor) {
		summary, err = s.searchForPage(ctx, actor)
		if err != nil {
			return nil, Classify(s.Name(), err, false)
		}
	}
	if summary == nil {
		return &model.LookupResult{Source: s.entry(actor.Name, "", 0)}, nil
	}

	sentences := deathSentences(summary.Extract)
	if len(sentences) == 0 {
		return &model.LookupResult{Source: s.entry(actor.Name, pageURL(summary), 0)}, nil
	}
	excerpt := strings.Join(sentences, " ")

	details := &model.DeathDetails{
		Circumstances: extractCircumstances(excerpt),
		Location:      extractLocation(excerpt),
	}

	// A parsed cause is trustworthy prose; bare death sentences still help
	// the synthesis stage but should not stop the cascade.
	confidence := 0.80
	if details.Circumstances == "" {
		confidence = 0.45
	}
	if details.IsEmpty() {
		details = nil
	}

	return &model.LookupResult{
		Found:   true,
		Details: details,
		Source:  s.entry(actor.Name, pageURL(summary), confidence),
		Excerpt: excerpt,
	}, nil
}

// usablePage reports whether a summary is the actor's own article.
func usablePage(summary *wikimedia.PageSummaryResponse, actor model.Actor) bool {
	if summary == nil || summary.Type == "disambiguation" {
		return false
	}
	return match.Contains(summary.Title, actor.Name)
}

// searchForPage falls back to full-text search when the direct title lookup
// comes up empty. Returns (nil, nil) when no hit pans out.
func (s *Wikipedia) searchForPage(ctx context.Context, actor model.Actor) (*wikimedia.PageSummaryResponse, error) {
	query := actor.Name + " actor death"
	if actor.DeathYear > 0 {
		query = fmt.Sprintf("%s actor died %d", actor.Name, actor.DeathYear)
	}

	found, err := s.client.SearchPages(ctx, query, 3)
	if err != nil {
		return nil, err
	}
	for _, hit := range found.Query.Search {
		if !match.Contains(hit.Title, actor.Name) {
			continue
		}
		summary, err := s.client.PageSummary(ctx, hit.Title)
		if err != nil {
			return nil, err
		}
		if usablePage(summary, actor) {
			return summary, nil
		}
	}
	return nil, nil
}

func pageURL(summary *wikimedia.PageSummaryResponse) string {
	if summary == nil {
		return ""
	}
	return summary.ContentURLs.Desktop.Page
}

func (s *Wikipedia) entry(query, url string, confidence float64) model.SourceEntry {
	return model.SourceEntry{
		Name:        s.Name(),
		URL:         url,
		Query:       query,
		RetrievedAt: time.Now().UTC(),
		Confidence:  confidence,
		Tier:        s.Tier(),
		Reliability: s.Reliability(),
	}
}
