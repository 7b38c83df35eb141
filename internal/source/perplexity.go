package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/pkg/perplexity"
)

const perplexitySystemPrompt = "You are a film history researcher documenting how actors died. Answer only from web sources and cite every source you used."

// Perplexity asks a web-grounded model and gets back a structured answer
// with citations. Billed flat per query.
type Perplexity struct {
	client  perplexity.Client
	model   string
	calc    *cost.Calculator
	timeout time.Duration
}

// NewPerplexity creates the Perplexity source. An empty model uses the
// client's default.
func NewPerplexity(client perplexity.Client, model string, calc *cost.Calculator) *Perplexity {
	return &Perplexity{client: client, model: model, calc: calc, timeout: 90 * time.Second}
}

func (s *Perplexity) Name() string                  { return "perplexity" }
func (s *Perplexity) Free() bool                    { return false }
func (s *Perplexity) EstimatedCostPerQuery() float64 { return s.calc.PerplexityQuery() }
func (s *Perplexity) Tier() model.SourceTier        { return model.TierSecondaryCompilation }
func (s *Perplexity) Reliability() float64          { return 0.70 }
func (s *Perplexity) Available() bool               { return s.client != nil }

func (s *Perplexity) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temperature := 0.2
	maxTokens := 700
	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: s.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: perplexitySystemPrompt},
			{Role: "user", Content: lookupPrompt(actor)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, Classify(s.Name(), err, true)
	}

	details, payload, err := ParseAnswer(resp.FirstContent())
	if err != nil {
		zap.L().Warn("perplexity reply unparseable",
			zap.String("actor", actor.Name),
			zap.Error(err))
		return s.miss(actor), nil
	}
	if details.IsEmpty() {
		return s.miss(actor), nil
	}

	sources := mergeSourceURLs(resp.Citations, payload.Sources)
	entry := model.SourceEntry{
		Name:        s.Name(),
		Query:       actor.Name,
		RetrievedAt: time.Now().UTC(),
		Confidence:  clampConfidence(payload.Confidence, 0.7),
		Tier:        s.Tier(),
		Reliability: s.Reliability(),
		CostUSD:     s.calc.PerplexityQuery(),
	}
	if len(sources) > 0 {
		entry.URL = sources[0]
	}

	return &model.LookupResult{
		Found:     true,
		Details:   details,
		Source:    entry,
		Excerpt:   answerExcerpt(details, sources),
		Citations: sources,
	}, nil
}

func (s *Perplexity) miss(actor model.Actor) *model.LookupResult {
	return &model.LookupResult{
		Source: model.SourceEntry{
			Name:        s.Name(),
			Query:       actor.Name,
			RetrievedAt: time.Now().UTC(),
			Tier:        s.Tier(),
			Reliability: s.Reliability(),
			CostUSD:     s.calc.PerplexityQuery(),
		},
	}
}

// mergeSourceURLs unions API citations with the URLs the answer itself
// listed, citations first.
func mergeSourceURLs(citations, claimed []string) []string {
	seen := make(map[string]bool, len(citations)+len(claimed))
	var out []string
	for _, u := range append(append([]string{}, citations...), claimed...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
