package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/pkg/anthropic"
)

const claudeSystemPrompt = "You are a film historian answering from memory, without web access. State only what you actually know about the person. When you are unsure, leave fields empty and report low confidence instead of guessing."

// ClaudeSpec parameterizes a ClaudeSource; the cascade runs one per model
// so a cheap model gets asked before an expensive one.
type ClaudeSpec struct {
	Name        string
	Model       string
	Estimate    float64
	Reliability float64
}

// ClaudeSource asks an Anthropic model directly. Model memory covers famous
// deaths well and obscure ones poorly, so the self-reported confidence does
// the gatekeeping. Cost comes from actual token usage, not the estimate.
type ClaudeSource struct {
	client  anthropic.Client
	spec    ClaudeSpec
	calc    *cost.Calculator
	timeout time.Duration
}

// NewClaude creates a Claude-backed source.
func NewClaude(client anthropic.Client, spec ClaudeSpec, calc *cost.Calculator) *ClaudeSource {
	return &ClaudeSource{client: client, spec: spec, calc: calc, timeout: 90 * time.Second}
}

func (s *ClaudeSource) Name() string                  { return s.spec.Name }
func (s *ClaudeSource) Free() bool                    { return false }
func (s *ClaudeSource) EstimatedCostPerQuery() float64 { return s.spec.Estimate }
func (s *ClaudeSource) Tier() model.SourceTier        { return model.TierWebText }
func (s *ClaudeSource) Reliability() float64          { return s.spec.Reliability }
func (s *ClaudeSource) Available() bool               { return s.client != nil }

func (s *ClaudeSource) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temperature := 0.2
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.spec.Model,
		MaxTokens:   700,
		System:      []anthropic.SystemBlock{{Text: claudeSystemPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: lookupPrompt(actor)}},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, Classify(s.Name(), err, true)
	}

	spent := s.calc.Claude(s.spec.Model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	resp.Usage.LogCost(s.spec.Model, "lookup")

	details, payload, err := ParseAnswer(resp.FirstText())
	if err != nil {
		zap.L().Warn("claude reply unparseable",
			zap.String("source", s.Name()),
			zap.String("actor", actor.Name),
			zap.Error(err))
		return s.miss(actor, spent), nil
	}
	if details.IsEmpty() {
		return s.miss(actor, spent), nil
	}

	sources := mergeSourceURLs(nil, payload.Sources)
	entry := model.SourceEntry{
		Name:        s.Name(),
		Query:       actor.Name,
		RetrievedAt: time.Now().UTC(),
		Confidence:  clampConfidence(payload.Confidence, 0.6),
		Tier:        s.Tier(),
		Reliability: s.Reliability(),
		CostUSD:     spent,
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

func (s *ClaudeSource) miss(actor model.Actor, spent float64) *model.LookupResult {
	return &model.LookupResult{
		Source: model.SourceEntry{
			Name:        s.Name(),
			Query:       actor.Name,
			RetrievedAt: time.Now().UTC(),
			Tier:        s.Tier(),
			Reliability: s.Reliability(),
			CostUSD:     spent,
		},
	}
}
