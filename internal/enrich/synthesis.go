package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/internal/source"
	"github.com/deadonfilm/enrichment-cli/internal/urlresolve"
	"github.com/deadonfilm/enrichment-cli/pkg/anthropic"
)

const synthesisSystemPrompt = "You are a film historian consolidating several research notes about one person's death into a single factual record. Weigh agreement between independent accounts above any single account's confidence. Never invent details that are not in the notes."

// Synthesizer cross-references the cascade's raw excerpts into one
// cleaned answer with a single Claude call. Citation URLs are resolved to
// their publishing site first so the model attributes claims to the
// newspaper rather than to the provider that surfaced it.
type Synthesizer struct {
	client   anthropic.Client
	model    string
	calc     *cost.Calculator
	resolver *urlresolve.Resolver
	timeout  time.Duration
}

// NewSynthesizer creates the synthesis stage. resolver may be nil, in
// which case excerpts keep their provider attribution.
func NewSynthesizer(client anthropic.Client, modelID string, calc *cost.Calculator, resolver *urlresolve.Resolver) *Synthesizer {
	return &Synthesizer{
		client:   client,
		model:    modelID,
		calc:     calc,
		resolver: resolver,
		timeout:  2 * time.Minute,
	}
}

// Run resolves citations, asks the model to merge the excerpts, and
// returns the cleaned details with the synthesis source entry and the
// token-usage cost. Cost is reported even when the reply fails to parse,
// so the caller can fold spend that bought nothing.
func (s *Synthesizer) Run(ctx context.Context, actor model.Actor, excerpts []model.RawExcerpt) (*model.DeathDetails, model.SourceEntry, float64, error) {
	s.resolveCitations(ctx, excerpts)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temperature := 0.1
	resp, err := s.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   1200,
		System:      anthropic.BuildCachedSystemBlocks(synthesisSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: synthesisPrompt(actor, excerpts)}},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, model.SourceEntry{}, 0, eris.Wrap(err, "enrich: synthesis call")
	}
	spent := s.calc.Claude(s.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	resp.Usage.LogCost(s.model, "synthesis")

	details, payload, err := source.ParseAnswer(resp.FirstText())
	if err != nil {
		return nil, model.SourceEntry{}, spent, eris.Wrap(err, "enrich: synthesis reply")
	}

	conf := payload.Confidence
	if conf <= 0 {
		conf = 0.8
	} else if conf > 1 {
		conf = 1
	}
	entry := model.SourceEntry{
		Name:        SynthesisCategory,
		RetrievedAt: time.Now().UTC(),
		Confidence:  conf,
		Tier:        model.TierSecondaryCompilation,
		Reliability: topReliability(excerpts),
		CostUSD:     spent,
	}
	return details, entry, spent, nil
}

// resolveCitations chases each excerpt's citation URLs through their
// redirect chains and records the publishers on the excerpt.
func (s *Synthesizer) resolveCitations(ctx context.Context, excerpts []model.RawExcerpt) {
	if s.resolver == nil {
		return
	}
	for i := range excerpts {
		urls := excerpts[i].CitationURLs
		if len(urls) == 0 {
			continue
		}
		excerpts[i].ResolvedSources = s.resolver.ResolveAll(ctx, urls)
	}
}

// excerptLabel names an excerpt for attribution: the first resolved
// publisher when citations resolved, otherwise the provider name.
func excerptLabel(ex model.RawExcerpt) string {
	for _, rs := range ex.ResolvedSources {
		if rs.Publisher != "" {
			return rs.Publisher
		}
	}
	return ex.SourceName
}

// synthesisPrompt renders the accounts with their provenance so the model
// can weigh tiers and agreement.
func synthesisPrompt(actor model.Actor, excerpts []model.RawExcerpt) string {
	var b strings.Builder
	b.WriteString("Cross-reference the accounts below of the death of ")
	b.WriteString(actor.Name)
	if actor.DeathYear > 0 {
		fmt.Fprintf(&b, " (died %d)", actor.DeathYear)
	}
	b.WriteString(" and merge them into one answer. Prefer claims that independent accounts agree on. Keep unconfirmed versions under rumored_circumstances. Drop speculation and filler.\n\n")
	for i, ex := range excerpts {
		fmt.Fprintf(&b, "Account %d from %s (tier %s, reliability %.2f, confidence %.2f)",
			i+1, excerptLabel(ex), ex.Tier, ex.Reliability, ex.Confidence)
		if ex.URL != "" {
			fmt.Fprintf(&b, " <%s>", ex.URL)
		}
		b.WriteString(":\n")
		b.WriteString(strings.TrimSpace(ex.Text))
		b.WriteString("\n\n")
	}
	b.WriteString(source.AnswerSchemaHint)
	return b.String()
}

// topReliability returns the highest reliability among the excerpts; the
// merged answer can only be as trustworthy as its best input.
func topReliability(excerpts []model.RawExcerpt) float64 {
	top := 0.0
	for _, ex := range excerpts {
		if ex.Reliability > top {
			top = ex.Reliability
		}
	}
	return top
}
