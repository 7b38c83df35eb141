package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/config"
	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/match"
	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/pkg/anthropic"
)

// maxPageChars caps how much of a fetched page the follower will read.
const maxPageChars = 6000

// linkFollower fetches search result pages and mines them for death
// sentences. Optional AI assists pick which links to chase and pull facts
// out of messy page text; their token costs count against the follower's
// own per-actor budget. Page fetches themselves are free.
type linkFollower struct {
	doer    *httpDoer
	cfg     config.LinkFollowConfig
	ai      anthropic.Client
	aiModel string
	calc    *cost.Calculator
}

func newLinkFollower(doer *httpDoer, cfg config.LinkFollowConfig, ai anthropic.Client, aiModel string, calc *cost.Calculator) *linkFollower {
	if cfg.MaxLinksPerActor <= 0 {
		cfg.MaxLinksPerActor = 3
	}
	return &linkFollower{doer: doer, cfg: cfg, ai: ai, aiModel: aiModel, calc: calc}
}

// augment follows up to MaxLinksPerActor result pages and returns what they
// said about the death, plus the USD spent on AI assists. Fetch failures
// are logged and skipped; one dead link never sinks the lookup.
func (f *linkFollower) augment(ctx context.Context, actor model.Actor, hits []searchHit) (string, float64) {
	var spent float64
	order := f.pickLinks(ctx, actor, hits, &spent)

	var findings []string
	followed := 0
	for _, idx := range order {
		if followed >= f.cfg.MaxLinksPerActor {
			break
		}
		if f.overBudget(spent) {
			zap.L().Debug("link follow budget exhausted",
				zap.String("actor", actor.Name),
				zap.Float64("spent_usd", spent))
			break
		}

		hit := hits[idx]
		body, err := f.doer.get(ctx, hit.URL, "text/html")
		if err != nil {
			zap.L().Debug("link follow fetch failed",
				zap.String("url", hit.URL),
				zap.Error(err))
			continue
		}
		followed++

		text := pageText(string(body))
		if text == "" {
			continue
		}
		if found := f.extract(ctx, actor, hit.URL, text, &spent); found != "" {
			findings = append(findings, fmt.Sprintf("From %s: %s", hit.URL, found))
		}
	}
	return strings.Join(findings, "\n"), spent
}

// pickLinks decides which hits to follow and in what order. With AI
// selection off (or failing) the page order stands.
func (f *linkFollower) pickLinks(ctx context.Context, actor model.Actor, hits []searchHit, spent *float64) []int {
	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	if !f.cfg.AILinkSelection || f.ai == nil {
		return order
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Which of these search results most likely describe the death of %s", actor.Name)
	if actor.DeathYear > 0 {
		fmt.Fprintf(&b, " (died %d)", actor.DeathYear)
	}
	fmt.Fprintf(&b, "? Reply with a JSON array of zero-based indexes, best first, at most %d.\n", f.cfg.MaxLinksPerActor)
	for i, hit := range hits {
		fmt.Fprintf(&b, "%d. %s | %s | %s\n", i, hit.Title, hit.URL, hit.Snippet)
	}

	resp, err := f.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     f.aiModel,
		MaxTokens: 100,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		zap.L().Debug("link selection failed, following in page order", zap.Error(err))
		return order
	}
	*spent += f.cost(resp.Usage)

	if picked := parseIndexList(resp.FirstText(), len(hits)); len(picked) > 0 {
		return picked
	}
	return order
}

// extract pulls death facts out of page text, by model when extraction is
// enabled and affordable, by sentence scan otherwise.
func (f *linkFollower) extract(ctx context.Context, actor model.Actor, pageURL, text string, spent *float64) string {
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
	}

	if f.cfg.AIContentExtraction && f.ai != nil && !f.overBudget(*spent) {
		prompt := fmt.Sprintf(
			"Extract facts about the death of %s from this page text. Reply with one short paragraph containing only facts stated in the text, or NONE if the page does not discuss their death.\n\n%s",
			actor.Name, text)
		resp, err := f.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     f.aiModel,
			MaxTokens: 300,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err == nil {
			*spent += f.cost(resp.Usage)
			answer := strings.TrimSpace(resp.FirstText())
			if answer == "" || strings.EqualFold(answer, "NONE") {
				return ""
			}
			return answer
		}
		zap.L().Debug("content extraction failed, falling back to sentence scan",
			zap.String("url", pageURL),
			zap.Error(err))
	}

	sentences := deathSentences(text)
	var kept []string
	for _, sentence := range sentences {
		if match.Contains(sentence, actor.Name) || match.Contains(sentence, surname(actor.Name)) {
			kept = append(kept, sentence)
		}
		if len(kept) >= 3 {
			break
		}
	}
	if len(kept) == 0 {
		if len(sentences) > 3 {
			sentences = sentences[:3]
		}
		kept = sentences
	}
	return strings.Join(kept, " ")
}

func (f *linkFollower) cost(usage anthropic.TokenUsage) float64 {
	return f.calc.Claude(f.aiModel, int(usage.InputTokens), int(usage.OutputTokens))
}

func (f *linkFollower) overBudget(spent float64) bool {
	return f.cfg.MaxCostPerActor > 0 && spent >= f.cfg.MaxCostPerActor
}

// parseIndexList reads a JSON array of indexes out of a model reply,
// dropping duplicates and out-of-range values.
func parseIndexList(text string, n int) []int {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var raw []int
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}

	var picked []int
	seen := make(map[int]bool)
	for _, i := range raw {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		picked = append(picked, i)
	}
	return picked
}
