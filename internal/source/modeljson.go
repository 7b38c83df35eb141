package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// AnswerSchemaHint is appended to AI prompts so replies come back as a
// single JSON object matching Answer. The field names track the
// DeathDetails wire names.
const AnswerSchemaHint = `Respond with a single JSON object and no other text:
{
  "circumstances": "factual cause and manner of death, or empty string if unknown",
  "rumored_circumstances": "unconfirmed accounts, or empty string",
  "notable_factors": ["short phrases: drugs involved, on-set accident, foul play suspected"],
  "location": "city and region where they died, or empty string",
  "additional_context": "one or two sentences of surrounding context",
  "last_project": "final film or show they worked on",
  "career_status": "state of their career at death (active, retired, comeback)",
  "posthumous_releases": "work released after death",
  "related_deaths": "connected deaths, if any",
  "confidence": 0.0,
  "sources": ["https://..."]
}
Use empty strings for fields you cannot support. Set confidence between 0 and 1
to reflect how certain you are of the factual circumstances.`

// Answer is the JSON reply shape shared by the AI sources.
type Answer struct {
	Circumstances        string   `json:"circumstances"`
	RumoredCircumstances string   `json:"rumored_circumstances"`
	NotableFactors       []string `json:"notable_factors"`
	Location             string   `json:"location"`
	AdditionalContext    string   `json:"additional_context"`
	LastProject          string   `json:"last_project"`
	CareerStatus         string   `json:"career_status"`
	PosthumousReleases   string   `json:"posthumous_releases"`
	RelatedDeaths        string   `json:"related_deaths"`
	Confidence           float64  `json:"confidence"`
	Sources              []string `json:"sources"`
}

// ParseAnswer decodes an AI reply into death details. Models wrap JSON in
// code fences or prose despite instructions, so the object is cut out of
// the surrounding text before unmarshalling.
func ParseAnswer(text string) (*model.DeathDetails, Answer, error) {
	var payload Answer

	raw := extractJSONObject(text)
	if raw == "" {
		return nil, payload, eris.Errorf("source: no JSON object in model reply (%d bytes)", len(text))
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, payload, eris.Wrap(err, "source: decode model reply")
	}

	details := &model.DeathDetails{
		Circumstances:        cleanAnswerField(payload.Circumstances),
		RumoredCircumstances: cleanAnswerField(payload.RumoredCircumstances),
		Location:             cleanAnswerField(payload.Location),
		AdditionalContext:    cleanAnswerField(payload.AdditionalContext),
		LastProject:          cleanAnswerField(payload.LastProject),
		CareerStatus:         cleanAnswerField(payload.CareerStatus),
		PosthumousReleases:   cleanAnswerField(payload.PosthumousReleases),
		RelatedDeaths:        cleanAnswerField(payload.RelatedDeaths),
	}
	for _, factor := range payload.NotableFactors {
		if f := cleanAnswerField(factor); f != "" {
			details.NotableFactors = append(details.NotableFactors, f)
		}
	}

	return details, payload, nil
}

// extractJSONObject returns the outermost {...} span of text, or "".
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// cleanAnswerField trims a model-supplied value and drops the filler words
// models substitute for an honest empty string.
func cleanAnswerField(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimRight(s, ".")) {
	case "unknown", "n/a", "na", "none", "not applicable", "not known", "null":
		return ""
	}
	return s
}

// answerExcerpt renders a decoded model answer as narrative for the
// synthesis stage, with cited URLs inline so they can be resolved later.
func answerExcerpt(details *model.DeathDetails, sources []string) string {
	var parts []string
	if details != nil {
		if details.Circumstances != "" {
			parts = append(parts, strings.TrimRight(details.Circumstances, ".")+".")
		}
		if details.AdditionalContext != "" {
			parts = append(parts, details.AdditionalContext)
		}
		if details.RumoredCircumstances != "" {
			parts = append(parts, "Rumored: "+strings.TrimRight(details.RumoredCircumstances, ".")+".")
		}
	}
	if len(sources) > 0 {
		parts = append(parts, "Sources: "+strings.Join(sources, " "))
	}
	return strings.Join(parts, " ")
}

// clampConfidence bounds a self-reported confidence to [0,1], substituting
// fallback when the model omitted the field.
func clampConfidence(c, fallback float64) float64 {
	if c <= 0 {
		return fallback
	}
	if c > 1 {
		return 1
	}
	return c
}

// lookupPrompt renders the user prompt for AI sources.
func lookupPrompt(actor model.Actor) string {
	var b strings.Builder
	b.WriteString("Tell me about the death of the actor ")
	b.WriteString(actor.Name)
	if actor.BirthYear > 0 && actor.DeathYear > 0 {
		fmt.Fprintf(&b, " (%d-%d)", actor.BirthYear, actor.DeathYear)
	} else if actor.DeathYear > 0 {
		fmt.Fprintf(&b, " (died %d)", actor.DeathYear)
	}
	b.WriteString(", IMDb ID ")
	b.WriteString(actor.IMDbID())
	b.WriteString(".\n\n")
	b.WriteString(AnswerSchemaHint)
	return b.String()
}
