package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/deadonfilm/enrichment-cli/internal/model"
	"github.com/deadonfilm/enrichment-cli/pkg/wikimedia"
)

// wikidataQueryTemplate finds a person by their IMDb identifier (P345) and
// pulls date (P570), cause (P509), manner (P1196), and place (P20) of death.
const wikidataQueryTemplate = `SELECT ?person ?dod ?causeLabel ?mannerLabel ?placeLabel WHERE {
  ?person wdt:P345 %q .
  OPTIONAL { ?person wdt:P570 ?dod . }
  OPTIONAL { ?person wdt:P509 ?cause . }
  OPTIONAL { ?person wdt:P1196 ?manner . }
  OPTIONAL { ?person wdt:P20 ?place . }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en" . }
} LIMIT 1`

// bareEntityID matches the label the SPARQL label service echoes back when
// an entity has no English label.
var bareEntityID = regexp.MustCompile(`^Q\d+$`)

// Wikidata looks up death details in the structured knowledge graph. It is
// the most reliable source in the cascade: values are curated statements,
// not prose to be parsed.
type Wikidata struct {
	client  wikimedia.Client
	timeout time.Duration
}

// NewWikidata creates the Wikidata source.
func NewWikidata(client wikimedia.Client) *Wikidata {
	return &Wikidata{client: client, timeout: 20 * time.Second}
}

func (s *Wikidata) Name() string                  { return "wikidata" }
func (s *Wikidata) Free() bool                    { return true }
func (s *Wikidata) EstimatedCostPerQuery() float64 { return 0 }
func (s *Wikidata) Tier() model.SourceTier        { return model.TierPrimaryRecord }
func (s *Wikidata) Reliability() float64          { return 0.95 }
func (s *Wikidata) Available() bool               { return true }

// Lookup queries by IMDb ID. A person with no matching entity, or an entity
// with no death statements at all, is a miss.
func (s *Wikidata) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(wikidataQueryTemplate, actor.IMDbID())
	resp, err := s.client.QuerySPARQL(ctx, query)
	if err != nil {
		return nil, Classify(s.Name(), err, false)
	}
	if len(resp.Results.Bindings) == 0 {
		return &model.LookupResult{Source: s.entry(actor.IMDbID(), "", 0)}, nil
	}

	cause := entityLabel(resp.Value(0, "causeLabel"))
	manner := entityLabel(resp.Value(0, "mannerLabel"))
	place := entityLabel(resp.Value(0, "placeLabel"))
	died := dateOnly(resp.Value(0, "dod"))
	entityURL := wikiEntityURL(resp.Value(0, "person"))

	details := &model.DeathDetails{
		Circumstances: composeCircumstances(cause, manner),
		Location:      place,
	}
	if details.IsEmpty() && died == "" {
		return &model.LookupResult{Source: s.entry(actor.IMDbID(), entityURL, 0)}, nil
	}

	// A cause or manner statement is near-certain. Place or date alone
	// stays under the default content threshold so the cascade keeps going.
	confidence := 0.95
	if details.Circumstances == "" {
		confidence = 0.45
	}

	return &model.LookupResult{
		Found:   true,
		Details: details,
		Source:  s.entry(actor.IMDbID(), entityURL, confidence),
		Excerpt: wikidataExcerpt(cause, manner, place, died),
	}, nil
}

func (s *Wikidata) entry(query, url string, confidence float64) model.SourceEntry {
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

// composeCircumstances joins cause and manner of death into one clause.
func composeCircumstances(cause, manner string) string {
	switch {
	case cause != "" && manner != "" && !strings.EqualFold(cause, manner):
		return cause + " (" + manner + ")"
	case cause != "":
		return cause
	default:
		return manner
	}
}

// entityLabel drops labels that are just entity IDs (no English label).
func entityLabel(s string) string {
	if bareEntityID.MatchString(s) {
		return ""
	}
	return s
}

// dateOnly trims a SPARQL dateTime ("1987-06-22T00:00:00Z") to its date.
func dateOnly(s string) string {
	if i := strings.IndexByte(s, 'T'); i > 0 {
		return s[:i]
	}
	return s
}

// wikiEntityURL turns an entity URI into its human-readable page.
func wikiEntityURL(uri string) string {
	const prefix = "http://www.wikidata.org/entity/"
	if strings.HasPrefix(uri, prefix) {
		return "https://www.wikidata.org/wiki/" + strings.TrimPrefix(uri, prefix)
	}
	return uri
}

// wikidataExcerpt renders the statements as a sentence for the synthesis
// stage.
func wikidataExcerpt(cause, manner, place, died string) string {
	parts := make([]string, 0, 4)
	if cause != "" {
		parts = append(parts, "cause of death "+cause)
	}
	if manner != "" {
		parts = append(parts, "manner of death "+manner)
	}
	if place != "" {
		parts = append(parts, "place of death "+place)
	}
	if died != "" {
		parts = append(parts, "died "+died)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Wikidata: " + strings.Join(parts, "; ") + "."
}
