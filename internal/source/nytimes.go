package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/internal/match"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

const nytSearchPath = "/svc/search/v2/articlesearch.json"

type nytResponse struct {
	Status   string `json:"status"`
	Response struct {
		Docs []nytDoc `json:"docs"`
	} `json:"response"`
}

type nytDoc struct {
	Abstract      string `json:"abstract"`
	WebURL        string `json:"web_url"`
	Snippet       string `json:"snippet"`
	LeadParagraph string `json:"lead_paragraph"`
	PubDate       string `json:"pub_date"`
	Headline      struct {
		Main string `json:"main"`
	} `json:"headline"`
}

// NYTimes searches the Times obituary archive. The API key is free but
// quota-limited, so each call books a nominal charge against the paid
// budget, hit or miss.
type NYTimes struct {
	doer    *httpDoer
	baseURL string
	key     string
	calc    *cost.Calculator
	timeout time.Duration
}

// NewNYTimes creates the NYT Article Search source.
func NewNYTimes(baseURL, key string, calc *cost.Calculator, httpTimeout time.Duration) *NYTimes {
	if baseURL == "" {
		baseURL = "https://api.nytimes.com"
	}
	return &NYTimes{
		doer:    newHTTPDoer(httpTimeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		calc:    calc,
		timeout: 30 * time.Second,
	}
}

func (s *NYTimes) Name() string                  { return "nytimes" }
func (s *NYTimes) Free() bool                    { return false }
func (s *NYTimes) EstimatedCostPerQuery() float64 { return s.calc.NYTimesQuery() }
func (s *NYTimes) Tier() model.SourceTier        { return model.TierSecondaryCompilation }
func (s *NYTimes) Reliability() float64          { return 0.85 }
func (s *NYTimes) Available() bool               { return s.key != "" }

func (s *NYTimes) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := url.Values{
		"q":       {fmt.Sprintf("%q", actor.Name)},
		"fq":      {`type_of_material:("Obituary")`},
		"api-key": {s.key},
	}
	if actor.DeathYear > 0 {
		params.Set("begin_date", fmt.Sprintf("%d0101", actor.DeathYear))
		params.Set("end_date", fmt.Sprintf("%d1231", actor.DeathYear+1))
	}

	body, err := s.doer.get(ctx, s.baseURL+nytSearchPath+"?"+params.Encode(), "application/json")
	if err != nil {
		return nil, Classify(s.Name(), err, true)
	}

	var resp nytResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "nytimes: decode response")
	}

	var result *model.LookupResult
	for _, doc := range resp.Response.Docs {
		text := obitText(doc)
		if !match.Contains(text, actor.Name) && !match.Contains(doc.Headline.Main, surname(actor.Name)) {
			continue
		}
		excerpt := "The New York Times (" + dateOnly(doc.PubDate) + "): " + text

		details := &model.DeathDetails{
			Circumstances: extractCircumstances(text),
			Location:      extractLocation(text),
		}
		confidence := 0.75
		if details.Circumstances == "" {
			confidence = 0.45
		}
		if details.IsEmpty() {
			details = nil
		}
		entry := s.entry(actor.Name, doc.WebURL, confidence)

		if result == nil {
			result = &model.LookupResult{
				Found:   true,
				Details: details,
				Source:  entry,
				Excerpt: excerpt,
			}
			continue
		}
		if len(result.Additional) < 1 && details != nil {
			result.Additional = append(result.Additional, model.AdditionalResult{
				Details: details,
				Source:  entry,
			})
		}
	}

	if result == nil {
		miss := &model.LookupResult{Source: s.entry(actor.Name, "", 0)}
		miss.Source.CostUSD = s.calc.NYTimesQuery()
		return miss, nil
	}
	result.Source.CostUSD = s.calc.NYTimesQuery()
	return result, nil
}

func (s *NYTimes) entry(query, url string, confidence float64) model.SourceEntry {
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

// obitText assembles the searchable prose of one obituary document.
func obitText(doc nytDoc) string {
	parts := make([]string, 0, 3)
	if doc.Headline.Main != "" {
		parts = append(parts, strings.TrimRight(doc.Headline.Main, ".")+".")
	}
	if doc.LeadParagraph != "" {
		parts = append(parts, doc.LeadParagraph)
	} else if doc.Abstract != "" {
		parts = append(parts, doc.Abstract)
	}
	return collapseSpace(strings.Join(parts, " "))
}
