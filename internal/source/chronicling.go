package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/enrichment-cli/internal/match"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// Digitized coverage thins out sharply after the early sixties, so later
// deaths skip the archive without a network call.
const chroniclingMaxYear = 1963

const (
	chroniclingRows = 5
	ocrWindowWords  = 40
)

type chroniclingResponse struct {
	TotalItems int               `json:"totalItems"`
	Items      []chroniclingItem `json:"items"`
}

type chroniclingItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Date   string `json:"date"`
	OCREng string `json:"ocr_eng"`
}

// Chronicling searches the Library of Congress newspaper archive for
// contemporary coverage of historical deaths. OCR text is noisy full-page
// scans, so matching works on a word window around the surname rather than
// clean sentences.
type Chronicling struct {
	doer    *httpDoer
	baseURL string
	timeout time.Duration
}

// NewChronicling creates the Chronicling America source.
func NewChronicling(baseURL string, httpTimeout time.Duration) *Chronicling {
	if baseURL == "" {
		baseURL = "https://chroniclingamerica.loc.gov"
	}
	return &Chronicling{
		doer:    newHTTPDoer(httpTimeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 30 * time.Second,
	}
}

func (s *Chronicling) Name() string                  { return "chronicling" }
func (s *Chronicling) Free() bool                    { return true }
func (s *Chronicling) EstimatedCostPerQuery() float64 { return 0 }
func (s *Chronicling) Tier() model.SourceTier        { return model.TierWebText }
func (s *Chronicling) Reliability() float64          { return 0.65 }
func (s *Chronicling) Available() bool               { return true }

func (s *Chronicling) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	if actor.DeathYear == 0 || actor.DeathYear > chroniclingMaxYear {
		return &model.LookupResult{Source: s.entry(actor.Name, "", 0)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := url.Values{
		"phrasetext":     {actor.Name},
		"andtext":        {"died"},
		"format":         {"json"},
		"rows":           {strconv.Itoa(chroniclingRows)},
		"date1":          {strconv.Itoa(actor.DeathYear)},
		"date2":          {strconv.Itoa(actor.DeathYear + 1)},
		"dateFilterType": {"yearRange"},
	}
	body, err := s.doer.get(ctx, s.baseURL+"/search/pages/results/?"+params.Encode(), "application/json")
	if err != nil {
		return nil, Classify(s.Name(), err, false)
	}

	var resp chroniclingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "chronicling: decode response")
	}

	var result *model.LookupResult
	for _, item := range resp.Items {
		snippet := ocrSnippet(item.OCREng, surname(actor.Name), ocrWindowWords)
		if snippet == "" {
			continue
		}
		excerpt := item.Title + " (" + chroniclingDate(item.Date) + "): " + snippet

		details := &model.DeathDetails{
			Circumstances: extractCircumstances(snippet),
			Location:      extractLocation(snippet),
		}
		// OCR windows feed synthesis regardless; only a parsed cause is
		// confident enough to count toward stopping.
		confidence := 0.55
		if details.Circumstances == "" {
			confidence = 0.45
		}
		if details.IsEmpty() {
			details = nil
		}
		entry := s.entry(actor.Name, s.baseURL+item.ID, confidence)

		if result == nil {
			result = &model.LookupResult{
				Found:   true,
				Details: details,
				Source:  entry,
				Excerpt: excerpt,
			}
			continue
		}
		if len(result.Additional) < 2 && details != nil {
			result.Additional = append(result.Additional, model.AdditionalResult{
				Details: details,
				Source:  entry,
			})
		}
	}
	if result == nil {
		return &model.LookupResult{Source: s.entry(actor.Name, "", 0)}, nil
	}
	return result, nil
}

func (s *Chronicling) entry(query, url string, confidence float64) model.SourceEntry {
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

// ocrSnippet returns a window of words around the first occurrence of name
// in OCR text, or "" when the name never appears. Word-level matching
// tolerates the hyphenation and case noise of scanned newsprint.
func ocrSnippet(text, name string, radius int) string {
	needle := match.Fold(name)
	if needle == "" {
		return ""
	}
	words := strings.Fields(text)
	for i, w := range words {
		if !strings.Contains(match.Fold(w), needle) {
			continue
		}
		start := i - radius
		if start < 0 {
			start = 0
		}
		end := i + radius + 1
		if end > len(words) {
			end = len(words)
		}
		return strings.Join(words[start:end], " ")
	}
	return ""
}

// chroniclingDate formats the API's compact date ("19450413") readably.
func chroniclingDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}
