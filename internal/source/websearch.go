package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/deadonfilm/enrichment-cli/internal/match"
	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// The lite endpoint serves bot user agents an empty shell, so the search
// doer identifies as a browser.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxSearchResults = 5

var (
	// Result links: <a rel="nofollow" href="URL" class='result-link'>TITLE</a>,
	// in either attribute order.
	ddgLinkPattern    = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	ddgLinkPatternAlt = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)

	// Snippets live in <td class="result-snippet"> cells.
	ddgSnippetPattern = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)

	ddgAnyLinkPattern = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
)

// searchHit is one parsed search result.
type searchHit struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch scrapes the DuckDuckGo lite page for obituary snippets. It is
// the least reliable source in the cascade but costs nothing and covers
// people the structured databases never heard of. With link following
// enabled it also fetches the top result pages and mines their text.
type WebSearch struct {
	doer    *httpDoer
	baseURL string
	links   *linkFollower
	timeout time.Duration
}

// NewWebSearch creates the web search source. links may be nil to disable
// result-page fetching.
func NewWebSearch(baseURL string, timeout time.Duration, links *linkFollower) *WebSearch {
	if baseURL == "" {
		baseURL = "https://lite.duckduckgo.com"
	}
	doer := newHTTPDoer(timeout)
	doer.userAgent = browserUserAgent
	return &WebSearch{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		links:   links,
		timeout: 45 * time.Second,
	}
}

func (s *WebSearch) Name() string                  { return "websearch" }
func (s *WebSearch) Free() bool                    { return true }
func (s *WebSearch) EstimatedCostPerQuery() float64 { return s.linkBudget() }
func (s *WebSearch) Tier() model.SourceTier        { return model.TierWebText }
func (s *WebSearch) Reliability() float64          { return 0.50 }
func (s *WebSearch) Available() bool               { return true }

func (s *WebSearch) linkBudget() float64 {
	if s.links == nil {
		return 0
	}
	return s.links.cfg.MaxCostPerActor
}

func (s *WebSearch) Lookup(ctx context.Context, actor model.Actor) (*model.LookupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("%q actor death", actor.Name)
	if actor.DeathYear > 0 {
		query = fmt.Sprintf("%q actor death %d cause", actor.Name, actor.DeathYear)
	}

	body, err := s.doer.postForm(ctx, s.baseURL+"/lite/", url.Values{"q": {query}})
	if err != nil {
		return nil, Classify(s.Name(), err, false)
	}

	hits := relevantHits(parseSearchResults(string(body)), actor)
	if len(hits) == 0 {
		return &model.LookupResult{Source: s.entry(query, "", 0, 0)}, nil
	}

	var excerpt strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&excerpt, "%s (%s): %s\n", hit.Title, hit.URL, hit.Snippet)
	}

	var linkCost float64
	if s.links != nil {
		findings, cost := s.links.augment(ctx, actor, hits)
		linkCost = cost
		if findings != "" {
			excerpt.WriteString("\n")
			excerpt.WriteString(findings)
		}
	}

	text := excerpt.String()
	details := &model.DeathDetails{
		Circumstances: extractCircumstances(text),
		Location:      extractLocation(text),
	}
	if details.IsEmpty() {
		details = nil
	}

	// Snippets are headline fragments, never authoritative on their own.
	return &model.LookupResult{
		Found:   true,
		Details: details,
		Source:  s.entry(query, hits[0].URL, 0.40, linkCost),
		Excerpt: strings.TrimSpace(text),
	}, nil
}

func (s *WebSearch) entry(query, url string, confidence, costUSD float64) model.SourceEntry {
	return model.SourceEntry{
		Name:        s.Name(),
		URL:         url,
		Query:       query,
		RetrievedAt: time.Now().UTC(),
		Confidence:  confidence,
		Tier:        s.Tier(),
		Reliability: s.Reliability(),
		CostUSD:     costUSD,
	}
}

// relevantHits keeps results that actually mention the person.
func relevantHits(hits []searchHit, actor model.Actor) []searchHit {
	kept := hits[:0]
	for _, hit := range hits {
		if match.Contains(hit.Title+" "+hit.Snippet, actor.Name) ||
			match.Contains(hit.Title+" "+hit.Snippet, surname(actor.Name)) {
			kept = append(kept, hit)
		}
	}
	return kept
}

// parseSearchResults extracts results from the lite HTML page.
func parseSearchResults(html string) []searchHit {
	matches := ddgLinkPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = ddgLinkPatternAlt.FindAllStringSubmatch(html, -1)
	}
	snippets := ddgSnippetPattern.FindAllStringSubmatch(html, -1)

	var results []searchHit
	for i, m := range matches {
		if len(m) < 3 {
			continue
		}
		hit := searchHit{
			URL:   unwrapRedirect(strings.TrimSpace(m[1])),
			Title: cleanHTML(m[2]),
		}
		if i < len(snippets) && len(snippets[i]) > 1 {
			hit.Snippet = cleanHTML(snippets[i][1])
		}
		if hit.URL == "" || hit.Title == "" {
			continue
		}
		results = append(results, hit)
		if len(results) >= maxSearchResults {
			break
		}
	}

	if len(results) == 0 {
		results = fallbackParse(html)
	}
	return results
}

// fallbackParse scans for any external links when the page layout has
// drifted from the patterns above.
func fallbackParse(html string) []searchHit {
	var results []searchHit
	seen := make(map[string]bool)

	for _, m := range ddgAnyLinkPattern.FindAllStringSubmatch(html, -1) {
		if len(m) < 3 {
			continue
		}
		urlStr := unwrapRedirect(strings.TrimSpace(m[1]))
		title := cleanHTML(m[2])

		if strings.Contains(urlStr, "duckduckgo.com") ||
			strings.HasPrefix(urlStr, "/") ||
			strings.HasPrefix(urlStr, "#") ||
			strings.HasPrefix(urlStr, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[urlStr] {
			continue
		}
		seen[urlStr] = true

		results = append(results, searchHit{Title: title, URL: urlStr})
		if len(results) >= maxSearchResults {
			break
		}
	}
	return results
}

// unwrapRedirect resolves the uddg= indirection the lite page wraps result
// links in.
func unwrapRedirect(raw string) string {
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	if !strings.Contains(raw, "duckduckgo.com/l/") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}
