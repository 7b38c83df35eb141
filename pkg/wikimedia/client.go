// Package wikimedia provides clients for the Wikidata SPARQL endpoint and
// the Wikipedia REST and action APIs.
package wikimedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultSPARQLBaseURL = "https://query.wikidata.org"
	defaultWikiBaseURL   = "https://en.wikipedia.org"
	defaultUserAgent     = "deadonfilm-enrichment/1.0"
)

// Client defines the Wikimedia operations used by enrichment.
type Client interface {
	// QuerySPARQL runs a SPARQL query against the Wikidata Query Service.
	QuerySPARQL(ctx context.Context, query string) (*SPARQLResponse, error)
	// PageSummary fetches the lede of a Wikipedia article. Returns (nil, nil)
	// when no article exists under the title.
	PageSummary(ctx context.Context, title string) (*PageSummaryResponse, error)
	// SearchPages runs a full-text search over Wikipedia article titles.
	SearchPages(ctx context.Context, query string, limit int) (*SearchResponse, error)
}

// SPARQLResponse is the standard SPARQL JSON results envelope.
type SPARQLResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]SPARQLValue `json:"bindings"`
	} `json:"results"`
}

// SPARQLValue is a single bound value in a results row.
type SPARQLValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Value returns the bound value for a variable in a row, or "".
func (r *SPARQLResponse) Value(row int, varName string) string {
	if row < 0 || row >= len(r.Results.Bindings) {
		return ""
	}
	return r.Results.Bindings[row][varName].Value
}

// PageSummaryResponse is the REST v1 page summary payload.
type PageSummaryResponse struct {
	Title       string `json:"title"`
	Type        string `json:"type"` // "standard" or "disambiguation"
	Description string `json:"description"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// SearchResponse is the action API list=search payload.
type SearchResponse struct {
	Query struct {
		Search []SearchHit `json:"search"`
	} `json:"query"`
}

// SearchHit is a single full-text search result.
type SearchHit struct {
	Title   string `json:"title"`
	PageID  int64  `json:"pageid"`
	Snippet string `json:"snippet"`
}

// APIError is a non-2xx response. Callers inspect StatusCode to tell auth
// failures from rate limits.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wikimedia: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithSPARQLBaseURL sets a custom SPARQL base URL (for testing).
func WithSPARQLBaseURL(url string) Option {
	return func(c *httpClient) { c.sparqlBaseURL = url }
}

// WithWikiBaseURL sets a custom Wikipedia base URL (for testing).
func WithWikiBaseURL(url string) Option {
	return func(c *httpClient) { c.wikiBaseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithUserAgent overrides the User-Agent header. Wikimedia asks for a
// descriptive agent on automated traffic.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) { c.userAgent = ua }
}

type httpClient struct {
	sparqlBaseURL string
	wikiBaseURL   string
	userAgent     string
	http          *http.Client
}

// NewClient creates a new Wikimedia client. No API key is required.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		sparqlBaseURL: defaultSPARQLBaseURL,
		wikiBaseURL:   defaultWikiBaseURL,
		userAgent:     defaultUserAgent,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) QuerySPARQL(ctx context.Context, query string) (*SPARQLResponse, error) {
	reqURL := c.sparqlBaseURL + "/sparql?format=json&query=" + url.QueryEscape(query)

	body, status, err := c.fetch(ctx, reqURL, "application/sparql-results+json", "sparql")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var result SPARQLResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikimedia: unmarshal sparql response")
	}
	return &result, nil
}

func (c *httpClient) PageSummary(ctx context.Context, title string) (*PageSummaryResponse, error) {
	// REST paths use underscores where article titles have spaces.
	escaped := url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	reqURL := c.wikiBaseURL + "/api/rest_v1/page/summary/" + escaped

	body, status, err := c.fetch(ctx, reqURL, "application/json", "summary")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var result PageSummaryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikimedia: unmarshal summary response")
	}
	return &result, nil
}

func (c *httpClient) SearchPages(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(limit))
	reqURL := c.wikiBaseURL + "/w/api.php?" + params.Encode()

	body, status, err := c.fetch(ctx, reqURL, "application/json", "search")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikimedia: unmarshal search response")
	}
	return &result, nil
}

// fetch GETs reqURL with the standard headers and retry policy. The
// returned status still needs checking; only transport-level failures
// come back as errors.
func (c *httpClient) fetch(ctx context.Context, reqURL, accept, op string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "wikimedia: create %s request", op)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	body, status, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "wikimedia: %s request failed", op)
	}
	return body, status, nil
}

// retryDo executes req up to three times, backing off on transport
// errors and throttling statuses. A retryable status on the final
// attempt is returned as a normal response for the caller to classify.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3

	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "wikimedia: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body)}
			continue
		}
		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func retryableStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}
