// Package imdb provides a client for the IMDb suggestion API, used to turn
// a typed name into an nm identifier when the person is not in the local
// database yet.
package imdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://v3.sg.media-imdb.com"

// Client defines the suggestion API operations.
type Client interface {
	// Suggest returns raw suggestions for a query, people and titles mixed.
	Suggest(ctx context.Context, query string) (*SuggestResponse, error)
	// SuggestNames returns only person suggestions (nm ids).
	SuggestNames(ctx context.Context, query string) ([]Suggestion, error)
}

// SuggestResponse is the suggestion API payload.
type SuggestResponse struct {
	D []Suggestion `json:"d"`
	Q string       `json:"q"`
}

// Suggestion is a single suggestion entry. L is the display name, S the
// secondary line ("Actor, Top Hat (1935)"), Y the release year for titles.
type Suggestion struct {
	ID   string `json:"id"`
	L    string `json:"l"`
	S    string `json:"s"`
	Y    int    `json:"y"`
	Rank int    `json:"rank"`
}

// IsPerson reports whether the suggestion is a name record.
func (s Suggestion) IsPerson() bool {
	return strings.HasPrefix(s.ID, "nm")
}

// APIError is a non-2xx response from the suggestion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("imdb: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new suggestion API client. No API key is required.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Suggest(ctx context.Context, query string) (*SuggestResponse, error) {
	slug := querySlug(query)
	if slug == "" {
		return &SuggestResponse{}, nil
	}
	reqURL := fmt.Sprintf("%s/suggestion/%c/%s.json", c.baseURL, slug[0], url.PathEscape(slug))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "imdb: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "imdb: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "imdb: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result SuggestResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "imdb: unmarshal response")
	}
	return &result, nil
}

func (c *httpClient) SuggestNames(ctx context.Context, query string) ([]Suggestion, error) {
	resp, err := c.Suggest(ctx, query)
	if err != nil {
		return nil, err
	}
	var names []Suggestion
	for _, s := range resp.D {
		if s.IsPerson() {
			names = append(names, s)
		}
	}
	return names, nil
}

// querySlug lowercases a query and replaces spaces with underscores, the
// form the suggestion endpoint buckets on.
func querySlug(query string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(query)), " ", "_")
}
