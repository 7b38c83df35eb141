package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/deadonfilm/enrichment-cli/internal/resilience"
)

const (
	defaultUserAgent = "deadonfilm-enrichment/1.0"
	maxBodyBytes     = 2 << 20
)

// HTTPStatusError is a non-2xx response from a scraped endpoint.
type HTTPStatusError struct {
	Status int
	URL    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// httpDoer is the shared GET client for adapters that hit plain HTTP
// endpoints. Per-host limiters keep link-follow fetches polite; a breaker
// per host stops hammering endpoints that keep failing.
type httpDoer struct {
	client    *http.Client
	breakers  *resilience.BreakerSet
	userAgent string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
}

func newHTTPDoer(timeout time.Duration) *httpDoer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpDoer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		breakers:  resilience.NewBreakerSet(resilience.DefaultCircuitBreakerConfig()),
		userAgent: defaultUserAgent,
		limiters:  make(map[string]*rate.Limiter),
		perHost:   rate.Limit(2),
	}
}

func (d *httpDoer) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(d.perHost, 2)
	d.limiters[host] = l
	return l
}

// get fetches a URL and returns the body. 5xx and network hiccups are
// retried; other non-2xx statuses come back as HTTPStatusError for the
// classifier.
func (d *httpDoer) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	return d.guarded(ctx, rawURL, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "httpx: create request")
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		return d.send(req, rawURL)
	})
}

// postForm submits an urlencoded form. The web search endpoint only
// answers POST.
func (d *httpDoer) postForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return d.guarded(ctx, rawURL, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, eris.Wrap(err, "httpx: create request")
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return d.send(req, rawURL)
	})
}

// guarded runs one request attempt function under the host's rate limiter,
// circuit breaker, and retry policy.
func (d *httpDoer) guarded(ctx context.Context, rawURL string, attempt func(context.Context) ([]byte, error)) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "httpx: parse url %s", rawURL)
	}
	if err := d.limiterFor(u.Host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "httpx: rate wait")
	}

	cb := d.breakers.Get(u.Host)
	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, scrapeRetryConfig(), attempt)
	})
}

// scrapeRetryConfig retries server errors but never 429: a throttle must
// reach the classifier so the source gets benched for the batch.
func scrapeRetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxBackoff = 5 * time.Second
	cfg.ShouldRetry = func(err error) bool {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return statusErr.Status >= 500
		}
		return resilience.IsTransient(err)
	}
	return cfg
}

func (d *httpDoer) send(req *http.Request, rawURL string) ([]byte, error) {
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "httpx: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "httpx: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{Status: resp.StatusCode, URL: rawURL}
	}
	return body, nil
}
