// Package fetcher downloads and parses remote data: IMDb dataset dumps and
// arbitrary result pages followed from web search hits.
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// datasetHost serves the IMDb dumps. It throttles aggressive downloaders,
// so it gets a low self-tuning rate while everything else runs at the
// fallback rate.
const datasetHost = "datasets.imdbws.com"

const (
	fallbackRPS     rate.Limit = 10
	fallbackBurst              = 10
	datasetRPS      rate.Limit = 2
	datasetBurst               = 2
	maxBackoffSleep            = 30 * time.Second
)

// HTTPOptions configures the HTTP fetcher. Zero values fall back to a 30s
// timeout, 3 attempts, and the deadonfilm user agent. RateLimiters adds or
// overrides per-host fixed limits.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher implements Fetcher over net/http with per-host rate limits,
// retry with jittered backoff, and 429-driven rate tuning for the dataset
// host.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	adaptive map[string]*adaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "deadonfilm-enrichment/1.0"
	}

	limiters := map[string]*rate.Limiter{
		datasetHost: rate.NewLimiter(datasetRPS, datasetBurst),
	}
	for host, lim := range opts.RateLimiters {
		limiters[host] = lim
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: limiters,
		adaptive: map[string]*adaptiveLimiter{
			datasetHost: newAdaptiveLimiter(datasetRPS, datasetBurst),
		},
	}
}

// limiterFor returns the fixed limiter for the URL's host. Unknown hosts
// get a fallback limiter that is memoized, so repeated calls against the
// same host share one token bucket instead of minting fresh ones.
func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(fallbackRPS, fallbackBurst)
	f.limiters[host] = lim
	return lim
}

func (f *HTTPFetcher) adaptiveFor(rawURL string) *adaptiveLimiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adaptive[u.Host]
}

// waitTurn blocks on the URL's limiter, preferring the self-tuning one
// when the host has it.
func (f *HTTPFetcher) waitTurn(ctx context.Context, rawURL string) error {
	if ad := f.adaptiveFor(rawURL); ad != nil {
		return ad.Wait(ctx)
	}
	return f.limiterFor(rawURL).Wait(ctx)
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	target := req.URL.String()
	adaptive := f.adaptiveFor(target)

	var lastErr error
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		if err := f.waitTurn(ctx, target); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("fetch failed, retrying",
				zap.String("url", target),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			f.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http 429 from %s", target)
			if adaptive != nil {
				adaptive.Throttle()
			}
			zap.L().Warn("throttled by host, backing off",
				zap.String("url", target),
				zap.Int("attempt", attempt+1))
			f.backoff(ctx, attempt)

		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, target)
			zap.L().Warn("server error, retrying",
				zap.String("url", target),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			f.backoff(ctx, attempt)

		default:
			if adaptive != nil {
				adaptive.Reward()
			}
			return resp, nil
		}
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// backoff sleeps 2^attempt seconds, capped, plus up to 50% jitter. Returns
// early on context cancellation; the next loop iteration surfaces it.
func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	d := min(time.Duration(float64(time.Second)*math.Pow(2, float64(attempt))), maxBackoffSleep)
	d += time.Duration(rand.Int63n(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches the URL and returns the response body. The caller owns
// the ReadCloser.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// DownloadToFile streams the URL into path and returns the bytes written.
// The parent directory must already exist.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}

	return n, nil
}

// HeadETag issues a HEAD request and returns the ETag header, empty when
// the server does not advertise one.
func (f *HTTPFetcher) HeadETag(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "create head request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	if err := f.waitTurn(ctx, rawURL); err != nil {
		return "", eris.Wrap(err, "rate limiter wait")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "head request")
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.Header.Get("ETag"), nil
}

// adaptiveLimiter is a token bucket whose rate drifts with observed host
// behavior: 429s halve it (floored at a quarter of the starting rate) and
// successes grow it 20% (capped at double).
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	floor   rate.Limit
	ceil    rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(start rate.Limit, burst int) *adaptiveLimiter {
	return &adaptiveLimiter{
		limiter: rate.NewLimiter(start, burst),
		floor:   start / 4,
		ceil:    start * 2,
		current: start,
	}
}

// Wait blocks until the bucket allows an event.
func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Reward nudges the rate up 20%, capped at double the starting rate.
func (a *adaptiveLimiter) Reward() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = min(a.current*1.2, a.ceil)
	a.limiter.SetLimit(a.current)
}

// Throttle halves the rate after a 429, floored at a quarter of the
// starting rate.
func (a *adaptiveLimiter) Throttle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = max(a.current*0.5, a.floor)
	a.limiter.SetLimit(a.current)
	zap.L().Warn("dataset host throttled us, lowering rate",
		zap.Float64("rps", float64(a.current)))
}

// Limit reports the current rate.
func (a *adaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
