// Package urlresolve chases redirect chains so citations point at the
// publishing site instead of a search or news aggregator.
package urlresolve

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/deadonfilm/enrichment-cli/internal/model"
)

// Options configures the resolver.
type Options struct {
	MaxHops   int
	Timeout   time.Duration
	UserAgent string
	Parallel  int
}

// Resolver follows redirect chains hop by hop.
type Resolver struct {
	client    *http.Client
	maxHops   int
	userAgent string
	parallel  int
}

// New creates a Resolver. The underlying client never follows redirects
// itself; each hop is inspected so the chain can be capped.
func New(opts Options) *Resolver {
	if opts.MaxHops <= 0 {
		opts.MaxHops = 5
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "deadonfilm-enrichment/1.0"
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	return &Resolver{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxHops:   opts.MaxHops,
		userAgent: opts.UserAgent,
		parallel:  opts.Parallel,
	}
}

// Resolve follows the redirect chain of a single URL and returns the final
// location with a display name for its publisher. On any failure mid-chain
// the deepest URL reached so far is returned.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) model.ResolvedSource {
	current := rawURL
	for hop := 0; hop < r.maxHops; hop++ {
		next, redirected := r.nextHop(ctx, current)
		if !redirected {
			break
		}
		current = next
	}
	return model.ResolvedSource{URL: current, Publisher: PublisherName(current)}
}

// ResolveAll resolves a set of citation URLs in parallel, preserving input
// order. Duplicate inputs are resolved once.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string) []model.ResolvedSource {
	if len(urls) == 0 {
		return nil
	}

	results := make([]model.ResolvedSource, len(urls))
	firstIndex := make(map[string]int)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)

	for i, u := range urls {
		if _, seen := firstIndex[u]; seen {
			continue
		}
		firstIndex[u] = i
		i, u := i, u
		g.Go(func() error {
			results[i] = r.Resolve(gCtx, u)
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range urls {
		if first := firstIndex[u]; first != i {
			results[i] = results[first]
		}
	}
	return results
}

// nextHop probes a URL and returns the redirect target, if any. HEAD is
// tried first; hosts that reject it get a GET.
func (r *Resolver) nextHop(ctx context.Context, rawURL string) (string, bool) {
	resp, err := r.probe(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", false
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = r.probe(ctx, http.MethodGet, rawURL)
		if err != nil {
			return "", false
		}
	}

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", false
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", false
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	target, err := url.Parse(loc)
	if err != nil {
		zap.L().Debug("urlresolve: unparseable redirect target",
			zap.String("from", rawURL),
			zap.String("location", loc),
		)
		return "", false
	}
	return base.ResolveReference(target).String(), true
}

func (r *Resolver) probe(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	return resp, nil
}

// knownPublishers maps hosts whose display name is not derivable from the
// domain label alone.
var knownPublishers = map[string]string{
	"nytimes.com":           "The New York Times",
	"latimes.com":           "Los Angeles Times",
	"washingtonpost.com":    "The Washington Post",
	"theguardian.com":       "The Guardian",
	"bbc.com":               "BBC News",
	"bbc.co.uk":             "BBC News",
	"apnews.com":            "Associated Press",
	"hollywoodreporter.com": "The Hollywood Reporter",
	"ew.com":                "Entertainment Weekly",
	"findagrave.com":        "Find a Grave",
	"loc.gov":               "Library of Congress",
	"tmz.com":               "TMZ",
	"upi.com":               "UPI",
}

// multiPartTLDs lists country-code suffixes where the registrable label sits
// one level deeper (example.co.uk).
var multiPartTLDs = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true,
	"com.au": true, "net.au": true,
	"co.nz": true, "co.jp": true,
}

// PublisherName derives a human-readable publisher from a URL's host.
func PublisherName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "amp."} {
		host = strings.TrimPrefix(host, prefix)
	}

	if name, ok := knownPublishers[host]; ok {
		return name
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return cases.Title(language.English).String(host)
	}

	label := labels[len(labels)-2]
	if len(labels) >= 3 {
		suffix := labels[len(labels)-2] + "." + labels[len(labels)-1]
		if multiPartTLDs[suffix] {
			label = labels[len(labels)-3]
		}
	}
	if name, ok := knownPublishers[label+"."+labels[len(labels)-1]]; ok {
		return name
	}
	return cases.Title(language.English).String(label)
}
