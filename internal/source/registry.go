package source

import (
	"time"

	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/config"
	"github.com/deadonfilm/enrichment-cli/internal/cost"
	"github.com/deadonfilm/enrichment-cli/pkg/anthropic"
	"github.com/deadonfilm/enrichment-cli/pkg/perplexity"
	"github.com/deadonfilm/enrichment-cli/pkg/wikimedia"
)

// Deps carries the shared clients and pricing the adapters need. Nil
// clients mark providers with no configured credentials.
type Deps struct {
	Wikimedia  wikimedia.Client
	Perplexity perplexity.Client
	Anthropic  anthropic.Client
	Calculator *cost.Calculator
}

// Registry holds the cascade's sources in priority order.
type Registry struct {
	sources []Source
	byName  map[string]Source
	cats    map[string]Category
}

// Build assembles the cascade from configuration. Unknown names, disabled
// categories, and sources missing credentials are logged and skipped; the
// cascade runs with whatever remains.
func Build(cfg *config.Config, deps Deps) *Registry {
	httpTimeout := time.Duration(cfg.HTTP.TimeoutSecs) * time.Second
	calc := deps.Calculator

	construct := map[string]func() (Source, Category){
		"wikidata": func() (Source, Category) {
			return NewWikidata(deps.Wikimedia), CategoryFree
		},
		"wikipedia": func() (Source, Category) {
			return NewWikipedia(deps.Wikimedia), CategoryFree
		},
		"websearch": func() (Source, Category) {
			return NewWebSearch(cfg.Sources.WebSearch.BaseURL, httpTimeout, buildLinkFollower(cfg, deps, httpTimeout)), CategoryFree
		},
		"chronicling": func() (Source, Category) {
			c := NewChronicling(cfg.Sources.Chronicling.BaseURL, httpTimeout)
			if ua := cfg.HTTP.UserAgent; ua != "" {
				c.doer.userAgent = ua
			}
			return c, CategoryFree
		},
		"nytimes": func() (Source, Category) {
			n := NewNYTimes(cfg.Sources.NYTimes.BaseURL, cfg.Sources.NYTimes.Key, calc, httpTimeout)
			if ua := cfg.HTTP.UserAgent; ua != "" {
				n.doer.userAgent = ua
			}
			return n, CategoryPaid
		},
		"perplexity": func() (Source, Category) {
			return NewPerplexity(deps.Perplexity, cfg.Sources.Perplexity.Model, calc), CategoryAI
		},
		"claude-haiku": func() (Source, Category) {
			return NewClaude(deps.Anthropic, ClaudeSpec{
				Name:        "claude-haiku",
				Model:       cfg.Sources.Anthropic.HaikuModel,
				Estimate:    0.005,
				Reliability: 0.55,
			}, calc), CategoryAI
		},
		"claude-sonnet": func() (Source, Category) {
			return NewClaude(deps.Anthropic, ClaudeSpec{
				Name:        "claude-sonnet",
				Model:       cfg.Sources.Anthropic.SonnetModel,
				Estimate:    0.02,
				Reliability: 0.65,
			}, calc), CategoryAI
		},
	}

	priority := cfg.Enrich.SourcePriority
	if len(priority) == 0 {
		priority = config.DefaultSourcePriority
	}

	r := &Registry{
		byName: make(map[string]Source),
		cats:   make(map[string]Category),
	}
	for _, name := range priority {
		ctor, ok := construct[name]
		if !ok {
			zap.L().Warn("unknown source in priority list", zap.String("source", name))
			continue
		}
		src, cat := ctor()
		if !categoryEnabled(cfg.Enrich.SourceCategories, cat) {
			zap.L().Debug("source category disabled",
				zap.String("source", name),
				zap.String("category", string(cat)))
			continue
		}
		if !src.Available() {
			zap.L().Info("source unavailable, skipping",
				zap.String("source", name))
			continue
		}
		r.sources = append(r.sources, src)
		r.byName[name] = src
		r.cats[name] = cat
	}

	return r
}

func buildLinkFollower(cfg *config.Config, deps Deps, httpTimeout time.Duration) *linkFollower {
	lf := cfg.Enrich.LinkFollow
	if !lf.Enabled {
		return nil
	}
	var ai anthropic.Client
	if lf.AILinkSelection || lf.AIContentExtraction {
		ai = deps.Anthropic
	}
	doer := newHTTPDoer(httpTimeout)
	doer.userAgent = browserUserAgent
	return newLinkFollower(doer, lf, ai, cfg.Sources.Anthropic.HaikuModel, deps.Calculator)
}

func categoryEnabled(cfg config.CategoryConfig, cat Category) bool {
	switch cat {
	case CategoryFree:
		return cfg.Free
	case CategoryPaid:
		return cfg.Paid
	case CategoryAI:
		return cfg.AI
	default:
		return false
	}
}

// Sources returns the cascade in priority order.
func (r *Registry) Sources() []Source {
	return r.sources
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// CategoryOf returns the category a source was registered under.
func (r *Registry) CategoryOf(name string) Category {
	return r.cats[name]
}

// Names returns the active source names in cascade order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Len returns how many sources survived construction.
func (r *Registry) Len() int {
	return len(r.sources)
}
