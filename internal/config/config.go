package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	IMDB       IMDBConfig       `yaml:"imdb" mapstructure:"imdb"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// EnrichConfig configures the enrichment cascade.
type EnrichConfig struct {
	ConfidenceThreshold     float64          `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	ReliabilityThreshold    float64          `yaml:"reliability_threshold" mapstructure:"reliability_threshold"`
	UseReliabilityThreshold bool             `yaml:"use_reliability_threshold" mapstructure:"use_reliability_threshold"`
	SourceCategories        CategoryConfig   `yaml:"source_categories" mapstructure:"source_categories"`
	SourcePriority          []string         `yaml:"source_priority" mapstructure:"source_priority"`
	CostLimits              CostLimitsConfig `yaml:"cost_limits" mapstructure:"cost_limits"`
	ClaudeCleanup           CleanupConfig    `yaml:"claude_cleanup" mapstructure:"claude_cleanup"`
	LinkFollow              LinkFollowConfig `yaml:"link_follow" mapstructure:"link_follow"`
	RatesPerMinute          map[string]int   `yaml:"rates_per_minute" mapstructure:"rates_per_minute"`
	DefaultRatePerMinute    int              `yaml:"default_rate_per_minute" mapstructure:"default_rate_per_minute"`
	InterActorDelaySecs     int              `yaml:"inter_actor_delay_secs" mapstructure:"inter_actor_delay_secs"`
}

// InterActorDelay returns the configured pause between actors in a batch.
func (c EnrichConfig) InterActorDelay() time.Duration {
	return time.Duration(c.InterActorDelaySecs) * time.Second
}

// RatePerMinute returns the request budget for a source, falling back to
// the default when no override is configured.
func (c EnrichConfig) RatePerMinute(source string) int {
	if rpm, ok := c.RatesPerMinute[source]; ok && rpm > 0 {
		return rpm
	}
	if c.DefaultRatePerMinute > 0 {
		return c.DefaultRatePerMinute
	}
	return 30
}

// CategoryConfig toggles whole source categories.
type CategoryConfig struct {
	Free bool `yaml:"free" mapstructure:"free"`
	Paid bool `yaml:"paid" mapstructure:"paid"`
	AI   bool `yaml:"ai" mapstructure:"ai"`
}

// CostLimitsConfig holds USD spend guards.
type CostLimitsConfig struct {
	MaxCostPerActor float64 `yaml:"max_cost_per_actor" mapstructure:"max_cost_per_actor"`
	MaxTotalCost    float64 `yaml:"max_total_cost" mapstructure:"max_total_cost"`
}

// CleanupConfig configures the Claude synthesis pass.
type CleanupConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	GatherAllSources bool   `yaml:"gather_all_sources" mapstructure:"gather_all_sources"`
	Model            string `yaml:"model" mapstructure:"model"`
}

// LinkFollowConfig configures result-page fetching for the web search source.
type LinkFollowConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxLinksPerActor    int     `yaml:"max_links_per_actor" mapstructure:"max_links_per_actor"`
	MaxCostPerActor     float64 `yaml:"max_cost_per_actor" mapstructure:"max_cost_per_actor"`
	AILinkSelection     bool    `yaml:"ai_link_selection" mapstructure:"ai_link_selection"`
	AIContentExtraction bool    `yaml:"ai_content_extraction" mapstructure:"ai_content_extraction"`
}

// SourcesConfig holds per-source endpoints and credentials.
type SourcesConfig struct {
	Wikimedia   WikimediaConfig   `yaml:"wikimedia" mapstructure:"wikimedia"`
	WebSearch   WebSearchConfig   `yaml:"websearch" mapstructure:"websearch"`
	Chronicling ChroniclingConfig `yaml:"chronicling" mapstructure:"chronicling"`
	NYTimes     NYTimesConfig     `yaml:"nytimes" mapstructure:"nytimes"`
	Perplexity  PerplexityConfig  `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
}

// WikimediaConfig holds Wikipedia and Wikidata Query Service endpoints.
type WikimediaConfig struct {
	WikipediaBaseURL string `yaml:"wikipedia_base_url" mapstructure:"wikipedia_base_url"`
	SPARQLBaseURL    string `yaml:"sparql_base_url" mapstructure:"sparql_base_url"`
}

// WebSearchConfig holds the DuckDuckGo endpoint.
type WebSearchConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ChroniclingConfig holds the Chronicling America endpoint.
type ChroniclingConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// NYTimesConfig holds NYT Article Search settings.
type NYTimesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// CleanupModelID resolves the synthesis model: the aliases "haiku" and
// "sonnet" map to the configured Anthropic model IDs, anything else is
// passed through verbatim.
func (c *Config) CleanupModelID() string {
	switch strings.ToLower(strings.TrimSpace(c.Enrich.ClaudeCleanup.Model)) {
	case "", "sonnet":
		return c.Sources.Anthropic.SonnetModel
	case "haiku":
		return c.Sources.Anthropic.HaikuModel
	default:
		return c.Enrich.ClaudeCleanup.Model
	}
}

// IMDBConfig configures the dataset ingestion pipeline.
type IMDBConfig struct {
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	SuggestBaseURL string `yaml:"suggest_base_url" mapstructure:"suggest_base_url"`
}

// HTTPConfig configures outbound HTTP behavior shared by source adapters.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerQueryPricing         `yaml:"perplexity" mapstructure:"perplexity"`
	NYTimes    PerQueryPricing         `yaml:"nytimes" mapstructure:"nytimes"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerQueryPricing holds flat per-request pricing.
type PerQueryPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures alert thresholds and the background checker
// run by the serve command. A zero CostThresholdUSD or empty WebhookURL
// disables the corresponding behavior.
type MonitoringConfig struct {
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultSourcePriority is the cascade order used when config supplies none:
// structured databases first, then web and archive lookups, then AI models
// in ascending cost.
var DefaultSourcePriority = []string{
	"wikidata",
	"wikipedia",
	"websearch",
	"chronicling",
	"nytimes",
	"perplexity",
	"claude-haiku",
	"claude-sonnet",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEADONFILM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "deadonfilm.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("enrich.confidence_threshold", 0.5)
	v.SetDefault("enrich.reliability_threshold", 0.6)
	v.SetDefault("enrich.use_reliability_threshold", true)
	v.SetDefault("enrich.source_categories.free", true)
	v.SetDefault("enrich.source_categories.paid", true)
	v.SetDefault("enrich.source_categories.ai", true)
	v.SetDefault("enrich.source_priority", DefaultSourcePriority)
	v.SetDefault("enrich.cost_limits.max_cost_per_actor", 0.25)
	v.SetDefault("enrich.cost_limits.max_total_cost", 10.0)
	v.SetDefault("enrich.claude_cleanup.enabled", false)
	v.SetDefault("enrich.claude_cleanup.gather_all_sources", false)
	v.SetDefault("enrich.claude_cleanup.model", "sonnet")
	v.SetDefault("enrich.link_follow.enabled", false)
	v.SetDefault("enrich.link_follow.max_links_per_actor", 3)
	v.SetDefault("enrich.link_follow.max_cost_per_actor", 0.05)
	v.SetDefault("enrich.default_rate_per_minute", 30)
	v.SetDefault("enrich.rates_per_minute", map[string]int{
		"wikidata":    60,
		"wikipedia":   60,
		"websearch":   20,
		"chronicling": 30,
		"nytimes":     10,
		"perplexity":  50,
	})
	v.SetDefault("enrich.inter_actor_delay_secs", 2)
	v.SetDefault("sources.wikimedia.wikipedia_base_url", "https://en.wikipedia.org")
	v.SetDefault("sources.wikimedia.sparql_base_url", "https://query.wikidata.org")
	v.SetDefault("sources.websearch.base_url", "https://lite.duckduckgo.com")
	v.SetDefault("sources.chronicling.base_url", "https://chroniclingamerica.loc.gov")
	v.SetDefault("sources.nytimes.base_url", "https://api.nytimes.com")
	v.SetDefault("sources.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("sources.perplexity.model", "sonar")
	v.SetDefault("sources.anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("sources.anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("imdb.suggest_base_url", "https://v3.sg.media-imdb.com")
	v.SetDefault("imdb.temp_dir", "/tmp/imdbsync")
	v.SetDefault("http.user_agent", "deadonfilm-enrichment/1.0 (https://deadonfilm.com)")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.nytimes.per_query", 0.001)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration needed for the given command mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "enrich", "batch":
		c.validateStore(&problems)
		c.validateThresholds(&problems)
		if c.Enrich.ClaudeCleanup.Enabled && c.Sources.Anthropic.Key == "" {
			problems = append(problems, "sources.anthropic.key is required when claude_cleanup is enabled")
		}
	case "filldb":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required (filldb runs against postgres)")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		c.validateStore(&problems)
	case "stats":
		c.validateStore(&problems)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore(problems *[]string) {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			*problems = append(*problems, "store.database_url is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			*problems = append(*problems, "store.sqlite_path is required")
		}
	default:
		*problems = append(*problems, "store.driver must be postgres or sqlite")
	}
}

func (c *Config) validateThresholds(problems *[]string) {
	if c.Enrich.ConfidenceThreshold < 0 || c.Enrich.ConfidenceThreshold > 1 {
		*problems = append(*problems, "enrich.confidence_threshold must be between 0 and 1")
	}
	if c.Enrich.ReliabilityThreshold < 0 || c.Enrich.ReliabilityThreshold > 1 {
		*problems = append(*problems, "enrich.reliability_threshold must be between 0 and 1")
	}
	if c.Enrich.CostLimits.MaxCostPerActor < 0 {
		*problems = append(*problems, "enrich.cost_limits.max_cost_per_actor must be >= 0")
	}
	if c.Enrich.CostLimits.MaxTotalCost < 0 {
		*problems = append(*problems, "enrich.cost_limits.max_total_cost must be >= 0")
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
