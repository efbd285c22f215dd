package model

import "time"

// Config is the full engine configuration. Thresholds are configuration,
// not hardcoded judgment: editorial policy lives here and only here.
type Config struct {
	Retrieval   RetrievalConfig   `yaml:"retrieval" mapstructure:"retrieval"`
	Analysis    AnalysisConfig    `yaml:"analysis" mapstructure:"analysis"`
	Verify      VerifyConfig      `yaml:"verify" mapstructure:"verify"`
	Gate        GateConfig        `yaml:"gate" mapstructure:"gate"`
	SemStore    SemStoreConfig    `yaml:"semstore" mapstructure:"semstore"`
	Budget      BudgetConfig      `yaml:"budget" mapstructure:"budget"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	DataDir     string            `yaml:"data_dir" mapstructure:"data_dir"` // badger root for audit/review/ledger
}

// RetrievalConfig controls context assembly.
type RetrievalConfig struct {
	TopK          int           `yaml:"top_k" mapstructure:"top_k"`                   // Fragments per partition
	MinSimilarity float64       `yaml:"min_similarity" mapstructure:"min_similarity"` // Drop fragments below this
	DateWindow    time.Duration `yaml:"date_window" mapstructure:"date_window"`       // Related-records lookback
}

// AnalysisConfig controls the Analysis Port.
type AnalysisConfig struct {
	Provider   string        `yaml:"provider" mapstructure:"provider"` // "openai" or "stub"
	Model      string        `yaml:"model" mapstructure:"model"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	MaxContext int           `yaml:"max_context" mapstructure:"max_context"` // Fragment cap on the wire
	RatePerSec float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst  int           `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// VerifyConfig controls citation verification.
type VerifyConfig struct {
	FuzzyThreshold        float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	DegradedConfidenceCap float64 `yaml:"degraded_confidence_cap" mapstructure:"degraded_confidence_cap"`
}

// GateConfig controls publish-vs-review routing.
type GateConfig struct {
	PublishThreshold float64 `yaml:"publish_threshold" mapstructure:"publish_threshold"`
}

// SemStoreConfig locates the Weaviate semantic store.
type SemStoreConfig struct {
	Host   string `yaml:"host" mapstructure:"host"`
	Scheme string `yaml:"scheme" mapstructure:"scheme"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Class  string `yaml:"class" mapstructure:"class"` // Weaviate class holding fragments
}

// TokenRate prices one model's usage in USD per 1K tokens.
type TokenRate struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" mapstructure:"completion_per_1k"`
}

// BudgetConfig is the hard monthly spend ceiling and the rate table used to
// convert reported token usage into cost.
type BudgetConfig struct {
	MonthlyCeilingUSD float64              `yaml:"monthly_ceiling_usd" mapstructure:"monthly_ceiling_usd"`
	Rates             map[string]TokenRate `yaml:"rates" mapstructure:"rates"` // Keyed by model name
}

// CacheConfig controls the verified-result cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MemoryTTL   time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	InflightTTL time.Duration `yaml:"inflight_ttl" mapstructure:"inflight_ttl"` // Pending-marker expiry
}

// ConcurrencyConfig sizes the worker pool.
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// DefaultConfig returns the engine defaults. Every value here is
// operator-overridable via config file, environment, or flags.
func DefaultConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			TopK:          8,
			MinSimilarity: 0.5,
			DateWindow:    365 * 24 * time.Hour,
		},
		Analysis: AnalysisConfig{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			MaxContext: 12,
			RatePerSec: 2,
			RateBurst:  4,
		},
		Verify: VerifyConfig{
			FuzzyThreshold:        0.90,
			DegradedConfidenceCap: 0.5,
		},
		Gate: GateConfig{
			PublishThreshold: 0.75,
		},
		SemStore: SemStoreConfig{
			Host:   "localhost:8080",
			Scheme: "http",
			Class:  "HansardFragment",
		},
		Budget: BudgetConfig{
			MonthlyCeilingUSD: 50,
			Rates: map[string]TokenRate{
				"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
				"gpt-4o":      {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
			},
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         30 * 24 * time.Hour,
			MemoryTTL:   1 * time.Hour,
			InflightTTL: 2 * time.Minute,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		DataDir: "~/.verity/data",
	}
}
