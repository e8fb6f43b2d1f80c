package am

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/teranos/bfhtw/internal/util"
)

// Default values shared by SetDefaults and Normalize
const (
	DefaultDatabasePath         = "bfhtw.db"
	DefaultTickIntervalSeconds  = 60
	DefaultFreshnessWindowHours = 24
	DefaultBatchSize            = 100
	DefaultMaxRetries           = 3
	DefaultPMCBaseURL           = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	DefaultArxivBaseURL         = "http://export.arxiv.org/api/query"
)

// SetDefaults configures default values for all scalar configuration options.
// Pipelines are not defaulted here: they come from the document, which is
// seeded from DefaultConfig when absent.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("scheduler.tick_interval_seconds", DefaultTickIntervalSeconds)
	v.SetDefault("scheduler.freshness_window_hours", DefaultFreshnessWindowHours)
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.retention_days", 90)
	v.SetDefault("scheduler.watch_config", true)

	v.SetDefault("inference.enabled", false)
	v.SetDefault("inference.provider", "openai")
	v.SetDefault("inference.base_url", "https://api.openai.com/v1")
	v.SetDefault("inference.embedding_model", "text-embedding-3-small")
	v.SetDefault("inference.extraction_model", "gpt-4o-mini")
	v.SetDefault("inference.timeout_seconds", 60)
	v.SetDefault("inference.workers", 4)
	v.SetDefault("inference.max_retries", 3)
	v.SetDefault("inference.retry_base_delay_ms", 500)

	v.SetDefault("vector_sink.backend", "sqlite-vec")
	v.SetDefault("vector_sink.collection", "blocks")
	v.SetDefault("vector_sink.dimensions", 1536) // text-embedding-3-small

	v.SetDefault("sources.pmc.base_url", DefaultPMCBaseURL)
	v.SetDefault("sources.pmc.tool", "bfhtw")
	v.SetDefault("sources.pmc.requests_per_second", 3.0) // NCBI limit without an API key
	v.SetDefault("sources.pmc.timeout_seconds", 30)
	v.SetDefault("sources.pmc.max_retries", 3)
	v.SetDefault("sources.arxiv.base_url", DefaultArxivBaseURL)
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("inference.api_key", "BFHTW_INFERENCE_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("sources.pmc.api_key", "BFHTW_PMC_API_KEY", "NCBI_API_KEY")
	v.BindEnv("database.path", "BFHTW_DATABASE_PATH")
}

// DefaultPipelines returns the pipelines written into a fresh document
func DefaultPipelines() map[string]PipelineConfig {
	return map[string]PipelineConfig{
		"pubmed_metadata": {
			Kind:              "pubmed_metadata",
			Enabled:           util.Ptr(true),
			Schedule:          ScheduleConfig{Type: ScheduleDaily, Params: map[string]interface{}{"time": "02:00"}},
			BatchSize:         100,
			MaxRetries:        3,
			MaxRuntimeMinutes: 30,
			Parameters: map[string]interface{}{
				"source_type":       "pmc",
				"max_articles":      1000,
				"search_terms_file": "search_terms.json",
				"strict_validation": false,
			},
		},
		"document_processing": {
			Kind:              "document_processing",
			Enabled:           util.Ptr(true),
			Schedule:          ScheduleConfig{Type: ScheduleHourly, Params: map[string]interface{}{"minute": 0}},
			BatchSize:         5,
			MaxRetries:        3,
			MaxRuntimeMinutes: 120,
			Parameters: map[string]interface{}{
				"max_articles":         50,
				"enable_ai_processing": true,
				"enable_embeddings":    true,
				"min_block_chars":      40,
			},
			Dependencies: []string{"pubmed_metadata"},
		},
	}
}

// DefaultConfig returns the document written when none exists
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults are static; failure here is a programming error
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	cfg.Pipelines = DefaultPipelines()
	cfg.Normalize()
	return cfg
}

// Normalize fills pipeline names from their keys and zero values with defaults
func (c *Config) Normalize() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Scheduler.FreshnessWindowHours <= 0 {
		c.Scheduler.FreshnessWindowHours = DefaultFreshnessWindowHours
	}
	for name, p := range c.Pipelines {
		if p.Name == "" {
			p.Name = name
		}
		if p.Kind == "" {
			p.Kind = name
		}
		if p.BatchSize == 0 {
			p.BatchSize = DefaultBatchSize
		}
		if p.Schedule.Type == "" {
			p.Schedule.Type = ScheduleManual
		}
		c.Pipelines[name] = p
	}
}

// String returns a short representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pipelines: %d, Tick: %ds}",
		c.Database.Path, len(c.Pipelines), c.Scheduler.TickIntervalSeconds)
}
