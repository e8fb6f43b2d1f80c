package am

// Config represents the bfhtw configuration document
type Config struct {
	Database   DatabaseConfig            `mapstructure:"database" yaml:"database"`
	Scheduler  SchedulerConfig           `mapstructure:"scheduler" yaml:"scheduler"`
	Inference  InferenceConfig           `mapstructure:"inference" yaml:"inference"`
	VectorSink VectorSinkConfig          `mapstructure:"vector_sink" yaml:"vector_sink"`
	Sources    SourcesConfig             `mapstructure:"sources" yaml:"sources"`
	Validation ValidationConfig          `mapstructure:"validation" yaml:"validation"`
	Pipelines  map[string]PipelineConfig `mapstructure:"pipelines" yaml:"pipelines"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SchedulerConfig configures the polling loop and execution history
type SchedulerConfig struct {
	TickIntervalSeconds  int    `mapstructure:"tick_interval_seconds" yaml:"tick_interval_seconds"`   // How often triggers are checked (default: 60)
	FreshnessWindowHours int    `mapstructure:"freshness_window_hours" yaml:"freshness_window_hours"` // Dependency success must fall inside this window (default: 24)
	Timezone             string `mapstructure:"timezone" yaml:"timezone"`                             // IANA name for trigger evaluation (default: Local)
	RetentionDays        int    `mapstructure:"retention_days" yaml:"retention_days"`                 // Execution history retention, 0 = keep forever
	WatchConfig          bool   `mapstructure:"watch_config" yaml:"watch_config"`                     // Reload triggers when the document changes
}

// InferenceConfig configures the entity and embedding services
type InferenceConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider         string `mapstructure:"provider" yaml:"provider"` // openai | mock
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey           string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	EmbeddingModel   string `mapstructure:"embedding_model" yaml:"embedding_model"`
	ExtractionModel  string `mapstructure:"extraction_model" yaml:"extraction_model"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Workers          int    `mapstructure:"workers" yaml:"workers"`         // Per-document block fan-out
	MaxRetries       int    `mapstructure:"max_retries" yaml:"max_retries"` // Attempts per block call
	RetryBaseDelayMS int    `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
}

// VectorSinkConfig selects where block embeddings are written
type VectorSinkConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // sqlite-vec | badger | none
	Path       string `mapstructure:"path" yaml:"path"`       // badger directory; sqlite-vec uses database.path when empty
	Collection string `mapstructure:"collection" yaml:"collection"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
}

// SourcesConfig configures remote data sources
type SourcesConfig struct {
	PMC   PMCConfig   `mapstructure:"pmc" yaml:"pmc"`
	Arxiv ArxivConfig `mapstructure:"arxiv" yaml:"arxiv"`
}

// PMCConfig configures NCBI E-utilities access
type PMCConfig struct {
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Tool              string  `mapstructure:"tool" yaml:"tool"`
	Email             string  `mapstructure:"email" yaml:"email"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 3 without an API key, 10 with one
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
	AllowPrivateHosts bool    `mapstructure:"allow_private_hosts" yaml:"allow_private_hosts,omitempty"` // local E-utilities mirror
}

// ArxivConfig configures the arXiv export API
type ArxivConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ValidationConfig configures shared validation resources
type ValidationConfig struct {
	VocabularyFile string `mapstructure:"vocabulary_file" yaml:"vocabulary_file"` // JSON array of terms; empty = built-in biomedical set
}

// Schedule types
const (
	ScheduleManual = "manual"
	ScheduleHourly = "hourly"
	ScheduleDaily  = "daily"
	ScheduleWeekly = "weekly"
)

// PipelineConfig describes one named pipeline
type PipelineConfig struct {
	Name              string                 `mapstructure:"name" yaml:"name,omitempty"`
	Kind              string                 `mapstructure:"kind" yaml:"kind"` // registered factory, e.g. pubmed_metadata
	Enabled           *bool                  `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Schedule          ScheduleConfig         `mapstructure:"schedule" yaml:"schedule"`
	BatchSize         int                    `mapstructure:"batch_size" yaml:"batch_size"`
	MaxRetries        int                    `mapstructure:"max_retries" yaml:"max_retries"`
	MaxRuntimeMinutes int                    `mapstructure:"max_runtime_minutes" yaml:"max_runtime_minutes"` // 0 = no watchdog
	Parameters        map[string]interface{} `mapstructure:"parameters" yaml:"parameters,omitempty"`
	Dependencies      []string               `mapstructure:"dependencies" yaml:"dependencies,omitempty"`
}

// ScheduleConfig is a trigger spec: type plus type-specific params
// (hourly: minute; daily: time; weekly: day, time).
type ScheduleConfig struct {
	Type   string                 `mapstructure:"type" yaml:"type"`
	Params map[string]interface{} `mapstructure:"params" yaml:"params,omitempty"`
}

// IsEnabled reports whether the pipeline may run. Omitted means enabled.
func (p PipelineConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// IsScheduled reports whether the pipeline registers a trigger
func (p PipelineConfig) IsScheduled() bool {
	return p.Schedule.Type != "" && p.Schedule.Type != ScheduleManual
}

// Clone returns a copy whose maps and slices can be mutated independently
func (p PipelineConfig) Clone() PipelineConfig {
	out := p
	if p.Enabled != nil {
		e := *p.Enabled
		out.Enabled = &e
	}
	out.Parameters = MergeParams(p.Parameters, nil)
	out.Schedule.Params = MergeParams(p.Schedule.Params, nil)
	out.Dependencies = append([]string(nil), p.Dependencies...)
	return out
}
