package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/internal/util"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, 60, cfg.Scheduler.TickIntervalSeconds)
	assert.Equal(t, 24, cfg.Scheduler.FreshnessWindowHours)
	assert.Equal(t, "sqlite-vec", cfg.VectorSink.Backend)
	assert.Equal(t, DefaultPMCBaseURL, cfg.Sources.PMC.BaseURL)
	assert.Empty(t, cfg.Pipelines)
}

func TestLoad_WritesDefaultDocumentWhenAbsent(t *testing.T) {
	for _, ext := range []string{".yaml", ".toml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bfhtw"+ext)

			cfg, err := Load(path)
			require.NoError(t, err)
			require.FileExists(t, path)

			require.Contains(t, cfg.Pipelines, "pubmed_metadata")
			require.Contains(t, cfg.Pipelines, "document_processing")

			meta := cfg.Pipelines["pubmed_metadata"]
			assert.Equal(t, "pubmed_metadata", meta.Name)
			assert.True(t, meta.IsEnabled())
			assert.Equal(t, ScheduleDaily, meta.Schedule.Type)
			assert.Equal(t, "02:00", meta.Schedule.Params["time"])
			assert.Equal(t, 30, meta.MaxRuntimeMinutes)

			docs := cfg.Pipelines["document_processing"]
			assert.Equal(t, 5, docs.BatchSize)
			assert.Equal(t, []string{"pubmed_metadata"}, docs.Dependencies)

			// Second load reads the written document unchanged
			again, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Pipelines["document_processing"].MaxRuntimeMinutes, again.Pipelines["document_processing"].MaxRuntimeMinutes)
		})
	}
}

func TestLoad_ReadsUserDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bfhtw.yaml")
	doc := `
database:
  path: /tmp/x.db
pipelines:
  nightly:
    kind: pubmed_metadata
    enabled: false
    batch_size: 25
    schedule:
      type: weekly
      params:
        day: friday
        time: "23:30"
    parameters:
      max_articles: "10"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)

	p := cfg.Pipelines["nightly"]
	assert.Equal(t, "nightly", p.Name)
	assert.False(t, p.IsEnabled())
	assert.True(t, p.IsScheduled())
	assert.Equal(t, 25, p.BatchSize)
	assert.Equal(t, "friday", p.Schedule.Params["day"])
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bfhtw.yaml")
	t.Setenv("BFHTW_DATABASE_PATH", "/var/lib/bfhtw/env.db")
	t.Setenv("BFHTW_SCHEDULER_TICK_INTERVAL_SECONDS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bfhtw/env.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Scheduler.TickIntervalSeconds)
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "bfhtw.ini"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestValidate(t *testing.T) {
	base := func(p map[string]PipelineConfig) Config {
		c := Config{Pipelines: p}
		c.Normalize()
		return c
	}

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"empty config is valid", base(nil), false},
		{"negative tick interval", Config{Scheduler: SchedulerConfig{TickIntervalSeconds: -1}}, true},
		{"unknown vector backend", Config{VectorSink: VectorSinkConfig{Backend: "milvus"}}, true},
		{"unknown provider when enabled", Config{Inference: InferenceConfig{Enabled: true, Provider: "bert"}}, true},
		{"negative batch size", base(map[string]PipelineConfig{"a": {BatchSize: -1}}), true},
		{"cron rejected", base(map[string]PipelineConfig{"a": {Schedule: ScheduleConfig{Type: "cron"}}}), true},
		{"unknown dependency", base(map[string]PipelineConfig{"a": {Dependencies: []string{"b"}}}), true},
		{"self dependency", base(map[string]PipelineConfig{"a": {Dependencies: []string{"a"}}}), true},
		{"cycle", base(map[string]PipelineConfig{
			"a": {Dependencies: []string{"b"}},
			"b": {Dependencies: []string{"c"}},
			"c": {Dependencies: []string{"a"}},
		}), true},
		{"chain", base(map[string]PipelineConfig{
			"a": {},
			"b": {Dependencies: []string{"a"}},
			"c": {Dependencies: []string{"a", "b"}},
		}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfigurationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	c := Config{Pipelines: map[string]PipelineConfig{"solo": {}}}
	c.Normalize()

	p := c.Pipelines["solo"]
	assert.Equal(t, "solo", p.Name)
	assert.Equal(t, "solo", p.Kind)
	assert.Equal(t, DefaultBatchSize, p.BatchSize)
	assert.Equal(t, ScheduleManual, p.Schedule.Type)
	assert.True(t, p.IsEnabled())
	assert.False(t, p.IsScheduled())
}

func TestSaveRotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bfhtw.yaml")
	cfg := DefaultConfig()

	for i := 0; i < 5; i++ {
		cfg.Scheduler.TickIntervalSeconds = 10 + i
		require.NoError(t, Save(path, cfg))
	}

	for _, n := range []string{".back1", ".back2", ".back3"} {
		assert.FileExists(t, path+n)
	}
	assert.NoFileExists(t, path+".back4")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 14, loaded.Scheduler.TickIntervalSeconds)
}

func TestDecodeParams(t *testing.T) {
	var params struct {
		MaxArticles int           `mapstructure:"max_articles"`
		Strict      bool          `mapstructure:"strict_validation"`
		Terms       string        `mapstructure:"search_terms_file"`
		Timeout     time.Duration `mapstructure:"timeout"`
	}

	err := DecodeParams(map[string]interface{}{
		"max_articles":      "42",
		"strict_validation": 1,
		"search_terms_file": "terms.json",
		"timeout":           "1m30s",
		"ignored":           true,
	}, &params)
	require.NoError(t, err)
	assert.Equal(t, 42, params.MaxArticles)
	assert.True(t, params.Strict)
	assert.Equal(t, "terms.json", params.Terms)
	assert.Equal(t, 90*time.Second, params.Timeout)

	err = DecodeParams(map[string]interface{}{"max_articles": "lots"}, &params)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestMergeParamsAndClone(t *testing.T) {
	base := map[string]interface{}{"a": 1, "b": 2}
	merged := MergeParams(base, map[string]interface{}{"b": 3})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3}, merged)
	assert.Equal(t, 2, base["b"], "base must not be mutated")

	p := PipelineConfig{Enabled: util.Ptr(true), Parameters: base, Dependencies: []string{"x"}}
	c := p.Clone()
	c.Parameters["a"] = 99
	c.Dependencies[0] = "y"
	*c.Enabled = false
	assert.Equal(t, 1, p.Parameters["a"])
	assert.Equal(t, "x", p.Dependencies[0])
	assert.True(t, p.IsEnabled())
}

func TestConfigWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bfhtw.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	w.debouncePeriod = 20 * time.Millisecond
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(c *Config) error {
		select {
		case reloaded <- c:
		default:
		}
		return nil
	})
	w.Start()

	cfg.Scheduler.TickIntervalSeconds = 7
	data, err := render(path, cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 7, c.Scheduler.TickIntervalSeconds)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestConfigWatcherIgnoresOwnWrite(t *testing.T) {
	w := &ConfigWatcher{}
	w.MarkOwnWrite()
	assert.True(t, w.checkOwnWrite())
	assert.False(t, w.checkOwnWrite())
	assert.True(t, isBackupFile("/etc/bfhtw.yaml.back2"))
	assert.False(t, isBackupFile("/etc/bfhtw.yaml"))
}
