package source

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/internal/httpclient"
)

// Source kinds accepted by New
const (
	KindPMC           = "pmc"
	KindPubMedCentral = "pubmed_central"
	KindArxiv         = "arxiv"
	KindLocalFile     = "local_file"
	KindDatabase      = "database"
)

// Env carries the shared resources sources are built from
type Env struct {
	PMC         am.PMCConfig
	Store       *crud.Store
	Definitions map[string]crud.Definition // table name -> definition, for database sources
	Logger      *zap.SugaredLogger
}

// Params are the pipeline parameters a source understands
type Params struct {
	SearchTermsFile string                 `mapstructure:"search_terms_file"`
	MaxArticles     int                    `mapstructure:"max_articles"`
	FilePath        string                 `mapstructure:"file_path"`
	FileFormat      string                 `mapstructure:"file_format"`
	Table           string                 `mapstructure:"table"`
	Conditions      map[string]interface{} `mapstructure:"conditions"`
	SearchQuery     string                 `mapstructure:"search_query"`
	MaxResults      int                    `mapstructure:"max_results"`
}

// New builds the source named by kind
func New(kind string, p Params, env Env) (Source, error) {
	switch strings.ToLower(kind) {
	case KindPMC, KindPubMedCentral:
		return NewPMCSource(PMCOptionsFrom(env.PMC, p, env.Logger)), nil

	case KindArxiv:
		query := p.SearchQuery
		if query == "" {
			query = "biomedical"
		}
		maxResults := p.MaxResults
		if maxResults <= 0 {
			maxResults = 100
		}
		return NewArxivSource(query, maxResults, env.Logger), nil

	case KindLocalFile:
		if p.FilePath == "" {
			return nil, errors.NewConfigurationError("local_file source needs file_path")
		}
		return NewLocalFileSource(p.FilePath, p.FileFormat)

	case KindDatabase:
		if env.Store == nil {
			return nil, errors.NewConfigurationError("database source needs a store")
		}
		def, ok := env.Definitions[p.Table]
		if !ok {
			return nil, errors.NewConfigurationError("database source: unknown table %q", p.Table)
		}
		tbl, err := env.Store.Table(p.Table, def)
		if err != nil {
			return nil, errors.MarkConfiguration(err)
		}
		return NewDatabaseSource(tbl, p.Conditions, p.MaxArticles), nil
	}

	return nil, errors.WithHintf(
		errors.NewConfigurationError("unknown source type %q", kind),
		"available: %s", strings.Join(Kinds(), ", "))
}

// Kinds lists the accepted source kinds
func Kinds() []string {
	kinds := []string{KindPMC, KindPubMedCentral, KindArxiv, KindLocalFile, KindDatabase}
	sort.Strings(kinds)
	return kinds
}

// PMCOptionsFrom combines the configured E-utilities access with pipeline parameters
func PMCOptionsFrom(cfg am.PMCConfig, p Params, log *zap.SugaredLogger) PMCOptions {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
		if cfg.APIKey != "" {
			rps = 10
		}
	}
	client := httpclient.New(httpclient.Options{
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
		RequestsPerSecond: rps,
		MaxRetries:        cfg.MaxRetries,
		UserAgent:         "bfhtw (" + cfg.Tool + ")",
		AllowPrivateHosts: cfg.AllowPrivateHosts,
		Logger:            log,
	})
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = am.DefaultPMCBaseURL
	}
	return PMCOptions{
		BaseURL:         baseURL,
		APIKey:          cfg.APIKey,
		Tool:            cfg.Tool,
		Email:           cfg.Email,
		SearchTermsFile: p.SearchTermsFile,
		MaxArticles:     p.MaxArticles,
		Client:          client,
		Logger:          log,
	}
}
