// Package openai implements the inference services against an
// OpenAI-compatible API through langchaingo.
package openai

import (
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/inference"
)

// Provider implements inference.Provider
type Provider struct {
	embedder  *Embedder
	extractor *EntityExtractor
	model     string
}

// NewProvider builds both services from cfg
func NewProvider(cfg am.InferenceConfig, log *zap.SugaredLogger) (*Provider, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.EmbeddingModel == "" || cfg.ExtractionModel == "" {
		return nil, errors.NewConfigurationError("inference needs embedding_model and extraction_model")
	}

	// Local OpenAI-compatible servers accept any token
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	common := []openai.Option{
		openai.WithToken(token),
		openai.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		common = append(common, openai.WithBaseURL(cfg.BaseURL))
	}

	embedClient, err := openai.New(append(common, openai.WithEmbeddingModel(cfg.EmbeddingModel))...)
	if err != nil {
		return nil, errors.MarkConfiguration(errors.Wrap(err, "create embedding client"))
	}
	embedder, err := embeddings.NewEmbedder(embedClient, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, errors.MarkConfiguration(errors.Wrap(err, "create embedder"))
	}

	chatClient, err := openai.New(append(common, openai.WithModel(cfg.ExtractionModel))...)
	if err != nil {
		return nil, errors.MarkConfiguration(errors.Wrap(err, "create extraction client"))
	}

	return &Provider{
		embedder:  &Embedder{embedder: embedder, logger: log.Named("embedder")},
		extractor: &EntityExtractor{client: chatClient, logger: log.Named("extractor")},
		model:     cfg.ExtractionModel,
	}, nil
}

// Embedder implements inference.Provider
func (p *Provider) Embedder() inference.Embedder { return p.embedder }

// EntityExtractor implements inference.Provider
func (p *Provider) EntityExtractor() inference.EntityExtractor { return p.extractor }

// Model implements inference.Provider
func (p *Provider) Model() string { return p.model }

// Close implements inference.Provider
func (p *Provider) Close() error { return nil }
