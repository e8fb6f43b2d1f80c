package openai

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/logger"
)

// Embedder implements inference.Embedder with a langchaingo embedder
type Embedder struct {
	embedder embeddings.Embedder
	logger   *zap.SugaredLogger
}

// EmbedText implements inference.Embedder
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.MarkProcessing(errors.New("embedder returned no vectors"))
	}
	return vecs[0], nil
}

// EmbedTexts implements inference.Embedder
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debugw("Generating embeddings", logger.FieldCount, len(texts))
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Warnw("Embedding request failed", logger.FieldCount, len(texts), logger.FieldError, err.Error())
		return nil, errors.MarkConnection(errors.Wrap(err, "embed documents"))
	}
	if len(vecs) != len(texts) {
		return nil, errors.MarkProcessing(errors.Newf("embedder returned %d vectors for %d texts", len(vecs), len(texts)))
	}
	return vecs, nil
}
