package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
)

// ArxivSource is registered so configurations naming it load, but it has
// no fetch implementation: connection validation always fails.
type ArxivSource struct {
	query      string
	maxResults int
	logger     *zap.SugaredLogger
}

// NewArxivSource creates the placeholder source
func NewArxivSource(query string, maxResults int, log *zap.SugaredLogger) *ArxivSource {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ArxivSource{query: query, maxResults: maxResults, logger: log}
}

// Identifier implements Source
func (s *ArxivSource) Identifier() string { return "arxiv" }

// ValidateConnection implements Source
func (s *ArxivSource) ValidateConnection(context.Context) error {
	s.logger.Warnw("arXiv source validation not yet implemented", "query", s.query)
	return errors.WithHint(
		errors.NewConnectionError("arxiv source is not implemented"),
		"use source_type pmc or local_file")
}

// FetchMetadata implements Source
func (s *ArxivSource) FetchMetadata(context.Context) ([]Item, error) {
	s.logger.Warnw("arXiv metadata fetching not yet implemented")
	return nil, nil
}
