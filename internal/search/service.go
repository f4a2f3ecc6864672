package search

import (
	"context"

	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/logging"
)

// Service answers queries against whatever index the indexer currently holds
type Service struct {
	indexer     *index.Indexer
	engine      *Engine
	defaultTopK int
}

// NewService creates a service that embeds queries with the indexer's provider
func NewService(indexer *index.Indexer, defaultTopK int, logger *logging.Logger) *Service {
	return &Service{
		indexer:     indexer,
		engine:      NewEngine(indexer.Provider(), logger),
		defaultTopK: defaultTopK,
	}
}

// Search ranks the current index against query; topK 0 selects the default
func (s *Service) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	idx, err := s.indexer.Current()
	if err != nil {
		return nil, err
	}

	if topK == 0 {
		topK = s.defaultTopK
	}

	return s.engine.Search(ctx, idx, query, topK)
}
