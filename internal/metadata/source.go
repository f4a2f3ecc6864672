package metadata

import (
	"context"
	"fmt"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/logging"
)

// Source returns every table record of one dataset in a single call
type Source interface {
	FetchTables(ctx context.Context) ([]TableRecord, error)
	Name() string
	Close() error
}

// NewSource opens the source selected by cfg.Source.Kind
func NewSource(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Source, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	logger = logger.WithField("source", cfg.Source.Kind)

	switch cfg.Source.Kind {
	case config.SourceFixture:
		return NewFixtureSource(cfg.Source.FixturePath, logger), nil
	case config.SourceBigQuery:
		return NewBigQuerySource(ctx, cfg.Source, logger)
	case config.SourceDuckDB:
		return NewDuckDBSource(cfg.Source.DuckDBPath, cfg.Source.DuckDBSchema, logger)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown metadata source: %q", cfg.Source.Kind), "source.kind")
	}
}

func normalizeAll(tables []TableRecord) []TableRecord {
	out := make([]TableRecord, len(tables))
	for i, t := range tables {
		out[i] = t.Normalize()
	}

	return out
}
