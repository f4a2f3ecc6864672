package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"

	"github.com/kyleking/datadict-search/internal/cache"
	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/logging"
	"github.com/kyleking/datadict-search/internal/metadata"
)

const spinnerInterval = 100 * time.Millisecond

// IndexService installs an index into its indexer, from the cache when possible
type IndexService struct {
	cfg        *config.Config
	indexer    *index.Indexer
	logger     *logging.Logger
	status     io.Writer
	openSource func(ctx context.Context) (metadata.Source, error)
}

// NewIndexService creates a service reading the source and cache named by cfg
func NewIndexService(cfg *config.Config, indexer *index.Indexer, logger *logging.Logger, status io.Writer) *IndexService {
	return &IndexService{
		cfg:     cfg,
		indexer: indexer,
		logger:  logger,
		status:  status,
		openSource: func(ctx context.Context) (metadata.Source, error) {
			return metadata.NewSource(ctx, cfg, logger)
		},
	}
}

func (s *session) indexService(ctx context.Context) (*IndexService, error) {
	provider, err := embedding.NewProvider(ctx, s.cfg, s.logger)
	if err != nil {
		return nil, err
	}

	return NewIndexService(s.cfg, index.NewIndexer(provider, s.logger), s.logger, s.status), nil
}

// Indexer returns the indexer the service installs into
func (s *IndexService) Indexer() *index.Indexer {
	return s.indexer
}

// Ensure installs the cached index unless rebuild is set or caching is off;
// otherwise, or when the cache is missing or unusable, it rebuilds from the source.
func (s *IndexService) Ensure(ctx context.Context, rebuild bool) (*index.Index, error) {
	if !rebuild && s.cfg.Cache.Enabled {
		fmt.Fprintln(s.status, "Attempting to load index from cache...")

		if idx := s.loadCached(); idx != nil {
			fmt.Fprintln(s.status, "Index loaded from cache successfully!")
			return idx, nil
		}
	}

	return s.Rebuild(ctx)
}

func (s *IndexService) loadCached() *index.Index {
	path := s.cfg.IndexPath()
	logger := s.logger.WithField("path", path)

	idx, found, err := cache.Load(path, s.indexer.ModelID())
	if err != nil {
		logger.WithField("reason", errors.GetType(err)).WithError(err).Warn("Ignoring cached index")
		return nil
	}

	if !found {
		logger.Debug("No cached index")
		return nil
	}

	if err := s.indexer.Restore(idx); err != nil {
		logger.WithError(err).Warn("Ignoring cached index")
		return nil
	}

	logger.WithField("tables", idx.Len()).Info("Loaded cached index")

	return idx
}

// Rebuild fetches every table from the source, builds a new index and caches it
func (s *IndexService) Rebuild(ctx context.Context) (*index.Index, error) {
	src, err := s.openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	fmt.Fprintf(s.status, "Fetching table metadata from %s...\n", src.Name())

	tables, err := s.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	if len(tables) == 0 {
		return nil, errors.NewIndexNotBuiltError("no table metadata found").
			WithSuggestion("Check that the configured dataset or schema contains tables")
	}

	fmt.Fprintf(s.status, "Embedding %d tables with %s...\n", len(tables), s.indexer.ModelID())

	stop := s.spin("Building index")
	idx, err := s.indexer.Build(ctx, tables)
	stop()

	if err != nil {
		return nil, err
	}

	if s.cfg.Cache.Enabled {
		path := s.cfg.IndexPath()
		if err := cache.Save(idx, path); err != nil {
			s.logger.WithField("path", path).WithError(err).Warn("Failed to cache index")
		} else {
			s.logger.WithField("path", path).Info("Index cached")
		}
	}

	return idx, nil
}

func (s *IndexService) fetch(ctx context.Context, src metadata.Source) ([]metadata.TableRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout())
	defer cancel()

	stop := s.spin("Fetching table metadata")
	defer stop()

	var tables []metadata.TableRecord

	err := logging.Track(s.logger, "fetch_tables", func() error {
		var err error
		tables, err = src.FetchTables(ctx)

		return err
	})

	return tables, err
}

// spin shows a spinner while status is an interactive terminal
func (s *IndexService) spin(suffix string) func() {
	f, ok := s.status.(*os.File)
	if !ok {
		return func() {}
	}

	sp := spinner.New(spinner.CharSets[14], spinnerInterval, spinner.WithWriter(f), spinner.WithSuffix(" "+suffix))
	sp.Start()

	return sp.Stop
}
