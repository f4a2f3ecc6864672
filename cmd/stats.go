package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/datadict-search/internal/cache"
	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/index"
)

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:        "stats",
		Usage:       "Display index statistics",
		Description: `Show the status of the cached index: table count, embedding dimension, model and cache file size. Never builds an index.`,
		Action:      runStats,
	}
}

func runStats(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}

	stats := index.Stats{Status: index.StatusNotBuilt}

	info, err := cacheInfo(s)
	if err != nil {
		return err
	}

	if info.Exists {
		model := embedding.ModelID(s.cfg.Embedding)

		idx, _, err := cache.Load(info.Path, model)

		switch {
		case errors.IsType(err, errors.ErrTypeCacheIncompatible), errors.IsType(err, errors.ErrTypeCacheCorrupt):
			fmt.Fprintf(s.status, "Cached index is not usable with %s: %v\n", model, err)
		case err != nil:
			return err
		default:
			stats = idx.Stats()
		}
	}

	out, err := s.formatter.FormatStats(stats, info, s.format)
	if err != nil {
		return err
	}

	fmt.Fprint(s.out, out)

	return nil
}
