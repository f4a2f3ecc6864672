package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/datadict-search/internal/errors"
)

func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:        "info",
		Usage:       "Display every column of one indexed table",
		Description: `Show the full metadata of a table, looked up by full ID or by table name.`,
		ArgsUsage:   "<table>",
		Action:      runInfo,
	}
}

func runInfo(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args()
	if args.Len() != 1 {
		return errors.Newf(errors.ErrTypeValidation, "expected exactly 1 argument, got %d", args.Len()).
			WithSuggestion("Usage: datadict-search info <table>")
	}

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}

	svc, err := s.indexService(ctx)
	if err != nil {
		return err
	}

	if _, err := svc.Ensure(ctx, cmd.Bool("rebuild-index")); err != nil {
		return err
	}

	table, err := svc.Indexer().Table(args.First())
	if err != nil {
		return err
	}

	out, err := s.formatter.FormatTable(table, s.format)
	if err != nil {
		return err
	}

	fmt.Fprint(s.out, out)

	return nil
}
