package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func ListCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List indexed tables",
		Description: `List every table in the index, building the index first when no usable cache exists.`,
		Action:      runList,
	}
}

func runList(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}

	svc, err := s.indexService(ctx)
	if err != nil {
		return err
	}

	idx, err := svc.Ensure(ctx, cmd.Bool("rebuild-index"))
	if err != nil {
		return err
	}

	out, err := s.formatter.FormatTables(idx.Tables, s.format)
	if err != nil {
		return err
	}

	fmt.Fprint(s.out, out)

	return nil
}
