package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/datadict-search/internal/cache"
	"github.com/kyleking/datadict-search/internal/errors"
)

func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Usage:       "Delete the cached index",
		Description: `Remove the index cache file. The next search rebuilds the index from the source. Asks for confirmation unless --force is given.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "skip the confirmation prompt",
			},
		},
		Action: runClear,
	}
}

func runClear(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}

	path := s.cfg.IndexPath()

	info, err := cache.Info(path)
	if err != nil {
		return err
	}

	if !info.Exists {
		fmt.Fprintf(s.out, "No cached index at %s.\n", path)
		return nil
	}

	if !cmd.Bool("force") {
		fmt.Fprintf(s.out, "This will delete the cached index at %s (%s).\n", path, humanize.Bytes(uint64(max(info.Size, 0))))
		fmt.Fprint(s.out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(s.in).ReadString('\n')
		if err != nil && response == "" {
			return errors.Wrap(err, errors.ErrTypeValidation, "failed to read confirmation")
		}

		if strings.ToLower(strings.TrimSpace(response)) != "yes" {
			fmt.Fprintln(s.out, "Operation cancelled.")
			return nil
		}
	}

	if _, err := cache.Remove(path); err != nil {
		return err
	}

	s.logger.WithField("path", path).Info("Cached index removed")
	fmt.Fprintln(s.out, "Cached index removed.")

	return nil
}
