package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/datadict-search/internal/cache"
	"github.com/kyleking/datadict-search/internal/formatter"
	"github.com/kyleking/datadict-search/internal/search"
)

var exitWords = map[string]bool{"exit": true, "quit": true, "q": true}

func runRoot(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}

	svc, err := s.indexService(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("build-index-only") {
		return runBuildIndexOnly(ctx, s, svc)
	}

	if _, err := svc.Ensure(ctx, cmd.Bool("rebuild-index")); err != nil {
		return err
	}

	searcher := search.NewService(svc.Indexer(), s.cfg.Search.TopK, s.logger)

	query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if query != "" {
		return runSearch(ctx, s, searcher, query)
	}

	return runInteractive(ctx, s, svc, searcher)
}

func runBuildIndexOnly(ctx context.Context, s *session, svc *IndexService) error {
	fmt.Fprintln(s.status, "Building index...")

	idx, err := svc.Rebuild(ctx)
	if err != nil {
		return err
	}

	if s.format == formatter.FormatJSON {
		info, err := cacheInfo(s)
		if err != nil {
			return err
		}

		out, err := s.formatter.FormatStats(idx.Stats(), info, s.format)
		if err != nil {
			return err
		}

		fmt.Fprint(s.out, out)

		return nil
	}

	fmt.Fprintln(s.out, "\nIndex built successfully!")
	fmt.Fprintf(s.out, "Tables indexed: %d\n", idx.Len())
	fmt.Fprintf(s.out, "Model: %s\n", idx.ModelID)

	return nil
}

func runSearch(ctx context.Context, s *session, searcher *search.Service, query string) error {
	fmt.Fprintf(s.status, "\nSearching for: '%s'\n", query)

	results, err := searcher.Search(ctx, query, 0)
	if err != nil {
		return err
	}

	out, err := s.formatter.FormatResults(results, s.format)
	if err != nil {
		return err
	}

	fmt.Fprint(s.out, out)

	return nil
}

// runInteractive answers one query per input line until an exit word, EOF or cancellation
func runInteractive(ctx context.Context, s *session, svc *IndexService, searcher *search.Service) error {
	rule := strings.Repeat("=", 80)

	fmt.Fprintf(s.out, "\n%s\nData Dictionary Search - Interactive Mode\n%s\n", rule, rule)

	stats := svc.Indexer().Stats()
	fmt.Fprintf(s.out, "\nIndex ready: %d tables indexed\n", stats.NumTables)
	fmt.Fprintf(s.out, "Model: %s\n", stats.Model)
	fmt.Fprintln(s.out, "\nEnter your questions (type 'exit' to quit)")
	fmt.Fprintln(s.out, strings.Repeat("-", 80))

	lines, done, scanErr := readLines(s)
	defer close(done)

	for {
		fmt.Fprint(s.out, "\nQuestion: ")

		var (
			line string
			ok   bool
		)

		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out, "\n\nGoodbye!")
			return nil
		case line, ok = <-lines:
		}

		if !ok {
			fmt.Fprintln(s.out, "\nGoodbye!")
			return *scanErr
		}

		query := strings.TrimSpace(line)
		if exitWords[strings.ToLower(query)] {
			fmt.Fprintln(s.out, "\nGoodbye!")
			return nil
		}

		if query == "" {
			continue
		}

		results, err := searcher.Search(ctx, query, 0)
		if err != nil {
			s.logger.WithField("query", query).WithError(err).Debug("Query failed")
			fmt.Fprintf(s.out, "\nError: %v\n", err)

			continue
		}

		out, err := s.formatter.FormatResults(results, s.format)
		if err != nil {
			fmt.Fprintf(s.out, "\nError: %v\n", err)
			continue
		}

		fmt.Fprint(s.out, out)
	}
}

// readLines feeds input lines to a channel that is closed at EOF; closing done
// stops the reader. The scan error is valid once the channel is closed.
func readLines(s *session) (<-chan string, chan struct{}, *error) {
	lines := make(chan string)
	done := make(chan struct{})

	var scanErr error

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}

		scanErr = scanner.Err()
	}()

	return lines, done, &scanErr
}

func cacheInfo(s *session) (cache.FileInfo, error) {
	if !s.cfg.Cache.Enabled {
		return cache.FileInfo{}, nil
	}

	return cache.Info(s.cfg.IndexPath())
}
