package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/formatter"
	"github.com/kyleking/datadict-search/internal/logging"
)

var version = "dev"

type contextKey struct{}

// NewRootCommand builds the command tree
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:      "datadict-search",
		Usage:     "Search a warehouse data dictionary using natural language",
		Version:   version,
		ArgsUsage: "[query]",
		Description: `datadict-search fetches table and column metadata from BigQuery (or DuckDB, or a
JSON fixture), embeds it with a sentence-embedding model and caches the resulting
vector index. Queries rank tables by cosine similarity. Without a query it starts an
interactive session.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "top-k",
				Aliases: []string{"k"},
				Usage:   "number of results to return (default from DATADICT_TOP_K_RESULTS)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "output format: text or json",
				Value:   string(formatter.FormatText),
			},
			&cli.BoolFlag{
				Name:  "rebuild-index",
				Usage: "ignore the cached index and rebuild it from the source",
			},
			&cli.BoolFlag{
				Name:  "build-index-only",
				Usage: "rebuild and cache the index, then exit",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "metadata source: bigquery, duckdb or fixture",
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "directory holding the index cache",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "neither read nor write the index cache",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level: debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "show progress messages even with --format json",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: runRoot,
		Commands: []*cli.Command{
			StatsCommand(),
			ListCommand(),
			InfoCommand(),
			ClearCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the command line and reports any error on stderr
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCommand().Run(ctx, os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	for _, s := range errors.GetSuggestions(err) {
		fmt.Fprintf(w, "  • %s\n", s)
	}
}

// withConfig stores a resolved configuration; commands use it instead of loading one
func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

func getConfigFromContext(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(contextKey{}).(*config.Config)
	return cfg
}

// loadConfig resolves configuration for cmd, honouring flags given at any level
func loadConfig(ctx context.Context, cmd *cli.Command) (*config.Config, error) {
	if cfg := getConfigFromContext(ctx); cfg != nil {
		return cfg, nil
	}

	return config.LoadConfigWithOverrides(flagOverrides(cmd))
}

func flagOverrides(cmd *cli.Command) map[string]interface{} {
	overrides := make(map[string]interface{})

	for _, name := range []string{"source", "cache-dir", "log-level"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	for _, name := range []string{"no-cache", "verbose", "debug"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	if cmd.IsSet("top-k") {
		overrides["top-k"] = cmd.Int("top-k")
	}

	return overrides
}

// session carries what every command needs: configuration, logger and streams
type session struct {
	cfg       *config.Config
	logger    *logging.Logger
	format    formatter.OutputFormat
	formatter *formatter.Formatter
	out       io.Writer
	status    io.Writer
	in        io.Reader
}

func newSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return nil, err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.GetLogger().WithError(err).Warn("Failed to initialize logger; using stderr")
	}

	s := &session{
		cfg:       cfg,
		logger:    logging.GetLogger(),
		format:    format,
		formatter: formatter.NewFormatter(),
		out:       os.Stdout,
		status:    os.Stderr,
		in:        os.Stdin,
	}

	root := cmd.Root()
	if root.Writer != nil {
		s.out = root.Writer
	}

	if root.ErrWriter != nil {
		s.status = root.ErrWriter
	}

	if root.Reader != nil {
		s.in = root.Reader
	}

	if format == formatter.FormatJSON && !cfg.Debug.Verbose {
		s.status = io.Discard
	}

	return s, nil
}
