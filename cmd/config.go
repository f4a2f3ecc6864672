package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/formatter"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, .env, environment variables, and command-line flags. With --save the active configuration is written to the config file.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "save",
				Usage: "write the active configuration to the config file",
			},
		},
		Action: runConfig,
	}
}

func runConfig(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("save") {
		path, err := config.SaveConfig(s.cfg)
		if err != nil {
			return err
		}

		s.logger.WithField("path", path).Info("Configuration saved")
		fmt.Fprintf(s.status, "Configuration saved to %s\n", path)
	}

	if s.format == formatter.FormatJSON {
		data, err := json.MarshalIndent(s.cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeInternal, "failed to marshal config to JSON")
		}

		fmt.Fprintln(s.out, string(data))

		return nil
	}

	printConfig(s.out, s.cfg)

	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nSource:")
	fmt.Fprintf(w, "  Kind: %s\n", cfg.Source.Kind)

	switch cfg.Source.Kind {
	case config.SourceBigQuery:
		fmt.Fprintf(w, "  Project: %s\n", cfg.Source.ProjectID)
		fmt.Fprintf(w, "  Dataset: %s\n", cfg.Source.Dataset)

		if cfg.Source.CredentialsFile != "" {
			fmt.Fprintf(w, "  Credentials File: %s\n", cfg.Source.CredentialsFile)
		} else {
			fmt.Fprintln(w, "  Credentials: application default")
		}
	case config.SourceDuckDB:
		fmt.Fprintf(w, "  Path: %s\n", cfg.Source.DuckDBPath)
		fmt.Fprintf(w, "  Schema: %s\n", cfg.Source.DuckDBSchema)
	case config.SourceFixture:
		if cfg.Source.FixturePath != "" {
			fmt.Fprintf(w, "  Fixture: %s\n", cfg.Source.FixturePath)
		} else {
			fmt.Fprintln(w, "  Fixture: built-in")
		}
	}

	fmt.Fprintf(w, "  Timeout: %s\n", cfg.SourceTimeout())

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Model ID: %s\n", embedding.ModelID(cfg.Embedding))

	if cfg.Embedding.Dimensions > 0 {
		fmt.Fprintf(w, "  Dimensions: %d\n", cfg.Embedding.Dimensions)
	}

	if cfg.Embedding.BaseURL != "" {
		fmt.Fprintf(w, "  Base URL: %s\n", cfg.Embedding.BaseURL)
	}

	fmt.Fprintf(w, "  API Key Set: %t\n", cfg.Embedding.APIKey != "")
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.EmbeddingTimeout())

	fmt.Fprintln(w, "\nSearch:")
	fmt.Fprintf(w, "  Top K: %d\n", cfg.Search.TopK)

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "  Index File: %s\n", cfg.IndexPath())

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
		fmt.Fprintf(w, "  Max Size: %d MB\n", cfg.Logging.MaxSizeMB)
		fmt.Fprintf(w, "  Max Backups: %d\n", cfg.Logging.MaxBackups)
		fmt.Fprintf(w, "  Max Age: %d days\n", cfg.Logging.MaxAgeDays)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)
}
