package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/datadict-search/internal/cache"
	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/formatter"
	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/logging"
	"github.com/kyleking/datadict-search/internal/search"
)

// setupEnv points configuration at the built-in fixture, the hashing provider
// and a temporary cache directory. It returns the cache file path.
func setupEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	t.Setenv("DATADICT_CONFIG", filepath.Join(dir, "missing.json"))
	t.Setenv("DATADICT_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("DATADICT_SOURCE", "fixture")
	t.Setenv("DATADICT_EMBEDDING_PROVIDER", "hashing")
	t.Setenv("DATADICT_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("DATADICT_LOG_LEVEL", "error")

	return filepath.Join(dir, "cache", "index.cache")
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(ctx context.Context, stdin string, args ...string) cliResult {
	root := NewRootCommand()

	var stdout, stderr bytes.Buffer

	root.Writer = &stdout
	root.ErrWriter = &stderr
	root.Reader = strings.NewReader(stdin)

	err := root.Run(ctx, append([]string{"datadict-search"}, args...))

	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func run(args ...string) cliResult {
	return runCLI(context.Background(), "", args...)
}

func TestSearchQuery(t *testing.T) {
	indexPath := setupEnv(t)

	res := run("-k", "2", "account information")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "Found 2 relevant tables:")
	assert.Contains(t, res.stdout, "Rank #1\nTable: users\nSchema: sales_data\nFull ID: demo-project.sales_data.users\n")
	assert.Contains(t, res.stdout, "Rank #2\n")
	assert.NotContains(t, res.stdout, "Rank #3")
	assert.Contains(t, res.stdout, "  - (2 more columns)\n")

	assert.Contains(t, res.stderr, "Searching for: 'account information'")
	assert.Contains(t, res.stderr, "Fetching table metadata from fixture:builtin")
	assert.NotContains(t, res.stderr, "Index loaded from cache successfully!")

	_, err := os.Stat(indexPath)
	require.NoError(t, err, "index should be cached after the first search")

	res = run("shipping", "delivery", "tracking")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Index loaded from cache successfully!")
	assert.NotContains(t, res.stderr, "Fetching table metadata")
	assert.Contains(t, res.stdout, "Found 9 relevant tables:")
	assert.Contains(t, res.stdout, "Rank #1\nTable: shipments\n")
}

func TestSearchRebuildIndexIgnoresCache(t *testing.T) {
	setupEnv(t)

	require.NoError(t, run("--build-index-only").err)

	res := run("--rebuild-index", "revenue")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stderr, "Attempting to load index from cache")
	assert.Contains(t, res.stderr, "Fetching table metadata")
	assert.Contains(t, res.stdout, "Rank #1\nTable: daily_revenue\n")
}

func TestSearchJSONKeepsStdoutClean(t *testing.T) {
	setupEnv(t)

	res := run("--format", "json", "-k", "3", "revenue")
	require.NoError(t, res.err)
	assert.Empty(t, res.stderr)

	var results []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &results))
	require.Len(t, results, 3)
	assert.Equal(t, "daily_revenue", results[0]["table_name"])
	assert.Equal(t, "No description available", results[0]["description"])
	assert.Equal(t, float64(1), results[0]["rank"])

	res = run("--format", "json", "--verbose", "revenue")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Searching for: 'revenue'")
}

func TestSearchNoCache(t *testing.T) {
	indexPath := setupEnv(t)

	res := run("--no-cache", "revenue")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stderr, "Attempting to load index from cache")

	_, err := os.Stat(indexPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSearchRebuildsUnusableCache(t *testing.T) {
	indexPath := setupEnv(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(indexPath), 0o755))
	require.NoError(t, os.WriteFile(indexPath, []byte("not a cache"), 0o644))

	res := run("revenue")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stderr, "Index loaded from cache successfully!")
	assert.Contains(t, res.stdout, "Table: daily_revenue")

	idx, found, err := cache.Load(indexPath, "hashing:384")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 9, idx.Len())

	// a different model leaves the old cache unused and replaces it
	t.Setenv("DATADICT_EMBEDDING_DIMENSIONS", "64")

	res = run("revenue")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Fetching table metadata")

	idx, _, err = cache.Load(indexPath, "hashing:64")
	require.NoError(t, err)
	assert.Equal(t, 64, idx.Dimensions())
}

func TestSearchEmptySource(t *testing.T) {
	setupEnv(t)

	fixture := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(fixture, []byte("[]"), 0o644))
	t.Setenv("DATADICT_FIXTURE_PATH", fixture)

	res := run("revenue")
	require.Error(t, res.err)
	assert.True(t, errors.IsType(res.err, errors.ErrTypeIndexNotBuilt))
	assert.Contains(t, res.err.Error(), "no table metadata found")
}

func TestBuildIndexOnly(t *testing.T) {
	indexPath := setupEnv(t)

	res := run("--build-index-only")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Index built successfully!")
	assert.Contains(t, res.stdout, "Tables indexed: 9\n")
	assert.Contains(t, res.stdout, "Model: hashing:384\n")
	assert.Contains(t, res.stderr, "Building index...")

	_, err := os.Stat(indexPath)
	require.NoError(t, err)

	res = run("--format", "json", "--build-index-only")
	require.NoError(t, res.err)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &stats))
	assert.Equal(t, "ready", stats["status"])
	assert.Equal(t, float64(9), stats["num_tables"])
}

func TestInteractive(t *testing.T) {
	setupEnv(t)

	res := runCLI(context.Background(), "account information\n\n   \nQUIT\nrevenue\n")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "Interactive Mode")
	assert.Contains(t, res.stdout, "Index ready: 9 tables indexed\n")
	assert.Contains(t, res.stdout, "Model: hashing:384\n")
	assert.Equal(t, 1, strings.Count(res.stdout, "relevant tables:"), "searching stops at the exit word")
	assert.Contains(t, res.stdout, "Rank #1\nTable: users\n")
	assert.True(t, strings.HasSuffix(res.stdout, "Goodbye!\n"))
}

func TestInteractiveEndsAtEOF(t *testing.T) {
	setupEnv(t)

	res := runCLI(context.Background(), "revenue")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Rank #1\nTable: daily_revenue\n")
	assert.Equal(t, 2, strings.Count(res.stdout, "Question: "))
	assert.True(t, strings.HasSuffix(res.stdout, "Goodbye!\n"))
}

func TestInteractiveStopsOnCancel(t *testing.T) {
	setupEnv(t)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	logger := logging.Discard()

	var out bytes.Buffer

	// a pipe that never yields leaves the loop waiting on input
	pr, pw := io.Pipe()
	defer pw.Close()

	s := &session{
		cfg:       cfg,
		logger:    logger,
		format:    formatter.FormatText,
		formatter: formatter.NewFormatter(),
		out:       &out,
		status:    io.Discard,
		in:        pr,
	}

	svc := NewIndexService(cfg, index.NewIndexer(embedding.NewHashingProvider(16), logger), logger, io.Discard)
	_, err = svc.Rebuild(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = runInteractive(ctx, s, svc, search.NewService(svc.Indexer(), 3, logger))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.String(), "Goodbye!\n"))
}

func TestStats(t *testing.T) {
	setupEnv(t)

	res := run("stats")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Status:       not_built\n")
	assert.Contains(t, res.stdout, "(not present)")

	require.NoError(t, run("--build-index-only").err)

	res = run("stats")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Status:       ready\n")
	assert.Contains(t, res.stdout, "Tables:       9\n")
	assert.Contains(t, res.stdout, "Dimensions:   384\n")
	assert.Contains(t, res.stdout, "Model:        hashing:384\n")
	assert.Contains(t, res.stdout, "written ")

	res = run("--format", "json", "stats")
	require.NoError(t, res.err)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &stats))
	assert.Equal(t, "ready", stats["status"])
	assert.Equal(t, true, stats["cache"].(map[string]interface{})["exists"])

	t.Setenv("DATADICT_EMBEDDING_DIMENSIONS", "64")

	res = run("stats")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Status:       not_built\n")
	assert.Contains(t, res.stderr, "Cached index is not usable with hashing:64")
}

func TestList(t *testing.T) {
	setupEnv(t)

	res := run("list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "users")
	assert.Contains(t, res.stdout, "daily_revenue")
	assert.True(t, strings.HasSuffix(res.stdout, "9 tables\n"))

	res = run("--format", "json", "list")
	require.NoError(t, res.err)

	var tables []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &tables))
	require.Len(t, tables, 9)
	assert.Equal(t, "users", tables[0]["table_name"])
	assert.Equal(t, float64(7), tables[0]["column_count"])
}

func TestInfo(t *testing.T) {
	setupEnv(t)

	res := run("info", "users")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Table: users\n")
	assert.Contains(t, res.stdout, "Columns (7):\n")
	assert.Contains(t, res.stdout, "  - last_login_at (")

	res = run("info", "demo-project.sales_data.orders")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Table: orders\n")

	res = run("info", "nope")
	require.Error(t, res.err)
	assert.True(t, errors.IsType(res.err, errors.ErrTypeNotFound))

	res = run("info")
	require.Error(t, res.err)
	assert.True(t, errors.IsType(res.err, errors.ErrTypeValidation))
}

func TestClear(t *testing.T) {
	indexPath := setupEnv(t)

	res := run("clear", "--force")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No cached index at")

	require.NoError(t, run("--build-index-only").err)

	res = runCLI(context.Background(), "no\n", "clear")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Type 'yes' to confirm: ")
	assert.Contains(t, res.stdout, "Operation cancelled.")

	_, err := os.Stat(indexPath)
	require.NoError(t, err)

	res = runCLI(context.Background(), "yes\n", "clear")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Cached index removed.")

	_, err = os.Stat(indexPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, run("--build-index-only").err)
	require.NoError(t, run("clear", "--force").err)

	_, err = os.Stat(indexPath)
	assert.True(t, os.IsNotExist(err))
}

func TestConfigCommand(t *testing.T) {
	setupEnv(t)

	res := run("config")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Active Configuration:")
	assert.Contains(t, res.stdout, "  Kind: fixture\n")
	assert.Contains(t, res.stdout, "  Fixture: built-in\n")
	assert.Contains(t, res.stdout, "  Model ID: hashing:384\n")
	assert.Contains(t, res.stdout, "  Top K: 10\n")

	res = run("--top-k", "4", "--format", "json", "config")
	require.NoError(t, res.err)

	var decoded config.Config
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &decoded))
	assert.Equal(t, "fixture", decoded.Source.Kind)
	assert.Equal(t, 4, decoded.Search.TopK)
}

func TestConfigSave(t *testing.T) {
	setupEnv(t)

	path := os.Getenv("DATADICT_CONFIG")

	res := run("--top-k", "4", "config", "--save")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Configuration saved to "+path)
	assert.Contains(t, res.stdout, "  Top K: 4\n")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var saved config.Config
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, 4, saved.Search.TopK)

	// later runs pick the saved value up without the flag
	res = run("config")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "  Top K: 4\n")
}

func TestConfigFromContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.Kind = config.SourceFixture
	cfg.Embedding.Provider = config.ProviderHashing
	cfg.Search.TopK = 3
	cfg.Cache.Directory = t.TempDir()
	cfg.Logging.Level = "error"

	res := runCLI(withConfig(context.Background(), cfg), "", "config")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "  Top K: 3\n")
}

func TestInvalidConfiguration(t *testing.T) {
	setupEnv(t)
	t.Setenv("DATADICT_SOURCE", "bigquery")

	res := run("revenue")
	require.Error(t, res.err)
	assert.True(t, errors.IsType(res.err, errors.ErrTypeConfig))
	assert.Contains(t, res.err.Error(), "DATADICT_GCP_PROJECT_ID")
}

func TestInvalidFormat(t *testing.T) {
	setupEnv(t)

	res := run("--format", "yaml", "config")
	require.Error(t, res.err)
	assert.True(t, errors.IsType(res.err, errors.ErrTypeValidation))
	assert.Empty(t, res.stdout)
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer

	printError(&buf, errors.NewIndexNotBuiltError("index not built"))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Error: "))
	assert.Contains(t, out, "index not built")

	for _, s := range errors.GetSuggestions(errors.NewIndexNotBuiltError("index not built")) {
		assert.Contains(t, out, "  • "+s+"\n")
	}
}
