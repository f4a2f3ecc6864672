package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/kyleking/datadict-search/internal/errors"
)

const (
	envPrefix = "DATADICT_"

	SourceBigQuery = "bigquery"
	SourceDuckDB   = "duckdb"
	SourceFixture  = "fixture"

	ProviderLocal   = "local"
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Config represents the application configuration
type Config struct {
	Source    SourceConfig    `json:"source"`
	Embedding EmbeddingConfig `json:"embedding"`
	Search    SearchConfig    `json:"search"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
	Debug     DebugConfig     `json:"debug"`
}

// SourceConfig selects and configures the metadata source
type SourceConfig struct {
	Kind            string `json:"kind"             env:"SOURCE"`
	UseMockData     bool   `json:"use_mock_data"    env:"USE_MOCK_DATA"`
	ProjectID       string `json:"project_id"       env:"GCP_PROJECT_ID"`
	Dataset         string `json:"dataset"          env:"BIGQUERY_DATASET"`
	CredentialsFile string `json:"credentials_file" env:"SERVICE_ACCOUNT_KEY_PATH"`
	DuckDBPath      string `json:"duckdb_path"      env:"DUCKDB_PATH"`
	DuckDBSchema    string `json:"duckdb_schema"    env:"DUCKDB_SCHEMA"`
	FixturePath     string `json:"fixture_path"     env:"FIXTURE_PATH"`
	Timeout         string `json:"timeout"          env:"SOURCE_TIMEOUT"`
}

// EmbeddingConfig configures the embedding provider
type EmbeddingConfig struct {
	Provider   string `json:"provider"   env:"EMBEDDING_PROVIDER"`
	Model      string `json:"model"      env:"EMBEDDING_MODEL"`
	Dimensions int    `json:"dimensions" env:"EMBEDDING_DIMENSIONS"` // 0 accepts whatever the model returns
	BaseURL    string `json:"base_url"   env:"EMBEDDING_BASE_URL"`
	APIKey     string `json:"-"          env:"EMBEDDING_API_KEY"`
	Timeout    string `json:"timeout"    env:"EMBEDDING_TIMEOUT"`
}

// SearchConfig represents query-time settings
type SearchConfig struct {
	TopK int `json:"top_k" env:"TOP_K_RESULTS"`
}

// CacheConfig represents index cache configuration
type CacheConfig struct {
	Directory string `json:"directory" env:"CACHE_DIR"`
	FileName  string `json:"file_name" env:"CACHE_FILE"`
	Enabled   bool   `json:"enabled"   env:"USE_CACHE"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `json:"level"        env:"LOG_LEVEL"`        // debug, info, warn, error
	Format     string `json:"format"       env:"LOG_FORMAT"`       // text, json
	Output     string `json:"output"       env:"LOG_OUTPUT"`       // stdout, stderr, file
	File       string `json:"file"         env:"LOG_FILE"`         // log file path when output is file
	MaxSizeMB  int    `json:"max_size_mb"  env:"LOG_MAX_SIZE_MB"`  // max log file size before rotation
	MaxBackups int    `json:"max_backups"  env:"LOG_MAX_BACKUPS"`  // max number of rotated files
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE_DAYS"` // max age of rotated files
	AddSource  bool   `json:"add_source"   env:"LOG_ADD_SOURCE"`   // add source file and line info to logs
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" env:"DEBUG"`
	Verbose bool `json:"verbose" env:"VERBOSE"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:         SourceBigQuery,
			DuckDBSchema: "main",
			Timeout:      "2m",
		},
		Embedding: EmbeddingConfig{
			Provider: ProviderLocal,
			Model:    "all-MiniLM-L6-v2",
			Timeout:  "2m",
		},
		Search: SearchConfig{
			TopK: 10,
		},
		Cache: CacheConfig{
			Directory: "~/.cache/datadict-search",
			FileName:  "index.cache",
			Enabled:   true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			File:       "~/.config/datadict-search/logs/app.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// LoadConfig loads configuration from file, .env, and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	// Load from config file if it exists
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load config file")
		}
	}

	// .env never overrides variables already present in the process environment
	if err := loadDotEnv(getDotEnvPath()); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load .env file")
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to parse environment variables")
	}

	if flagOverrides != nil {
		applyFlagOverrides(config, flagOverrides)
	}

	config.normalize()
	config.ExpandAllPaths()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(path)
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) {
	for key, value := range overrides {
		switch key {
		case "source":
			if str, ok := value.(string); ok && str != "" {
				config.Source.Kind = str
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "no-cache":
			if b, ok := value.(bool); ok && b {
				config.Cache.Enabled = false
			}
		case "top-k":
			if n, ok := value.(int); ok && n != 0 {
				config.Search.TopK = n
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		}
	}
}

// mergeConfigs merges non-zero source values into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

func (c *Config) normalize() {
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	if c.Source.UseMockData {
		c.Source.Kind = SourceFixture
	}

	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Logging.Output = strings.ToLower(c.Logging.Output)

	if c.Debug.Enabled {
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for missing or malformed settings
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}

	if err := c.validateEmbedding(); err != nil {
		return err
	}

	if c.Search.TopK <= 0 {
		return errors.NewConfigError(
			fmt.Sprintf("top-k must be positive: %d", c.Search.TopK), "search.top_k")
	}

	if c.Cache.FileName == "" || strings.ContainsRune(c.Cache.FileName, os.PathSeparator) {
		return errors.NewConfigError(
			fmt.Sprintf("cache file name must be a plain file name: %q", c.Cache.FileName), "cache.file_name")
	}

	return c.validateLogging()
}

func (c *Config) validateSource() error {
	switch c.Source.Kind {
	case SourceBigQuery:
		if c.Source.ProjectID == "" {
			return errors.NewConfigError(envPrefix+"GCP_PROJECT_ID is required when not using mock data", "source.project_id")
		}

		if c.Source.Dataset == "" {
			return errors.NewConfigError(envPrefix+"BIGQUERY_DATASET is required when not using mock data", "source.dataset")
		}

		if !identifierPattern.MatchString(c.Source.ProjectID) {
			return errors.NewConfigError(
				fmt.Sprintf("invalid project id: %q", c.Source.ProjectID), "source.project_id")
		}

		if !identifierPattern.MatchString(c.Source.Dataset) {
			return errors.NewConfigError(
				fmt.Sprintf("invalid dataset: %q", c.Source.Dataset), "source.dataset")
		}
	case SourceDuckDB:
		if c.Source.DuckDBPath == "" {
			return errors.NewConfigError(envPrefix+"DUCKDB_PATH is required for the duckdb source", "source.duckdb_path")
		}

		if !identifierPattern.MatchString(c.Source.DuckDBSchema) {
			return errors.NewConfigError(
				fmt.Sprintf("invalid duckdb schema: %q", c.Source.DuckDBSchema), "source.duckdb_schema")
		}
	case SourceFixture:
	default:
		return errors.NewConfigError(
			fmt.Sprintf("invalid source: %s (must be bigquery, duckdb, or fixture)", c.Source.Kind), "source.kind")
	}

	if _, err := time.ParseDuration(c.Source.Timeout); err != nil {
		return errors.NewConfigError(
			fmt.Sprintf("invalid source timeout: %s", c.Source.Timeout), "source.timeout")
	}

	return nil
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Provider {
	case ProviderLocal, ProviderHashing:
	case ProviderOpenAI:
		if c.Embedding.BaseURL == "" && c.Embedding.APIKey == "" {
			return errors.NewConfigError(
				envPrefix+"EMBEDDING_API_KEY or "+envPrefix+"EMBEDDING_BASE_URL is required for the openai provider", "embedding.api_key")
		}
	default:
		return errors.NewConfigError(
			fmt.Sprintf("invalid embedding provider: %s (must be local, openai, or hashing)", c.Embedding.Provider),
			"embedding.provider")
	}

	if c.Embedding.Provider != ProviderHashing && c.Embedding.Model == "" {
		return errors.NewConfigError(envPrefix+"EMBEDDING_MODEL must not be empty", "embedding.model")
	}

	if c.Embedding.Dimensions < 0 {
		return errors.NewConfigError(
			fmt.Sprintf("embedding dimensions must not be negative: %d", c.Embedding.Dimensions),
			"embedding.dimensions")
	}

	if _, err := time.ParseDuration(c.Embedding.Timeout); err != nil {
		return errors.NewConfigError(
			fmt.Sprintf("invalid embedding timeout: %s", c.Embedding.Timeout), "embedding.timeout")
	}

	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level),
			"logging.level")
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid log format: %s (must be text or json)", c.Logging.Format), "logging.format")
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[c.Logging.Output] {
		return errors.NewConfigError(
			fmt.Sprintf("invalid log output: %s (must be stdout, stderr, or file)", c.Logging.Output),
			"logging.output")
	}

	return nil
}

// SourceTimeout returns the parsed metadata source timeout
func (c *Config) SourceTimeout() time.Duration {
	d, err := time.ParseDuration(c.Source.Timeout)
	if err != nil {
		return 2 * time.Minute
	}

	return d
}

// EmbeddingTimeout returns the parsed embedding call timeout
func (c *Config) EmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil {
		return 2 * time.Minute
	}

	return d
}

// IndexPath returns the location of the index cache file
func (c *Config) IndexPath() string {
	return filepath.Join(ExpandPath(c.Cache.Directory), c.Cache.FileName)
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

func getDotEnvPath() string {
	if envFile := os.Getenv(envPrefix + "ENV_FILE"); envFile != "" {
		return ExpandPath(envFile)
	}

	return ".env"
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Cache.Directory = ExpandPath(c.Cache.Directory)
	c.Logging.File = ExpandPath(c.Logging.File)
	c.Source.CredentialsFile = ExpandPath(c.Source.CredentialsFile)
	c.Source.DuckDBPath = ExpandPath(c.Source.DuckDBPath)
	c.Source.FixturePath = ExpandPath(c.Source.FixturePath)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/datadict-search"
	}

	return filepath.Join(homeDir, ".config", "datadict-search")
}

// SaveConfig writes the configuration to the config file location and returns that path
func SaveConfig(config *Config) (string, error) {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create config directory")
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeConfig, "failed to marshal config")
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write config file")
	}

	return configPath, nil
}
