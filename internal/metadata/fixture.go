package metadata

import (
	"context"
	_ "embed"
	"encoding/json"
	"os"

	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/logging"
)

//go:embed fixtures/sample_tables.json
var builtinFixture []byte

// FixtureSource serves table records from a JSON file or the built-in sample dataset
type FixtureSource struct {
	path   string
	logger *logging.Logger
}

// NewFixtureSource creates a fixture source; an empty path selects the built-in dataset
func NewFixtureSource(path string, logger *logging.Logger) *FixtureSource {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &FixtureSource{path: path, logger: logger}
}

// Name identifies the source in logs and stats
func (s *FixtureSource) Name() string {
	if s.path == "" {
		return "fixture:builtin"
	}

	return "fixture:" + s.path
}

// FetchTables decodes the fixture
func (s *FixtureSource) FetchTables(ctx context.Context) ([]TableRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := builtinFixture

	if s.path != "" {
		var err error

		data, err = os.ReadFile(s.path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeSourceUnavailable,
				"failed to read fixture file %s", s.path).
				WithSuggestion("Unset DATADICT_FIXTURE_PATH to use the built-in sample tables")
		}
	}

	tables, err := ParseFixture(data)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSourceUnavailable, "failed to parse fixture %s", s.Name())
	}

	s.logger.Debugf("Loaded %d tables from %s", len(tables), s.Name())

	return tables, nil
}

// Close is a no-op
func (*FixtureSource) Close() error {
	return nil
}

// ParseFixture decodes a JSON array of table records and normalizes them
func ParseFixture(data []byte) ([]TableRecord, error) {
	var tables []TableRecord
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, err
	}

	return normalizeAll(tables), nil
}
