package metadata

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/logging"
)

const duckTablesQuery = `
SELECT database_name, schema_name, table_name, comment
FROM duckdb_tables()
WHERE schema_name = ?
ORDER BY table_name`

const duckColumnsQuery = `
SELECT table_name, column_name, data_type, comment
FROM duckdb_columns()
WHERE schema_name = ?
ORDER BY table_name, column_index`

// DuckDBSource reads table and column comments from a DuckDB database file
type DuckDBSource struct {
	db     *sql.DB
	path   string
	schema string
	logger *logging.Logger
}

// NewDuckDBSource opens the database read-only
func NewDuckDBSource(path, schema string, logger *logging.Logger) (*DuckDBSource, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSourceUnavailable, "duckdb database not found at %s", path)
	}

	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to open duckdb database")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to ping duckdb database")
	}

	return &DuckDBSource{db: db, path: path, schema: schema, logger: logger}, nil
}

// Name identifies the database and schema being read
func (s *DuckDBSource) Name() string {
	return "duckdb:" + s.path + "#" + s.schema
}

// FetchTables returns every base table in the schema with its columns
func (s *DuckDBSource) FetchTables(ctx context.Context) ([]TableRecord, error) {
	var records []TableRecord

	index := make(map[string]int)

	rows, err := s.db.QueryContext(ctx, duckTablesQuery, s.schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to query duckdb tables")
	}

	for rows.Next() {
		var (
			catalog, schema, name string
			comment               sql.NullString
		)

		if err := rows.Scan(&catalog, &schema, &name, &comment); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to scan duckdb table row")
		}

		index[name] = len(records)
		records = append(records, TableRecord{
			ID:          JoinID(catalog, schema, name),
			Name:        name,
			Schema:      schema,
			Description: comment.String,
		})
	}

	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, duckColumnsQuery, s.schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to query duckdb columns")
	}

	for rows.Next() {
		var (
			table, column, dataType string
			comment                 sql.NullString
		)

		if err := rows.Scan(&table, &column, &dataType, &comment); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to scan duckdb column row")
		}

		// duckdb_columns also lists view columns
		i, ok := index[table]
		if !ok {
			continue
		}

		records[i].Columns = append(records[i].Columns, ColumnRecord{
			Name:        column,
			DataType:    dataType,
			Description: comment.String,
		})
	}

	if err := closeRows(rows); err != nil {
		return nil, err
	}

	s.logger.Debugf("Fetched %d tables from %s", len(records), s.Name())

	return normalizeAll(records), nil
}

// Close closes the database handle
func (s *DuckDBSource) Close() error {
	return s.db.Close()
}

func closeRows(rows *sql.Rows) error {
	iterErr := rows.Err()
	closeErr := rows.Close()

	if iterErr != nil {
		return errors.Wrap(iterErr, errors.ErrTypeSourceUnavailable, "failed to read duckdb rows")
	}

	if closeErr != nil {
		return errors.Wrap(closeErr, errors.ErrTypeSourceUnavailable, "failed to close duckdb rows")
	}

	return nil
}
