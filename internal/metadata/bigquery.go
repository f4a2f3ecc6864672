package metadata

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/logging"
)

const tablesQuery = `
SELECT
	t.table_catalog,
	t.table_schema,
	t.table_name,
	o.option_value AS table_description
FROM
	` + "`%[1]s.%[2]s.INFORMATION_SCHEMA.TABLES`" + ` AS t
LEFT JOIN
	` + "`%[1]s.%[2]s.INFORMATION_SCHEMA.TABLE_OPTIONS`" + ` AS o
	ON o.table_name = t.table_name AND o.option_name = 'description'
ORDER BY
	t.table_name`

const columnsQuery = `
SELECT
	c.table_name,
	c.column_name,
	c.data_type,
	f.description AS column_description
FROM
	` + "`%[1]s.%[2]s.INFORMATION_SCHEMA.COLUMNS`" + ` AS c
LEFT JOIN
	` + "`%[1]s.%[2]s.INFORMATION_SCHEMA.COLUMN_FIELD_PATHS`" + ` AS f
	ON f.table_name = c.table_name AND f.column_name = c.column_name AND f.field_path = c.column_name
ORDER BY
	c.table_name, c.ordinal_position`

type tableRow struct {
	Catalog     string              `bigquery:"table_catalog"`
	Schema      string              `bigquery:"table_schema"`
	Name        string              `bigquery:"table_name"`
	Description bigquery.NullString `bigquery:"table_description"`
}

type columnRow struct {
	TableName   string              `bigquery:"table_name"`
	ColumnName  string              `bigquery:"column_name"`
	DataType    string              `bigquery:"data_type"`
	Description bigquery.NullString `bigquery:"column_description"`
}

// rowReader runs the two INFORMATION_SCHEMA queries
type rowReader interface {
	ReadTables(ctx context.Context) ([]tableRow, error)
	ReadColumns(ctx context.Context) ([]columnRow, error)
	Close() error
}

// BigQuerySource reads table and column descriptions from a BigQuery dataset
type BigQuerySource struct {
	project string
	dataset string
	reader  rowReader
	logger  *logging.Logger
}

// NewBigQuerySource connects with the service account key when one is configured,
// otherwise with application default credentials
func NewBigQuerySource(ctx context.Context, cfg config.SourceConfig, logger *logging.Logger) (*BigQuerySource, error) {
	var opts []option.ClientOption

	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, errors.NewConfigError(
				fmt.Sprintf("service account key file not found at %s", cfg.CredentialsFile),
				"source.credentials_file").
				WithSuggestion("Set DATADICT_USE_MOCK_DATA=true to use the built-in sample tables")
		}

		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to create BigQuery client")
	}

	return newBigQuerySource(cfg.ProjectID, cfg.Dataset, &clientReader{
		client:  client,
		project: cfg.ProjectID,
		dataset: cfg.Dataset,
	}, logger), nil
}

func newBigQuerySource(project, dataset string, reader rowReader, logger *logging.Logger) *BigQuerySource {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &BigQuerySource{
		project: project,
		dataset: dataset,
		reader:  reader,
		logger:  logger,
	}
}

// Name identifies the dataset being read
func (s *BigQuerySource) Name() string {
	return "bigquery:" + s.project + "." + s.dataset
}

// FetchTables returns every table of the dataset with its columns in ordinal order
func (s *BigQuerySource) FetchTables(ctx context.Context) ([]TableRecord, error) {
	tables, err := s.reader.ReadTables(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSourceUnavailable, "failed to fetch table metadata from %s", s.Name())
	}

	columns, err := s.reader.ReadColumns(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSourceUnavailable, "failed to fetch column metadata from %s", s.Name())
	}

	records := assembleTables(tables, columns)

	s.logger.WithFields(map[string]interface{}{
		"tables":  len(records),
		"columns": len(columns),
	}).Debugf("Fetched metadata from %s", s.Name())

	return records, nil
}

// Close releases the BigQuery client
func (s *BigQuerySource) Close() error {
	return s.reader.Close()
}

// assembleTables groups column rows under their tables, keeping both orders
func assembleTables(tables []tableRow, columns []columnRow) []TableRecord {
	byTable := make(map[string][]ColumnRecord, len(tables))

	for _, c := range columns {
		byTable[c.TableName] = append(byTable[c.TableName], ColumnRecord{
			Name:        c.ColumnName,
			DataType:    c.DataType,
			Description: nullString(c.Description),
		})
	}

	records := make([]TableRecord, 0, len(tables))
	seen := make(map[string]bool, len(tables))

	for _, t := range tables {
		// TABLE_OPTIONS can repeat a table when joined; keep the first row
		if seen[t.Name] {
			continue
		}

		seen[t.Name] = true

		records = append(records, TableRecord{
			ID:          JoinID(t.Catalog, t.Schema, t.Name),
			Name:        t.Name,
			Schema:      t.Schema,
			Description: unquoteOption(nullString(t.Description)),
			Columns:     byTable[t.Name],
		}.Normalize())
	}

	return records
}

func nullString(s bigquery.NullString) string {
	if !s.Valid {
		return ""
	}

	return s.StringVal
}

// unquoteOption strips the string literal quoting TABLE_OPTIONS applies to option values
func unquoteOption(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
		return value
	}

	if unquoted, err := strconv.Unquote(value); err == nil {
		return unquoted
	}

	return value[1 : len(value)-1]
}

type clientReader struct {
	client  *bigquery.Client
	project string
	dataset string
}

func (r *clientReader) ReadTables(ctx context.Context) ([]tableRow, error) {
	return readAll[tableRow](ctx, r.client, fmt.Sprintf(tablesQuery, r.project, r.dataset))
}

func (r *clientReader) ReadColumns(ctx context.Context) ([]columnRow, error) {
	return readAll[columnRow](ctx, r.client, fmt.Sprintf(columnsQuery, r.project, r.dataset))
}

func (r *clientReader) Close() error {
	return r.client.Close()
}

func readAll[T any](ctx context.Context, client *bigquery.Client, sql string) ([]T, error) {
	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		return nil, err
	}

	var rows []T

	for {
		var row T

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, err
		}

		rows = append(rows, row)
	}

	return rows, nil
}
