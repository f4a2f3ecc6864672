package testutil

import (
	"fmt"

	"github.com/kyleking/datadict-search/internal/metadata"
)

// TableOption is a functional option for configuring test tables
type TableOption func(*metadata.TableRecord)

// WithSchema sets the schema and rebuilds the ID
func WithSchema(schema string) TableOption {
	return func(t *metadata.TableRecord) {
		t.Schema = schema
		t.ID = metadata.JoinID(TestProject, schema, t.Name)
	}
}

// WithID overrides the table identity
func WithID(id string) TableOption {
	return func(t *metadata.TableRecord) {
		t.ID = id
	}
}

// WithDescription sets the table description
func WithDescription(desc string) TableOption {
	return func(t *metadata.TableRecord) {
		t.Description = desc
	}
}

// WithColumn appends one column
func WithColumn(name, dataType, desc string) TableOption {
	return func(t *metadata.TableRecord) {
		t.Columns = append(t.Columns, metadata.ColumnRecord{Name: name, DataType: dataType, Description: desc})
	}
}

// WithColumnCount appends n generated STRING columns named col_1..col_n
func WithColumnCount(n int) TableOption {
	return func(t *metadata.TableRecord) {
		for i := 1; i <= n; i++ {
			t.Columns = append(t.Columns, metadata.ColumnRecord{
				Name:        fmt.Sprintf("col_%d", i),
				DataType:    "STRING",
				Description: fmt.Sprintf("Column %d", i),
			})
		}
	}
}

// NewTable creates a normalized table record in the test dataset
func NewTable(name string, opts ...TableOption) metadata.TableRecord {
	t := metadata.TableRecord{
		ID:     metadata.JoinID(TestProject, TestDataset, name),
		Name:   name,
		Schema: TestDataset,
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t.Normalize()
}

// SampleTables returns the two-table users/orders dataset
func SampleTables() []metadata.TableRecord {
	return []metadata.TableRecord{
		NewTable("users",
			WithDescription("User account information"),
			WithColumn("user_id", "STRING", "User ID"),
			WithColumn("email", "STRING", "Email"),
		),
		NewTable("orders",
			WithDescription("Order transactions"),
			WithColumn("order_id", "STRING", "Order ID"),
		),
	}
}
