// Package metadata models warehouse table metadata and the sources it is read from.
package metadata

import "strings"

// NoDescription is stored when a table carries no description
const NoDescription = "No description available"

const columnsMarker = "Columns:"

// ColumnRecord describes one column in source ordinal order
type ColumnRecord struct {
	Name        string `json:"column_name"`
	DataType    string `json:"data_type"`
	Description string `json:"description"`
}

// TableRecord describes one table and its columns
type TableRecord struct {
	ID          string         `json:"table_id"` // catalog.schema.table
	Name        string         `json:"table_name"`
	Schema      string         `json:"table_schema"`
	Description string         `json:"description"`
	Columns     []ColumnRecord `json:"columns"`
}

// HasDescription reports whether the table carries a real description
func (t TableRecord) HasDescription() bool {
	return t.Description != "" && t.Description != NoDescription
}

// Normalize applies the description fallbacks and derives a missing ID
func (t TableRecord) Normalize() TableRecord {
	t.Description = strings.TrimSpace(t.Description)
	if t.Description == "" {
		t.Description = NoDescription
	}

	if t.ID == "" {
		t.ID = JoinID("", t.Schema, t.Name)
	}

	cols := make([]ColumnRecord, len(t.Columns))
	for i, c := range t.Columns {
		c.Description = strings.TrimSpace(c.Description)
		cols[i] = c
	}

	t.Columns = cols

	return t
}

// JoinID builds a dotted identity from the non-empty parts
func JoinID(catalog, schema, table string) string {
	parts := make([]string, 0, 3)

	for _, p := range []string{catalog, schema, table} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return strings.Join(parts, ".")
}

// SearchableText derives the text fed to the embedding model.
//
// The table name appears twice, followed by the description (unless it is
// the sentinel), "Columns: " and the column names, then every non-empty
// column description. Absent parts are omitted. The output must stay
// byte-stable for a given record since cached vectors depend on it.
func SearchableText(t TableRecord) string {
	parts := []string{t.Name, t.Name}

	if t.HasDescription() {
		parts = append(parts, t.Description)
	}

	var names, descs []string

	for _, c := range t.Columns {
		if c.Name != "" {
			names = append(names, c.Name)
		}

		if c.Description != "" {
			descs = append(descs, c.Description)
		}
	}

	if len(names) > 0 {
		parts = append(parts, columnsMarker+" "+strings.Join(names, " "))
	}

	if len(descs) > 0 {
		parts = append(parts, strings.Join(descs, " "))
	}

	return strings.Join(parts, " ")
}
