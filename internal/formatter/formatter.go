package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/kyleking/datadict-search/internal/cache"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/metadata"
	"github.com/kyleking/datadict-search/internal/search"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

const (
	ruleWidth         = 80
	listDescriptionAt = 60
)

// ParseFormat validates a --format value
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", errors.Newf(errors.ErrTypeValidation, "unknown output format %q", s).
			WithSuggestion("Use --format text or --format json")
	}
}

// Formatter renders search results and index information
type Formatter struct {
	now func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// FormatResults renders a ranked result list
func (f *Formatter) FormatResults(results []search.Result, format OutputFormat) (string, error) {
	if format == FormatJSON {
		if results == nil {
			results = []search.Result{}
		}

		return toJSON(results)
	}

	return f.formatResultsText(results), nil
}

func (f *Formatter) formatResultsText(results []search.Result) string {
	if len(results) == 0 {
		return "\nNo results found.\n"
	}

	var b strings.Builder

	heavy := strings.Repeat("=", ruleWidth)
	light := strings.Repeat("-", ruleWidth)

	fmt.Fprintf(&b, "\n%s\nFound %d relevant tables:\n%s\n\n", heavy, len(results), heavy)

	for _, r := range results {
		fmt.Fprintf(&b, "Rank #%d\n", r.Rank)
		fmt.Fprintf(&b, "Table: %s\n", r.TableName)
		fmt.Fprintf(&b, "Schema: %s\n", r.Schema)
		fmt.Fprintf(&b, "Full ID: %s\n", r.TableID)
		fmt.Fprintf(&b, "Relevance Score: %s\n", formatScore(r.RelevanceScore))
		fmt.Fprintf(&b, "Description: %s\n", r.Description)

		if len(r.Columns) > 0 {
			b.WriteString("\nKey Columns:\n")

			for _, c := range r.Columns {
				if c.IsEllipsis() {
					fmt.Fprintf(&b, "  - %s\n", c.Type)
					continue
				}

				b.WriteString(formatColumn(c.Name, c.Type, c.Description))
			}
		}

		fmt.Fprintf(&b, "\n%s\n\n", light)
	}

	return b.String()
}

// FormatTables renders every indexed table, one row each
func (f *Formatter) FormatTables(tables []metadata.TableRecord, format OutputFormat) (string, error) {
	if format == FormatJSON {
		type listed struct {
			ID          string `json:"table_id"`
			Name        string `json:"table_name"`
			Schema      string `json:"table_schema"`
			Columns     int    `json:"column_count"`
			Description string `json:"description"`
		}

		out := make([]listed, 0, len(tables))
		for _, t := range tables {
			out = append(out, listed{ID: t.ID, Name: t.Name, Schema: t.Schema, Columns: len(t.Columns), Description: t.Description})
		}

		return toJSON(out)
	}

	if len(tables) == 0 {
		return "No tables indexed.\n", nil
	}

	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"#", "Table", "Schema", "Columns", "Description"})
	table.SetAutoWrapText(false)

	for i, t := range tables {
		table.Append([]string{
			strconv.Itoa(i + 1),
			t.Name,
			t.Schema,
			strconv.Itoa(len(t.Columns)),
			truncate(t.Description, listDescriptionAt),
		})
	}

	table.Render()
	fmt.Fprintf(&buf, "%d tables\n", len(tables))

	return buf.String(), nil
}

// FormatTable renders one table with all of its columns
func (f *Formatter) FormatTable(t metadata.TableRecord, format OutputFormat) (string, error) {
	if format == FormatJSON {
		return toJSON(t)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Table: %s\n", t.Name)
	fmt.Fprintf(&b, "Schema: %s\n", t.Schema)
	fmt.Fprintf(&b, "Full ID: %s\n", t.ID)
	fmt.Fprintf(&b, "Description: %s\n", t.Description)

	if len(t.Columns) == 0 {
		b.WriteString("\nNo columns.\n")
		return b.String(), nil
	}

	fmt.Fprintf(&b, "\nColumns (%d):\n", len(t.Columns))

	for _, c := range t.Columns {
		b.WriteString(formatColumn(c.Name, c.DataType, c.Description))
	}

	return b.String(), nil
}

// FormatStats renders index status together with the state of its cache file
func (f *Formatter) FormatStats(stats index.Stats, file cache.FileInfo, format OutputFormat) (string, error) {
	if format == FormatJSON {
		type cacheJSON struct {
			Path      string    `json:"path"`
			Exists    bool      `json:"exists"`
			SizeBytes int64     `json:"size_bytes,omitempty"`
			Modified  time.Time `json:"modified,omitzero"`
		}

		return toJSON(struct {
			index.Stats
			Cache cacheJSON `json:"cache"`
		}{
			Stats: stats,
			Cache: cacheJSON{Path: file.Path, Exists: file.Exists, SizeBytes: file.Size, Modified: file.ModTime},
		})
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Status:       %s\n", stats.Status)

	if stats.Status == index.StatusReady {
		fmt.Fprintf(&b, "Tables:       %s\n", humanize.Comma(int64(stats.NumTables)))
		fmt.Fprintf(&b, "Dimensions:   %d\n", stats.EmbeddingDim)
		fmt.Fprintf(&b, "Model:        %s\n", stats.Model)

		if stats.BuildID != "" {
			fmt.Fprintf(&b, "Build ID:     %s\n", stats.BuildID)
		}

		if !stats.BuiltAt.IsZero() {
			fmt.Fprintf(&b, "Built:        %s\n", f.age(stats.BuiltAt))
		}
	}

	switch {
	case file.Path == "":
		b.WriteString("Cache:        disabled\n")
	case file.Exists:
		fmt.Fprintf(&b, "Cache:        %s (%s, written %s)\n",
			file.Path, humanize.Bytes(uint64(max(file.Size, 0))), f.age(file.ModTime))
	default:
		fmt.Fprintf(&b, "Cache:        %s (not present)\n", file.Path)
	}

	return b.String(), nil
}

func (f *Formatter) age(t time.Time) string {
	return humanize.RelTime(t, f.now(), "ago", "from now")
}

func formatColumn(name, dataType, description string) string {
	if description == "" {
		return fmt.Sprintf("  - %s (%s)\n", name, dataType)
	}

	return fmt.Sprintf("  - %s (%s) - %s\n", name, dataType, description)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}

	return string(r[:limit-3]) + "..."
}

func toJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeInternal, "failed to encode output")
	}

	return string(data) + "\n", nil
}
