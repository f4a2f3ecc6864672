// Package search ranks indexed tables against a natural-language query.
package search

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/logging"
	"github.com/kyleking/datadict-search/internal/metadata"
)

const (
	// MaxColumns is the number of columns shown per result
	MaxColumns = 5
	// EllipsisName marks the synthetic entry that counts omitted columns
	EllipsisName = "..."

	scorePrecision = 1e4
)

// Column is a column as shown in a search result
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// IsEllipsis reports whether c stands for omitted columns
func (c Column) IsEllipsis() bool {
	return c.Name == EllipsisName
}

// Result is one ranked table
type Result struct {
	Rank           int      `json:"rank"`
	TableID        string   `json:"table_id"`
	TableName      string   `json:"table_name"`
	Schema         string   `json:"table_schema"`
	Description    string   `json:"description"`
	RelevanceScore float64  `json:"relevance_score"`
	Columns        []Column `json:"columns"`
}

// Engine embeds queries and scores them against an index built by the same provider
type Engine struct {
	provider embedding.Provider
	logger   *logging.Logger
}

// NewEngine creates an engine that embeds queries with provider
func NewEngine(provider embedding.Provider, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Engine{provider: provider, logger: logger}
}

// Search returns the min(topK, idx.Len()) tables most similar to query, best first.
// Equal scores keep index order.
func (e *Engine) Search(ctx context.Context, idx *index.Index, query string, topK int) ([]Result, error) {
	if idx == nil {
		return nil, errors.NewIndexNotBuiltError("index not built")
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrTypeValidation, "query must not be empty")
	}

	if topK <= 0 {
		return nil, errors.Newf(errors.ErrTypeValidation, "top-k must be positive, got %d", topK)
	}

	if model := e.provider.GetName(); model != idx.ModelID {
		return nil, errors.Newf(errors.ErrTypeModelMismatch,
			"index was built with %q but queries are embedded with %q", idx.ModelID, model).
			WithSuggestion("Run with --rebuild-index to rebuild the index with the active model")
	}

	e.logger.WithField("query", query).Debug("Searching")

	qv, err := e.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to embed query")
	}

	if len(qv) != idx.Dimensions() {
		return nil, errors.Newf(errors.ErrTypeModelMismatch,
			"query embedding has %d dimensions but the index has %d", len(qv), idx.Dimensions())
	}

	scores := Similarities(qv, idx.Vectors)

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}

	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	n := min(topK, len(order))
	results := make([]Result, 0, n)

	for rank, i := range order[:n] {
		t := idx.Tables[i]
		results = append(results, Result{
			Rank:           rank + 1,
			TableID:        t.ID,
			TableName:      t.Name,
			Schema:         t.Schema,
			Description:    t.Description,
			RelevanceScore: roundScore(scores[i]),
			Columns:        FormatColumns(t.Columns),
		})
	}

	e.logger.WithFields(map[string]interface{}{
		"query":   query,
		"results": len(results),
	}).Debug("Search complete")

	return results, nil
}

// Similarities returns the cosine similarity of query with every row.
//
// Both sides are scaled to unit length first. A zero-length query or row
// scores 0, and every score is clamped into [-1, 1].
func Similarities(query []float32, rows [][]float32) []float64 {
	scores := make([]float64, len(rows))

	qn := norm(query)
	if qn == 0 {
		return scores
	}

	for i, row := range rows {
		scores[i] = cosine(query, qn, row)
	}

	return scores
}

// CosineSimilarity scores two vectors with the same fallbacks as Similarities
func CosineSimilarity(a, b []float32) float64 {
	qn := norm(a)
	if qn == 0 {
		return 0
	}

	return cosine(a, qn, b)
}

func cosine(q []float32, qn float64, row []float32) float64 {
	if len(row) != len(q) {
		return 0
	}

	rn := norm(row)
	if rn == 0 {
		return 0
	}

	var dot float64
	for j := range q {
		dot += (float64(q[j]) / qn) * (float64(row[j]) / rn)
	}

	switch {
	case math.IsNaN(dot) || math.IsInf(dot, 0):
		return 0
	case dot > 1:
		return 1
	case dot < -1:
		return -1
	}

	return dot
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	n := math.Sqrt(sum)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}

	return n
}

func roundScore(s float64) float64 {
	return math.Round(s*scorePrecision) / scorePrecision
}

// FormatColumns keeps the first MaxColumns columns and appends an ellipsis
// entry counting the rest
func FormatColumns(cols []metadata.ColumnRecord) []Column {
	shown := cols[:min(len(cols), MaxColumns)]
	out := make([]Column, 0, len(shown)+1)

	for _, c := range shown {
		out = append(out, Column{Name: c.Name, Type: c.DataType, Description: c.Description})
	}

	if len(cols) > MaxColumns {
		out = append(out, Column{
			Name: EllipsisName,
			Type: fmt.Sprintf("(%d more columns)", len(cols)-MaxColumns),
		})
	}

	return out
}
