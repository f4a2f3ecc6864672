package search

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/logging"
	"github.com/kyleking/datadict-search/internal/metadata"
	"github.com/kyleking/datadict-search/internal/testutil"
)

func newIndex(tables []metadata.TableRecord, vectors [][]float32) *index.Index {
	return &index.Index{
		BuildID: "test",
		ModelID: "stub:test",
		Vectors: vectors,
		Tables:  tables,
	}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	tables := testutil.SampleTables()
	idx := newIndex(tables, [][]float32{
		{1, 0, 0, 0},
		{0.6, 0.8, 0, 0},
	})

	provider := testutil.NewStubProvider(testutil.WithVector("who are my users", []float32{3, 0, 0, 0}))
	engine := NewEngine(provider, logging.Discard())

	results, err := engine.Search(context.Background(), idx, "who are my users", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "users", results[0].TableName)
	assert.Equal(t, "test-project.analytics.users", results[0].TableID)
	assert.Equal(t, "analytics", results[0].Schema)
	assert.Equal(t, "User account information", results[0].Description)
	assert.InDelta(t, 1.0, results[0].RelevanceScore, 1e-9)

	assert.Equal(t, 2, results[1].Rank)
	assert.Equal(t, "orders", results[1].TableName)
	assert.InDelta(t, 0.6, results[1].RelevanceScore, 1e-9)

	assert.Equal(t, []Column{
		{Name: "user_id", Type: "STRING", Description: "User ID"},
		{Name: "email", Type: "STRING", Description: "Email"},
	}, results[0].Columns)
}

func TestSearchTopKTruncates(t *testing.T) {
	idx := newIndex(testutil.SampleTables(), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	engine := NewEngine(testutil.NewStubProvider(), logging.Discard())

	results, err := engine.Search(context.Background(), idx, "anything", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "users", results[0].TableName)

	results, err = engine.Search(context.Background(), idx, "anything", 50)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchTiesKeepIndexOrder(t *testing.T) {
	tables := []metadata.TableRecord{
		testutil.NewTable("alpha"),
		testutil.NewTable("beta"),
		testutil.NewTable("gamma"),
		testutil.NewTable("delta"),
	}
	idx := newIndex(tables, [][]float32{
		{0, 1, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{2, 0, 0, 0},
	})
	engine := NewEngine(testutil.NewStubProvider(), logging.Discard())

	results, err := engine.Search(context.Background(), idx, "q", 4)
	require.NoError(t, err)

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.TableName
		assert.Equal(t, i+1, r.Rank)
	}

	assert.Equal(t, []string{"beta", "delta", "alpha", "gamma"}, names)
}

func TestSearchZeroNormVectorsScoreZero(t *testing.T) {
	tables := testutil.SampleTables()
	idx := newIndex(tables, [][]float32{{0, 0, 0, 0}, {1, 0, 0, 0}})

	engine := NewEngine(testutil.NewStubProvider(), logging.Discard())

	results, err := engine.Search(context.Background(), idx, "q", 2)
	require.NoError(t, err)
	assert.Equal(t, "orders", results[0].TableName)
	assert.Equal(t, 1.0, results[0].RelevanceScore)
	assert.Equal(t, 0.0, results[1].RelevanceScore)

	zeroQuery := testutil.NewStubProvider(testutil.WithFallback([]float32{0, 0, 0, 0}))
	results, err = NewEngine(zeroQuery, logging.Discard()).Search(context.Background(), idx, "q", 2)
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, 0.0, r.RelevanceScore)
		assert.False(t, math.IsNaN(r.RelevanceScore))
	}
}

func TestSearchScoresAreRounded(t *testing.T) {
	tables := testutil.SampleTables()[:1]
	// cos = 1/3
	idx := newIndex(tables, [][]float32{{1, float32(math.Sqrt(8)), 0, 0}})
	engine := NewEngine(testutil.NewStubProvider(), logging.Discard())

	results, err := engine.Search(context.Background(), idx, "q", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.3333, results[0].RelevanceScore)
}

func TestSearchTruncatesColumns(t *testing.T) {
	tables := []metadata.TableRecord{testutil.NewTable("wide", testutil.WithColumnCount(7))}
	idx := newIndex(tables, [][]float32{{1, 0, 0, 0}})
	engine := NewEngine(testutil.NewStubProvider(), logging.Discard())

	results, err := engine.Search(context.Background(), idx, "q", 1)
	require.NoError(t, err)

	cols := results[0].Columns
	require.Len(t, cols, 6)
	assert.Equal(t, "col_1", cols[0].Name)
	assert.Equal(t, "col_5", cols[4].Name)
	assert.Equal(t, Column{Name: "...", Type: "(2 more columns)"}, cols[5])
	assert.True(t, cols[5].IsEllipsis())
	assert.False(t, cols[0].IsEllipsis())
}

func TestFormatColumns(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		expected int
	}{
		{name: "none", count: 0, expected: 0},
		{name: "under limit", count: 3, expected: 3},
		{name: "at limit", count: 5, expected: 5},
		{name: "one over", count: 6, expected: 6},
		{name: "many", count: 40, expected: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := testutil.NewTable("t", testutil.WithColumnCount(tt.count))
			cols := FormatColumns(table.Columns)
			assert.Len(t, cols, tt.expected)

			if tt.count > MaxColumns {
				assert.True(t, cols[len(cols)-1].IsEllipsis())
			}
		})
	}
}

func TestSearchPreconditions(t *testing.T) {
	idx := newIndex(testutil.SampleTables(), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})

	tests := []struct {
		name     string
		provider *testutil.StubProvider
		idx      *index.Index
		query    string
		topK     int
		errType  errors.ErrorType
	}{
		{name: "no index", provider: testutil.NewStubProvider(), idx: nil, query: "q", topK: 1, errType: errors.ErrTypeIndexNotBuilt},
		{name: "blank query", provider: testutil.NewStubProvider(), idx: idx, query: "   ", topK: 1, errType: errors.ErrTypeValidation},
		{name: "zero top-k", provider: testutil.NewStubProvider(), idx: idx, query: "q", topK: 0, errType: errors.ErrTypeValidation},
		{name: "negative top-k", provider: testutil.NewStubProvider(), idx: idx, query: "q", topK: -3, errType: errors.ErrTypeValidation},
		{
			name:     "other model",
			provider: testutil.NewStubProvider(testutil.WithName("local:other-model")),
			idx:      idx,
			query:    "q",
			topK:     1,
			errType:  errors.ErrTypeModelMismatch,
		},
		{
			name:     "dimension mismatch",
			provider: testutil.NewStubProvider(testutil.WithFallback([]float32{1, 0, 0})),
			idx:      idx,
			query:    "q",
			topK:     1,
			errType:  errors.ErrTypeModelMismatch,
		},
		{
			name:     "provider failure",
			provider: testutil.NewStubProvider(testutil.WithProviderError(assert.AnError)),
			idx:      idx,
			query:    "q",
			topK:     1,
			errType:  errors.ErrTypeSourceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := NewEngine(tt.provider, logging.Discard()).Search(context.Background(), tt.idx, tt.query, tt.topK)
			require.Error(t, err)
			assert.Nil(t, results)
			assert.True(t, errors.IsType(err, tt.errType), "got %s: %v", errors.GetType(err), err)
		})
	}
}

func TestSimilaritiesBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	randomVector := func() []float32 {
		v := make([]float32, 16)
		for i := range v {
			v[i] = float32(rng.NormFloat64() * 1000)
		}

		return v
	}

	rows := make([][]float32, 200)
	for i := range rows {
		rows[i] = randomVector()
	}

	query := randomVector()
	for _, s := range Similarities(query, rows) {
		assert.GreaterOrEqual(t, s, -1.0)
		assert.LessOrEqual(t, s, 1.0)
	}

	scaled := make([]float32, len(query))
	for i, x := range query {
		scaled[i] = x * 7.5
	}

	assert.InDelta(t, 1.0, CosineSimilarity(query, scaled), 1e-6)

	negated := make([]float32, len(query))
	for i, x := range query {
		negated[i] = -x
	}

	assert.InDelta(t, -1.0, CosineSimilarity(query, negated), 1e-6)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{float32(math.Inf(1)), 0}, []float32{1, 0}))
}

func TestSearchEndToEndWithHashingProvider(t *testing.T) {
	provider := embedding.NewHashingProvider(0)
	indexer := index.NewIndexer(provider, logging.Discard())

	_, err := indexer.Build(context.Background(), testutil.SampleTables())
	require.NoError(t, err)

	service := NewService(indexer, 10, logging.Discard())

	results, err := service.Search(context.Background(), "account information", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "users", results[0].TableName)
	assert.Equal(t, "orders", results[1].TableName)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)

	results, err = service.Search(context.Background(), "order transactions", 2)
	require.NoError(t, err)
	assert.Equal(t, "orders", results[0].TableName)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)

	// the engine is reusable against the same index
	again, err := service.Search(context.Background(), "account information", 2)
	require.NoError(t, err)
	assert.Equal(t, "users", again[0].TableName)
}

func TestServiceBeforeBuild(t *testing.T) {
	indexer := index.NewIndexer(testutil.NewStubProvider(), logging.Discard())
	service := NewService(indexer, 10, logging.Discard())

	results, err := service.Search(context.Background(), "account information", 2)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, errors.IsType(err, errors.ErrTypeIndexNotBuilt))
}

func TestServiceDefaultTopK(t *testing.T) {
	tables := []metadata.TableRecord{
		testutil.NewTable("a"),
		testutil.NewTable("b"),
		testutil.NewTable("c"),
	}

	indexer := index.NewIndexer(testutil.NewStubProvider(), logging.Discard())
	_, err := indexer.Build(context.Background(), tables)
	require.NoError(t, err)

	service := NewService(indexer, 2, logging.Discard())

	results, err := service.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = service.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = service.Search(context.Background(), "q", -1)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestServiceConcurrentQueries(t *testing.T) {
	indexer := index.NewIndexer(embedding.NewHashingProvider(64), logging.Discard())
	_, err := indexer.Build(context.Background(), testutil.SampleTables())
	require.NoError(t, err)

	service := NewService(indexer, 2, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), testutil.TestTimeout)
	defer cancel()

	want, err := service.Search(ctx, "user account", 0)
	require.NoError(t, err)

	testutil.RunConcurrent(t, ctx, 8, func(ctx context.Context, _ int) error {
		got, err := service.Search(ctx, "user account", 0)
		if err != nil {
			return err
		}

		if !assert.Equal(t, want, got) {
			return errors.New(errors.ErrTypeInternal, "results differ between readers")
		}

		return nil
	})
}
