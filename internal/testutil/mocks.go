package testutil

import (
	"context"
	"sync"

	"github.com/kyleking/datadict-search/internal/metadata"
)

// StubProvider implements embedding.Provider with fixed vectors and error injection
type StubProvider struct {
	mu sync.Mutex

	name     string
	dims     int
	vectors  map[string][]float32
	fallback []float32
	err      error
	short    bool
	calls    [][]string
}

// StubOption is a functional option for configuring StubProvider
type StubOption func(*StubProvider)

// WithName sets the model identifier
func WithName(name string) StubOption {
	return func(s *StubProvider) {
		s.name = name
	}
}

// WithVector maps an exact input text to a vector
func WithVector(text string, v []float32) StubOption {
	return func(s *StubProvider) {
		s.vectors[text] = v
		s.dims = len(v)
	}
}

// WithFallback sets the vector returned for unmapped texts
func WithFallback(v []float32) StubOption {
	return func(s *StubProvider) {
		s.fallback = v
		s.dims = len(v)
	}
}

// WithProviderError makes every call fail with err
func WithProviderError(err error) StubOption {
	return func(s *StubProvider) {
		s.err = err
	}
}

// WithShortBatch makes the provider drop the last vector of every batch
func WithShortBatch() StubOption {
	return func(s *StubProvider) {
		s.short = true
	}
}

// NewStubProvider creates a stub; unmapped texts get a unit vector along the first axis
func NewStubProvider(opts ...StubOption) *StubProvider {
	s := &StubProvider{
		name:    "stub:test",
		dims:    TestDimensions,
		vectors: make(map[string][]float32),
	}

	s.fallback = make([]float32, TestDimensions)
	s.fallback[0] = 1

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ForTables maps the searchable text of each table to the matching vector
func (s *StubProvider) ForTables(tables []metadata.TableRecord, vectors [][]float32) *StubProvider {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range tables {
		s.vectors[metadata.SearchableText(t)] = vectors[i]
		s.dims = len(vectors[i])
	}

	return s
}

// GenerateEmbeddings returns the mapped vectors in input order
func (s *StubProvider) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, append([]string(nil), texts...))

	if s.err != nil {
		return nil, s.err
	}

	out := make([][]float32, 0, len(texts))

	for _, text := range texts {
		v, ok := s.vectors[text]
		if !ok {
			v = s.fallback
		}

		out = append(out, append([]float32(nil), v...))
	}

	if s.short && len(out) > 0 {
		out = out[:len(out)-1]
	}

	return out, nil
}

// GenerateEmbedding returns the mapped vector for text
func (s *StubProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 {
		return nil, nil
	}

	return vectors[0], nil
}

// GetDimensions returns the vector size
func (s *StubProvider) GetDimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dims
}

// GetName returns the configured model identifier
func (s *StubProvider) GetName() string {
	return s.name
}

// Calls returns the batches received so far
func (s *StubProvider) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]string(nil), s.calls...)
}

// CallCount returns the number of provider calls
func (s *StubProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.calls)
}
