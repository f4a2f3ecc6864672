package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// DefaultHashingDimensions matches the size of common MiniLM models
const DefaultHashingDimensions = 384

// HashingProvider is a deterministic lexical embedder.
//
// Each token (lowercased, split on anything that is not a letter or digit,
// shorter than two runes dropped) is hashed with FNV-1a into one of the
// output slots; the hash's top bit picks the sign. Term frequency is damped
// with 1+ln(tf) and the result is L2-normalised. It needs no model download
// and produces identical vectors across processes, which makes it suitable
// for offline use and tests.
type HashingProvider struct {
	dimensions int
}

// NewHashingProvider creates a hashing provider; dims <= 0 selects the default size
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}

	return &HashingProvider{dimensions: dims}
}

// GenerateEmbedding generates an embedding for the given text
func (p *HashingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, p, text)
}

// GenerateEmbeddings hashes each text independently
func (p *HashingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	for i, text := range texts {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		vectors[i] = p.vector(text)
	}

	return vectors, nil
}

func (p *HashingProvider) vector(text string) []float32 {
	counts := make(map[string]int)
	for _, token := range tokenize(text) {
		counts[token]++
	}

	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}

	// fixed summation order keeps colliding slots bit-identical
	sort.Strings(tokens)

	acc := make([]float64, p.dimensions)

	for _, token := range tokens {
		tf := counts[token]
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		slot := sum % uint64(p.dimensions)

		weight := 1 + math.Log(float64(tf))
		if sum>>63 == 1 {
			weight = -weight
		}

		acc[slot] += weight
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}

	out := make([]float32, p.dimensions)
	if norm == 0 {
		return out
	}

	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}

	return out
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := fields[:0]

	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}

	return tokens
}

// GetDimensions returns the output vector size
func (p *HashingProvider) GetDimensions() int {
	return p.dimensions
}

// GetName returns the provider name for identification
func (p *HashingProvider) GetName() string {
	return "hashing:" + strconv.Itoa(p.dimensions)
}
