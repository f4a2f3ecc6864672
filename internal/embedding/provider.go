package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/logging"
	"github.com/kyleking/datadict-search/internal/python"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbeddings encodes texts in one call; vector i belongs to text i
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// GenerateEmbedding encodes a single text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GetDimensions returns the vector size, or 0 when not yet known
	GetDimensions() int

	// GetName returns the model identifier stamped on every index
	GetName() string
}

// NewProvider creates the provider selected by cfg.Embedding.Provider
func NewProvider(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}

	switch cfg.Embedding.Provider {
	case config.ProviderHashing:
		return NewHashingProvider(cfg.Embedding.Dimensions), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.Embedding, cfg.EmbeddingTimeout()), nil
	case config.ProviderLocal:
		uvPath, err := python.FindUV()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "local embedding provider unavailable").
				WithSuggestion("Set DATADICT_EMBEDDING_PROVIDER=hashing to build an offline lexical index")
		}

		logger.Debugf("Preparing Python environment for %s", cfg.Embedding.Model)

		projectDir, err := python.EnsureEnvironment(ctx, uvPath, cfg.Cache.Directory)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to prepare local embedding environment")
		}

		return NewLocalProvider(cfg.Embedding, uvPath, projectDir, cfg.EmbeddingTimeout()), nil
	default:
		return nil, errors.NewConfigError(
			fmt.Sprintf("unsupported embedding provider: %s", cfg.Embedding.Provider), "embedding.provider")
	}
}

// ModelID returns the identifier the provider selected by cfg would report,
// without preparing it
func ModelID(cfg config.EmbeddingConfig) string {
	switch cfg.Provider {
	case config.ProviderHashing:
		return NewHashingProvider(cfg.Dimensions).GetName()
	case config.ProviderOpenAI:
		return openAIModelID(cfg)
	default:
		return cfg.Provider + ":" + cfg.Model
	}
}

// single runs a one-element batch through p
func single(ctx context.Context, p Provider, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

// checkBatch verifies one finite vector per input, all of the expected size.
// expected 0 accepts any size as long as it is uniform.
func checkBatch(name string, inputs int, vectors [][]float32, expected int) error {
	if len(vectors) != inputs {
		return errors.Newf(errors.ErrTypeSourceUnavailable,
			"%s returned %d embeddings for %d inputs", name, len(vectors), inputs)
	}

	for i, v := range vectors {
		if len(v) == 0 {
			return errors.Newf(errors.ErrTypeSourceUnavailable, "%s returned an empty embedding at %d", name, i)
		}

		if expected == 0 {
			expected = len(v)
		}

		if len(v) != expected {
			return errors.Newf(errors.ErrTypeSourceUnavailable,
				"%s returned a %d-dimensional embedding at %d, expected %d", name, len(v), i, expected)
		}

		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return errors.Newf(errors.ErrTypeSourceUnavailable, "%s returned a non-finite value at %d", name, i)
			}
		}
	}

	return nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}

	return out
}
