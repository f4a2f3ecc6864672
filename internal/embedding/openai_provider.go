package embedding

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/errors"
)

// maxOpenAIBatch is the input limit of one embeddings request
const maxOpenAIBatch = 100

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint
type OpenAIProvider struct {
	client  openai.Client
	model   string
	name    string
	timeout time.Duration

	mu         sync.Mutex
	requested  int
	dimensions int
}

// NewOpenAIProvider creates a provider for OpenAI or any server speaking its embeddings API
func NewOpenAIProvider(cfg config.EmbeddingConfig, timeout time.Duration) *OpenAIProvider {
	opts := []option.RequestOption{
		// failures surface to the caller untouched
		option.WithMaxRetries(0),
	}

	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		name:       openAIModelID(cfg),
		timeout:    timeout,
		requested:  cfg.Dimensions,
		dimensions: cfg.Dimensions,
	}
}

// GenerateEmbedding generates an embedding for the given text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, p, text)
}

// GenerateEmbeddings encodes texts in request-sized chunks, preserving order
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxOpenAIBatch {
		end := min(start+maxOpenAIBatch, len(texts))

		chunk, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}

		vectors = append(vectors, chunk...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := checkBatch(p.GetName(), len(texts), vectors, p.dimensions); err != nil {
		return nil, err
	}

	p.dimensions = len(vectors[0])

	return vectors, nil
}

func (p *OpenAIProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	if p.requested > 0 {
		params.Dimensions = openai.Int(int64(p.requested))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "embeddings request failed")
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = toFloat32(d.Embedding)
	}

	if len(vectors) != len(texts) {
		return nil, errors.Newf(errors.ErrTypeSourceUnavailable,
			"%s returned %d embeddings for %d inputs", p.GetName(), len(vectors), len(texts))
	}

	return vectors, nil
}

// GetDimensions returns the requested size, or the size observed on the last call
func (p *OpenAIProvider) GetDimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dimensions
}

// GetName returns the model identifier, which includes any requested size and custom endpoint
func (p *OpenAIProvider) GetName() string {
	return p.name
}

// openAIModelID names the model together with the settings that change its vectors,
// e.g. openai:text-embedding-3-small@256 or openai(http://tei:8080/v1):bge-small
func openAIModelID(cfg config.EmbeddingConfig) string {
	id := "openai"
	if cfg.BaseURL != "" {
		id += "(" + strings.TrimSuffix(cfg.BaseURL, "/") + ")"
	}

	id += ":" + cfg.Model

	if cfg.Dimensions > 0 {
		id += "@" + strconv.Itoa(cfg.Dimensions)
	}

	return id
}
