package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/datadict-search/internal/config"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/python"
)

// LocalProvider runs sentence-transformers through the embedded embed.py script
type LocalProvider struct {
	model      string
	uvPath     string
	projectDir string
	timeout    time.Duration

	mu         sync.Mutex
	dimensions int
}

// embeddingResult represents the JSON response from embed.py
type embeddingResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
}

// NewLocalProvider creates a provider that shells out to uv
func NewLocalProvider(cfg config.EmbeddingConfig, uvPath, projectDir string, timeout time.Duration) *LocalProvider {
	return &LocalProvider{
		model:      cfg.Model,
		uvPath:     uvPath,
		projectDir: projectDir,
		timeout:    timeout,
		dimensions: cfg.Dimensions,
	}
}

// GenerateEmbedding generates an embedding for the given text
func (p *LocalProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, p, text)
}

// GenerateEmbeddings encodes all texts in a single script invocation
func (p *LocalProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	inputJSON, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	cmd := python.RunScript(ctx, p.uvPath, p.projectDir, "embed.py", "--model", p.model, "--stdin")
	cmd.Stdin = bytes.NewReader(inputJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Newf(errors.ErrTypeSourceUnavailable, "embedding generation timed out after %v", p.timeout)
		}

		return nil, errors.Wrapf(err, errors.ErrTypeSourceUnavailable,
			"embedding generation failed (stderr: %s)", strings.TrimSpace(stderr.String()))
	}

	var result embeddingResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to parse embedding result")
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = toFloat32(emb)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := checkBatch(p.GetName(), len(texts), vectors, p.dimensions); err != nil {
		return nil, err
	}

	p.dimensions = len(vectors[0])

	return vectors, nil
}

// GetDimensions returns the configured size, or the size observed on the last call
func (p *LocalProvider) GetDimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dimensions
}

// GetName returns the provider name for identification
func (p *LocalProvider) GetName() string {
	return "local:" + p.model
}
