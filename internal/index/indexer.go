package index

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/datadict-search/internal/embedding"
	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/logging"
	"github.com/kyleking/datadict-search/internal/metadata"
)

const (
	StatusNotBuilt = "not_built"
	StatusReady    = "ready"
)

// Stats summarises the current index
type Stats struct {
	Status       string    `json:"status"`
	NumTables    int       `json:"num_tables,omitempty"`
	EmbeddingDim int       `json:"embedding_dim,omitempty"`
	Model        string    `json:"model,omitempty"`
	BuildID      string    `json:"build_id,omitempty"`
	BuiltAt      time.Time `json:"built_at,omitzero"`
}

// Indexer builds indexes with one embedding provider and holds the current one
type Indexer struct {
	provider embedding.Provider
	logger   *logging.Logger

	mu      sync.RWMutex
	current *Index
}

// NewIndexer creates an indexer with no index
func NewIndexer(provider embedding.Provider, logger *logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Indexer{provider: provider, logger: logger}
}

// ModelID returns the identifier stamped on indexes built here
func (x *Indexer) ModelID() string {
	return x.provider.GetName()
}

// Provider returns the embedding provider used for builds
func (x *Indexer) Provider() embedding.Provider {
	return x.provider
}

// Build embeds every table in one provider call and installs the result.
//
// An empty table list makes no provider call, leaves any existing index in
// place and returns a nil index. On failure nothing is installed.
func (x *Indexer) Build(ctx context.Context, tables []metadata.TableRecord) (*Index, error) {
	if len(tables) == 0 {
		x.logger.Warn("No tables to index; index left unchanged")
		return nil, nil
	}

	texts := make([]string, len(tables))
	for i, t := range tables {
		texts[i] = metadata.SearchableText(t)
	}

	x.logger.WithFields(map[string]interface{}{
		"tables": len(tables),
		"model":  x.ModelID(),
	}).Info("Building index")

	start := time.Now()

	vectors, err := x.provider.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "failed to embed table metadata")
	}

	if len(vectors) != len(tables) {
		return nil, errors.Newf(errors.ErrTypeSourceUnavailable,
			"embedding provider returned %d vectors for %d tables", len(vectors), len(tables))
	}

	idx := &Index{
		BuildID: uuid.NewString(),
		ModelID: x.ModelID(),
		BuiltAt: time.Now().UTC(),
		Vectors: vectors,
		Tables:  append([]metadata.TableRecord(nil), tables...),
	}

	if err := idx.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSourceUnavailable, "embedding provider returned an unusable index")
	}

	x.mu.Lock()
	x.current = idx
	x.mu.Unlock()

	x.logger.WithFields(map[string]interface{}{
		"tables":     idx.Len(),
		"dimensions": idx.Dimensions(),
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("Index built")

	return idx, nil
}

// Restore installs a previously built index produced by the same model
func (x *Indexer) Restore(idx *Index) error {
	if err := idx.Validate(); err != nil {
		return err
	}

	if idx.ModelID != x.ModelID() {
		return errors.NewCacheIncompatibleError(idx.ModelID, x.ModelID())
	}

	x.mu.Lock()
	x.current = idx
	x.mu.Unlock()

	return nil
}

// Current returns the installed index or an IndexNotBuilt error
func (x *Indexer) Current() (*Index, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.current == nil {
		return nil, errors.NewIndexNotBuiltError("index not built")
	}

	return x.current, nil
}

// Reset drops the installed index
func (x *Indexer) Reset() {
	x.mu.Lock()
	x.current = nil
	x.mu.Unlock()
}

// Stats reports the status of the installed index
func (x *Indexer) Stats() Stats {
	idx, err := x.Current()
	if err != nil {
		return Stats{Status: StatusNotBuilt}
	}

	return idx.Stats()
}

// Table finds an indexed table by full ID, or failing that by case-insensitive name
func (x *Indexer) Table(ref string) (metadata.TableRecord, error) {
	idx, err := x.Current()
	if err != nil {
		return metadata.TableRecord{}, err
	}

	for _, t := range idx.Tables {
		if t.ID == ref {
			return t, nil
		}
	}

	for _, t := range idx.Tables {
		if strings.EqualFold(t.Name, ref) {
			return t, nil
		}
	}

	return metadata.TableRecord{}, errors.Newf(errors.ErrTypeNotFound, "table %q is not in the index", ref).
		WithSuggestion("Run the list command to see indexed tables")
}
