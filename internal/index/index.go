// Package index pairs table metadata with embedding vectors.
package index

import (
	"math"
	"time"

	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/metadata"
)

// Index is an immutable set of table records and their vectors.
// Vectors[i] is the embedding of metadata.SearchableText(Tables[i]).
type Index struct {
	BuildID string
	ModelID string
	BuiltAt time.Time
	Vectors [][]float32
	Tables  []metadata.TableRecord
}

// Len returns the number of indexed tables
func (idx *Index) Len() int {
	return len(idx.Tables)
}

// Dimensions returns the shared vector size
func (idx *Index) Dimensions() int {
	if len(idx.Vectors) == 0 {
		return 0
	}

	return len(idx.Vectors[0])
}

// Stats summarises idx as a ready index
func (idx *Index) Stats() Stats {
	return Stats{
		Status:       StatusReady,
		NumTables:    idx.Len(),
		EmbeddingDim: idx.Dimensions(),
		Model:        idx.ModelID,
		BuildID:      idx.BuildID,
		BuiltAt:      idx.BuiltAt,
	}
}

// Validate checks the structural invariants every usable index satisfies
func (idx *Index) Validate() error {
	if idx == nil {
		return errors.New(errors.ErrTypeValidation, "index is nil")
	}

	if idx.ModelID == "" {
		return errors.New(errors.ErrTypeValidation, "index has no model identifier")
	}

	if len(idx.Tables) == 0 {
		return errors.New(errors.ErrTypeValidation, "index holds no tables")
	}

	if len(idx.Vectors) != len(idx.Tables) {
		return errors.Newf(errors.ErrTypeValidation,
			"index holds %d vectors for %d tables", len(idx.Vectors), len(idx.Tables))
	}

	dims := len(idx.Vectors[0])
	if dims == 0 {
		return errors.New(errors.ErrTypeValidation, "index vectors are empty")
	}

	for i, v := range idx.Vectors {
		if len(v) != dims {
			return errors.Newf(errors.ErrTypeValidation,
				"vector %d has %d dimensions, expected %d", i, len(v), dims)
		}

		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return errors.Newf(errors.ErrTypeValidation, "vector %d contains a non-finite value", i)
			}
		}
	}

	return nil
}
