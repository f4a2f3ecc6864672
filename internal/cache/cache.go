// Package cache persists a built index to a single file.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sbinet/npyio"

	"github.com/kyleking/datadict-search/internal/errors"
	"github.com/kyleking/datadict-search/internal/index"
	"github.com/kyleking/datadict-search/internal/metadata"
)

// FormatVersion is bumped whenever the envelope layout changes
const FormatVersion = 1

const (
	cacheDirPerm  = 0o755
	cacheFilePerm = 0o644
	float32Descr  = "<f4"
)

// envelope is the on-disk layout. Vectors holds a flat row-major float32
// .npy array of Count*Dimensions values.
type envelope struct {
	FormatVersion int                    `json:"format_version"`
	BuildID       string                 `json:"build_id"`
	ModelID       string                 `json:"model_id"`
	BuiltAt       time.Time              `json:"built_at"`
	Dimensions    int                    `json:"dimensions"`
	Count         int                    `json:"count"`
	Tables        []metadata.TableRecord `json:"tables"`
	Vectors       []byte                 `json:"vectors"`
}

// FileInfo describes the cache file on disk
type FileInfo struct {
	Path    string
	Exists  bool
	Size    int64
	ModTime time.Time
}

// Save writes idx to path atomically: the previous file stays intact on failure
func Save(idx *index.Index, path string) error {
	if err := idx.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "refusing to cache an invalid index")
	}

	dims := idx.Dimensions()
	flat := make([]float32, 0, idx.Len()*dims)

	for _, v := range idx.Vectors {
		flat = append(flat, v...)
	}

	var npy bytes.Buffer
	if err := npyio.Write(&npy, flat); err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode vectors")
	}

	data, err := json.Marshal(envelope{
		FormatVersion: FormatVersion,
		BuildID:       idx.BuildID,
		ModelID:       idx.ModelID,
		BuiltAt:       idx.BuiltAt,
		Dimensions:    dims,
		Count:         idx.Len(),
		Tables:        idx.Tables,
		Vectors:       npy.Bytes(),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode index")
	}

	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create cache directory")
	}

	err = withWriteFile(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to write cache file %s", path)
	}

	return nil
}

// withWriteFile writes through a temp file in the target directory, syncs it,
// then renames it over file
func withWriteFile(file string, writeFn func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tmp := f.Name()

	if err := writeFn(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Chmod(tmp, cacheFilePerm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// Load reads the index at path.
//
// A missing file yields (nil, false, nil). A file written for another model
// or format version yields a cache_incompatible error without decoding the
// vectors; anything unreadable yields cache_corrupt.
func Load(path, expectedModel string) (*index.Index, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, true, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to read cache file %s", path)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, true, corrupt(path, err)
	}

	if env.FormatVersion != FormatVersion {
		return nil, true, errors.Newf(errors.ErrTypeCacheIncompatible,
			"cache format version %d is not supported (expected %d)", env.FormatVersion, FormatVersion).
			WithSuggestion("Run with --rebuild-index to rebuild the index")
	}

	if env.ModelID != expectedModel {
		return nil, true, errors.NewCacheIncompatibleError(env.ModelID, expectedModel)
	}

	vectors, err := decodeVectors(env)
	if err != nil {
		return nil, true, corrupt(path, err)
	}

	idx := &index.Index{
		BuildID: env.BuildID,
		ModelID: env.ModelID,
		BuiltAt: env.BuiltAt,
		Vectors: vectors,
		Tables:  env.Tables,
	}

	if err := idx.Validate(); err != nil {
		return nil, true, corrupt(path, err)
	}

	return idx, true, nil
}

func decodeVectors(env envelope) ([][]float32, error) {
	if env.Count != len(env.Tables) {
		return nil, fmt.Errorf("header declares %d tables but %d are stored", env.Count, len(env.Tables))
	}

	if env.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", env.Dimensions)
	}

	r, err := npyio.NewReader(bytes.NewReader(env.Vectors))
	if err != nil {
		return nil, fmt.Errorf("invalid vector payload: %w", err)
	}

	if r.Header.Descr.Type != float32Descr {
		return nil, fmt.Errorf("unexpected vector dtype %q", r.Header.Descr.Type)
	}

	var flat []float32
	if err := r.Read(&flat); err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}

	if len(flat) != env.Count*env.Dimensions {
		return nil, fmt.Errorf("vector payload holds %d values, expected %d", len(flat), env.Count*env.Dimensions)
	}

	vectors := make([][]float32, env.Count)
	for i := range vectors {
		start := i * env.Dimensions
		vectors[i] = flat[start : start+env.Dimensions : start+env.Dimensions]
	}

	return vectors, nil
}

func corrupt(path string, cause error) error {
	return errors.Wrapf(cause, errors.ErrTypeCacheCorrupt, "cache file %s is unreadable", path).
		WithSuggestion("Run with --rebuild-index to replace it")
}

// Remove deletes the cache file; it reports whether a file was removed
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to remove cache file %s", path)
}

// Info stats the cache file without decoding it
func Info(path string) (FileInfo, error) {
	info := FileInfo{Path: path}

	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return info, nil
		}

		return info, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to stat cache file %s", path)
	}

	info.Exists = true
	info.Size = st.Size()
	info.ModTime = st.ModTime()

	return info, nil
}
