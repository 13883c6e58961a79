package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openclaw/openclaw/internal/filelock"
	"github.com/openclaw/openclaw/internal/fsjson"
	"github.com/openclaw/openclaw/internal/observability"
	"github.com/openclaw/openclaw/internal/statekey"
)

// FS is the filesystem backend: one JSON document per file, synchronous
// writes, per-key lock files for read-modify-write.
type FS struct {
	home    string
	log     *observability.Logger
	metrics *observability.MetricsCollector
}

var _ Store = (*FS)(nil)

// NewFS creates the filesystem backend anchored at home. Relative storage
// keys resolve under home; absolute keys are used verbatim.
func NewFS(home string, log *observability.Logger) *FS {
	if log == nil {
		log = observability.NewLogger("store.fs", nil)
	}
	return &FS{
		home:    home,
		log:     log,
		metrics: observability.NewMetricsCollector(0),
	}
}

// Metrics exposes the backend's counters.
func (s *FS) Metrics() *observability.MetricsCollector { return s.metrics }

func (s *FS) path(key string) string {
	return statekey.Materialize(statekey.Normalize(key, s.home), s.home)
}

// ReadJSON returns the parsed document, or nil when the file is absent.
func (s *FS) ReadJSON(_ context.Context, key string) (any, error) {
	s.metrics.Increment(observability.CounterReads)
	return fsjson.Load(s.path(key))
}

// ReadJSON5 reads with a JSON5 fallback for human-edited files.
func (s *FS) ReadJSON5(_ context.Context, key string) (any, error) {
	s.metrics.Increment(observability.CounterReads)
	return fsjson.LoadLenient(s.path(key))
}

// ReadText returns the file contents verbatim, or "" when absent.
func (s *FS) ReadText(_ context.Context, key string) (string, error) {
	s.metrics.Increment(observability.CounterReads)
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", s.path(key), err)
	}
	return string(data), nil
}

// ReadJSONWithFallback distinguishes absent from present.
func (s *FS) ReadJSONWithFallback(ctx context.Context, key string, fallback any) (any, bool, error) {
	doc, err := s.ReadJSON(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return fallback, false, nil
	}
	return doc, true, nil
}

// WriteJSON saves the document atomically.
func (s *FS) WriteJSON(_ context.Context, key string, doc any) error {
	s.metrics.Increment(observability.CounterWrites)
	return fsjson.Save(s.path(key), doc)
}

// WriteJSONWithBackup saves and keeps a .bak sidecar of the result.
func (s *FS) WriteJSONWithBackup(_ context.Context, key string, doc any) error {
	s.metrics.Increment(observability.CounterWrites)
	return fsjson.SaveWithBackup(s.path(key), doc)
}

// WriteText writes the string verbatim.
func (s *FS) WriteText(_ context.Context, key, content string) error {
	s.metrics.Increment(observability.CounterWrites)
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), fsjson.DirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), fsjson.FileMode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// UpdateJSONWithLock holds the key's cross-process lock while fn runs.
// The read inside the lock is strict: a malformed file surfaces ErrCorrupt
// instead of being treated as empty, so an updater can never overwrite
// data it failed to read.
func (s *FS) UpdateJSONWithLock(_ context.Context, key string, fn UpdateFunc) error {
	s.metrics.Increment(observability.CounterUpdates)
	path := s.path(key)
	// The lock file is a sibling of the document, so its directory must
	// exist before the lock can be taken, even for an absent key.
	if err := os.MkdirAll(filepath.Dir(path), fsjson.DirMode); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return filelock.WithLock(path, func() error {
		current, err := fsjson.Load(path)
		if err != nil {
			return err
		}
		res, err := fn(current)
		if err != nil {
			return err
		}
		if !res.Changed {
			return nil
		}
		return fsjson.Save(path, res.Result)
	})
}

// Delete unlinks the file. Absent files are not an error.
func (s *FS) Delete(_ context.Context, key string) error {
	s.metrics.Increment(observability.CounterDeletes)
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", s.path(key), err)
	}
	return nil
}

// Flush is a no-op: filesystem writes are synchronous.
func (s *FS) Flush(context.Context) error { return nil }

// Close is a no-op for the filesystem backend.
func (s *FS) Close() error { return nil }
