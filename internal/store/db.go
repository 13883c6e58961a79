package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lib/pq"

	"github.com/openclaw/openclaw/internal/fsjson"
	"github.com/openclaw/openclaw/internal/observability"
	"github.com/openclaw/openclaw/internal/statekey"
)

// DB is the database backend: a single kv table behind a write-through
// in-memory cache.
//
// Reads are memory lookups. Writes and deletes update the cache
// synchronously, then persist through a per-key serial chain of background
// tasks; Flush is the durability barrier. UpdateJSONWithLock bypasses the
// chain and runs inside a transaction under an advisory lock, which
// serializes concurrent updaters even when the row does not yet exist.
type DB struct {
	db      *sql.DB
	home    string
	log     *observability.Logger
	metrics *observability.MetricsCollector

	cache *docCache
	chain *writeChain

	preloaded   atomic.Bool
	preloadOnce sync.Once
	preloadErr  error

	migrateOnce sync.Once
	migrateErr  error
}

var _ Store = (*DB)(nil)

// NewDB opens the connection pool and ensures the schema. Relative storage
// keys are produced with home as the boundary, same as the filesystem
// backend, so the two backends address identical state identically.
func NewDB(ctx context.Context, connStr, home string, log *observability.Logger) (*DB, error) {
	if log == nil {
		log = observability.NewLogger("store.db", nil)
	}
	pool, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &DB{
		db:      pool,
		home:    home,
		log:     log,
		metrics: observability.NewMetricsCollector(0),
		cache:   newDocCache(),
		chain:   newWriteChain(),
	}
	if err := s.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Metrics exposes the backend's counters.
func (s *DB) Metrics() *observability.MetricsCollector { return s.metrics }

// Pool exposes the underlying connection pool for the migrator.
func (s *DB) Pool() *sql.DB { return s.db }

func (s *DB) key(key string) string {
	return statekey.Normalize(key, s.home)
}

// ReadJSON returns a deep clone of the cached document, or nil. A miss
// before the first preload triggers a best-effort background preload; the
// caller still gets nil until it lands.
func (s *DB) ReadJSON(_ context.Context, key string) (any, error) {
	s.metrics.Increment(observability.CounterReads)
	k := s.key(key)
	doc, ok := s.cache.get(k)
	if !ok && !s.preloaded.Load() {
		s.metrics.Increment(observability.CounterCacheMisses)
		s.log.Warn("read before preload, triggering background preload", "key", k)
		go func() {
			if err := s.EnsurePreloaded(context.Background()); err != nil {
				s.log.Error("background preload failed", "error", err)
			}
		}()
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// ReadJSON5 is ReadJSON: the database only ever stores strict JSON.
func (s *DB) ReadJSON5(ctx context.Context, key string) (any, error) {
	return s.ReadJSON(ctx, key)
}

// ReadText unwraps a document stored through WriteText.
func (s *DB) ReadText(ctx context.Context, key string) (string, error) {
	doc, err := s.ReadJSON(ctx, key)
	if err != nil || doc == nil {
		return "", err
	}
	if text, ok := unwrapText(doc); ok {
		return text, nil
	}
	return "", nil
}

// ReadJSONWithFallback distinguishes absent from present.
func (s *DB) ReadJSONWithFallback(ctx context.Context, key string, fallback any) (any, bool, error) {
	doc, err := s.ReadJSON(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if doc == nil {
		return fallback, false, nil
	}
	return doc, true, nil
}

// WriteJSON updates the cache synchronously, so an immediate read sees the
// new value, then enqueues the upsert on the key's write chain. If the
// upsert fails, the cache reverts to the prior value unless a later
// mutation for the key has already superseded it.
func (s *DB) WriteJSON(_ context.Context, key string, doc any) error {
	s.metrics.Increment(observability.CounterWrites)
	k := s.key(key)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	gen, prev, hadPrev, err := s.cache.put(k, doc)
	if err != nil {
		return err
	}

	s.chain.enqueue(k, func() error {
		_, execErr := s.db.Exec(
			`INSERT INTO kv (key, data) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			k, data)
		if execErr != nil {
			s.compensate(k, gen, prev, hadPrev, execErr)
			return fmt.Errorf("write %s: %w", k, execErr)
		}
		return nil
	})
	return nil
}

// WriteJSONWithBackup is WriteJSON; rows have no sidecars.
func (s *DB) WriteJSONWithBackup(ctx context.Context, key string, doc any) error {
	return s.WriteJSON(ctx, key, doc)
}

// WriteText wraps the string as a marker document and delegates.
func (s *DB) WriteText(ctx context.Context, key, content string) error {
	return s.WriteJSON(ctx, key, wrapText(content))
}

// Delete clears the cache slot synchronously and enqueues the row delete
// on the same per-key chain, so it cannot overtake an earlier write.
func (s *DB) Delete(_ context.Context, key string) error {
	s.metrics.Increment(observability.CounterDeletes)
	k := s.key(key)
	gen, prev, hadPrev := s.cache.remove(k)

	s.chain.enqueue(k, func() error {
		_, execErr := s.db.Exec(`DELETE FROM kv WHERE key = $1`, k)
		if execErr != nil {
			s.compensate(k, gen, prev, hadPrev, execErr)
			return fmt.Errorf("delete %s: %w", k, execErr)
		}
		return nil
	})
	return nil
}

// compensate reverts the cache after a failed background task, unless a
// later mutation for the key already superseded the slot.
func (s *DB) compensate(key string, gen uint64, prev any, hadPrev bool, cause error) {
	s.metrics.Increment(observability.CounterAsyncFailures)
	if s.cache.revert(key, gen, prev, hadPrev) {
		s.metrics.Increment(observability.CounterCacheReverts)
		s.log.Error("background write failed, cache reverted", "key", key, "error", cause)
	} else {
		s.log.Error("background write failed, newer value kept", "key", key, "error", cause)
	}
}

// UpdateJSONWithLock runs synchronously inside a transaction, not through
// the write chain. A transaction-scoped advisory lock keyed on the storage
// key serializes callers even when the row does not yet exist, which
// SELECT FOR UPDATE alone cannot do. The lock releases at commit, matching
// the transactional envelope exactly.
func (s *DB) UpdateJSONWithLock(ctx context.Context, key string, fn UpdateFunc) error {
	s.metrics.Increment(observability.CounterUpdates)
	k := s.key(key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", k, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID(k)); err != nil {
		return fmt.Errorf("advisory lock %s: %w", k, err)
	}

	var raw []byte
	var current any
	err = tx.QueryRowContext(ctx, `SELECT data FROM kv WHERE key = $1`, k).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = nil
	case err != nil:
		return fmt.Errorf("read %s under lock: %w", k, err)
	default:
		if err := json.Unmarshal(raw, &current); err != nil {
			return &fsjson.CorruptError{Path: k, Err: err}
		}
	}

	res, err := fn(current)
	if err != nil {
		return err
	}

	if res.Changed {
		data, err := json.Marshal(res.Result)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, data) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			k, data); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s: %w", k, err)
	}

	// Reconcile the cache with the value observed under the lock.
	switch {
	case res.Changed:
		if _, _, _, err := s.cache.put(k, res.Result); err != nil {
			return err
		}
	case current != nil:
		if _, _, _, err := s.cache.put(k, current); err != nil {
			return err
		}
	default:
		s.cache.remove(k)
	}
	return nil
}

// Flush waits for every pending background task and surfaces the failures
// collected since the last Flush. Callers invoke it before any externally
// observable commit point that depends on durability.
func (s *DB) Flush(ctx context.Context) error {
	return s.chain.flush(ctx)
}

// PreloadAll replaces the cache image with the authoritative row set.
func (s *DB) PreloadAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, data FROM kv`)
	if err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]any)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("preload scan: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.log.Warn("skipping unparseable row during preload", "key", key, "error", err)
			continue
		}
		docs[key] = doc
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("preload: %w", err)
	}

	s.cache.replaceAll(docs)
	s.preloaded.Store(true)
	s.log.Debug("preloaded state rows", "count", len(docs))
	return nil
}

// Preload warms the cache for a targeted key set.
func (s *DB) Preload(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	normalized := make([]string, len(keys))
	for i, key := range keys {
		normalized[i] = s.key(key)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data FROM kv WHERE key = ANY($1)`, pq.Array(normalized))
	if err != nil {
		return fmt.Errorf("preload keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("preload scan: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if _, _, _, err := s.cache.put(key, doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EnsurePreloaded memoizes PreloadAll. Errors propagate so startup can
// fail fast instead of serving empty reads.
func (s *DB) EnsurePreloaded(ctx context.Context) error {
	s.preloadOnce.Do(func() {
		s.preloadErr = s.PreloadAll(ctx)
	})
	return s.preloadErr
}

// CachedKeys returns a snapshot of the keys currently in the cache.
func (s *DB) CachedKeys() []string { return s.cache.keys() }

// Close flushes pending writes and closes the pool.
func (s *DB) Close() error {
	flushErr := s.chain.flush(context.Background())
	closeErr := s.db.Close()
	return errors.Join(flushErr, closeErr)
}
