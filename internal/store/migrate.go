package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openclaw/openclaw/internal/fsjson"
	"github.com/openclaw/openclaw/internal/observability"
	"github.com/openclaw/openclaw/internal/statekey"
)

// SentinelKey is the reserved database key that marks a completed
// filesystem-to-database migration. Callers must not use the
// "_migration/" prefix.
const (
	SentinelKey     = "_migration/fs-to-db"
	sentinelPrefix  = "_migration/"
	MarkerFileName  = ".migrated-from-db"
	importParallelism = 4
)

// migrationRecord is the payload of both the sentinel row and the marker
// file.
type migrationRecord struct {
	MigratedAt time.Time `json:"migratedAt"`
	Count      int       `json:"count"`
}

// skippedDirs are state-directory subtrees that hold bulk or scratch data,
// never store documents.
var skippedDirs = map[string]bool{
	"workspace":    true,
	"sessions":     true,
	"media":        true,
	"logs":         true,
	"node_modules": true,
}

// importFSToDB migrates every state file into the database once. Runs at
// startup when the database backend is selected; idempotent via the
// sentinel row, restart safe via ON CONFLICT DO NOTHING, and
// partial-failure safe: the sentinel is only written when every file
// imported, so the next startup retries.
func importFSToDB(ctx context.Context, pool *sql.DB, stateDir, home string, log *observability.Logger) error {
	var n int
	err := pool.QueryRowContext(ctx,
		`SELECT count(1) FROM kv WHERE key = $1`, SentinelKey).Scan(&n)
	if err != nil {
		return fmt.Errorf("check migration sentinel: %w", err)
	}
	if n > 0 {
		return nil
	}

	paths, err := enumerateStateFiles(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing to migrate on a fresh install; still mark done.
			return writeSentinel(ctx, pool, 0)
		}
		return fmt.Errorf("enumerate state files: %w", err)
	}

	var migrated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importParallelism)
	for _, path := range paths {
		g.Go(func() error {
			doc, err := fsjson.Load(path)
			if err != nil {
				failed.Add(1)
				log.Warn("skipping unreadable state file", "path", path, "error", err)
				return nil
			}
			if doc == nil {
				return nil
			}
			data, err := json.Marshal(doc)
			if err != nil {
				failed.Add(1)
				log.Warn("skipping unmarshalable state file", "path", path, "error", err)
				return nil
			}
			// Pre-existing rows win: the database may already hold newer
			// state written by another process that booted first.
			key := statekey.Normalize(path, home)
			if _, err := pool.ExecContext(gctx,
				`INSERT INTO kv (key, data) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
				key, data); err != nil {
				failed.Add(1)
				log.Warn("failed to import state file", "path", path, "error", err)
				return nil
			}
			migrated.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("state import finished",
		"migrated", migrated.Load(), "total", len(paths), "failed", failed.Load())
	if failed.Load() > 0 {
		return nil
	}
	return writeSentinel(ctx, pool, int(migrated.Load()))
}

func writeSentinel(ctx context.Context, pool *sql.DB, count int) error {
	data, err := json.Marshal(migrationRecord{MigratedAt: time.Now().UTC(), Count: count})
	if err != nil {
		return fmt.Errorf("marshal sentinel: %w", err)
	}
	if _, err := pool.ExecContext(ctx,
		`INSERT INTO kv (key, data) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		SentinelKey, data); err != nil {
		return fmt.Errorf("write migration sentinel: %w", err)
	}
	return nil
}

// enumerateStateFiles walks the state directory for *.json documents,
// excluding scratch subtrees and write artifacts.
func enumerateStateFiles(stateDir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(stateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := d.Name()
		if d.IsDir() {
			if path != stateDir && (skippedDirs[base] || strings.HasPrefix(base, "workspace-")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(base, ".json") {
			return nil
		}
		for _, suffix := range []string{".bak", ".tmp", ".lock"} {
			if strings.HasSuffix(base, suffix) {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// exportDBToFS restores database rows onto the filesystem once, on
// downgrade. Files already on disk win; absolute keys from a foreign OS
// family are rejected rather than guessed at. The marker file is only
// written when every row restored, so the next startup retries.
func exportDBToFS(ctx context.Context, pool *sql.DB, stateDir, home string, log *observability.Logger) error {
	markerPath := filepath.Join(stateDir, MarkerFileName)
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}
	if pool == nil {
		return nil
	}

	rows, err := pool.QueryContext(ctx,
		`SELECT key, data FROM kv WHERE key NOT LIKE $1`, sentinelPrefix+"%")
	if err != nil {
		return fmt.Errorf("read rows for export: %w", err)
	}
	defer rows.Close()

	restored, skipped, failed := 0, 0, 0
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("scan row for export: %w", err)
		}

		if statekey.ForeignAbs(key) {
			failed++
			log.Error("cannot restore key with a foreign absolute path", "key", key)
			continue
		}
		path := statekey.Materialize(key, home)
		if _, err := os.Stat(path); err == nil {
			skipped++
			continue
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			failed++
			log.Warn("skipping unparseable row during export", "key", key, "error", err)
			continue
		}
		if err := fsjson.Save(path, doc); err != nil {
			failed++
			log.Warn("failed to restore state file", "key", key, "error", err)
			continue
		}
		restored++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read rows for export: %w", err)
	}

	log.Info("state export finished",
		"restored", restored, "skipped", skipped, "failed", failed)
	if failed > 0 {
		return nil
	}
	return fsjson.Save(markerPath, migrationRecord{
		MigratedAt: time.Now().UTC(),
		Count:      restored,
	})
}
