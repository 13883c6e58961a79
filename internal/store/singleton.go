package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/openclaw/openclaw/internal/observability"
)

// The backend is a process-lifetime shared object: every call site in the
// process reads and writes the same instance. Init and Close are the
// explicit lifecycle pair; Set is the seam tests use to install an
// alternate instance without touching the environment.
var (
	activeMu sync.Mutex
	active   Store
)

// Get returns the process-wide store instance, or nil before Init.
func Get() Store {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active
}

// Set installs s as the process-wide instance and returns the previous
// one. Intended for tests.
func Set(s Store) Store {
	activeMu.Lock()
	defer activeMu.Unlock()
	prev := active
	active = s
	return prev
}

// Init resolves the backend from the environment, runs the migration the
// configured direction demands, preloads the database cache, and installs
// the result as the process-wide instance.
func Init(ctx context.Context) (Store, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	return InitWithConfig(ctx, cfg, nil)
}

// InitWithConfig is Init with an explicit configuration and logger.
func InitWithConfig(ctx context.Context, cfg Config, log *observability.Logger) (Store, error) {
	if log == nil {
		log = observability.NewLogger("store", nil)
	}

	var s Store
	switch cfg.Kind {
	case KindDatabase:
		db, err := NewDB(ctx, cfg.DBURL, cfg.Home, log.With("backend", "database"))
		if err != nil {
			return nil, err
		}
		if err := importFSToDB(ctx, db.Pool(), cfg.StateDir, cfg.Home, log); err != nil {
			db.Close()
			return nil, err
		}
		if err := db.EnsurePreloaded(ctx); err != nil {
			db.Close()
			return nil, err
		}
		s = db

	case KindFilesystem:
		fs := NewFS(cfg.Home, log.With("backend", "filesystem"))
		// A still-configured database URL on the filesystem backend means
		// the process was downgraded; restore whatever only the database
		// holds.
		if cfg.DBURL != "" {
			restoreFromDB(ctx, cfg, log)
		}
		s = fs

	default:
		return nil, fmt.Errorf("%w: unknown backend kind %q", ErrInvalidConfig, cfg.Kind)
	}

	Set(s)
	return s, nil
}

// restoreFromDB opens a short-lived pool for the downgrade export. The
// export is best effort: the filesystem backend serves either way, and an
// unwritten marker means the next startup retries.
func restoreFromDB(ctx context.Context, cfg Config, log *observability.Logger) {
	pool, err := sql.Open("postgres", cfg.DBURL)
	if err != nil {
		log.Warn("cannot open database for downgrade export", "error", err)
		return
	}
	defer pool.Close()

	if err := pool.PingContext(ctx); err != nil {
		// No pool available; nothing to restore from.
		log.Warn("database unreachable for downgrade export", "error", err)
		return
	}
	if err := exportDBToFS(ctx, pool, cfg.StateDir, cfg.Home, log); err != nil {
		log.Warn("downgrade export failed", "error", err)
	}
}

// CloseActive closes and clears the process-wide instance.
func CloseActive() error {
	activeMu.Lock()
	s := active
	active = nil
	activeMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
