package store

import (
	"context"
	"fmt"
)

// Schema migrations are additive and carry stable ids. Ids already
// recorded in kv_migrations are skipped, so re-running is safe and a newer
// binary can extend the schema of an older deployment.
type schemaMigration struct {
	id   string
	stmt string
}

var schemaMigrations = []schemaMigration{
	{
		id: "001_create_kv",
		stmt: `CREATE TABLE IF NOT EXISTS kv (
			key        text PRIMARY KEY,
			data       jsonb NOT NULL,
			updated_at timestamp NOT NULL DEFAULT now()
		)`,
	},
	{
		id:   "002_kv_updated_at_idx",
		stmt: `CREATE INDEX IF NOT EXISTS kv_updated_at_idx ON kv (updated_at)`,
	},
}

// applyMigrations ensures the bookkeeping table, then applies pending
// migrations in order inside one transaction. Guarded by a process-local
// flag so only the first caller pays for it.
func (s *DB) applyMigrations(ctx context.Context) error {
	s.migrateOnce.Do(func() {
		s.migrateErr = s.runMigrations(ctx)
	})
	return s.migrateErr
}

func (s *DB) runMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv_migrations (
		id         text PRIMARY KEY,
		applied_at timestamp NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrations: %w", err)
	}
	defer tx.Rollback()

	applied := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT id FROM kv_migrations`)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration id: %w", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("read applied migrations: %w", err)
	}
	rows.Close()

	for _, m := range schemaMigrations {
		if applied[m.id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_migrations (id) VALUES ($1)`, m.id); err != nil {
			return fmt.Errorf("record migration %s: %w", m.id, err)
		}
		s.log.Info("applied schema migration", "id", m.id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}
