package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrations returns all embedded migrations in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_documents",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "notify_document_changes",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// migrate applies pending migrations, tracking them in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return classify(fmt.Errorf("create migrations table: %w", err))
	}

	applied := make(map[int]bool)
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return classify(fmt.Errorf("query applied migrations: %w", err))
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return classify(err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify(err)
	}

	for _, mig := range Migrations() {
		if applied[mig.Version] {
			continue
		}
		if err := s.applyMigration(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, mig Migration) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
			return fmt.Errorf("execute migration %d: %w", mig.Version, err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			mig.Version, mig.Name,
		)
		return err
	})
	if err != nil {
		return classify(fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err))
	}
	return nil
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	owner_id TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_owner
	ON documents (collection, owner_id);
`

const migration001Down = `
DROP TABLE IF EXISTS documents;
`

const migration002Up = `
CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('learnloop_documents',
			json_build_object('path', OLD.path, 'deleted', true)::text);
		RETURN OLD;
	END IF;
	PERFORM pg_notify('learnloop_documents',
		json_build_object('path', NEW.path, 'deleted', false)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify
	AFTER INSERT OR UPDATE OR DELETE ON documents
	FOR EACH ROW EXECUTE FUNCTION notify_document_change();
`

const migration002Down = `
DROP TRIGGER IF EXISTS documents_notify ON documents;
DROP FUNCTION IF EXISTS notify_document_change();
`
