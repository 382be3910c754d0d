package store

import (
	"context"
	"fmt"
	"sort"
)

// Migration is one forward-only schema step. All statements run inside
// a single transaction together with the user_version bump; a failure
// rolls the whole step back and leaves the recorded version unchanged.
type Migration struct {
	Version    int
	Statements []string
}

// Migrations is the full ordered migration set for the local store.
//
// Version history:
//  1 - initial schema (echoes, collaborators, media, activities,
//      friends, pending_ops)
//  2 - explicit status override bookkeeping (echoes.status_set_at) and
//      pending_ops entity index for per-entity replay
var Migrations = []Migration{
	{
		Version: 1,
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS echoes (
				id              TEXT PRIMARY KEY,
				title           TEXT NOT NULL DEFAULT '',
				description     TEXT NOT NULL DEFAULT '',
				image_url       TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL DEFAULT 'ongoing',
				is_private      INTEGER NOT NULL DEFAULT 0,
				share_mode      TEXT NOT NULL DEFAULT 'private',
				owner_id        TEXT NOT NULL,
				owner_name      TEXT NOT NULL DEFAULT '',
				owner_photo_url TEXT NOT NULL DEFAULT '',
				lock_date       INTEGER,
				unlock_date     INTEGER,
				created_at      INTEGER NOT NULL,
				updated_at      INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS collaborators (
				echo_id      TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
				user_id      TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				photo_url    TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (echo_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS media (
				id                    TEXT PRIMARY KEY,
				echo_id               TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
				type                  TEXT NOT NULL,
				uri                   TEXT NOT NULL,
				thumbnail_uri         TEXT NOT NULL DEFAULT '',
				storage_path          TEXT NOT NULL DEFAULT '',
				status                TEXT NOT NULL DEFAULT 'pending',
				created_at            INTEGER NOT NULL,
				uploaded_by           TEXT NOT NULL DEFAULT '',
				uploaded_by_name      TEXT NOT NULL DEFAULT '',
				uploaded_by_photo_url TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS activities (
				id             TEXT PRIMARY KEY,
				echo_id        TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
				type           TEXT NOT NULL,
				description    TEXT NOT NULL DEFAULT '',
				timestamp      INTEGER NOT NULL,
				user_id        TEXT NOT NULL DEFAULT '',
				user_name      TEXT NOT NULL DEFAULT '',
				user_avatar    TEXT NOT NULL DEFAULT '',
				media_type     TEXT NOT NULL DEFAULT '',
				target_user_id TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS friends (
				id           TEXT PRIMARY KEY,
				display_name TEXT NOT NULL DEFAULT '',
				username     TEXT NOT NULL DEFAULT '',
				photo_url    TEXT NOT NULL DEFAULT '',
				bio          TEXT NOT NULL DEFAULT '',
				updated_at   INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS pending_ops (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_type TEXT NOT NULL,
				entity_id   TEXT NOT NULL,
				action      TEXT NOT NULL,
				payload     BLOB,
				created_at  INTEGER NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_media_echo ON media(echo_id)`,
			`CREATE INDEX IF NOT EXISTS idx_activities_echo ON activities(echo_id)`,
		},
	},
	{
		Version: 2,
		Statements: []string{
			`ALTER TABLE echoes ADD COLUMN status_set_at INTEGER`,
			`CREATE INDEX IF NOT EXISTS idx_pending_ops_entity
				ON pending_ops(entity_type, entity_id, created_at)`,
		},
	},
}

// CurrentSchemaVersion reads the recorded schema version. A fresh
// store reports 0.
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// ApplyMigrations applies every migration with Version greater than
// the recorded schema version, strictly in ascending order. Each
// migration runs in its own transaction: either all its statements and
// the version bump land, or none do. Migrations at or below the
// current version are skipped entirely, so re-running the full set is
// safe.
//
// A migration failure is fatal to the caller: the store must not be
// used with a half-migrated schema, and the error says which version
// failed.
func (s *Store) ApplyMigrations(ctx context.Context, migrations []Migration) error {
	ordered := append([]Migration(nil), migrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := s.CurrentSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range ordered {
		if m.Version <= current {
			continue
		}
		if err := s.applyOne(ctx, m); err != nil {
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		current = m.Version
	}

	return nil
}

func (s *Store) applyOne(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for i, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}

	// user_version participates in the transaction, so a rollback
	// leaves the recorded version untouched.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
