package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/echolabs/echosync/internal/model"
)

// UpsertEcho writes an echo row and replaces its collaborator rows in
// one transaction. Media and activity rows are managed separately.
func (s *Store) UpsertEcho(ctx context.Context, e model.Echo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert echo: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO echoes
		(id, title, description, image_url, status, status_set_at, is_private, share_mode,
		 owner_id, owner_name, owner_photo_url, lock_date, unlock_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			image_url = excluded.image_url,
			status = excluded.status,
			status_set_at = excluded.status_set_at,
			is_private = excluded.is_private,
			share_mode = excluded.share_mode,
			owner_name = excluded.owner_name,
			owner_photo_url = excluded.owner_photo_url,
			lock_date = excluded.lock_date,
			unlock_date = excluded.unlock_date,
			updated_at = excluded.updated_at
	`,
		e.ID, e.Title, e.Description, e.ImageURL, string(e.Status), toNullMillis(e.StatusSetAt),
		boolToInt(e.IsPrivate), string(e.ShareMode),
		e.OwnerID, e.OwnerName, e.OwnerPhotoURL,
		toNullMillis(e.LockDate), toNullMillis(e.UnlockDate),
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert echo: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collaborators WHERE echo_id = ?`, e.ID); err != nil {
		return fmt.Errorf("upsert echo: clear collaborators: %w", err)
	}
	for _, uid := range e.CollaboratorIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collaborators (echo_id, user_id) VALUES (?, ?)
			ON CONFLICT(echo_id, user_id) DO NOTHING
		`, e.ID, uid); err != nil {
			return fmt.Errorf("upsert echo: collaborator %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert echo: commit: %w", err)
	}
	return nil
}

// DeleteEcho removes the echo row. Media, collaborator and activity
// rows go with it via ON DELETE CASCADE. Returns false if the id was
// unknown.
func (s *Store) DeleteEcho(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM echoes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete echo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete echo: rows affected: %w", err)
	}
	return n > 0, nil
}

// LoadEchoes returns every echo with collaborators and media attached,
// ordered by created_at ascending then id for determinism. Used by the
// repository to warm its cache at startup.
func (s *Store) LoadEchoes(ctx context.Context) ([]model.Echo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, image_url, status, status_set_at, is_private, share_mode,
		       owner_id, owner_name, owner_photo_url, lock_date, unlock_date, created_at, updated_at
		FROM echoes
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query echoes: %w", err)
	}
	defer rows.Close()

	var echoes []model.Echo
	for rows.Next() {
		e, err := scanEcho(rows)
		if err != nil {
			return nil, err
		}
		echoes = append(echoes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate echoes: %w", err)
	}

	for i := range echoes {
		ids, err := s.collaboratorIDs(ctx, echoes[i].ID)
		if err != nil {
			return nil, err
		}
		echoes[i].CollaboratorIDs = ids

		media, err := s.MediaForEcho(ctx, echoes[i].ID)
		if err != nil {
			return nil, err
		}
		echoes[i].Media = media
	}

	if echoes == nil {
		echoes = []model.Echo{}
	}
	return echoes, nil
}

// GetEcho retrieves a single echo with collaborators and media.
// Returns ok=false when the id is unknown; absence is a normal outcome.
func (s *Store) GetEcho(ctx context.Context, id string) (model.Echo, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, image_url, status, status_set_at, is_private, share_mode,
		       owner_id, owner_name, owner_photo_url, lock_date, unlock_date, created_at, updated_at
		FROM echoes
		WHERE id = ?
	`, id)

	e, err := scanEcho(row)
	if err == sql.ErrNoRows {
		return model.Echo{}, false, nil
	}
	if err != nil {
		return model.Echo{}, false, err
	}

	if e.CollaboratorIDs, err = s.collaboratorIDs(ctx, id); err != nil {
		return model.Echo{}, false, err
	}
	if e.Media, err = s.MediaForEcho(ctx, id); err != nil {
		return model.Echo{}, false, err
	}
	return e, true, nil
}

func (s *Store) collaboratorIDs(ctx context.Context, echoID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM collaborators WHERE echo_id = ? ORDER BY user_id ASC
	`, echoID)
	if err != nil {
		return nil, fmt.Errorf("query collaborators: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEcho(row scanner) (model.Echo, error) {
	var (
		e                           model.Echo
		status, shareMode           string
		isPrivate                   int
		statusSetAt, lockD, unlockD sql.NullInt64
		createdAt, updatedAt        int64
	)
	if err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.ImageURL, &status, &statusSetAt, &isPrivate, &shareMode,
		&e.OwnerID, &e.OwnerName, &e.OwnerPhotoURL, &lockD, &unlockD, &createdAt, &updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return model.Echo{}, err
		}
		return model.Echo{}, fmt.Errorf("scan echo: %w", err)
	}

	e.Status = model.EchoStatus(status)
	e.StatusSetAt = fromNullMillis(statusSetAt)
	e.IsPrivate = isPrivate != 0
	e.ShareMode = model.ShareMode(shareMode)
	e.LockDate = fromNullMillis(lockD)
	e.UnlockDate = fromNullMillis(unlockD)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
