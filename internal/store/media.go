package store

import (
	"context"
	"fmt"

	"github.com/echolabs/echosync/internal/model"
)

// InsertMedia appends one media row. Duplicate ids are ignored for
// idempotent replay.
func (s *Store) InsertMedia(ctx context.Context, m model.Media) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media
		(id, echo_id, type, uri, thumbnail_uri, storage_path, status, created_at,
		 uploaded_by, uploaded_by_name, uploaded_by_photo_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID, m.EchoID, string(m.Type), m.URI, m.ThumbnailURI, m.StoragePath,
		string(m.Status), toMillis(m.CreatedAt),
		m.UploadedBy, m.UploadedByName, m.UploadedByPhotoURL,
	)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

// DeleteMedia removes a media row. Returns false if the id was unknown.
func (s *Store) DeleteMedia(ctx context.Context, mediaID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, mediaID)
	if err != nil {
		return false, fmt.Errorf("delete media: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete media: rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkMediaUploaded records a completed byte upload: the remote URI,
// the storage path for later deletion, and the uploaded status.
func (s *Store) MarkMediaUploaded(ctx context.Context, mediaID, remoteURI, storagePath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE media SET uri = ?, storage_path = ?, status = ? WHERE id = ?
	`, remoteURI, storagePath, string(model.Uploaded), mediaID)
	if err != nil {
		return fmt.Errorf("mark media uploaded: %w", err)
	}
	return nil
}

// MediaForEcho returns the echo's media rows ordered by creation time.
func (s *Store) MediaForEcho(ctx context.Context, echoID string) ([]model.Media, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, echo_id, type, uri, thumbnail_uri, storage_path, status, created_at,
		       uploaded_by, uploaded_by_name, uploaded_by_photo_url
		FROM media
		WHERE echo_id = ?
		ORDER BY created_at ASC, id ASC
	`, echoID)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	var media []model.Media
	for rows.Next() {
		var (
			m            model.Media
			mtype, state string
			createdAt    int64
		)
		if err := rows.Scan(
			&m.ID, &m.EchoID, &mtype, &m.URI, &m.ThumbnailURI, &m.StoragePath,
			&state, &createdAt, &m.UploadedBy, &m.UploadedByName, &m.UploadedByPhotoURL,
		); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		m.Type = model.MediaType(mtype)
		m.Status = model.MediaUploadStatus(state)
		m.CreatedAt = fromMillis(createdAt)
		media = append(media, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return media, nil
}

// CountMediaForEcho reports how many media rows reference the echo.
// Used by cascade-delete checks and diagnostics.
func (s *Store) CountMediaForEcho(ctx context.Context, echoID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media WHERE echo_id = ?`, echoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count media: %w", err)
	}
	return n, nil
}
