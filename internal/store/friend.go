package store

import (
	"context"
	"fmt"

	"github.com/echolabs/echosync/internal/model"
)

// UpsertFriend refreshes a cached profile snapshot. Names are
// NFC-normalized so the same profile synced from different platforms
// lands on one row.
func (s *Store) UpsertFriend(ctx context.Context, f model.Friend) error {
	f = model.NormalizeFriend(f)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friends (id, display_name, username, photo_url, bio, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			username = excluded.username,
			photo_url = excluded.photo_url,
			bio = excluded.bio,
			updated_at = excluded.updated_at
	`, f.ID, f.DisplayName, f.Username, f.PhotoURL, f.Bio, toMillis(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert friend: %w", err)
	}
	return nil
}

// Friends returns all cached profile snapshots ordered by display name.
func (s *Store) Friends(ctx context.Context) ([]model.Friend, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, username, photo_url, bio, updated_at
		FROM friends
		ORDER BY display_name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []model.Friend
	for rows.Next() {
		var (
			f  model.Friend
			ts int64
		)
		if err := rows.Scan(&f.ID, &f.DisplayName, &f.Username, &f.PhotoURL, &f.Bio, &ts); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		f.UpdatedAt = fromMillis(ts)
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	if friends == nil {
		friends = []model.Friend{}
	}
	return friends, nil
}
