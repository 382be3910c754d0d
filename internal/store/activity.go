package store

import (
	"context"
	"fmt"

	"github.com/echolabs/echosync/internal/model"
)

// InsertActivity appends one activity row. The log is append-only;
// duplicate ids are silently ignored so replaying a remote refresh is
// idempotent.
func (s *Store) InsertActivity(ctx context.Context, a model.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities
		(id, echo_id, type, description, timestamp, user_id, user_name, user_avatar, media_type, target_user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID, a.EchoID, string(a.Type), a.Description, toMillis(a.Timestamp),
		a.UserID, a.UserName, a.UserAvatar, string(a.MediaType), a.TargetUserID,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ReplaceActivities swaps the echo's activity rows for the given set in
// one transaction. Used when a reconciliation refreshes the log from
// the remote subcollection.
func (s *Store) ReplaceActivities(ctx context.Context, echoID string, acts []model.Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace activities: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE echo_id = ?`, echoID); err != nil {
		return fmt.Errorf("replace activities: clear: %w", err)
	}
	for _, a := range acts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activities
			(id, echo_id, type, description, timestamp, user_id, user_name, user_avatar, media_type, target_user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			a.ID, echoID, string(a.Type), a.Description, toMillis(a.Timestamp),
			a.UserID, a.UserName, a.UserAvatar, string(a.MediaType), a.TargetUserID,
		); err != nil {
			return fmt.Errorf("replace activities: insert %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace activities: commit: %w", err)
	}
	return nil
}

// ActivitiesForEcho returns the echo's activity rows, newest first.
func (s *Store) ActivitiesForEcho(ctx context.Context, echoID string) ([]model.Activity, error) {
	return s.queryActivities(ctx, `
		SELECT id, echo_id, type, description, timestamp, user_id, user_name, user_avatar, media_type, target_user_id
		FROM activities
		WHERE echo_id = ?
		ORDER BY timestamp DESC, id ASC
	`, echoID)
}

// AllActivities returns every activity row, newest first. Feeds the
// aggregator for the cross-echo activity feed.
func (s *Store) AllActivities(ctx context.Context) ([]model.Activity, error) {
	return s.queryActivities(ctx, `
		SELECT id, echo_id, type, description, timestamp, user_id, user_name, user_avatar, media_type, target_user_id
		FROM activities
		ORDER BY timestamp DESC, id ASC
	`)
}

func (s *Store) queryActivities(ctx context.Context, query string, args ...any) ([]model.Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var acts []model.Activity
	for rows.Next() {
		var (
			a            model.Activity
			atype, mtype string
			ts           int64
		)
		if err := rows.Scan(
			&a.ID, &a.EchoID, &atype, &a.Description, &ts,
			&a.UserID, &a.UserName, &a.UserAvatar, &mtype, &a.TargetUserID,
		); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = model.ActivityType(atype)
		a.MediaType = model.MediaType(mtype)
		a.Timestamp = fromMillis(ts)
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	if acts == nil {
		acts = []model.Activity{}
	}
	return acts, nil
}

// CountActivitiesForEcho reports how many activity rows reference the
// echo. Used by cascade-delete checks and diagnostics.
func (s *Store) CountActivitiesForEcho(ctx context.Context, echoID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activities WHERE echo_id = ?`, echoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}
