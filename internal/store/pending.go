package store

import (
	"context"
	"fmt"
	"time"

	"github.com/echolabs/echosync/internal/model"
)

// EnqueueOp appends one pending-operation row stamped with now.
// The caller's in-memory write must never fail because this did: the
// caller is expected to log and continue (losing a pending-op record
// degrades sync, it must not crash a UI-visible mutation).
func (s *Store) EnqueueOp(ctx context.Context, entityType model.EntityType, entityID string, action model.OpAction, payload []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_ops (entity_type, entity_id, action, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(entityType), entityID, string(action), payload, toMillis(now))
	if err != nil {
		return fmt.Errorf("enqueue op: %w", err)
	}
	return nil
}

// PendingOps returns every queued op ordered by created_at ascending
// (id breaks ties so same-millisecond ops keep insertion order), the
// order they must be replayed in.
func (s *Store) PendingOps(ctx context.Context) ([]model.PendingOp, error) {
	return s.queryOps(ctx, `
		SELECT id, entity_type, entity_id, action, payload, created_at, retry_count
		FROM pending_ops
		ORDER BY created_at ASC, id ASC
	`)
}

// PendingOpsForEntity returns the queued ops for one entity, in replay
// order.
func (s *Store) PendingOpsForEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.PendingOp, error) {
	return s.queryOps(ctx, `
		SELECT id, entity_type, entity_id, action, payload, created_at, retry_count
		FROM pending_ops
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(entityType), entityID)
}

// ClearOpsForEntity removes every op for the entity. Called only after
// the sync bridge confirms the entity's current state is reflected
// remotely; later ops already incorporate earlier state, so the whole
// backlog clears at once.
func (s *Store) ClearOpsForEntity(ctx context.Context, entityType model.EntityType, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_ops WHERE entity_type = ? AND entity_id = ?
	`, string(entityType), entityID)
	if err != nil {
		return fmt.Errorf("clear ops: %w", err)
	}
	return nil
}

// BumpRetry increments an op's retry counter after a failed replay.
func (s *Store) BumpRetry(ctx context.Context, opID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_ops SET retry_count = retry_count + 1 WHERE id = ?
	`, opID)
	if err != nil {
		return fmt.Errorf("bump retry: %w", err)
	}
	return nil
}

// PendingCollaboratorRemovals collects the user ids that uncommitted
// update ops for this echo have marked removed. Reconciliation excludes
// these from the collaborator union until the ops clear, so a stale
// remote snapshot cannot resurrect a removed collaborator.
func (s *Store) PendingCollaboratorRemovals(ctx context.Context, echoID string) (map[string]bool, error) {
	ops, err := s.PendingOpsForEntity(ctx, model.EntityEcho, echoID)
	if err != nil {
		return nil, err
	}
	removed := make(map[string]bool)
	for _, op := range ops {
		if op.Action != model.OpUpdate {
			continue
		}
		p := model.DecodeUpdatePayload(op.Payload)
		for _, uid := range p.RemovedCollaboratorIDs {
			removed[uid] = true
		}
		// A later op re-adding the same user supersedes the removal.
		for _, uid := range p.AddedCollaboratorIDs {
			delete(removed, uid)
		}
	}
	return removed, nil
}

// HasPendingCreate reports whether the echo still has an unconfirmed
// create op. Guards deletion detection: an echo the user just created
// must not be treated as remotely deleted due to snapshot latency.
func (s *Store) HasPendingCreate(ctx context.Context, echoID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_ops
		WHERE entity_type = ? AND entity_id = ? AND action = ?
	`, string(model.EntityEcho), echoID, string(model.OpCreate)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending create: %w", err)
	}
	return n > 0, nil
}

func (s *Store) queryOps(ctx context.Context, query string, args ...any) ([]model.PendingOp, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	var ops []model.PendingOp
	for rows.Next() {
		var (
			op            model.PendingOp
			etype, action string
			createdAt     int64
		)
		if err := rows.Scan(&op.ID, &etype, &op.EntityID, &action, &op.Payload, &createdAt, &op.RetryCount); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		op.EntityType = model.EntityType(etype)
		op.Action = model.OpAction(action)
		op.CreatedAt = fromMillis(createdAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	if ops == nil {
		ops = []model.PendingOp{}
	}
	return ops, nil
}
