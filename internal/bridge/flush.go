package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/echolabs/echosync/internal/model"
)

// Flush replays the pending-operation log against the remote store:
// the retry path for everything that failed (or never ran) while
// offline. Triggered at app level: next launch, an explicit "sync
// now", or reconnect.
//
// Ops replay grouped per entity, in createdAt order within the group.
// An entity whose replay fully succeeds has all its ops cleared at
// once (later ops already incorporate earlier state); a failure bumps
// the failing op's retry counter, leaves the group queued, and moves
// on to the next entity. Flush returns the joined errors so an
// explicit "sync now" can surface a transient failure; local state is
// never rolled back.
func (b *Bridge) Flush(ctx context.Context) error {
	st := b.repo.Store()

	ops, err := st.PendingOps(ctx)
	if err != nil {
		return fmt.Errorf("flush: list pending: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	type key struct {
		t  model.EntityType
		id string
	}
	var order []key
	grouped := map[key][]model.PendingOp{}
	for _, op := range ops {
		k := key{op.EntityType, op.EntityID}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], op)
	}

	var errs []error
	for _, k := range order {
		group := grouped[k]
		if err := b.replay(ctx, group); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", k.t, k.id, err))
			if bumpErr := st.BumpRetry(ctx, group[0].ID); bumpErr != nil {
				slog.Warn("bump retry failed", "op", group[0].ID, "err", bumpErr)
			}
			continue
		}
		if err := st.ClearOpsForEntity(ctx, k.t, k.id); err != nil {
			errs = append(errs, fmt.Errorf("clear %s %s: %w", k.t, k.id, err))
		}
	}
	return errors.Join(errs...)
}

// replay applies one entity's queued ops. Because later ops already
// incorporate earlier state, scalar ops collapse to a single push of
// the entity's current state; only the terminal action matters for
// delete-vs-write.
func (b *Bridge) replay(ctx context.Context, ops []model.PendingOp) error {
	switch ops[0].EntityType {
	case model.EntityEcho:
		return b.replayEcho(ctx, ops)
	case model.EntityMedia:
		return b.replayMedia(ctx, ops)
	case model.EntityActivity:
		return b.replayActivity(ctx, ops)
	default:
		slog.Warn("unknown pending op entity type, dropping", "type", ops[0].EntityType)
		return nil
	}
}

func (b *Bridge) replayEcho(ctx context.Context, ops []model.PendingOp) error {
	last := ops[len(ops)-1]
	if last.Action == model.OpDelete {
		return b.Remove(ctx, last.EntityID)
	}

	e, ok := b.repo.GetByID(last.EntityID)
	if !ok {
		// Entity vanished locally; nothing left to confirm.
		return nil
	}
	pushed, err := b.Push(ctx, e)
	if err != nil {
		return err
	}
	if pushed.ImageURL != e.ImageURL {
		// Fold the rewritten blob URL back in without enqueueing a new op.
		b.repo.ApplyRemote(ctx, pushed)
	}
	return nil
}

func (b *Bridge) replayMedia(ctx context.Context, ops []model.PendingOp) error {
	last := ops[len(ops)-1]
	p := model.DecodeMediaPayload(last.Payload)

	if last.Action == model.OpDeleteMedia {
		if p.StoragePath == "" {
			return nil // bytes never reached the remote store
		}
		return b.remote.DeleteBlob(ctx, p.StoragePath)
	}

	e, ok := b.repo.GetByID(p.EchoID)
	if !ok {
		return nil
	}
	m, ok := e.MediaByID(p.MediaID)
	if !ok {
		return nil
	}
	if m.Status == model.Uploaded || !isLocalRef(m.URI) {
		return nil // already confirmed by an earlier flush
	}

	path := strings.TrimPrefix(m.URI, "file://")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Staged bytes are gone (cache eviction); the op can never
			// succeed, so drop it rather than retry forever.
			slog.Warn("staged media bytes missing, dropping upload op", "media", m.ID, "uri", m.URI)
			return nil
		}
		return fmt.Errorf("open staged media: %w", err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ref, err := b.remote.UploadBlob(ctx, m.ID+filepath.Ext(path), contentType, f)
	if err != nil {
		return fmt.Errorf("upload media bytes: %w", err)
	}
	b.repo.MarkMediaUploaded(ctx, e.ID, m.ID, ref.URL, ref.Path)
	return nil
}

func (b *Bridge) replayActivity(ctx context.Context, ops []model.PendingOp) error {
	for _, op := range ops {
		var act model.Activity
		if err := json.Unmarshal(op.Payload, &act); err != nil {
			slog.Warn("malformed activity op payload, dropping", "op", op.ID, "err", err)
			continue
		}
		if err := b.remote.PutActivity(ctx, act.EchoID, act); err != nil {
			return fmt.Errorf("push activity %s: %w", act.ID, err)
		}
	}
	return nil
}
