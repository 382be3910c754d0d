package repo

import (
	"context"
	"log/slog"

	"github.com/echolabs/echosync/internal/model"
)

// The methods below are the sync bridge's write path. The bridge never
// touches the store directly: reconciled entities flow through the
// same single-writer repository as UI-driven writes. None of them
// notify listeners; the bridge notifies once per snapshot batch.

// ApplyRemote upserts a reconciled echo into cache and store without
// enqueueing pending ops or re-pushing. Local media rows are preserved
// when the merged echo carries none; media is device-local state that
// never travels in the remote document.
func (r *Repository) ApplyRemote(ctx context.Context, e model.Echo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.echoes[e.ID]; ok && e.Media == nil {
		e.Media = append([]model.Media(nil), cur.Media...)
	}
	stored := e.Clone()
	r.echoes[e.ID] = &stored
	r.persist(ctx, stored)
}

// ApplyRemoteDelete removes an echo that disappeared from the remote
// snapshot. Cascades locally; queued ops for the entity are dropped.
func (r *Repository) ApplyRemoteDelete(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.echoes[id]
	if !ok {
		return
	}
	media := append([]model.Media(nil), e.Media...)
	delete(r.echoes, id)

	if _, err := r.store.DeleteEcho(ctx, id); err != nil {
		slog.Error("apply remote delete failed", "echo", id, "err", err)
	}
	if err := r.store.ClearOpsForEntity(ctx, model.EntityEcho, id); err != nil {
		slog.Warn("clear ops on remote delete failed", "echo", id, "err", err)
	}
	for _, m := range media {
		if err := r.store.ClearOpsForEntity(ctx, model.EntityMedia, m.ID); err != nil {
			slog.Warn("clear media ops on remote delete failed", "media", m.ID, "err", err)
		}
	}
}

// RefreshActivities replaces the echo's local activity log with the
// remote subcollection's contents.
func (r *Repository) RefreshActivities(ctx context.Context, echoID string, acts []model.Activity) error {
	return r.store.ReplaceActivities(ctx, echoID, acts)
}

// MarkMediaUploaded records a completed byte upload in cache and store.
// Called by the bridge when a flush uploads staged bytes.
func (r *Repository) MarkMediaUploaded(ctx context.Context, echoID, mediaID, remoteURI, storagePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.echoes[echoID]; ok {
		for i := range e.Media {
			if e.Media[i].ID == mediaID {
				e.Media[i].URI = remoteURI
				e.Media[i].StoragePath = storagePath
				e.Media[i].Status = model.Uploaded
				break
			}
		}
	}
	if err := r.store.MarkMediaUploaded(ctx, mediaID, remoteURI, storagePath); err != nil {
		slog.Error("mark media uploaded failed", "media", mediaID, "err", err)
	}
}
