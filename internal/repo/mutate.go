package repo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/echolabs/echosync/internal/model"
)

// ErrInvalidDates rejects a lock window where unlock precedes lock.
var ErrInvalidDates = errors.New("unlock date precedes lock date")

// Create assigns identity and timestamps, inserts the echo into cache
// and store, and, for shareable echoes, enqueues a create op and
// pushes immediately. Any server-rewritten fields from the push (e.g.
// an uploaded cover image URL) are folded back into the local copy.
func (r *Repository) Create(ctx context.Context, e model.Echo, ownerName, ownerPhotoURL string, collaborators []model.Friend) (model.Echo, error) {
	if e.LockDate != nil && e.UnlockDate != nil && e.UnlockDate.Before(*e.LockDate) {
		return model.Echo{}, ErrInvalidDates
	}

	now := r.clock.Now()
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.Status == "" {
		e.Status = model.StatusOngoing
	}
	if e.ShareMode == "" {
		e.ShareMode = model.ShareModePrivate
	}
	e.OwnerName = ownerName
	e.OwnerPhotoURL = ownerPhotoURL
	e.CreatedAt = now
	e.UpdatedAt = now
	for _, f := range collaborators {
		e.AddCollaboratorID(f.ID)
	}

	r.mu.Lock()
	stored := e.Clone()
	r.echoes[e.ID] = &stored
	r.persist(ctx, stored)
	for _, f := range collaborators {
		if err := r.store.UpsertFriend(ctx, f); err != nil {
			slog.Warn("cache friend snapshot failed", "friend", f.ID, "err", err)
		}
	}
	if stored.Shareable() {
		r.enqueue(ctx, model.EntityEcho, stored.ID, model.OpCreate, nil)
	}
	r.mu.Unlock()

	r.logActivity(ctx, model.Activity{
		EchoID:    e.ID,
		Type:      model.ActivityEchoCreated,
		UserID:    e.OwnerID,
		UserName:  ownerName,
		Timestamp: now,
	}, stored.Shareable())

	r.Notify()
	return r.pushAndConfirm(ctx, stored), nil
}

// Update merges the patch onto the cached entity, bumps updatedAt, and
// persists. Returns ok=false for an unknown id: a no-op, not an
// error; the entity may have vanished concurrently.
func (r *Repository) Update(ctx context.Context, id string, patch model.EchoPatch) (model.Echo, bool) {
	r.mu.Lock()
	e, ok := r.echoes[id]
	if !ok {
		r.mu.Unlock()
		return model.Echo{}, false
	}

	if patch.Title != nil {
		e.Title = *patch.Title
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	if patch.ImageURL != nil {
		e.ImageURL = *patch.ImageURL
	}
	if patch.LockDate != nil {
		d := *patch.LockDate
		e.LockDate = &d
	}
	if patch.UnlockDate != nil {
		d := *patch.UnlockDate
		e.UnlockDate = &d
	}
	if patch.ShareMode != nil {
		e.ShareMode = *patch.ShareMode
	}
	r.bump(e)

	out := e.Clone()
	r.persist(ctx, out)
	if out.Shareable() {
		r.enqueue(ctx, model.EntityEcho, id, model.OpUpdate, nil)
	}
	r.mu.Unlock()

	r.Notify()
	return r.pushAndConfirm(ctx, out), true
}

// UpdateStatus records an explicit lifecycle override. The override
// takes precedence over the time-derived status until wall-clock time
// crosses the next lock/unlock boundary.
func (r *Repository) UpdateStatus(ctx context.Context, id string, s model.EchoStatus) (model.Echo, bool) {
	if !s.Valid() {
		return model.Echo{}, false
	}

	r.mu.Lock()
	e, ok := r.echoes[id]
	if !ok {
		r.mu.Unlock()
		return model.Echo{}, false
	}

	now := r.bump(e)
	e.Status = s
	e.StatusSetAt = &now

	out := e.Clone()
	r.persist(ctx, out)
	if out.Shareable() {
		r.enqueue(ctx, model.EntityEcho, id, model.OpUpdate, model.EncodePayload(model.UpdatePayload{Fields: []string{"status"}}))
	}
	r.mu.Unlock()

	switch s {
	case model.StatusLocked:
		r.logActivity(ctx, model.Activity{EchoID: id, Type: model.ActivityEchoLocked, UserID: out.OwnerID, Timestamp: now}, out.Shareable())
	case model.StatusUnlocked:
		r.logActivity(ctx, model.Activity{EchoID: id, Type: model.ActivityEchoUnlocked, UserID: out.OwnerID, Timestamp: now}, out.Shareable())
	}

	r.Notify()
	return r.pushAndConfirm(ctx, out), true
}

// Delete removes the echo locally (media, collaborators and activities
// cascade) and, for shared echoes, issues a remote delete. Returns
// false for an unknown id.
func (r *Repository) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	e, ok := r.echoes[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	wasShareable := e.Shareable()
	media := append([]model.Media(nil), e.Media...)
	delete(r.echoes, id)

	if _, err := r.store.DeleteEcho(ctx, id); err != nil {
		slog.Error("delete echo from store failed, cache retains the delete", "echo", id, "err", err)
	}

	// Queued ops for the entity are moot once it is gone locally; the
	// only thing left to confirm remotely is the delete itself.
	if err := r.store.ClearOpsForEntity(ctx, model.EntityEcho, id); err != nil {
		slog.Warn("clear ops on delete failed", "echo", id, "err", err)
	}
	for _, m := range media {
		if err := r.store.ClearOpsForEntity(ctx, model.EntityMedia, m.ID); err != nil {
			slog.Warn("clear media ops on delete failed", "media", m.ID, "err", err)
		}
	}
	if wasShareable {
		r.enqueue(ctx, model.EntityEcho, id, model.OpDelete, nil)
	}
	r.mu.Unlock()

	r.Notify()

	if wasShareable && r.currentPusher() != nil {
		if err := r.currentPusher().Remove(ctx, id); err != nil {
			slog.Warn("remote delete failed, op queued for retry", "echo", id, "err", err)
		} else if err := r.store.ClearOpsForEntity(ctx, model.EntityEcho, id); err != nil {
			slog.Warn("clear ops after remote delete failed", "echo", id, "err", err)
		}
	}
	return true
}

// AddMedia stages one attachment in pending upload state and bumps the
// echo. Byte upload and URL rewrite happen asynchronously on the next
// flush; the call never waits for the network.
func (r *Repository) AddMedia(ctx context.Context, echoID string, m model.Media) (model.Echo, bool) {
	return r.AddMediaBatch(ctx, echoID, []model.Media{m})
}

// AddMediaBatch stages several attachments at once.
func (r *Repository) AddMediaBatch(ctx context.Context, echoID string, media []model.Media) (model.Echo, bool) {
	r.mu.Lock()
	e, ok := r.echoes[echoID]
	if !ok {
		r.mu.Unlock()
		return model.Echo{}, false
	}

	now := r.bump(e)
	shareable := e.Shareable()
	added := make([]model.Media, 0, len(media))
	for _, m := range media {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.EchoID = echoID
		m.Status = model.UploadPending
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		e.Media = append(e.Media, m)
		added = append(added, m)

		if err := r.store.InsertMedia(ctx, m); err != nil {
			slog.Error("persist media failed, cache retains the write", "media", m.ID, "err", err)
		}
		if shareable {
			r.enqueue(ctx, model.EntityMedia, m.ID, model.OpAddMedia,
				model.EncodePayload(model.MediaPayload{MediaID: m.ID, EchoID: echoID}))
		}
	}

	out := e.Clone()
	r.persist(ctx, out)
	if shareable {
		r.enqueue(ctx, model.EntityEcho, echoID, model.OpUpdate, nil)
	}
	r.mu.Unlock()

	for _, m := range added {
		r.logActivity(ctx, model.Activity{
			EchoID:     echoID,
			Type:       model.ActivityMediaUploaded,
			UserID:     m.UploadedBy,
			UserName:   m.UploadedByName,
			UserAvatar: m.UploadedByPhotoURL,
			MediaType:  m.Type,
			Timestamp:  now,
		}, shareable)
	}

	r.Notify()
	return r.pushAndConfirm(ctx, out), true
}

// RemoveMedia deletes the attachment; if its bytes were already
// uploaded, remote deletion is scheduled via a pending op.
func (r *Repository) RemoveMedia(ctx context.Context, echoID, mediaID string) (model.Echo, bool) {
	r.mu.Lock()
	e, ok := r.echoes[echoID]
	if !ok {
		r.mu.Unlock()
		return model.Echo{}, false
	}
	m, found := e.MediaByID(mediaID)
	if !found {
		r.mu.Unlock()
		return model.Echo{}, false
	}

	for i := range e.Media {
		if e.Media[i].ID == mediaID {
			e.Media = append(e.Media[:i], e.Media[i+1:]...)
			break
		}
	}
	r.bump(e)

	if _, err := r.store.DeleteMedia(ctx, mediaID); err != nil {
		slog.Error("delete media from store failed", "media", mediaID, "err", err)
	}
	// A pending upload that never happened has nothing to delete
	// remotely; drop its queued ops instead.
	if err := r.store.ClearOpsForEntity(ctx, model.EntityMedia, mediaID); err != nil {
		slog.Warn("clear media ops failed", "media", mediaID, "err", err)
	}

	shareable := e.Shareable()
	if shareable && m.Status == model.Uploaded {
		r.enqueue(ctx, model.EntityMedia, mediaID, model.OpDeleteMedia,
			model.EncodePayload(model.MediaPayload{MediaID: mediaID, EchoID: echoID, StoragePath: m.StoragePath}))
	}

	out := e.Clone()
	r.persist(ctx, out)
	if shareable {
		r.enqueue(ctx, model.EntityEcho, echoID, model.OpUpdate, nil)
	}
	r.mu.Unlock()

	r.Notify()
	return r.pushAndConfirm(ctx, out), true
}

// AddCollaborator adds the user to the echo's collaborator set and
// caches their profile snapshot.
func (r *Repository) AddCollaborator(ctx context.Context, echoID string, f model.Friend) (model.Echo, bool) {
	r.mu.Lock()
	e, ok := r.echoes[echoID]
	if !ok {
		r.mu.Unlock()
		return model.Echo{}, false
	}

	changed := e.AddCollaboratorID(f.ID)
	now := e.UpdatedAt
	if changed {
		now = r.bump(e)
	}

	out := e.Clone()
	if changed {
		r.persist(ctx, out)
		if err := r.store.UpsertFriend(ctx, f); err != nil {
			slog.Warn("cache friend snapshot failed", "friend", f.ID, "err", err)
		}
		if out.Shareable() {
			r.enqueue(ctx, model.EntityEcho, echoID, model.OpUpdate,
				model.EncodePayload(model.UpdatePayload{AddedCollaboratorIDs: []string{f.ID}}))
		}
	}
	r.mu.Unlock()

	if !changed {
		return out, true
	}

	r.logActivity(ctx, model.Activity{
		EchoID:       echoID,
		Type:         model.ActivityCollaboratorAdded,
		UserID:       out.OwnerID,
		TargetUserID: f.ID,
		Timestamp:    now,
	}, out.Shareable())

	r.Notify()
	return r.pushAndConfirm(ctx, out), true
}

// RemoveCollaborator removes the user from the set. The removal is
// recorded in a pending op so a stale remote snapshot delivered before
// the removal is confirmed server-side cannot resurrect the id during
// reconciliation.
func (r *Repository) RemoveCollaborator(ctx context.Context, echoID, userID string) (model.Echo, bool) {
	r.mu.Lock()
	e, ok := r.echoes[echoID]
	if !ok {
		r.mu.Unlock()
		return model.Echo{}, false
	}

	changed := e.RemoveCollaboratorID(userID)
	now := e.UpdatedAt
	if changed {
		now = r.bump(e)
	}

	out := e.Clone()
	if changed {
		r.persist(ctx, out)
		if out.Shareable() {
			r.enqueue(ctx, model.EntityEcho, echoID, model.OpUpdate,
				model.EncodePayload(model.UpdatePayload{RemovedCollaboratorIDs: []string{userID}}))
		}
	}
	r.mu.Unlock()

	if !changed {
		return out, true
	}

	r.logActivity(ctx, model.Activity{
		EchoID:       echoID,
		Type:         model.ActivityCollaboratorRemoved,
		UserID:       out.OwnerID,
		TargetUserID: userID,
		Timestamp:    now,
	}, out.Shareable())

	r.Notify()
	return r.pushAndConfirm(ctx, out), true
}

// UpsertFriend refreshes one cached profile snapshot.
func (r *Repository) UpsertFriend(ctx context.Context, f model.Friend) error {
	return r.store.UpsertFriend(ctx, f)
}

// Friends lists cached profile snapshots.
func (r *Repository) Friends(ctx context.Context) ([]model.Friend, error) {
	return r.store.Friends(ctx)
}

// ActivitiesForEcho reads the echo's local activity log, newest first.
func (r *Repository) ActivitiesForEcho(ctx context.Context, echoID string) ([]model.Activity, error) {
	return r.store.ActivitiesForEcho(ctx, echoID)
}

// AllActivities reads the full local activity log, newest first.
func (r *Repository) AllActivities(ctx context.Context) ([]model.Activity, error) {
	return r.store.AllActivities(ctx)
}

// bump advances UpdatedAt monotonically: even if the wall clock did
// not move between two writes, updatedAt must still increase.
func (r *Repository) bump(e *model.Echo) time.Time {
	now := r.clock.Now()
	if !now.After(e.UpdatedAt) {
		now = e.UpdatedAt.Add(time.Millisecond)
	}
	e.UpdatedAt = now
	return now
}

// logActivity appends to the local activity log and, for shareable
// echoes, queues the entry for remote append.
func (r *Repository) logActivity(ctx context.Context, a model.Activity, shareable bool) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.clock.Now()
	}
	if err := r.store.InsertActivity(ctx, a); err != nil {
		slog.Warn("persist activity failed", "activity", a.ID, "err", err)
	}
	if shareable {
		r.enqueue(ctx, model.EntityActivity, a.ID, model.OpActivity, model.EncodePayload(a))
	}
}

func (r *Repository) currentPusher() Pusher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pusher
}

// pushAndConfirm pushes a shareable echo when a bridge is attached.
// On success the server-confirmed state is folded back (rewritten
// imageUrl) and the entity's pending ops clear; on failure the ops
// stay queued for the next flush and the local write stands.
func (r *Repository) pushAndConfirm(ctx context.Context, e model.Echo) model.Echo {
	p := r.currentPusher()
	if p == nil || !e.Shareable() {
		return e
	}

	pushed, err := p.Push(ctx, e)
	if err != nil {
		slog.Warn("remote push failed, ops queued for retry", "echo", e.ID, "err", err)
		return e
	}

	r.mu.Lock()
	if cached, ok := r.echoes[e.ID]; ok && pushed.ImageURL != cached.ImageURL {
		cached.ImageURL = pushed.ImageURL
		r.persist(ctx, cached.Clone())
		pushed = cached.Clone()
	}
	r.mu.Unlock()

	if err := r.store.ClearOpsForEntity(ctx, model.EntityEcho, e.ID); err != nil {
		slog.Warn("clear ops after push failed", "echo", e.ID, "err", err)
	}
	return pushed
}
