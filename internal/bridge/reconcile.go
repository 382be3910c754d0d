package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/remote"
)

// Reconcile merges one inbound snapshot (the full set of remote
// documents visible to localUserID) into local state. All writes go
// through the repository's remote-apply path (single-writer
// discipline); the caller notifies listeners once afterwards.
//
// Per remote echo:
//   - unknown locally: inserted as-is, it is new to this device;
//   - known locally: scalar fields merge remote-wins-if-newer
//     (strictly newer updatedAt), collaborator sets merge as a union
//     minus ids with uncommitted local removals.
//
// Local shared echoes absent from the snapshot are treated as remotely
// deleted, unless a pending create op says the echo simply has not
// reached the remote yet.
func (b *Bridge) Reconcile(ctx context.Context, docs []remote.Document, localUserID string) error {
	st := b.repo.Store()
	seen := make(map[string]bool, len(docs))

	for _, doc := range docs {
		seen[doc.ID] = true
		remoteEcho := doc.ToEcho()

		local, ok := b.repo.GetByID(doc.ID)
		if !ok {
			b.repo.ApplyRemote(ctx, remoteEcho)
			b.refreshActivities(ctx, doc.ID)
			continue
		}

		removals, err := st.PendingCollaboratorRemovals(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("pending removals for %s: %w", doc.ID, err)
		}

		merged := merge(local, remoteEcho, removals)
		b.repo.ApplyRemote(ctx, merged)
		b.refreshActivities(ctx, doc.ID)
	}

	for _, e := range b.repo.GetAll() {
		if seen[e.ID] || !e.Shareable() {
			continue
		}
		pendingCreate, err := st.HasPendingCreate(ctx, e.ID)
		if err != nil {
			slog.Warn("pending-create check failed, keeping echo", "echo", e.ID, "err", err)
			continue
		}
		if pendingCreate {
			// Snapshot latency: the echo was just created here and its
			// push has not landed yet.
			continue
		}
		b.repo.ApplyRemoteDelete(ctx, e.ID)
	}

	return nil
}

// merge combines a remote echo with its local counterpart.
//
// Scalars follow remote-wins-if-newer: the remote copy replaces local
// scalar fields only when its updatedAt is strictly newer. The
// collaborator set is always the union of both sides, minus any ids
// the local pending-op log has uncommitted removals for; those stay
// excluded whatever the remote says, until the removal op clears.
func merge(local, remoteEcho model.Echo, pendingRemovals map[string]bool) model.Echo {
	out := local.Clone()

	if remoteEcho.UpdatedAt.After(local.UpdatedAt) {
		out.Title = remoteEcho.Title
		out.Description = remoteEcho.Description
		out.ImageURL = remoteEcho.ImageURL
		out.LockDate = remoteEcho.LockDate
		out.UnlockDate = remoteEcho.UnlockDate
		if remoteEcho.Status.Valid() {
			out.Status = remoteEcho.Status
			// The remote write carries no override bookkeeping; treat
			// its status as explicitly set at its own update time so
			// the boundary-crossing rule still expires it.
			t := remoteEcho.UpdatedAt
			out.StatusSetAt = &t
		}
		out.OwnerName = remoteEcho.OwnerName
		out.OwnerPhotoURL = remoteEcho.OwnerPhotoURL
		out.ShareMode = remoteEcho.ShareMode
		out.UpdatedAt = remoteEcho.UpdatedAt
	}

	union := make(map[string]bool, len(local.CollaboratorIDs)+len(remoteEcho.CollaboratorIDs))
	for _, id := range local.CollaboratorIDs {
		union[id] = true
	}
	for _, id := range remoteEcho.CollaboratorIDs {
		union[id] = true
	}
	ids := make([]string, 0, len(union))
	for id := range union {
		if pendingRemovals[id] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.CollaboratorIDs = ids

	return out
}

// refreshActivities pulls the echo's remote activity subcollection
// into the local log, fire-and-forget: a failure here never blocks the
// rest of reconciliation.
func (b *Bridge) refreshActivities(ctx context.Context, echoID string) {
	acts, err := b.remote.Activities(ctx, echoID)
	if err != nil {
		slog.Debug("activity refresh failed", "echo", echoID, "err", err)
		return
	}
	if len(acts) == 0 {
		return
	}
	if err := b.repo.RefreshActivities(ctx, echoID, acts); err != nil {
		slog.Debug("activity refresh write failed", "echo", echoID, "err", err)
	}
}
