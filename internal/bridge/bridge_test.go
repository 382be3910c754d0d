package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/remote"
	"github.com/echolabs/echosync/internal/repo"
	"github.com/echolabs/echosync/internal/store"
	"github.com/echolabs/echosync/internal/testutil"
)

var bridgeEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *repo.Repository
	store  *store.Store
	remote *remote.MemStore
	bridge *Bridge
	clock  *testutil.FakeClock
}

// newFixture wires store, repository, fake remote, and bridge the way
// NewSyncContext does, but with a controllable clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFakeClock(bridgeEpoch)
	r, err := repo.New(context.Background(), st, clock)
	require.NoError(t, err)

	ms := remote.NewMemStore()
	b := New(r, ms, clock)
	r.SetPusher(b)

	return &fixture{repo: r, store: st, remote: ms, bridge: b, clock: clock}
}

func (f *fixture) createShared(t *testing.T, title string) model.Echo {
	t.Helper()
	e, err := f.repo.Create(context.Background(), model.Echo{
		Title:     title,
		OwnerID:   "user-a",
		ShareMode: model.ShareModeShared,
	}, "Ava", "", nil)
	require.NoError(t, err)
	return e
}

func doc(e model.Echo) remote.Document { return remote.FromEcho(e) }

func TestPush_PrivateEchoNeverLeavesDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, model.Echo{
		Title:     "Journal",
		OwnerID:   "user-a",
		IsPrivate: true,
		ShareMode: model.ShareModeShared,
	}, "Ava", "", nil)
	require.NoError(t, err)

	pushed, err := f.bridge.Push(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created, pushed)
	assert.Zero(t, f.remote.RemoteWrites(), "private echoes produce zero remote calls")
}

func TestPush_UploadsLocalCoverFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cover := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(cover, []byte("jpeg-bytes"), 0o644))

	e := f.createShared(t, "Trip")
	e.ImageURL = "file://" + cover

	pushed, err := f.bridge.Push(ctx, e)
	require.NoError(t, err)
	assert.NotEqual(t, e.ImageURL, pushed.ImageURL)
	assert.Contains(t, pushed.ImageURL, "https://", "cover rewritten to a remote URL")

	d, ok := f.remote.Doc(e.ID)
	require.True(t, ok)
	assert.Equal(t, pushed.ImageURL, d.ImageURL, "document carries the rewritten URL")
}

func TestReconcile_InsertsUnknownRemoteEcho(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	incoming := model.Echo{
		ID:        "echo-remote",
		Title:     "From another device",
		OwnerID:   "user-a",
		ShareMode: model.ShareModeShared,
		CreatedAt: bridgeEpoch,
		UpdatedAt: bridgeEpoch,
	}
	f.remote.SeedActivities("echo-remote", []model.Activity{{
		ID: "act-1", EchoID: "echo-remote", Type: model.ActivityEchoCreated,
		UserID: "user-a", Timestamp: bridgeEpoch,
	}})

	require.NoError(t, f.bridge.Reconcile(ctx, []remote.Document{doc(incoming)}, "user-a"))

	got, ok := f.repo.GetByID("echo-remote")
	require.True(t, ok)
	assert.Equal(t, "From another device", got.Title)

	acts, err := f.store.ActivitiesForEcho(ctx, "echo-remote")
	require.NoError(t, err)
	require.Len(t, acts, 1, "remote activity subcollection pulled in")

	ops, err := f.store.PendingOps(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops, "applying remote state enqueues nothing")
}

func TestReconcile_RemoteWinsOnlyIfStrictlyNewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := f.createShared(t, "Local title")

	older := local.Clone()
	older.Title = "Stale remote title"
	older.UpdatedAt = local.UpdatedAt.Add(-time.Hour)
	require.NoError(t, f.bridge.Reconcile(ctx, []remote.Document{doc(older)}, "user-a"))

	got, _ := f.repo.GetByID(local.ID)
	assert.Equal(t, "Local title", got.Title, "older remote copy loses")

	equal := local.Clone()
	equal.Title = "Same-instant remote title"
	require.NoError(t, f.bridge.Reconcile(ctx, []remote.Document{doc(equal)}, "user-a"))

	got, _ = f.repo.GetByID(local.ID)
	assert.Equal(t, "Local title", got.Title, "equal updatedAt is not strictly newer")

	newer := local.Clone()
	newer.Title = "Fresh remote title"
	newer.UpdatedAt = local.UpdatedAt.Add(time.Hour)
	require.NoError(t, f.bridge.Reconcile(ctx, []remote.Document{doc(newer)}, "user-a"))

	got, _ = f.repo.GetByID(local.ID)
	assert.Equal(t, "Fresh remote title", got.Title)
	assert.True(t, got.UpdatedAt.Equal(newer.UpdatedAt))
}

func TestReconcile_CollaboratorUnionMinusPendingRemovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := f.createShared(t, "Trip")
	_, ok := f.repo.AddCollaborator(ctx, local.ID, model.Friend{ID: "user-b"})
	require.True(t, ok)

	// Remove user-b while "offline": simulate the unconfirmed state by
	// detaching the pusher so the removal op stays queued.
	f.repo.SetPusher(nil)
	_, ok = f.repo.RemoveCollaborator(ctx, local.ID, "user-b")
	require.True(t, ok)
	f.repo.SetPusher(f.bridge)

	// A stale remote snapshot still carries user-b, plus a user-c added
	// elsewhere.
	stale := local.Clone()
	stale.CollaboratorIDs = []string{"user-b", "user-c"}
	stale.UpdatedAt = local.UpdatedAt.Add(time.Hour)
	require.NoError(t, f.bridge.Reconcile(ctx, []remote.Document{doc(stale)}, "user-a"))

	got, _ := f.repo.GetByID(local.ID)
	assert.Equal(t, []string{"user-c"}, got.CollaboratorIDs,
		"union merges the new id but the pending removal keeps user-b out")
}

func TestReconcile_MissingEchoIsRemoteDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.createShared(t, "Trip")
	require.NoError(t, f.bridge.Reconcile(ctx, nil, "user-a"))

	_, ok := f.repo.GetByID(e.ID)
	assert.False(t, ok, "shared echo absent from the snapshot was deleted remotely")
}

func TestReconcile_PendingCreateGuardsDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Created offline: the create op never confirmed, so the echo is not
	// in the snapshot yet.
	f.repo.SetPusher(nil)
	e, err := f.repo.Create(ctx, model.Echo{
		Title: "Fresh", OwnerID: "user-a", ShareMode: model.ShareModeShared,
	}, "Ava", "", nil)
	require.NoError(t, err)
	f.repo.SetPusher(f.bridge)

	require.NoError(t, f.bridge.Reconcile(ctx, nil, "user-a"))

	_, ok := f.repo.GetByID(e.ID)
	assert.True(t, ok, "snapshot latency must not delete a just-created echo")
}

func TestReconcile_PrivateEchoesExemptFromDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.repo.Create(ctx, model.Echo{
		Title: "Journal", OwnerID: "user-a", IsPrivate: true, ShareMode: model.ShareModeShared,
	}, "Ava", "", nil)
	require.NoError(t, err)

	require.NoError(t, f.bridge.Reconcile(ctx, nil, "user-a"))

	_, ok := f.repo.GetByID(e.ID)
	assert.True(t, ok, "private echoes never participate in deletion detection")
}

func TestReconcile_PreservesLocalMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.createShared(t, "Trip")
	got, ok := f.repo.AddMedia(ctx, e.ID, model.Media{Type: model.MediaPhoto, URI: "file:///cache/p.jpg"})
	require.True(t, ok)
	require.Len(t, got.Media, 1)

	newer := got.Clone()
	newer.Title = "Renamed elsewhere"
	newer.UpdatedAt = got.UpdatedAt.Add(time.Hour)
	newer.Media = nil // documents never carry media
	require.NoError(t, f.bridge.Reconcile(ctx, []remote.Document{doc(newer)}, "user-a"))

	merged, _ := f.repo.GetByID(e.ID)
	assert.Equal(t, "Renamed elsewhere", merged.Title)
	require.Len(t, merged.Media, 1, "local media survives the merge")
}

func TestSubscribe_SnapshotFlowsIntoRepo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var notified int
	unsub := f.repo.Subscribe(func() { notified++ })
	defer unsub()

	require.NoError(t, f.bridge.Subscribe(ctx, "user-a"))
	defer f.bridge.Dispose()

	f.remote.SeedDoc(doc(model.Echo{
		ID:        "echo-remote",
		Title:     "Pushed elsewhere",
		OwnerID:   "user-a",
		ShareMode: model.ShareModeShared,
		CreatedAt: bridgeEpoch,
		UpdatedAt: bridgeEpoch,
	}))
	f.remote.Broadcast()

	got, ok := f.repo.GetByID("echo-remote")
	require.True(t, ok)
	assert.Equal(t, "Pushed elsewhere", got.Title)
	assert.Equal(t, 1, notified, "one notification per snapshot batch")
}

func TestSubscribe_SwitchingUserTearsDownOldSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bridge.Subscribe(ctx, "user-a"))
	require.NoError(t, f.bridge.Subscribe(ctx, "user-a"), "same user is a no-op")
	require.NoError(t, f.bridge.Subscribe(ctx, "user-b"))
	defer f.bridge.Dispose()

	// Only user-b's listener is live now: a doc visible to user-a alone
	// must not arrive.
	f.remote.SeedDoc(doc(model.Echo{
		ID: "echo-a-only", OwnerID: "user-a", ShareMode: model.ShareModeShared,
		CreatedAt: bridgeEpoch, UpdatedAt: bridgeEpoch,
	}))
	f.remote.Broadcast()

	_, ok := f.repo.GetByID("echo-a-only")
	assert.False(t, ok)
}
