package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/store"
	"github.com/echolabs/echosync/internal/testutil"
)

var repoEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakePusher records outbound pushes. It can rewrite the cover URL the
// way a real bridge does after a blob upload, or fail every call.
type fakePusher struct {
	pushes     []model.Echo
	removes    []string
	rewriteURL string
	err        error
}

func (p *fakePusher) Push(ctx context.Context, e model.Echo) (model.Echo, error) {
	if p.err != nil {
		return e, p.err
	}
	if !e.Shareable() {
		return e, nil
	}
	p.pushes = append(p.pushes, e)
	if p.rewriteURL != "" {
		e.ImageURL = p.rewriteURL
	}
	return e, nil
}

func (p *fakePusher) Remove(ctx context.Context, echoID string) error {
	if p.err != nil {
		return p.err
	}
	p.removes = append(p.removes, echoID)
	return nil
}

func newTestRepo(t *testing.T) (*Repository, *store.Store, *testutil.FakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFakeClock(repoEpoch)
	r, err := New(context.Background(), st, clock)
	require.NoError(t, err)
	return r, st, clock
}

func sharedEcho() model.Echo {
	return model.Echo{
		Title:     "Road trip",
		OwnerID:   "user-a",
		ShareMode: model.ShareModeShared,
	}
}

func privateEcho() model.Echo {
	return model.Echo{
		Title:     "Journal",
		OwnerID:   "user-a",
		IsPrivate: true,
		ShareMode: model.ShareModeShared,
	}
}

func TestCreate_AssignsIdentityAndDefaults(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, model.Echo{Title: "Trip", OwnerID: "user-a"}, "Ava", "", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusOngoing, created.Status)
	assert.Equal(t, model.ShareModePrivate, created.ShareMode, "unshared by default")
	assert.Equal(t, "Ava", created.OwnerName)
	assert.Equal(t, repoEpoch, created.CreatedAt)
	assert.Equal(t, repoEpoch, created.UpdatedAt)

	got, ok := r.GetByID(created.ID)
	require.True(t, ok)
	assert.Equal(t, created.Title, got.Title)

	acts, err := r.ActivitiesForEcho(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, model.ActivityEchoCreated, acts[0].Type)
}

func TestCreate_RejectsInvertedDates(t *testing.T) {
	r, _, _ := newTestRepo(t)

	lock := repoEpoch.AddDate(0, 0, 9)
	unlock := repoEpoch.AddDate(0, 0, 5)
	e := sharedEcho()
	e.LockDate = &lock
	e.UnlockDate = &unlock

	_, err := r.Create(context.Background(), e, "Ava", "", nil)
	assert.ErrorIs(t, err, ErrInvalidDates)
}

func TestCreate_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	ctx := context.Background()

	st1, err := store.Open(path)
	require.NoError(t, err)
	r1, err := New(ctx, st1, testutil.NewFakeClock(repoEpoch))
	require.NoError(t, err)
	created, err := r1.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	// Second launch: cache warms from the store.
	st2, err := store.Open(path)
	require.NoError(t, err)
	defer st2.Close()
	r2, err := New(ctx, st2, testutil.NewFakeClock(repoEpoch))
	require.NoError(t, err)

	got, ok := r2.GetByID(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Road trip", got.Title)
}

func TestUpdate_UnknownIDIsNoop(t *testing.T) {
	r, _, _ := newTestRepo(t)

	title := "x"
	_, ok := r.Update(context.Background(), "ghost", model.EchoPatch{Title: &title})
	assert.False(t, ok)
}

func TestUpdate_MonotonicUpdatedAt(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)

	// Clock frozen: two writes in the same instant must still order.
	t1 := "first"
	first, ok := r.Update(ctx, created.ID, model.EchoPatch{Title: &t1})
	require.True(t, ok)
	assert.True(t, first.UpdatedAt.After(created.UpdatedAt))

	t2 := "second"
	second, ok := r.Update(ctx, created.ID, model.EchoPatch{Title: &t2})
	require.True(t, ok)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestUpdateStatus_OverrideExpiresAtBoundary(t *testing.T) {
	r, _, clock := newTestRepo(t)
	ctx := context.Background()

	lock := repoEpoch.AddDate(0, 0, 5)
	unlock := repoEpoch.AddDate(0, 0, 9)
	e := sharedEcho()
	e.LockDate = &lock
	e.UnlockDate = &unlock

	created, err := r.Create(ctx, e, "Ava", "", nil)
	require.NoError(t, err)

	// Force "locked" while derivation still says ongoing.
	_, ok := r.UpdateStatus(ctx, created.ID, model.StatusLocked)
	require.True(t, ok)

	got, ok := r.EffectiveStatus(created.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusLocked, got, "override wins before the boundary")

	// Cross the lock boundary: derivation resumes (still locked), then
	// cross unlock.
	clock.Set(unlock.Add(time.Minute))
	got, ok = r.EffectiveStatus(created.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusUnlocked, got, "derived state resumes after a boundary crossing")
}

func TestUpdateStatus_RejectsInvalid(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)

	_, ok := r.UpdateStatus(ctx, created.ID, model.EchoStatus("archived"))
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)

	assert.True(t, r.Delete(ctx, created.ID))
	_, ok := r.GetByID(created.ID)
	assert.False(t, ok)

	ops, err := st.PendingOpsForEntity(ctx, model.EntityEcho, created.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1, "only the delete op remains queued")
	assert.Equal(t, model.OpDelete, ops[0].Action)

	assert.False(t, r.Delete(ctx, created.ID), "second delete is a no-op")
}

func TestAddMedia_StagesPendingUpload(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)

	got, ok := r.AddMedia(ctx, created.ID, model.Media{
		Type:       model.MediaPhoto,
		URI:        "file:///cache/p.jpg",
		UploadedBy: "user-a",
	})
	require.True(t, ok)
	require.Len(t, got.Media, 1)
	assert.Equal(t, model.UploadPending, got.Media[0].Status)
	assert.NotEmpty(t, got.Media[0].ID)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt), "adding media bumps the echo")

	ops, err := st.PendingOpsForEntity(ctx, model.EntityMedia, got.Media[0].ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpAddMedia, ops[0].Action)

	acts, err := r.ActivitiesForEcho(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityMediaUploaded, acts[0].Type, "newest first")
}

func TestRemoveMedia_PendingUploadLeavesNoRemoteWork(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)
	got, ok := r.AddMedia(ctx, created.ID, model.Media{Type: model.MediaPhoto, URI: "file:///cache/p.jpg"})
	require.True(t, ok)
	mediaID := got.Media[0].ID

	got, ok = r.RemoveMedia(ctx, created.ID, mediaID)
	require.True(t, ok)
	assert.Empty(t, got.Media)

	ops, err := st.PendingOpsForEntity(ctx, model.EntityMedia, mediaID)
	require.NoError(t, err)
	assert.Empty(t, ops, "never-uploaded media needs no remote delete")
}

func TestRemoveMedia_UploadedSchedulesRemoteDelete(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)
	got, ok := r.AddMedia(ctx, created.ID, model.Media{Type: model.MediaPhoto, URI: "file:///cache/p.jpg"})
	require.True(t, ok)
	mediaID := got.Media[0].ID

	r.MarkMediaUploaded(ctx, created.ID, mediaID, "https://blobs/p.jpg", "blobs/p.jpg")

	_, ok = r.RemoveMedia(ctx, created.ID, mediaID)
	require.True(t, ok)

	ops, err := st.PendingOpsForEntity(ctx, model.EntityMedia, mediaID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpDeleteMedia, ops[0].Action)
	p := model.DecodeMediaPayload(ops[0].Payload)
	assert.Equal(t, "blobs/p.jpg", p.StoragePath)
}

func TestCollaborators(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)

	got, ok := r.AddCollaborator(ctx, created.ID, model.Friend{ID: "user-c", DisplayName: "Cy"})
	require.True(t, ok)
	got, ok = r.AddCollaborator(ctx, created.ID, model.Friend{ID: "user-b", DisplayName: "Ben"})
	require.True(t, ok)
	assert.Equal(t, []string{"user-b", "user-c"}, got.CollaboratorIDs, "set stays sorted")

	// Re-adding is a no-op.
	again, ok := r.AddCollaborator(ctx, created.ID, model.Friend{ID: "user-b"})
	require.True(t, ok)
	assert.Equal(t, got.UpdatedAt, again.UpdatedAt)

	got, ok = r.RemoveCollaborator(ctx, created.ID, "user-c")
	require.True(t, ok)
	assert.Equal(t, []string{"user-b"}, got.CollaboratorIDs)

	removed, err := st.PendingCollaboratorRemovals(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, removed["user-c"])

	assert.Equal(t, []string{"user-a", "user-b"}, got.ParticipantIDs())
}

func TestPrivateEcho_NeverEnqueuesOrPushes(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()
	pusher := &fakePusher{}
	r.SetPusher(pusher)

	created, err := r.Create(ctx, privateEcho(), "Ava", "", nil)
	require.NoError(t, err)

	title := "renamed"
	_, ok := r.Update(ctx, created.ID, model.EchoPatch{Title: &title})
	require.True(t, ok)
	_, ok = r.AddMedia(ctx, created.ID, model.Media{Type: model.MediaPhoto, URI: "file:///cache/p.jpg"})
	require.True(t, ok)
	_, ok = r.AddCollaborator(ctx, created.ID, model.Friend{ID: "user-b"})
	require.True(t, ok)
	require.True(t, r.Delete(ctx, created.ID))

	assert.Empty(t, pusher.pushes, "private echoes never reach the remote store")
	assert.Empty(t, pusher.removes)

	ops, err := st.PendingOps(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops, "private echoes never enqueue sync work")
}

func TestPushConfirmation_ClearsOpsAndFoldsRewrites(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()
	pusher := &fakePusher{rewriteURL: "https://blobs/cover.jpg"}
	r.SetPusher(pusher)

	e := sharedEcho()
	e.ImageURL = "file:///cache/cover.jpg"
	created, err := r.Create(ctx, e, "Ava", "", nil)
	require.NoError(t, err)

	require.Len(t, pusher.pushes, 1)
	assert.Equal(t, "https://blobs/cover.jpg", created.ImageURL, "server rewrite folds back")

	got, ok := r.GetByID(created.ID)
	require.True(t, ok)
	assert.Equal(t, "https://blobs/cover.jpg", got.ImageURL)

	ops, err := st.PendingOpsForEntity(ctx, model.EntityEcho, created.ID)
	require.NoError(t, err)
	assert.Empty(t, ops, "confirmed push clears the entity's backlog")
}

func TestPushFailure_LeavesOpsQueued(t *testing.T) {
	r, st, _ := newTestRepo(t)
	ctx := context.Background()
	pusher := &fakePusher{err: errors.New("network down")}
	r.SetPusher(pusher)

	created, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err, "local write succeeds regardless of the network")

	got, ok := r.GetByID(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Road trip", got.Title)

	ops, err := st.PendingOpsForEntity(ctx, model.EntityEcho, created.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpCreate, ops[0].Action)
}

func TestGetByStatusAndUserEchoes(t *testing.T) {
	r, _, clock := newTestRepo(t)
	ctx := context.Background()

	lock := repoEpoch.AddDate(0, 0, 5)
	locked := sharedEcho()
	locked.LockDate = &lock

	a, err := r.Create(ctx, locked, "Ava", "", nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	other := sharedEcho()
	other.Title = "Ben's"
	other.OwnerID = "user-b"
	b, err := r.Create(ctx, other, "Ben", "", []model.Friend{{ID: "user-a"}})
	require.NoError(t, err)

	clock.Set(lock.Add(time.Hour))
	lockedNow := r.GetByStatus(model.StatusLocked)
	require.Len(t, lockedNow, 1)
	assert.Equal(t, a.ID, lockedNow[0].ID)

	mine := r.GetUserEchoes("user-a")
	assert.Len(t, mine, 2, "owned plus collaborating")

	bens := r.GetUserEchoes("user-b")
	require.Len(t, bens, 1)
	assert.Equal(t, b.ID, bens[0].ID)
}

func TestSubscribe_NotifiesOnMutation(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	var calls int
	unsubscribe := r.Subscribe(func() { calls++ })

	_, err := r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	unsubscribe()
	_, err = r.Create(ctx, sharedEcho(), "Ava", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "unsubscribed listener stops firing")
}
