package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/remote"
)

func newTestServer(t *testing.T) (*httptest.Server, *remote.Client) {
	t.Helper()
	ts := httptest.NewServer(New("").Handler())
	t.Cleanup(ts.Close)
	return ts, remote.NewClient(ts.URL, ts.Client())
}

func testDoc(id, owner string, updatedAt time.Time) remote.Document {
	return remote.FromEcho(model.Echo{
		ID:        id,
		Title:     "Trip",
		OwnerID:   owner,
		ShareMode: model.ShareModeShared,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	})
}

func TestPutEcho_MergeWrite(t *testing.T) {
	ts, c := newTestServer(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	doc := testDoc("echo-1", "user-a", now)
	doc.Description = "first write"
	require.NoError(t, c.PutEcho(ctx, doc))

	// A partial write touches the title only; fields absent from the
	// payload must survive.
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		ts.URL+"/v1/echoes/echo-1", strings.NewReader(`{"title":"Renamed"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	snap := subscribeOnce(t, c, "user-a")
	require.Len(t, snap, 1)
	assert.Equal(t, "Renamed", snap[0].Title)
	assert.Equal(t, "first write", snap[0].Description, "merge write keeps untouched fields")
}

func TestDeleteEcho_IdempotentAndScopesSnapshot(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, c.PutEcho(ctx, testDoc("echo-1", "user-a", time.Now().UTC())))
	require.NoError(t, c.DeleteEcho(ctx, "echo-1"))
	require.NoError(t, c.DeleteEcho(ctx, "echo-1"), "repeat delete is not an error")

	snap := subscribeOnce(t, c, "user-a")
	assert.Empty(t, snap)
}

func TestActivities_RoundTrip(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	act := model.Activity{
		ID: "act-1", EchoID: "echo-1", Type: model.ActivityEchoCreated,
		UserID: "user-a", Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.PutActivity(ctx, "echo-1", act))
	require.NoError(t, c.PutActivity(ctx, "echo-1", act), "replayed append dedups by id")

	acts, err := c.Activities(ctx, "echo-1")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, model.ActivityEchoCreated, acts[0].Type)
}

func TestBlobs_UploadFetchDelete(t *testing.T) {
	ts, c := newTestServer(t)
	ctx := context.Background()

	ref, err := c.UploadBlob(ctx, "photo.jpg", "image/jpeg", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Path)
	assert.Contains(t, ref.URL, ref.Path)

	resp, err := ts.Client().Get(ts.URL + "/v1/blobs/" + ref.Path)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	require.NoError(t, c.DeleteBlob(ctx, ref.Path))
	resp, err = ts.Client().Get(ts.URL + "/v1/blobs/" + ref.Path)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestSubscribe_DeliversOnMutation(t *testing.T) {
	_, c := newTestServer(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	snapshots := make(chan []remote.Document, 8)
	cancel, err := c.Subscribe(ctx, "user-a", func(docs []remote.Document) {
		snapshots <- docs
	})
	require.NoError(t, err)
	defer cancel()

	// Connect frame: empty store.
	first := waitSnapshot(t, snapshots)
	assert.Empty(t, first)

	require.NoError(t, c.PutEcho(ctx, testDoc("echo-1", "user-a", time.Now().UTC())))
	second := waitSnapshot(t, snapshots)
	require.Len(t, second, 1)
	assert.Equal(t, "echo-1", second[0].ID)
	assert.Equal(t, []string{"user-a"}, second[0].ParticipantIDs)

	// A doc the user does not participate in stays invisible.
	require.NoError(t, c.PutEcho(ctx, testDoc("echo-2", "user-b", time.Now().UTC())))
	third := waitSnapshot(t, snapshots)
	assert.Len(t, third, 1)
}

func subscribeOnce(t *testing.T, c *remote.Client, userID string) []remote.Document {
	t.Helper()
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	snapshots := make(chan []remote.Document, 1)
	cancel, err := c.Subscribe(ctx, userID, func(docs []remote.Document) {
		select {
		case snapshots <- docs:
		default:
		}
	})
	require.NoError(t, err)
	defer cancel()

	return waitSnapshot(t, snapshots)
}

func waitSnapshot(t *testing.T, ch <-chan []remote.Document) []remote.Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
