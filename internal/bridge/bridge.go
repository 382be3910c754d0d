// Package bridge is the two-way Remote Sync Bridge: it pushes local
// writes of shareable echoes to the remote document store, maintains
// the per-user snapshot subscription, reconciles inbound snapshots
// into local state, and replays the pending-operation log.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/remote"
	"github.com/echolabs/echosync/internal/repo"
	"github.com/echolabs/echosync/internal/status"
)

// Bridge connects the local repository to a remote document store.
type Bridge struct {
	repo   *repo.Repository
	remote remote.Store
	clock  status.Clock

	subMu sync.Mutex
	subs  map[string]remote.CancelFunc

	// reconcileMu serializes snapshot handling: snapshot N+1 does not
	// begin reconciling until snapshot N has applied all its writes.
	reconcileMu sync.Mutex
}

// New creates a bridge. It does not attach itself to the repository;
// the owning SyncContext wires repo.SetPusher.
func New(r *repo.Repository, rs remote.Store, clock status.Clock) *Bridge {
	if clock == nil {
		clock = status.SystemClock{}
	}
	return &Bridge{
		repo:   r,
		remote: rs,
		clock:  clock,
		subs:   map[string]remote.CancelFunc{},
	}
}

// Push writes one echo to the remote store. It is a no-op for
// non-shareable echoes; in particular, a private echo never reaches
// the remote store under any share mode. If the cover image is still a
// local reference its bytes are uploaded first and the returned echo
// carries the rewritten URL. The document write is a merge: fields not
// in the payload are untouched remotely.
func (b *Bridge) Push(ctx context.Context, e model.Echo) (model.Echo, error) {
	if !e.Shareable() {
		return e, nil
	}

	if isLocalRef(e.ImageURL) {
		url, err := b.uploadLocalFile(ctx, e.ImageURL)
		if err != nil {
			return e, fmt.Errorf("upload cover image: %w", err)
		}
		e.ImageURL = url
	}

	if err := b.remote.PutEcho(ctx, remote.FromEcho(e)); err != nil {
		return e, fmt.Errorf("push echo %s: %w", e.ID, err)
	}
	return e, nil
}

// Remove deletes the echo's remote document.
func (b *Bridge) Remove(ctx context.Context, echoID string) error {
	if err := b.remote.DeleteEcho(ctx, echoID); err != nil {
		return fmt.Errorf("remove echo %s: %w", echoID, err)
	}
	return nil
}

// Subscribe opens the snapshot subscription for userID. Exactly one
// subscription per user id exists process-wide: re-subscribing the
// same id is a no-op, and subscribing a different id tears down the
// previous subscription first so a listener never outlives a stale
// identity (sign-out, account switch).
func (b *Bridge) Subscribe(ctx context.Context, userID string) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if _, ok := b.subs[userID]; ok {
		return nil
	}
	for uid, cancel := range b.subs {
		cancel()
		delete(b.subs, uid)
		slog.Info("tore down stale subscription", "user", uid)
	}

	cancel, err := b.remote.Subscribe(ctx, userID, func(docs []remote.Document) {
		b.handleSnapshot(ctx, docs, userID)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", userID, err)
	}
	b.subs[userID] = cancel
	return nil
}

// Unsubscribe tears down the subscription for userID, if any.
func (b *Bridge) Unsubscribe(userID string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if cancel, ok := b.subs[userID]; ok {
		cancel()
		delete(b.subs, userID)
	}
}

// Dispose tears down every subscription. In-flight uploads are not
// forcibly cancelled; their results are discarded naturally when the
// entity no longer exists locally.
func (b *Bridge) Dispose() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for uid, cancel := range b.subs {
		cancel()
		delete(b.subs, uid)
	}
}

func (b *Bridge) handleSnapshot(ctx context.Context, docs []remote.Document, userID string) {
	b.reconcileMu.Lock()
	defer b.reconcileMu.Unlock()

	if err := b.Reconcile(ctx, docs, userID); err != nil {
		// Inbound failures wait for the next snapshot; local state is
		// neither assumed stale nor rolled back.
		slog.Warn("reconcile snapshot failed", "user", userID, "err", err)
	}
	b.repo.Notify()
}

func (b *Bridge) uploadLocalFile(ctx context.Context, uri string) (string, error) {
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ref, err := b.remote.UploadBlob(ctx, filepath.Base(path), contentType, f)
	if err != nil {
		return "", err
	}
	return ref.URL, nil
}

// isLocalRef reports whether a URI still points at device-local bytes.
func isLocalRef(uri string) bool {
	if uri == "" {
		return false
	}
	return !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://")
}
