package remote

import (
	"context"
	"io"

	"github.com/echolabs/echosync/internal/model"
)

// BlobRef identifies an uploaded blob: the public URL clients render,
// and the storage path used for later deletion.
type BlobRef struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// SnapshotFunc receives every inbound snapshot for a subscription: the
// full set of documents visible to the subscribed user.
type SnapshotFunc func(docs []Document)

// CancelFunc tears down a subscription.
type CancelFunc func()

// Store is the remote document store as the sync bridge sees it.
//
// PutEcho is a merge write: fields absent from the payload are left
// untouched remotely, so concurrent writers cannot clobber fields they
// did not touch. All calls are at-least-once; the remote side is
// expected to be idempotent for repeated identical writes.
type Store interface {
	PutEcho(ctx context.Context, doc Document) error
	DeleteEcho(ctx context.Context, echoID string) error

	Activities(ctx context.Context, echoID string) ([]model.Activity, error)
	PutActivity(ctx context.Context, echoID string, act model.Activity) error

	UploadBlob(ctx context.Context, name, contentType string, r io.Reader) (BlobRef, error)
	DeleteBlob(ctx context.Context, path string) error

	// Subscribe opens a live query for all documents whose
	// participantIds contain userID and invokes fn on every change.
	// The returned cancel stops delivery; it is safe to call twice.
	Subscribe(ctx context.Context, userID string, fn SnapshotFunc) (CancelFunc, error)
}
