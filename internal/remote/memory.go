package remote

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/echolabs/echosync/internal/model"
)

// MemStore is an in-memory Store used by tests and offline
// development. It records call counts so tests can assert, for
// example, that a private echo produced zero remote writes.
type MemStore struct {
	mu        sync.Mutex
	docs      map[string]Document
	acts      map[string][]model.Activity
	blobs     map[string][]byte
	listeners map[string][]SnapshotFunc

	// Err, when set, is returned by every mutating call. Simulates a
	// network partition.
	Err error

	PutEchoCalls    int
	DeleteEchoCalls int
	UploadBlobCalls int
	DeleteBlobCalls int
	PutActCalls     int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:      map[string]Document{},
		acts:      map[string][]model.Activity{},
		blobs:     map[string][]byte{},
		listeners: map[string][]SnapshotFunc{},
	}
}

func (m *MemStore) PutEcho(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutEchoCalls++
	if m.Err != nil {
		return m.Err
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *MemStore) DeleteEcho(ctx context.Context, echoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteEchoCalls++
	if m.Err != nil {
		return m.Err
	}
	delete(m.docs, echoID)
	delete(m.acts, echoID)
	return nil
}

func (m *MemStore) Activities(ctx context.Context, echoID string) ([]model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]model.Activity(nil), m.acts[echoID]...), nil
}

func (m *MemStore) PutActivity(ctx context.Context, echoID string, act model.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutActCalls++
	if m.Err != nil {
		return m.Err
	}
	m.acts[echoID] = append(m.acts[echoID], act)
	return nil
}

func (m *MemStore) UploadBlob(ctx context.Context, name, contentType string, r io.Reader) (BlobRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return BlobRef{}, fmt.Errorf("upload blob: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadBlobCalls++
	if m.Err != nil {
		return BlobRef{}, m.Err
	}
	path := uuid.NewString() + "/" + name
	m.blobs[path] = data
	return BlobRef{URL: "https://blobs.invalid/" + path, Path: path}, nil
}

func (m *MemStore) DeleteBlob(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteBlobCalls++
	if m.Err != nil {
		return m.Err
	}
	delete(m.blobs, path)
	return nil
}

func (m *MemStore) Subscribe(ctx context.Context, userID string, fn SnapshotFunc) (CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[userID] = append(m.listeners[userID], fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		fns := m.listeners[userID]
		for i := range fns {
			// Function values are not comparable; drop the first
			// registration, which is all the tests need.
			m.listeners[userID] = append(fns[:i], fns[i+1:]...)
			return
		}
	}, nil
}

// Broadcast synchronously delivers the current visible document set to
// every listener, mimicking a remote snapshot push.
func (m *MemStore) Broadcast() {
	m.mu.Lock()
	type delivery struct {
		fn   SnapshotFunc
		docs []Document
	}
	var deliveries []delivery
	for userID, fns := range m.listeners {
		docs := m.visibleToLocked(userID)
		for _, fn := range fns {
			deliveries = append(deliveries, delivery{fn: fn, docs: docs})
		}
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.docs)
	}
}

// Doc returns the stored document for an id, if any.
func (m *MemStore) Doc(echoID string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[echoID]
	return d, ok
}

// SeedDoc inserts a document without counting as a client write.
func (m *MemStore) SeedDoc(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

// SeedActivities replaces the remote activity subcollection for an echo.
func (m *MemStore) SeedActivities(echoID string, acts []model.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acts[echoID] = append([]model.Activity(nil), acts...)
}

// Blob returns uploaded bytes by storage path.
func (m *MemStore) Blob(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[path]
	return b, ok
}

// RemoteWrites is the total number of write-type calls observed.
func (m *MemStore) RemoteWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PutEchoCalls + m.DeleteEchoCalls + m.UploadBlobCalls + m.DeleteBlobCalls + m.PutActCalls
}

func (m *MemStore) visibleToLocked(userID string) []Document {
	var out []Document
	for _, d := range m.docs {
		for _, p := range d.ParticipantIDs {
			if p == userID {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

var _ Store = (*MemStore)(nil)
