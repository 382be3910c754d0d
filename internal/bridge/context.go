package bridge

import (
	"context"
	"fmt"

	"github.com/echolabs/echosync/internal/remote"
	"github.com/echolabs/echosync/internal/repo"
	"github.com/echolabs/echosync/internal/status"
	"github.com/echolabs/echosync/internal/store"
)

// SyncContext owns the engine's component graph: local store,
// repository, and bridge, wired explicitly at construction. Nothing is
// resolved through a global registry; tests build the same graph with
// fakes.
type SyncContext struct {
	store  *store.Store
	repo   *repo.Repository
	bridge *Bridge
}

// NewSyncContext opens (or reuses) the store at storePath, warms the
// repository cache, and attaches a bridge backed by rs. A nil rs
// builds an offline-only context: local writes still enqueue pending
// ops, and a later context with a live remote will flush them.
func NewSyncContext(ctx context.Context, storePath string, rs remote.Store, clock status.Clock) (*SyncContext, error) {
	st, err := store.OpenOrCreate(storePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	r, err := repo.New(ctx, st, clock)
	if err != nil {
		return nil, fmt.Errorf("build repository: %w", err)
	}

	sc := &SyncContext{store: st, repo: r}
	if rs != nil {
		sc.bridge = New(r, rs, clock)
		r.SetPusher(sc.bridge)
	}
	return sc, nil
}

// Repo returns the entity repository.
func (sc *SyncContext) Repo() *repo.Repository { return sc.repo }

// Bridge returns the sync bridge, nil for an offline-only context.
func (sc *SyncContext) Bridge() *Bridge { return sc.bridge }

// Store returns the local store.
func (sc *SyncContext) Store() *store.Store { return sc.store }

// Start brings the context online for userID: flushes the pending-op
// backlog, then opens the snapshot subscription. A flush failure is
// returned but does not prevent the subscription; inbound sync is
// still worth having while outbound retries wait.
func (sc *SyncContext) Start(ctx context.Context, userID string) error {
	if sc.bridge == nil {
		return nil
	}
	flushErr := sc.bridge.Flush(ctx)
	if err := sc.bridge.Subscribe(ctx, userID); err != nil {
		return err
	}
	return flushErr
}

// Dispose tears down subscriptions and detaches the bridge from the
// repository. The store handle stays open for the process lifetime.
func (sc *SyncContext) Dispose() {
	if sc.bridge != nil {
		sc.bridge.Dispose()
	}
	sc.repo.SetPusher(nil)
}
