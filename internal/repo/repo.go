// Package repo is the Local Entity Repository: an in-memory cache plus
// CRUD façade over the local store. It is the single writer; nothing
// else mutates cached entities. Reads are synchronous over the cache;
// writes mutate the cache and store, enqueue pending ops for shareable
// entities, and push through the sync bridge when one is attached.
//
// Local durability is never contingent on network success: a failed
// remote push leaves the cache and store consistent and the pending op
// queued for the next flush.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/status"
	"github.com/echolabs/echosync/internal/store"
)

// Pusher is the outbound half of the sync bridge as the repository
// sees it. Push is a no-op for non-shareable echoes and returns the
// echo with any server-rewritten fields (e.g. imageUrl) applied.
type Pusher interface {
	Push(ctx context.Context, e model.Echo) (model.Echo, error)
	Remove(ctx context.Context, echoID string) error
}

// Listener is notified after repository state changes. Local writes
// notify once per mutation; the sync bridge notifies once per
// reconciled snapshot batch.
type Listener func()

// Repository is the single-writer cache + store façade.
type Repository struct {
	mu    sync.RWMutex
	store *store.Store
	clock status.Clock

	pusher Pusher // nil while offline-only

	echoes map[string]*model.Echo

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextToken  int
}

// New builds a repository and warms its cache from the store.
func New(ctx context.Context, st *store.Store, clock status.Clock) (*Repository, error) {
	if clock == nil {
		clock = status.SystemClock{}
	}
	echoes, err := st.LoadEchoes(ctx)
	if err != nil {
		return nil, fmt.Errorf("warm cache: %w", err)
	}

	cache := make(map[string]*model.Echo, len(echoes))
	for i := range echoes {
		e := echoes[i]
		cache[e.ID] = &e
	}

	return &Repository{
		store:     st,
		clock:     clock,
		echoes:    cache,
		listeners: map[int]Listener{},
	}, nil
}

// SetPusher attaches the sync bridge's outbound path. Passing nil
// detaches it (sign-out, tests).
func (r *Repository) SetPusher(p Pusher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pusher = p
}

// Store exposes the underlying local store for components that read
// sync bookkeeping (pending ops) directly.
func (r *Repository) Store() *store.Store {
	return r.store
}

// GetAll returns all cached echoes, newest first.
func (r *Repository) GetAll() []model.Echo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Echo, 0, len(r.echoes))
	for _, e := range r.echoes {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetByID returns the cached echo, or ok=false for an unknown id.
// Absence is a normal outcome: the entity may have been deleted
// concurrently.
func (r *Repository) GetByID(id string) (model.Echo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.echoes[id]
	if !ok {
		return model.Echo{}, false
	}
	return e.Clone(), true
}

// GetByStatus returns echoes whose effective lifecycle state matches,
// evaluated against the current clock.
func (r *Repository) GetByStatus(s model.EchoStatus) []model.Echo {
	now := r.clock.Now()
	all := r.GetAll()
	out := all[:0]
	for _, e := range all {
		if status.Effective(e, now) == s {
			out = append(out, e)
		}
	}
	return out
}

// GetUserEchoes returns echoes the user owns or collaborates on.
func (r *Repository) GetUserEchoes(userID string) []model.Echo {
	all := r.GetAll()
	out := all[:0]
	for _, e := range all {
		if e.OwnerID == userID || e.HasCollaborator(userID) {
			out = append(out, e)
		}
	}
	return out
}

// EffectiveStatus evaluates the echo's lifecycle state right now.
func (r *Repository) EffectiveStatus(id string) (model.EchoStatus, bool) {
	e, ok := r.GetByID(id)
	if !ok {
		return "", false
	}
	return status.Effective(e, r.clock.Now()), true
}

// Subscribe registers a change listener and returns its unsubscribe.
func (r *Repository) Subscribe(l Listener) func() {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()

	token := r.nextToken
	r.nextToken++
	r.listeners[token] = l
	return func() {
		r.listenerMu.Lock()
		defer r.listenerMu.Unlock()
		delete(r.listeners, token)
	}
}

// Notify invokes every registered listener once. The sync bridge calls
// this after applying a whole snapshot batch so the UI re-renders once
// per snapshot, not once per echo.
func (r *Repository) Notify() {
	r.listenerMu.Lock()
	fns := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		fns = append(fns, l)
	}
	r.listenerMu.Unlock()

	for _, l := range fns {
		l()
	}
}

// persist writes an echo to the store. Store failures for non-schema
// operations are recoverable-local: the cache remains the source of
// truth for the session, so we log and continue.
func (r *Repository) persist(ctx context.Context, e model.Echo) {
	if err := r.store.UpsertEcho(ctx, e); err != nil {
		slog.Error("persist echo failed, cache retains the write", "echo", e.ID, "err", err)
	}
}

// enqueue appends a pending op, best-effort. Losing a pending-op
// record degrades sync; it must not fail the caller's mutation.
func (r *Repository) enqueue(ctx context.Context, entityType model.EntityType, entityID string, action model.OpAction, payload []byte) {
	if err := r.store.EnqueueOp(ctx, entityType, entityID, action, payload, r.clock.Now()); err != nil {
		slog.Error("enqueue pending op failed", "entity", entityID, "action", action, "err", err)
	}
}
