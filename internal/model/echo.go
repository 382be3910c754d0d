package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// EchoStatus is the lifecycle state of an echo.
//
// Transitions are monotonic under normal operation:
// ongoing -> locked -> unlocked. The effective status is derived from
// LockDate/UnlockDate at read time (see internal/status); the stored
// Status field only matters when the owner set it explicitly.
type EchoStatus string

const (
	StatusOngoing  EchoStatus = "ongoing"
	StatusLocked   EchoStatus = "locked"
	StatusUnlocked EchoStatus = "unlocked"
)

// Valid reports whether s is one of the known lifecycle states.
func (s EchoStatus) Valid() bool {
	switch s {
	case StatusOngoing, StatusLocked, StatusUnlocked:
		return true
	}
	return false
}

// ShareMode governs whether an echo is eligible for remote sync.
type ShareMode string

const (
	ShareModePrivate ShareMode = "private"
	ShareModeShared  ShareMode = "shared"
)

// Echo is a shareable, time-boxed collection of media contributed by
// one or more users. It is the root entity of the local data model;
// Media, Collaborators and Activities hang off it and are
// cascade-deleted with it.
type Echo struct {
	ID          string
	Title       string
	Description string

	// ImageURL is the cover image. It starts as a local file reference
	// and is rewritten to a remote URL after upload; the rewrite is
	// itself a write that must be re-synced.
	ImageURL string

	// Status is the explicitly set lifecycle state. StatusSetAt records
	// when it was last set explicitly; the override wins over the
	// time-derived state until the next lock/unlock boundary crossing.
	Status      EchoStatus
	StatusSetAt *time.Time

	// IsPrivate == true means the echo is never pushed to the remote
	// store, regardless of ShareMode.
	IsPrivate bool
	ShareMode ShareMode

	OwnerID       string // immutable once created
	OwnerName     string
	OwnerPhotoURL string

	// CollaboratorIDs is a set (kept sorted for deterministic output).
	// Union-merged on sync; removals go through a pending op so a stale
	// remote snapshot cannot resurrect a removed id.
	CollaboratorIDs []string

	LockDate   *time.Time
	UnlockDate *time.Time

	CreatedAt time.Time // immutable
	UpdatedAt time.Time // bumped on every local or merged-remote write

	Media []Media
}

// NewID returns a fresh opaque echo identifier. IDs are never reused.
func NewID() string {
	return uuid.NewString()
}

// Shareable reports whether the echo is eligible for remote sync.
// A private echo is never shareable, whatever its share mode says.
func (e *Echo) Shareable() bool {
	return !e.IsPrivate && e.ShareMode == ShareModeShared
}

// ParticipantIDs returns {OwnerID} ∪ CollaboratorIDs, sorted.
// Maintained solely so the remote store can answer
// "participantIds contains userId" queries.
func (e *Echo) ParticipantIDs() []string {
	seen := make(map[string]bool, len(e.CollaboratorIDs)+1)
	out := make([]string, 0, len(e.CollaboratorIDs)+1)
	if e.OwnerID != "" {
		seen[e.OwnerID] = true
		out = append(out, e.OwnerID)
	}
	for _, id := range e.CollaboratorIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasCollaborator reports whether userID is in the collaborator set.
func (e *Echo) HasCollaborator(userID string) bool {
	for _, id := range e.CollaboratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddCollaboratorID adds userID to the set. Returns false if it was
// already present.
func (e *Echo) AddCollaboratorID(userID string) bool {
	if userID == "" || e.HasCollaborator(userID) {
		return false
	}
	e.CollaboratorIDs = append(e.CollaboratorIDs, userID)
	sort.Strings(e.CollaboratorIDs)
	return true
}

// RemoveCollaboratorID removes userID from the set. Returns false if it
// was not present.
func (e *Echo) RemoveCollaboratorID(userID string) bool {
	for i, id := range e.CollaboratorIDs {
		if id == userID {
			e.CollaboratorIDs = append(e.CollaboratorIDs[:i], e.CollaboratorIDs[i+1:]...)
			return true
		}
	}
	return false
}

// MediaByID returns the media entry with the given id, if present.
func (e *Echo) MediaByID(mediaID string) (Media, bool) {
	for _, m := range e.Media {
		if m.ID == mediaID {
			return m, true
		}
	}
	return Media{}, false
}

// Clone returns a deep copy. The repository hands clones to callers so
// cached entities are only ever mutated through the repository itself.
func (e *Echo) Clone() Echo {
	out := *e
	if e.StatusSetAt != nil {
		t := *e.StatusSetAt
		out.StatusSetAt = &t
	}
	if e.LockDate != nil {
		t := *e.LockDate
		out.LockDate = &t
	}
	if e.UnlockDate != nil {
		t := *e.UnlockDate
		out.UnlockDate = &t
	}
	if e.CollaboratorIDs != nil {
		out.CollaboratorIDs = append([]string(nil), e.CollaboratorIDs...)
	}
	if e.Media != nil {
		out.Media = append([]Media(nil), e.Media...)
	}
	return out
}

// EchoPatch is a partial update applied by Repository.Update.
// Nil fields are left untouched.
type EchoPatch struct {
	Title       *string
	Description *string
	ImageURL    *string
	LockDate    *time.Time
	UnlockDate  *time.Time
	ShareMode   *ShareMode
}
