package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShareable(t *testing.T) {
	tests := []struct {
		name      string
		isPrivate bool
		shareMode ShareMode
		want      bool
	}{
		{"shared and not private", false, ShareModeShared, true},
		{"private overrides shared mode", true, ShareModeShared, false},
		{"private mode", false, ShareModePrivate, false},
		{"private both ways", true, ShareModePrivate, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Echo{IsPrivate: tt.isPrivate, ShareMode: tt.shareMode}
			assert.Equal(t, tt.want, e.Shareable())
		})
	}
}

func TestParticipantIDs(t *testing.T) {
	e := Echo{OwnerID: "user-b", CollaboratorIDs: []string{"user-c", "user-a", "user-b"}}
	assert.Equal(t, []string{"user-a", "user-b", "user-c"}, e.ParticipantIDs(),
		"owner unioned with collaborators, deduped, sorted")

	empty := Echo{}
	assert.Empty(t, empty.ParticipantIDs())
}

func TestCollaboratorSet(t *testing.T) {
	e := Echo{}
	assert.True(t, e.AddCollaboratorID("user-c"))
	assert.True(t, e.AddCollaboratorID("user-a"))
	assert.False(t, e.AddCollaboratorID("user-a"), "duplicate add is a no-op")
	assert.False(t, e.AddCollaboratorID(""), "empty id rejected")
	assert.Equal(t, []string{"user-a", "user-c"}, e.CollaboratorIDs)

	assert.True(t, e.RemoveCollaboratorID("user-c"))
	assert.False(t, e.RemoveCollaboratorID("user-c"))
	assert.Equal(t, []string{"user-a"}, e.CollaboratorIDs)
}

func TestClone_IsDeep(t *testing.T) {
	lock := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	e := Echo{
		ID:              "echo-1",
		LockDate:        &lock,
		CollaboratorIDs: []string{"user-b"},
		Media:           []Media{{ID: "media-1"}},
	}

	c := e.Clone()
	*c.LockDate = c.LockDate.Add(time.Hour)
	c.CollaboratorIDs[0] = "mutated"
	c.Media[0].ID = "mutated"

	assert.True(t, e.LockDate.Equal(lock))
	assert.Equal(t, "user-b", e.CollaboratorIDs[0])
	assert.Equal(t, "media-1", e.Media[0].ID)
}

func TestNormalizeFriend(t *testing.T) {
	// Decomposed é (e + combining accent) normalizes to the composed
	// form, so the same profile dedups to one row.
	decomposed := "Rémy"
	f := NormalizeFriend(Friend{DisplayName: "  " + decomposed + "  ", Username: decomposed})
	assert.Equal(t, "Rémy", f.DisplayName)
	assert.Equal(t, "Rémy", f.Username)
}

func TestMediaDisplayURI(t *testing.T) {
	m := Media{URI: "file:///cache/full.jpg"}
	assert.Equal(t, "file:///cache/full.jpg", m.DisplayURI())

	m.ThumbnailURI = "file:///cache/thumb.jpg"
	assert.Equal(t, "file:///cache/thumb.jpg", m.DisplayURI())
}
