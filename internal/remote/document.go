// Package remote is the client side of the remote multi-writer
// document store: a request/response HTTP surface for writes and a
// websocket subscribe/snapshot channel for inbound changes. The sync
// bridge only sees the Store interface; the concrete transport and the
// in-memory fake both implement it.
package remote

import (
	"time"

	"github.com/echolabs/echosync/internal/model"
)

// Document is the remote wire shape of one echo. Timestamps travel as
// unix milliseconds. participantIds = {ownerId} ∪ collaboratorIds and
// exists solely so the remote store can scope subscriptions with a
// "participantIds contains userId" query.
type Document struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ImageURL        string   `json:"imageUrl"`
	Status          string   `json:"status"`
	IsPrivate       bool     `json:"isPrivate"`
	ShareMode       string   `json:"shareMode"`
	OwnerID         string   `json:"ownerId"`
	OwnerName       string   `json:"ownerName"`
	OwnerPhotoURL   string   `json:"ownerPhotoURL"`
	CollaboratorIDs []string `json:"collaboratorIds"`
	ParticipantIDs  []string `json:"participantIds"`
	LockDate        *int64   `json:"lockDate,omitempty"`
	UnlockDate      *int64   `json:"unlockDate,omitempty"`
	CreatedAt       int64    `json:"createdAt"`
	UpdatedAt       int64    `json:"updatedAt"`
}

// FromEcho builds the outbound document for an echo, deriving
// participantIds.
func FromEcho(e model.Echo) Document {
	return Document{
		ID:              e.ID,
		Title:           e.Title,
		Description:     e.Description,
		ImageURL:        e.ImageURL,
		Status:          string(e.Status),
		IsPrivate:       e.IsPrivate,
		ShareMode:       string(e.ShareMode),
		OwnerID:         e.OwnerID,
		OwnerName:       e.OwnerName,
		OwnerPhotoURL:   e.OwnerPhotoURL,
		CollaboratorIDs: append([]string(nil), e.CollaboratorIDs...),
		ParticipantIDs:  e.ParticipantIDs(),
		LockDate:        millisPtr(e.LockDate),
		UnlockDate:      millisPtr(e.UnlockDate),
		CreatedAt:       e.CreatedAt.UTC().UnixMilli(),
		UpdatedAt:       e.UpdatedAt.UTC().UnixMilli(),
	}
}

// ToEcho converts an inbound document to the local model. Media rows
// are device-local state and never travel in the document itself.
func (d Document) ToEcho() model.Echo {
	return model.Echo{
		ID:              d.ID,
		Title:           d.Title,
		Description:     d.Description,
		ImageURL:        d.ImageURL,
		Status:          model.EchoStatus(d.Status),
		IsPrivate:       d.IsPrivate,
		ShareMode:       model.ShareMode(d.ShareMode),
		OwnerID:         d.OwnerID,
		OwnerName:       d.OwnerName,
		OwnerPhotoURL:   d.OwnerPhotoURL,
		CollaboratorIDs: append([]string(nil), d.CollaboratorIDs...),
		LockDate:        timePtr(d.LockDate),
		UnlockDate:      timePtr(d.UnlockDate),
		CreatedAt:       time.UnixMilli(d.CreatedAt).UTC(),
		UpdatedAt:       time.UnixMilli(d.UpdatedAt).UTC(),
	}
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UTC().UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
