package model

import "time"

// MediaType distinguishes attachment kinds.
type MediaType string

const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// MediaUploadStatus tracks whether an attachment's bytes have reached
// the remote store.
type MediaUploadStatus string

const (
	// UploadPending means the bytes exist locally only.
	UploadPending MediaUploadStatus = "pending"
	// Uploaded means the remote store holds the bytes and URI is a
	// remote URL.
	Uploaded MediaUploadStatus = "uploaded"
)

// Media is one attachment belonging to exactly one echo.
//
// Created locally the instant a user stages an attachment; stays
// pending until the sync bridge uploads the bytes and records the
// remote reference; removed on explicit delete or by cascade with the
// parent echo.
type Media struct {
	ID     string
	EchoID string
	Type   MediaType

	// URI is a local cache path while pending, a remote URL once
	// uploaded. ThumbnailURI falls back to URI when absent.
	URI          string
	ThumbnailURI string

	// StoragePath is the remote store's blob path, recorded at upload
	// time so explicit removal can delete the remote bytes.
	StoragePath string

	Status    MediaUploadStatus
	CreatedAt time.Time

	UploadedBy         string
	UploadedByName     string
	UploadedByPhotoURL string
}

// DisplayURI returns the thumbnail when present, otherwise the media
// URI itself.
func (m Media) DisplayURI() string {
	if m.ThumbnailURI != "" {
		return m.ThumbnailURI
	}
	return m.URI
}
