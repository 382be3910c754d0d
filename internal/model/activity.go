package model

import "time"

// ActivityType identifies what happened to an echo.
type ActivityType string

const (
	ActivityEchoCreated         ActivityType = "echo_created"
	ActivityMediaUploaded       ActivityType = "media_uploaded"
	ActivityCollaboratorAdded   ActivityType = "collaborator_added"
	ActivityCollaboratorRemoved ActivityType = "collaborator_removed"
	ActivityEchoLocked          ActivityType = "echo_locked"
	ActivityEchoUnlocked        ActivityType = "echo_unlocked"
)

// Activity is an immutable log entry describing something that
// happened to an echo. Append-only; never mutated, deleted only by
// cascade with the parent echo.
type Activity struct {
	ID           string       `json:"id"`
	EchoID       string       `json:"echoId"`
	Type         ActivityType `json:"type"`
	Description  string       `json:"description,omitempty"`
	UserID       string       `json:"userId"`
	UserName     string       `json:"userName,omitempty"`
	UserAvatar   string       `json:"userAvatar,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	MediaType    MediaType    `json:"mediaType,omitempty"`
	TargetUserID string       `json:"targetUserId,omitempty"`
}
