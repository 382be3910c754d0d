package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies which kind of entity a pending op refers to.
type EntityType string

const (
	EntityEcho     EntityType = "echo"
	EntityMedia    EntityType = "media"
	EntityActivity EntityType = "activity"
)

// OpAction identifies the mutation a pending op records.
type OpAction string

const (
	OpCreate      OpAction = "create"
	OpUpdate      OpAction = "update"
	OpDelete      OpAction = "delete"
	OpAddMedia    OpAction = "add_media"
	OpDeleteMedia OpAction = "delete_media"
	OpActivity    OpAction = "activity"
)

// PendingOp is an append-only record of one not-yet-confirmed
// mutation. For a given (entityType, entityId) ops are replayed in
// CreatedAt order; a confirmed remote application clears all ops for
// that entity id because later ops already incorporate earlier state.
type PendingOp struct {
	ID         int64
	EntityType EntityType
	EntityID   string
	Action     OpAction
	Payload    []byte
	CreatedAt  time.Time
	RetryCount int
}

// UpdatePayload carries the arguments of an echo update op. Collaborator
// removals ride along here: reconciliation must keep excluding a removed
// id from the union merge until the op is cleared, so the removed ids
// are part of the durable record.
type UpdatePayload struct {
	RemovedCollaboratorIDs []string `json:"removedCollaboratorIds,omitempty"`
	AddedCollaboratorIDs   []string `json:"addedCollaboratorIds,omitempty"`
	Fields                 []string `json:"fields,omitempty"`
}

// MediaPayload carries the arguments of add_media / delete_media ops.
type MediaPayload struct {
	MediaID     string `json:"mediaId"`
	EchoID      string `json:"echoId"`
	StoragePath string `json:"storagePath,omitempty"`
}

// EncodePayload serializes an op payload. A payload that cannot be
// marshalled is a programming error, not a runtime condition.
func EncodePayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode op payload: %v", err))
	}
	return b
}

// DecodeUpdatePayload parses an update op payload. Returns the zero
// payload for empty or malformed input; a half-readable op must not
// stall replay.
func DecodeUpdatePayload(raw []byte) UpdatePayload {
	var p UpdatePayload
	if len(raw) == 0 {
		return p
	}
	_ = json.Unmarshal(raw, &p)
	return p
}

// DecodeMediaPayload parses an add_media / delete_media op payload.
func DecodeMediaPayload(raw []byte) MediaPayload {
	var p MediaPayload
	if len(raw) == 0 {
		return p
	}
	_ = json.Unmarshal(raw, &p)
	return p
}
