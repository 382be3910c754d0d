package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Friend is a locally cached, denormalized projection of another
// user's public profile. Refreshed opportunistically; a stale snapshot
// is acceptable.
type Friend struct {
	ID          string
	DisplayName string
	Username    string
	PhotoURL    string
	Bio         string
	UpdatedAt   time.Time
}

// NormalizeFriend NFC-normalizes the user-entered name fields so that
// the same profile synced from different platforms dedups to one row.
// Composed and decomposed accents otherwise produce distinct keys.
func NormalizeFriend(f Friend) Friend {
	f.DisplayName = norm.NFC.String(strings.TrimSpace(f.DisplayName))
	f.Username = norm.NFC.String(strings.TrimSpace(f.Username))
	return f
}
