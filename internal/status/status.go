// Package status computes an echo's effective lifecycle state from its
// lock/unlock instants without any background timer: derivation happens
// at read time, so the state machine advances correctly even when the
// device was offline (or asleep) across a boundary.
package status

import (
	"time"

	"github.com/echolabs/echosync/internal/model"
)

// Clock supplies wall-clock time. The production implementation is
// SystemClock; tests substitute a fixed clock to cross lock/unlock
// boundaries deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Derived computes the time-derived state: unlocked once now reaches
// UnlockDate, locked once now reaches LockDate, ongoing otherwise.
// Transitions are monotonic because the dates themselves are ordered
// (UnlockDate >= LockDate when both are present).
func Derived(lockDate, unlockDate *time.Time, now time.Time) model.EchoStatus {
	if unlockDate != nil && !now.Before(*unlockDate) {
		return model.StatusUnlocked
	}
	if lockDate != nil && !now.Before(*lockDate) {
		return model.StatusLocked
	}
	return model.StatusOngoing
}

// Effective returns the state callers should display and act on.
//
// An explicit status set by the owner (recorded via StatusSetAt) takes
// precedence over the derived value, but only until wall-clock time
// crosses the next lock/unlock boundary. After a boundary crossing the
// derived value resumes: a user-forced "ongoing" cannot permanently
// suppress an unlock date.
func Effective(e model.Echo, now time.Time) model.EchoStatus {
	if e.StatusSetAt != nil && e.Status.Valid() && !boundaryBetween(e, *e.StatusSetAt, now) {
		return e.Status
	}
	return Derived(e.LockDate, e.UnlockDate, now)
}

// boundaryBetween reports whether a lock or unlock instant lies in
// (since, now]. Boundaries at or before the override instant were
// already in effect when the override was set and do not clear it.
func boundaryBetween(e model.Echo, since, now time.Time) bool {
	for _, b := range []*time.Time{e.LockDate, e.UnlockDate} {
		if b == nil {
			continue
		}
		if b.After(since) && !b.After(now) {
			return true
		}
	}
	return false
}

// Progress returns the display progress through the lock window as a
// fraction in [0, 1]. The window starts at LockDate when present,
// otherwise at CreatedAt, and ends at UnlockDate. Without an unlock
// date there is no window and progress is 0.
func Progress(e model.Echo, now time.Time) float64 {
	if e.UnlockDate == nil {
		return 0
	}
	start := e.CreatedAt
	if e.LockDate != nil {
		start = *e.LockDate
	}
	total := e.UnlockDate.Sub(start)
	if total <= 0 {
		return 0
	}
	return clamp01(float64(now.Sub(start)) / float64(total))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
