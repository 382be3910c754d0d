// Package activity turns the raw activity log into display-ready
// grouped units. Aggregation is a pure function: no I/O, no mutation
// of the input, same input always yields the same output.
package activity

import (
	"sort"
	"time"

	"github.com/echolabs/echosync/internal/model"
)

// DefaultWindow is the gap within which consecutive media uploads by
// the same actor on the same echo collapse into one displayed entry.
const DefaultWindow = 2 * time.Minute

// Group is one display unit. For collapsed upload bursts, Activity is
// the most recent entry of the burst and MemoryCount is the burst
// size; for everything else MemoryCount is 1.
type Group struct {
	Activity    model.Activity `json:"activity"`
	MemoryCount int            `json:"memoryCount"`
}

// Option configures aggregation.
type Option func(*options)

type options struct {
	window time.Duration
}

// WithWindow overrides the burst-collapse window.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// Aggregate sorts the log newest-first and walks it once, collapsing
// runs of media_uploaded activities for the same echo and same actor
// where each consecutive pair is within the window. Any other activity
// type, a different echo or actor, or a gap exceeding the window
// starts a new group. The input slice is not modified.
func Aggregate(acts []model.Activity, opts ...Option) []Group {
	o := options{window: DefaultWindow}
	for _, opt := range opts {
		opt(&o)
	}

	sorted := append([]model.Activity(nil), acts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID // deterministic tie-break
	})

	groups := make([]Group, 0, len(sorted))
	var prev *model.Activity // previous (older end of) current group
	for i := range sorted {
		a := sorted[i]
		if prev != nil && collapses(*prev, a, o.window) {
			groups[len(groups)-1].MemoryCount++
			prev = &sorted[i]
			continue
		}
		groups = append(groups, Group{Activity: a, MemoryCount: 1})
		prev = &sorted[i]
	}
	return groups
}

// collapses reports whether a continues the burst ending at prev. The
// walk is newest-first, so a is the older of the two.
func collapses(prev, a model.Activity, window time.Duration) bool {
	if a.Type != model.ActivityMediaUploaded || prev.Type != model.ActivityMediaUploaded {
		return false
	}
	if a.EchoID != prev.EchoID || a.UserID != prev.UserID {
		return false
	}
	return prev.Timestamp.Sub(a.Timestamp) <= window
}
