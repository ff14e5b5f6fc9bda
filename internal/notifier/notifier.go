package notifier

import (
	"context"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// Notifier defines the interface for posting change notifications
type Notifier interface {
	// Notify posts notifications for the given change events
	Notify(ctx context.Context, changes []*project.ChangeEvent) error
}

// Filter returns the changes whose type is in types, keeping order. No types
// keeps everything.
func Filter(changes []*project.ChangeEvent, types ...project.ChangeType) []*project.ChangeEvent {
	if len(types) == 0 {
		return changes
	}
	keep := make(map[project.ChangeType]bool, len(types))
	for _, t := range types {
		keep[t] = true
	}

	var out []*project.ChangeEvent
	for _, c := range changes {
		if keep[c.ChangeType] {
			out = append(out, c)
		}
	}
	return out
}

// Limit caps changes at max; max <= 0 means no cap.
func Limit(changes []*project.ChangeEvent, max int) []*project.ChangeEvent {
	if max > 0 && len(changes) > max {
		return changes[:max]
	}
	return changes
}
