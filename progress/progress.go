// Package progress carries progress events from long-running image
// operations to their callers.
package progress

// Tracker receives progress events. Implementations must be safe for
// concurrent use, events may arrive from multiple goroutines.
type Tracker interface {
	OnEvent(any)
}

// NewTracker adapts a typed callback into a Tracker. The interface stays
// non-generic so it can appear in other interfaces without infecting them
// with a type parameter.
func NewTracker[E any](fn func(E)) Tracker {
	return trackerFunc(func(v any) { fn(v.(E)) })
}

type trackerFunc func(any)

func (f trackerFunc) OnEvent(e any) { f(e) }

// Nop discards all events.
var Nop Tracker = trackerFunc(func(any) {})
