// Package fsevents defines the raw filesystem-event source and ignore
// matcher as consumed interfaces (spec.md §6, §9: "the core depends on a
// single capability set... implementations are chosen at startup and
// injected"), plus the default concrete implementations: a
// github.com/fsnotify/fsnotify-backed Watcher (used the same way in the
// pack's steveyegge-beads and hazyhaar-GoClode snippets) and an
// github.com/sabhiram/go-gitignore-backed IgnoreMatcher (used the same way
// in the pack's cuemby-warren manifest).
package fsevents

import "time"

// Kind identifies what happened to a path.
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Removed  Kind = "removed"
)

// Event is one raw filesystem change notification.
type Event struct {
	Path string
	Kind Kind
	TS   time.Time
}

// Source is the consumed raw event source interface (spec.md §9):
// subscribe(root), stream() -> events, unsubscribe. Delivery is
// best-effort; duplicate or out-of-order events within a micro-window must
// be tolerated by the consumer (the Pipeline's flush-time re-read is
// authoritative).
type Source interface {
	// Subscribe starts watching root and returns a channel of events. The
	// channel is closed when Unsubscribe is called or the source
	// encounters a fatal error.
	Subscribe(root string) (<-chan Event, error)

	// Unsubscribe stops watching and releases any OS resources.
	Unsubscribe() error
}

// Matcher is the consumed ignore-rule interface (spec.md §6): the core
// treats it as opaque.
type Matcher interface {
	Matches(path string) bool
}
