package fsevents

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher is the default Source, built on fsnotify.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	done   chan struct{}
}

// NewWatcher constructs an unstarted Watcher.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:    fsw,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}, nil
}

// Subscribe recursively watches root and begins forwarding translated
// events. The returned channel is closed on Unsubscribe.
func (w *Watcher) Subscribe(root string) (<-chan Event, error) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	go w.pump()

	return w.events, nil
}

// Unsubscribe stops the watcher and closes the event channel.
func (w *Watcher) Unsubscribe() error {
	close(w.done)
	err := w.fsw.Close()
	if err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	return nil
}

func (w *Watcher) pump() {
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			kind, ok := translateOp(ev.Op)
			if !ok {
				continue
			}

			// New directories must be watched too, so nested files raise
			// events. Best-effort: a failure here means events from that
			// subtree are not delivered.
			if kind == Created {
				if info, err := statIsDir(ev.Name); err == nil && info {
					_ = w.fsw.Add(ev.Name)
				}
			}

			select {
			case w.events <- Event{Path: ev.Name, Kind: kind, TS: time.Now()}:
			case <-w.done:
				return
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watcher errors are dropped here: they are neither logged
			// nor propagated to the subscriber.
		}
	}
}

func translateOp(op fsnotify.Op) (Kind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return Created, true
	case op&fsnotify.Write != 0:
		return Modified, true
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return Removed, true
	default:
		return "", false
	}
}

func statIsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
