package fileio

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Refresher is implemented by Workspace and ParsedWorkspace.
type Refresher interface {
	Path() string
	Refresh() error
}

// Watch refreshes ws whenever its directory changes and reports each
// refresh to onChange. Bursts of events closer than debounce are folded
// into one refresh. Watch blocks until ctx is done.
func Watch(ctx context.Context, ws Refresher, debounce time.Duration, onChange func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(ws.Path()); err != nil {
		return fmt.Errorf("watching %s: %w", ws.Path(), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			onChange(ws.Refresh())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onChange(fmt.Errorf("watcher: %w", err))
		}
	}
}
