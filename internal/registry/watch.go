package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"llamachat/internal/acquire"
	"llamachat/internal/common/fsutil"
)

// DefaultDebounce is how long Watch waits for directory events to settle.
const DefaultDebounce = 250 * time.Millisecond

// ErrNotWatchable is returned by Watch for sources that are not local folders.
var ErrNotWatchable = errors.New("source is not a local folder")

// Watch re-resolves source whenever model files are created, removed or
// renamed in it and passes the result to fn once events settle. It blocks
// until ctx is done or the watcher fails.
func (r *DirResolver) Watch(ctx context.Context, source string, debounce time.Duration, fn func([]acquire.Descriptor, error)) error {
	loc := acquire.ParseLocator(source)
	if loc.Kind != acquire.LocatorGranted {
		return ErrNotWatchable
	}
	dir, err := fsutil.AbsDir(loc.Ref)
	if err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		case <-fire:
			fire = nil
			fn(r.Resolve(source))
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !IsModelFile(filepath.Base(ev.Name)) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
