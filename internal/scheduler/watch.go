package scheduler

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/util"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 2 * time.Second

// watcher fires onChange once filesystem events under root have been quiet
// for the debounce period. New directories are watched as they appear.
//
// Events during the scheduler's own sweep, and for one debounce period after
// it, are the sweep's writes echoing back and do not trigger another sweep.
type watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	onChange func()

	mu         gosync.Mutex
	timer      *time.Timer
	sweeping   int
	quietUntil time.Time
}

func newWatcher(root string, debounce time.Duration, onChange func()) (*watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{fs: fw, debounce: debounce, onChange: onChange}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and every directory below it.
func (w *watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			logging.Debug("watcher: failed to watch directory", logging.Path(path), logging.Err(err))
		}
		return nil
	})
}

func (w *watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Debug("watcher error", logging.Err(err))
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	// Our own in-flight downloads would otherwise retrigger a sweep.
	if util.IsTempFile(filepath.Base(event.Name)) {
		return
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logging.Debug("watcher: failed to watch new directory", logging.Path(event.Name), logging.Err(err))
			}
		}
	}
	w.schedule()
}

// sweepStarted mutes events until the matching sweepEnded plus one debounce period.
func (w *watcher) sweepStarted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweeping++
	// The sweep picks up whatever was pending.
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *watcher) sweepEnded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweeping--
	w.quietUntil = time.Now().Add(w.debounce)
}

func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sweeping > 0 || time.Now().Before(w.quietUntil) {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *watcher) Close() error {
	w.stop()
	return w.fs.Close()
}
