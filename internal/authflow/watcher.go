package authflow

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kitebot/internal/logger"
)

// Watcher reloads the stored credential when another process rewrites the
// primary file, for example a refresh run from a second terminal.
type Watcher struct {
	store    *CredentialStore
	onChange func(*Record)
	debounce time.Duration
}

func NewWatcher(store *CredentialStore, onChange func(*Record)) *Watcher {
	return &Watcher{store: store, onChange: onChange, debounce: 500 * time.Millisecond}
}

// Run blocks watching the credential directory until the context is
// cancelled. Events are debounced because an atomic save produces a
// create plus a rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	primary := w.store.PrimaryPath()
	// Watch the directory, not the file: rename-based saves replace the
	// inode and would silently detach a file watch.
	if err := fw.Add(filepath.Dir(primary)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Name != primary {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			rec, err := w.store.Load()
			if err != nil {
				logger.Warnf("credential changed on disk but reload failed: %v", err)
				continue
			}
			logger.Infof("credential file changed on disk, reloaded (user %s)", rec.UserID)
			if w.onChange != nil {
				w.onChange(rec)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("credential watcher error: %v", err)
		}
	}
}
