package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher recompiles the knowledge base whenever its source file changes and
// publishes the result through a Holder. Load or compile failures keep the
// previous snapshot in place.
type Watcher struct {
	path     string
	holder   *Holder
	logger   zerolog.Logger
	debounce time.Duration
	notify   func(*Base, error)
}

// NewWatcher creates a watcher for the knowledge-base file at path.
func NewWatcher(path string, holder *Holder, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		holder:   holder,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// Notify registers a callback invoked after every reload attempt: with the
// new snapshot on success, with the error otherwise. Used to feed reload
// counters and gauges. Must be called before Run.
func (w *Watcher) Notify(fn func(*Base, error)) *Watcher {
	w.notify = fn
	return w
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file itself so that editors and atomic writers that replace the
// file are still observed. Bursts of events are debounced into one reload.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	name := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("knowledge base watch error")
		case <-fire:
			timer = nil
			fire = nil
			w.Reload()
		}
	}
}

// Reload loads and compiles the source file, swapping the holder on success.
// On failure the previous snapshot stays published.
func (w *Watcher) Reload() {
	rows, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("knowledge base reload failed")
		w.notifyResult(nil, err)
		return
	}
	b, err := Compile(rows)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("knowledge base compile failed")
		w.notifyResult(nil, err)
		return
	}

	w.holder.Swap(b)
	w.logger.Info().
		Str("path", w.path).
		Str("fingerprint", b.Fingerprint()).
		Int("diseases", b.Len()).
		Msg("knowledge base reloaded")
	w.notifyResult(b, nil)
}

func (w *Watcher) notifyResult(b *Base, err error) {
	if w.notify != nil {
		w.notify(b, err)
	}
}
