package source

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/fetcher"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Watch calls onChange whenever one of the local files in paths is
// written, created, renamed or removed, until ctx is done. URLs are
// ignored. Parent directories are watched so that files replaced by rename
// keep being tracked. Events within debounce of each other trigger one
// call.
func Watch(ctx context.Context, paths []string, debounce time.Duration, onChange func(path string)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" || fetcher.IsURL(p) {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return eris.Wrapf(err, "source: resolve %s", p)
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	if len(targets) == 0 {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "source: create watcher")
	}
	defer w.Close() //nolint:errcheck

	for d := range dirs {
		if err := w.Add(d); err != nil {
			return eris.Wrapf(err, "source: watch %s", d)
		}
	}

	log := zap.L().With(zap.String("component", "watch"))
	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || !targets[name] || ev.Op == fsnotify.Chmod {
				continue
			}
			log.Debug("source: file event", zap.String("path", name), zap.String("op", ev.Op.String()))
			pending[name] = true
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("source: watcher error", zap.Error(err))
		case <-timer.C:
			for p := range pending {
				onChange(p)
			}
			clear(pending)
		}
	}
}
