package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce collapses bursts of write events from editors. Zero uses 250ms.
	Debounce time.Duration
	// OnChange receives each successfully reloaded configuration.
	OnChange func(*Config)
	// OnError receives reload and watcher failures. The previous configuration
	// stays in effect.
	OnError func(error)
}

// Watch reloads the configuration file at path whenever it changes and
// reports the result through opts. The parent directory is watched so that
// atomic replace-by-rename saves are seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, opts WatchOptions) error {
	if path == "" {
		return fmt.Errorf("watch config: path is required")
	}
	target, err := expandPath(path)
	if err != nil {
		return err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerCh = timer.C
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if opts.OnError != nil {
				opts.OnError(fmt.Errorf("watch config: %w", werr))
			}
		case <-timerCh:
			timerCh = nil
			cfg, _, exists, err := Load(target)
			switch {
			case err != nil:
				if opts.OnError != nil {
					opts.OnError(err)
				}
			case !exists:
				// removed; keep the running configuration
			case opts.OnChange != nil:
				opts.OnChange(cfg)
			}
		}
	}
}
