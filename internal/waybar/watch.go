package waybar

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/waybar-pulse/internal/logger"
)

// settleDelay coalesces the burst of events one SQLite commit produces
const settleDelay = 250 * time.Millisecond

// Watch emits an entry right away, after every change to the snapshot
// database at dbPath and at each entry's NextUpdate, until ctx is done or
// emit fails.
func Watch(ctx context.Context, provider *Provider, dbPath string, emit func(Entry) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched so WAL and journal files are seen too
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	render := func() (time.Duration, error) {
		now := time.Now()
		entry := provider.Entry(now)
		if err := emit(entry); err != nil {
			return 0, err
		}
		return entry.NextUpdate.Sub(now), nil
	}

	wait, err := render()
	if err != nil {
		return err
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	rerender := func() error {
		wait, err := render()
		if err != nil {
			return err
		}
		deadline.Reset(wait)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				settle.Reset(settleDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Snapshot watcher error", "error", err)
		case <-settle.C:
			if err := rerender(); err != nil {
				return err
			}
		case <-deadline.C:
			if err := rerender(); err != nil {
				return err
			}
		}
	}
}
