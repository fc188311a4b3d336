package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultPollInterval backs up filesystem notifications. Atomic renames are
// delivered as create events on most platforms, but the ticker guarantees
// forward progress even where they are not.
const defaultPollInterval = time.Second

// LoadLedger reads a progress ledger from disk. A missing file returns
// fs.ErrNotExist; a torn read mid-rename is reported as an error the caller
// should retry.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse progress ledger %s: %w", path, err)
	}
	return &l, nil
}

// LoadSummary reads the lightweight view of a ledger.
func LoadSummary(path string) (*Summary, error) {
	l, err := LoadLedger(path)
	if err != nil {
		return nil, err
	}
	s := summaryOf(*l)
	return &s, nil
}

// WaitForCompletion blocks until the ledger at path reaches a terminal
// status, invoking callback (if non-nil) with each observed update. It
// watches the ledger's directory for changes and polls as a fallback.
// Returns the final ledger, or ctx.Err() on cancellation.
func WaitForCompletion(ctx context.Context, path string, callback func(Ledger)) (*Ledger, error) {
	check := func() (*Ledger, bool) {
		l, err := LoadLedger(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Debug("progress ledger read failed, will retry", "path", path, "error", err)
			}
			return nil, false
		}
		if callback != nil {
			callback(*l)
		}
		return l, l.Status.Terminal()
	}

	if l, done := check(); done {
		return l, nil
	}

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		// Watch the directory, not the file: the atomic rename replaces the
		// inode, which would silently detach a per-file watch.
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev := <-events:
			if ev.Name != path {
				continue
			}
			if l, done := check(); done {
				return l, nil
			}
		case <-ticker.C:
			if l, done := check(); done {
				return l, nil
			}
		}
	}
}
