package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// lockRegistry serializes in-process writers per record path. Cross-process
// safety relies on the atomic-replace property alone.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) forPath(path string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[path]
	if !ok {
		l = &sync.Mutex{}
		r.locks[path] = l
	}
	return l
}

const backupSuffix = ".bak"

// writeRecord persists v as JSON: marshal, snapshot the previous version as
// a backup, write to a temporary file, then atomically replace the target.
// No reader ever observes a partially written record.
func (r *lockRegistry) writeRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", path, err)
	}

	lock := r.forPath(path)
	lock.Lock()
	defer lock.Unlock()

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+backupSuffix, prev, 0o644); err != nil {
			return fmt.Errorf("snapshot backup for %s: %w", path, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace record %s: %w", path, err)
	}
	return nil
}

// readRecord loads a JSON record into v. A primary that fails to parse falls
// back to the last-known-good backup rather than failing outright; a missing
// primary is reported as fs.ErrNotExist.
func (r *lockRegistry) readRecord(path string, v any) error {
	lock := r.forPath(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("read record %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}

	backup, bakErr := os.ReadFile(path + backupSuffix)
	if bakErr != nil {
		return fmt.Errorf("record %s corrupt and no readable backup: %w", path, bakErr)
	}
	if err := json.Unmarshal(backup, v); err != nil {
		return fmt.Errorf("record %s corrupt, backup also corrupt: %w", path, err)
	}
	return nil
}
