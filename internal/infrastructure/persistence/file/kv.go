// Package file provides a durable key-value backend on the local filesystem.
// Each key lives in its own file under a state directory. Writes use the
// temp-file-then-rename pattern so a crash mid-write leaves either the old
// value or the new one, never a torn file. The directory is synced after the
// rename, so an acknowledged Put survives a power loss.
package file

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	appDirName = "study-timer"
	fileSuffix = ".snapshot"
)

// KV stores values as files in a directory.
type KV struct {
	mu  sync.Mutex
	dir string
}

// NewKV creates a file store rooted at dir. The directory is created on the
// first Put. Pass an empty string to use the default XDG state path.
func NewKV(dir string) *KV {
	if dir == "" {
		dir = DefaultDir()
	}
	return &KV{dir: dir}
}

// Dir returns the state directory.
func (s *KV) Dir() string {
	return s.dir
}

// Path returns the file that holds key. Keys are hex-encoded so any key is a
// valid file name.
func (s *KV) Path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+fileSuffix)
}

// Put writes value atomically.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(key)); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	committed = true

	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("syncing state dir: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry so the rename survives a power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Get reads the value for key.
func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading snapshot file: %w", err)
	}
	return data, true, nil
}

// Delete removes the file for key. A missing file is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot file: %w", err)
	}
	return nil
}

// DefaultDir returns ~/.local/state/study-timer, respecting XDG_STATE_HOME
// if set.
func DefaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
