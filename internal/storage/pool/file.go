package pool

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
)

// FileBackend stores each record as a file under base/folder/key. Writes
// go through a temp file plus rename so a crash never leaves a partial
// record behind.
type FileBackend struct {
	base string
	open int64 // atomic flag for open state
}

// NewFileBackend creates a file backend rooted at the configured base folder.
func NewFileBackend(cfg *Config) (Backend, error) {
	if cfg == nil || cfg.BaseFolder == "" {
		return nil, errors.New("file backend requires a base folder")
	}
	return &FileBackend{base: cfg.BaseFolder}, nil
}

// Name returns the name of this backend.
func (f *FileBackend) Name() string {
	return "file"
}

// Open creates the base folder if needed.
func (f *FileBackend) Open() error {
	if !atomic.CompareAndSwapInt64(&f.open, 0, 1) {
		return ErrBackendClosed
	}
	if err := os.MkdirAll(f.base, 0o755); err != nil {
		atomic.StoreInt64(&f.open, 0)
		return err
	}
	return nil
}

// Close marks the backend closed. Files on disk are left untouched.
func (f *FileBackend) Close() error {
	atomic.CompareAndSwapInt64(&f.open, 1, 0)
	return nil
}

// IsOpen reports whether the backend is currently open.
func (f *FileBackend) IsOpen() bool {
	return atomic.LoadInt64(&f.open) != 0
}

func (f *FileBackend) path(folder, key string) string {
	return filepath.Join(f.base, folder, key)
}

// Put writes the blob to a temp file and renames it into place.
func (f *FileBackend) Put(folder, key string, value []byte) Status {
	if !f.IsOpen() {
		return BackendError
	}

	dir := filepath.Join(f.base, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return BackendError
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return BackendError
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return BackendError
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return BackendError
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return BackendError
	}

	if err := os.Rename(tmpName, f.path(folder, key)); err != nil {
		os.Remove(tmpName)
		return BackendError
	}
	return OK
}

// Get reads a record from disk.
func (f *FileBackend) Get(folder, key string) ([]byte, Status) {
	if !f.IsOpen() {
		return nil, BackendError
	}

	value, err := os.ReadFile(f.path(folder, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NotFound
		}
		return nil, BackendError
	}
	return value, OK
}

// Delete removes a record file. A missing file is OK.
func (f *FileBackend) Delete(folder, key string) Status {
	if !f.IsOpen() {
		return BackendError
	}

	err := os.Remove(f.path(folder, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return BackendError
	}
	return OK
}

// Keys lists the record files under a folder, sorted. Temp files from
// interrupted writes are skipped.
func (f *FileBackend) Keys(folder string) ([]string, Status) {
	if !f.IsOpen() {
		return nil, BackendError
	}

	entries, err := os.ReadDir(filepath.Join(f.base, folder))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, OK
		}
		return nil, BackendError
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, OK
}

func init() {
	RegisterBackend("file", NewFileBackend)
}
