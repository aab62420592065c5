package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// PebbleBackend stores records in a single PebbleDB database under
// base/pebble. Records are addressed by a composite folder/key entry so
// prefix iteration recovers the keys of one folder.
type PebbleBackend struct {
	db   *pebble.DB
	path string

	open int64 // atomic flag for open state
}

// NewPebbleBackend creates a PebbleDB backend rooted at the configured
// base folder.
func NewPebbleBackend(cfg *Config) (Backend, error) {
	if cfg == nil || cfg.BaseFolder == "" {
		return nil, errors.New("pebble backend requires a base folder")
	}
	return &PebbleBackend{path: filepath.Join(cfg.BaseFolder, "pebble")}, nil
}

// Name returns the name of this backend.
func (p *PebbleBackend) Name() string {
	return fmt.Sprintf("pebble(%s)", p.path)
}

// Open opens the database, creating it if missing.
func (p *PebbleBackend) Open() error {
	if !atomic.CompareAndSwapInt64(&p.open, 0, 1) {
		return ErrBackendClosed
	}

	if err := os.MkdirAll(p.path, 0o755); err != nil {
		atomic.StoreInt64(&p.open, 0)
		return fmt.Errorf("failed to create directory %s: %w", p.path, err)
	}

	db, err := pebble.Open(p.path, p.buildOptions())
	if err != nil {
		atomic.StoreInt64(&p.open, 0)
		return fmt.Errorf("failed to open PebbleDB at %s: %w", p.path, err)
	}
	p.db = db
	return nil
}

// buildOptions configures PebbleDB for the account workload: point
// lookups by composite key, small records, app-level compression.
func (p *PebbleBackend) buildOptions() *pebble.Options {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MaxOpenFiles: 1000,
		MemTableSize: 16 << 20,
		Levels:       make([]pebble.LevelOptions, 7),
	}

	for i := range opts.Levels {
		opts.Levels[i] = pebble.LevelOptions{
			BlockSize:    16 << 10,
			FilterPolicy: bloom.FilterPolicy(10),
			FilterType:   pebble.TableFilter,
			// The pool compresses records before they reach the backend.
			Compression: pebble.NoCompression,
		}
	}

	return opts
}

// Close flushes and closes the database.
func (p *PebbleBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&p.open, 1, 0) {
		return nil
	}

	var err error
	if p.db != nil {
		if flushErr := p.db.Flush(); flushErr != nil {
			err = flushErr
		}
		if closeErr := p.db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		p.db = nil
	}
	return err
}

// IsOpen reports whether the backend is currently open.
func (p *PebbleBackend) IsOpen() bool {
	return atomic.LoadInt64(&p.open) != 0
}

func compositeKey(folder, key string) []byte {
	return []byte(folder + "/" + key)
}

// Put durably stores a blob. Writes are synced so a record survives a
// crash once Put returns.
func (p *PebbleBackend) Put(folder, key string, value []byte) Status {
	if !p.IsOpen() {
		return BackendError
	}

	if err := p.db.Set(compositeKey(folder, key), value, pebble.Sync); err != nil {
		return BackendError
	}
	return OK
}

// Get retrieves a blob by (folder, key).
func (p *PebbleBackend) Get(folder, key string) ([]byte, Status) {
	if !p.IsOpen() {
		return nil, BackendError
	}

	value, closer, err := p.db.Get(compositeKey(folder, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, NotFound
		}
		return nil, BackendError
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, OK
}

// Delete removes a record. Deleting an absent key is OK.
func (p *PebbleBackend) Delete(folder, key string) Status {
	if !p.IsOpen() {
		return BackendError
	}

	if err := p.db.Delete(compositeKey(folder, key), pebble.Sync); err != nil {
		return BackendError
	}
	return OK
}

// Keys lists the keys present under a folder via prefix iteration.
func (p *PebbleBackend) Keys(folder string) ([]string, Status) {
	if !p.IsOpen() {
		return nil, BackendError
	}

	prefix := folder + "/"
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, BackendError
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), prefix))
	}
	if err := iter.Error(); err != nil {
		return nil, BackendError
	}
	sort.Strings(keys)
	return keys, OK
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

func init() {
	RegisterBackend("pebble", NewPebbleBackend)
}
