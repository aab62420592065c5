package pool

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBBackend stores records in a LevelDB database under base/leveldb.
// Same composite-key layout as the pebble backend.
type LevelDBBackend struct {
	db   *leveldb.DB
	path string

	open int64 // atomic flag for open state
}

var levelDBSync = &opt.WriteOptions{Sync: true}

// NewLevelDBBackend creates a LevelDB backend rooted at the configured
// base folder.
func NewLevelDBBackend(cfg *Config) (Backend, error) {
	if cfg == nil || cfg.BaseFolder == "" {
		return nil, errors.New("leveldb backend requires a base folder")
	}
	return &LevelDBBackend{path: filepath.Join(cfg.BaseFolder, "leveldb")}, nil
}

// Name returns the name of this backend.
func (l *LevelDBBackend) Name() string {
	return fmt.Sprintf("leveldb(%s)", l.path)
}

// Open opens the database, creating it if missing.
func (l *LevelDBBackend) Open() error {
	if !atomic.CompareAndSwapInt64(&l.open, 0, 1) {
		return ErrBackendClosed
	}

	db, err := leveldb.OpenFile(l.path, nil)
	if err != nil {
		atomic.StoreInt64(&l.open, 0)
		return fmt.Errorf("failed to open LevelDB at %s: %w", l.path, err)
	}
	l.db = db
	return nil
}

// Close closes the database.
func (l *LevelDBBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&l.open, 1, 0) {
		return nil
	}

	var err error
	if l.db != nil {
		err = l.db.Close()
		l.db = nil
	}
	return err
}

// IsOpen reports whether the backend is currently open.
func (l *LevelDBBackend) IsOpen() bool {
	return atomic.LoadInt64(&l.open) != 0
}

// Put durably stores a blob with a synced write.
func (l *LevelDBBackend) Put(folder, key string, value []byte) Status {
	if !l.IsOpen() {
		return BackendError
	}

	if err := l.db.Put(compositeKey(folder, key), value, levelDBSync); err != nil {
		return BackendError
	}
	return OK
}

// Get retrieves a blob by (folder, key).
func (l *LevelDBBackend) Get(folder, key string) ([]byte, Status) {
	if !l.IsOpen() {
		return nil, BackendError
	}

	value, err := l.db.Get(compositeKey(folder, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, NotFound
		}
		return nil, BackendError
	}
	return value, OK
}

// Delete removes a record. Deleting an absent key is OK.
func (l *LevelDBBackend) Delete(folder, key string) Status {
	if !l.IsOpen() {
		return BackendError
	}

	if err := l.db.Delete(compositeKey(folder, key), levelDBSync); err != nil {
		return BackendError
	}
	return OK
}

// Keys lists the keys present under a folder via prefix iteration.
func (l *LevelDBBackend) Keys(folder string) ([]string, Status) {
	if !l.IsOpen() {
		return nil, BackendError
	}

	prefix := folder + "/"
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), prefix))
	}
	if err := iter.Error(); err != nil {
		return nil, BackendError
	}
	sort.Strings(keys)
	return keys, OK
}

func init() {
	RegisterBackend("leveldb", NewLevelDBBackend)
}
