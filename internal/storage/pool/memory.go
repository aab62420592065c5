package pool

import (
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryBackend keeps records in process memory. It is useful for tests
// and development; nothing survives a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte

	open int64 // atomic flag for open state
}

// NewMemoryBackend creates a new in-memory backend. The config is ignored
// but required for the BackendFactory signature.
func NewMemoryBackend(cfg *Config) (Backend, error) {
	return &MemoryBackend{
		data: make(map[string]map[string][]byte),
	}, nil
}

// Name returns the name of this backend.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Open opens the backend for use.
func (m *MemoryBackend) Open() error {
	if !atomic.CompareAndSwapInt64(&m.open, 0, 1) {
		return ErrBackendClosed
	}
	return nil
}

// Close closes the backend and clears all data.
func (m *MemoryBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&m.open, 1, 0) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]map[string][]byte)
	return nil
}

// IsOpen reports whether the backend is currently open.
func (m *MemoryBackend) IsOpen() bool {
	return atomic.LoadInt64(&m.open) != 0
}

// Put stores a blob under (folder, key).
func (m *MemoryBackend) Put(folder, key string, value []byte) Status {
	if !m.IsOpen() {
		return BackendError
	}

	// Copy to prevent external mutation.
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.data[folder]
	if !ok {
		records = make(map[string][]byte)
		m.data[folder] = records
	}
	records[key] = stored
	return OK
}

// Get retrieves a blob by (folder, key).
func (m *MemoryBackend) Get(folder, key string) ([]byte, Status) {
	if !m.IsOpen() {
		return nil, BackendError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.data[folder]
	if !ok {
		return nil, NotFound
	}
	value, ok := records[key]
	if !ok {
		return nil, NotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, OK
}

// Delete removes a record. Deleting an absent key is OK.
func (m *MemoryBackend) Delete(folder, key string) Status {
	if !m.IsOpen() {
		return BackendError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if records, ok := m.data[folder]; ok {
		delete(records, key)
	}
	return OK
}

// Keys lists the keys present under a folder, sorted.
func (m *MemoryBackend) Keys(folder string) ([]string, Status) {
	if !m.IsOpen() {
		return nil, BackendError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.data[folder]
	if !ok {
		return nil, OK
	}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, OK
}

func init() {
	RegisterBackend("memory", NewMemoryBackend)
}
