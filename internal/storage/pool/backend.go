package pool

import (
	"fmt"
	"sync"
)

// Status is the outcome of a backend operation.
type Status int

const (
	// OK indicates the operation was successful.
	OK Status = iota
	// NotFound indicates the requested record was not found.
	NotFound
	// DataCorrupt indicates the stored data is unreadable.
	DataCorrupt
	// BackendError indicates a failure in the storage backend.
	BackendError
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case DataCorrupt:
		return "DataCorrupt"
	case BackendError:
		return "BackendError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Backend is the storage engine under the pool. Implementations persist
// opaque blobs addressed by (folder, key); the pool owns encoding,
// compression and caching above them.
type Backend interface {
	// Name returns a human-readable name for this backend.
	Name() string

	// Open opens the backend for use.
	Open() error

	// Close closes the backend and releases resources.
	Close() error

	// IsOpen reports whether the backend is currently open.
	IsOpen() bool

	// Put durably stores a blob.
	Put(folder, key string, value []byte) Status

	// Get retrieves a blob, NotFound when absent.
	Get(folder, key string) ([]byte, Status)

	// Delete removes a record; deleting an absent key is OK.
	Delete(folder, key string) Status

	// Keys lists the keys present under a folder.
	Keys(folder string) ([]string, Status)
}

// BackendFactory creates a backend instance from a pool configuration.
type BackendFactory func(cfg *Config) (Backend, error)

var (
	backendMu        sync.RWMutex
	backendFactories = make(map[string]BackendFactory)
)

// RegisterBackend registers a backend factory under the given name.
func RegisterBackend(name string, factory BackendFactory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFactories[name] = factory
}

// CreateBackend instantiates the backend registered under name.
func CreateBackend(name string, cfg *Config) (Backend, error) {
	backendMu.RLock()
	factory, ok := backendFactories[name]
	backendMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return factory(cfg)
}

// AvailableBackends returns the registered backend names.
func AvailableBackends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()

	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	return names
}

// IsBackendAvailable checks whether a backend with the given name exists.
func IsBackendAvailable(name string) bool {
	backendMu.RLock()
	_, ok := backendFactories[name]
	backendMu.RUnlock()
	return ok
}
