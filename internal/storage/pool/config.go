package pool

import (
	"fmt"

	"github.com/contalabs/bankd/internal/storage/pool/compression"
)

// Config configures the storage pool and its backend.
type Config struct {
	// Backend selects the storage backend: file, memory, pebble, leveldb.
	Backend string

	// BaseFolder is the root path under which persistent backends keep
	// their data. The logical folders (accounts, exchange) live below it.
	BaseFolder string

	// Workers is the number of slots. Requests are partitioned by key
	// hash, so per-key ordering holds for any worker count.
	Workers int

	// CacheSize bounds the read cache in entries; zero disables it.
	CacheSize int

	// Compressor names the blob compressor: none, lz4.
	Compressor string

	// AsyncBuffer is the per-slot queue depth. Async stores block once
	// their slot's queue is full.
	AsyncBuffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:     "file",
		BaseFolder:  "data",
		Workers:     3,
		CacheSize:   1024,
		Compressor:  "lz4",
		AsyncBuffer: 256,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("storage workers must be positive, have %d", c.Workers)
	}
	if c.AsyncBuffer <= 0 {
		return fmt.Errorf("storage async buffer must be positive, have %d", c.AsyncBuffer)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("storage cache size must not be negative, have %d", c.CacheSize)
	}
	if !IsBackendAvailable(c.Backend) {
		return fmt.Errorf("unknown backend %q, available: %v", c.Backend, AvailableBackends())
	}
	if !compression.IsAvailable(c.Compressor) {
		return fmt.Errorf("unknown compressor %q, available: %v", c.Compressor, compression.Available())
	}
	if c.Backend != "memory" && c.BaseFolder == "" {
		return fmt.Errorf("backend %q requires a base folder", c.Backend)
	}
	return nil
}
