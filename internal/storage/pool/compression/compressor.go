// Package compression provides the pluggable blob compressors used by the
// storage pool. Every stored blob is prefixed with the one-byte tag of the
// compressor that produced it, so readers dispatch by tag rather than by
// configuration.
package compression

import (
	"fmt"
	"sync"
)

// Tags are part of the on-disk format and must never be reassigned.
const (
	TagNone byte = 0
	TagLZ4  byte = 1
)

// Compressor defines one compression algorithm.
type Compressor interface {
	// Name returns the configuration name of the algorithm.
	Name() string

	// Tag returns the byte that marks blobs written by this compressor.
	Tag() byte

	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)

	// Decompress reverses Compress.
	Decompress(data []byte) ([]byte, error)
}

var (
	mu     sync.RWMutex
	byName = make(map[string]Compressor)
	byTag  = make(map[byte]Compressor)
)

// Register makes a compressor available by name and tag.
func Register(c Compressor) {
	mu.Lock()
	defer mu.Unlock()
	byName[c.Name()] = c
	byTag[c.Tag()] = c
}

// Get returns the compressor registered under the given name.
func Get(name string) (Compressor, error) {
	mu.RLock()
	c, ok := byName[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown compressor: %s", name)
	}
	return c, nil
}

// ByTag returns the compressor that wrote a blob carrying the given tag.
func ByTag(tag byte) (Compressor, error) {
	mu.RLock()
	c, ok := byTag[tag]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
	return c, nil
}

// Available returns the registered compressor names.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	return names
}

// IsAvailable checks whether a compressor with the given name exists.
func IsAvailable(name string) bool {
	mu.RLock()
	_, ok := byName[name]
	mu.RUnlock()
	return ok
}

func init() {
	Register(&NoCompressor{})
	Register(&LZ4Compressor{})
}
