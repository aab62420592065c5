// Package pool provides the persistent record store behind the account
// engine. A fixed set of workers owns disjoint key partitions, so all
// writes for one key are applied in submission order while different
// keys proceed in parallel. Records are CBOR-encoded, optionally
// compressed and cached, and persisted through a pluggable backend.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/storage/pool/compression"
)

// Pool is the storage pool. All methods are safe for concurrent use.
type Pool struct {
	cfg        *Config
	backend    Backend
	cache      *recordCache
	compressor compression.Compressor
	log        *zap.Logger

	slots []chan *request
	quit  chan struct{}
	wg    sync.WaitGroup

	closed int64 // atomic flag, set once by Close

	stats struct {
		stores     uint64
		loads      uint64
		deletes    uint64
		notFound   uint64
		failures   uint64
		readBytes  uint64
		writeBytes uint64
	}
}

// New creates a pool from the configuration, opens the backend and
// starts the slot workers.
func New(cfg *Config, log *zap.Logger) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	backend, err := CreateBackend(cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(); err != nil {
		return nil, err
	}

	compressor, err := compression.Get(cfg.Compressor)
	if err != nil {
		backend.Close()
		return nil, err
	}

	var cache *recordCache
	if cfg.CacheSize > 0 {
		cache, err = newRecordCache(cfg.CacheSize)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	p := &Pool{
		cfg:        cfg,
		backend:    backend,
		cache:      cache,
		compressor: compressor,
		log:        log,
		slots:      make([]chan *request, cfg.Workers),
		quit:       make(chan struct{}),
	}

	for i := range p.slots {
		p.slots[i] = make(chan *request, cfg.AsyncBuffer)
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Info("storage pool started",
		zap.String("backend", backend.Name()),
		zap.Int("workers", cfg.Workers),
		zap.String("compressor", compressor.Name()),
		zap.Int("cache_size", cfg.CacheSize))

	return p, nil
}

// StoreSync persists a record and returns once it is durable. Requests
// for the same key are applied in the order they were submitted.
func (p *Pool) StoreSync(ctx context.Context, folder, key string, v any) error {
	if err := validateName(folder); err != nil {
		return err
	}
	if err := validateName(key); err != nil {
		return err
	}
	if atomic.LoadInt64(&p.closed) != 0 {
		return ErrPoolClosed
	}

	encoded, err := Marshal(v)
	if err != nil {
		return &StoreError{Op: "encode", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: BackendError, Cause: err}
	}

	req := &request{kind: opStore, folder: folder, key: key,
		value: encoded, reply: make(chan response, 1)}
	resp, err := p.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	return resp.err
}

// StoreAsync queues a record for persistence and returns immediately.
// Failures are logged, not reported; a full slot queue blocks the
// caller until the worker catches up.
func (p *Pool) StoreAsync(folder, key string, v any) {
	if validateName(folder) != nil || validateName(key) != nil {
		p.log.Error("async store rejected",
			zap.String("folder", folder), zap.String("key", key),
			zap.Error(ErrInvalidKey))
		return
	}
	if atomic.LoadInt64(&p.closed) != 0 {
		p.log.Warn("async store on closed pool",
			zap.String("folder", folder), zap.String("key", key))
		return
	}

	encoded, err := Marshal(v)
	if err != nil {
		p.log.Error("async store encode failed",
			zap.String("folder", folder), zap.String("key", key),
			zap.Error(err))
		return
	}

	req := &request{kind: opStore, folder: folder, key: key, value: encoded}
	select {
	case p.slots[p.slotFor(key)] <- req:
	case <-p.quit:
		p.log.Warn("async store dropped on shutdown",
			zap.String("folder", folder), zap.String("key", key))
	}
}

// Load retrieves a record into out. Returns an error matching
// ErrNotFound when no record exists under the folder and key.
func (p *Pool) Load(ctx context.Context, folder, key string, out any) error {
	if err := validateName(folder); err != nil {
		return err
	}
	if err := validateName(key); err != nil {
		return err
	}
	if atomic.LoadInt64(&p.closed) != 0 {
		return ErrPoolClosed
	}

	req := &request{kind: opLoad, folder: folder, key: key,
		reply: make(chan response, 1)}
	resp, err := p.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	if resp.err != nil {
		return resp.err
	}

	if err := Unmarshal(resp.value, out); err != nil {
		return &StoreError{Op: "decode", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: DataCorrupt, Cause: err}
	}
	return nil
}

// Delete removes a record. Deleting an absent record is not an error.
func (p *Pool) Delete(ctx context.Context, folder, key string) error {
	if err := validateName(folder); err != nil {
		return err
	}
	if err := validateName(key); err != nil {
		return err
	}
	if atomic.LoadInt64(&p.closed) != 0 {
		return ErrPoolClosed
	}

	req := &request{kind: opDelete, folder: folder, key: key,
		reply: make(chan response, 1)}
	resp, err := p.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	return resp.err
}

// Keys lists the keys persisted under a folder. Records still queued in
// the slots are not reflected.
func (p *Pool) Keys(folder string) ([]string, error) {
	if err := validateName(folder); err != nil {
		return nil, err
	}
	if atomic.LoadInt64(&p.closed) != 0 {
		return nil, ErrPoolClosed
	}

	keys, status := p.backend.Keys(folder)
	if status != OK {
		return nil, &StoreError{Op: "keys", Folder: folder,
			Backend: p.backend.Name(), Status: status}
	}
	return keys, nil
}

// roundTrip submits a request to its slot and waits for the reply.
func (p *Pool) roundTrip(ctx context.Context, req *request) (response, error) {
	slot := p.slots[p.slotFor(req.key)]

	select {
	case slot <- req:
	case <-p.quit:
		return response{}, ErrPoolClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-p.quit:
		// Workers drain their queues during shutdown; pick up the
		// reply if it already arrived.
		select {
		case resp := <-req.reply:
			return resp, nil
		default:
			return response{}, ErrPoolClosed
		}
	}
}

// Close stops accepting requests, drains the slot queues and closes the
// backend. Safe to call more than once.
func (p *Pool) Close() error {
	if !atomic.CompareAndSwapInt64(&p.closed, 0, 1) {
		return nil
	}

	close(p.quit)
	p.wg.Wait()

	err := p.backend.Close()

	p.log.Info("storage pool closed",
		zap.Uint64("stores", atomic.LoadUint64(&p.stats.stores)),
		zap.Uint64("loads", atomic.LoadUint64(&p.stats.loads)),
		zap.Uint64("failures", atomic.LoadUint64(&p.stats.failures)))
	return err
}

// Statistics holds performance metrics for the storage pool.
type Statistics struct {
	Stores     uint64 // Completed store operations
	Loads      uint64 // Completed load operations
	Deletes    uint64 // Completed delete operations
	NotFound   uint64 // Loads that found no record
	Failures   uint64 // Operations that failed in the backend
	ReadBytes  uint64 // Total blob bytes read
	WriteBytes uint64 // Total blob bytes written

	CacheHits    uint64 // Loads served from cache
	CacheMisses  uint64 // Loads that went to the backend
	CacheSize    uint64 // Current number of cached records
	CacheMaxSize uint64 // Cache capacity

	BackendName string // Name of the storage backend
	Workers     int    // Number of slot workers
	QueueDepth  int    // Requests currently queued across slots
}

// String returns a formatted string representation of the statistics.
func (s Statistics) String() string {
	reads := s.CacheHits + s.CacheMisses
	hitRate := float64(0)
	if reads > 0 {
		hitRate = float64(s.CacheHits) / float64(reads) * 100
	}

	return fmt.Sprintf(`Storage Pool Statistics:
  Backend: %s
  Workers: %d (queued: %d)
  Stores: %d, Loads: %d, Deletes: %d
  Cache: %d/%d items (%.2f%% hit rate)
  Not Found: %d, Failures: %d
  Read Bytes: %d, Write Bytes: %d`,
		s.BackendName,
		s.Workers, s.QueueDepth,
		s.Stores, s.Loads, s.Deletes,
		s.CacheSize, s.CacheMaxSize, hitRate,
		s.NotFound, s.Failures,
		s.ReadBytes, s.WriteBytes)
}

// Stats returns a snapshot of the pool metrics.
func (p *Pool) Stats() Statistics {
	s := Statistics{
		Stores:      atomic.LoadUint64(&p.stats.stores),
		Loads:       atomic.LoadUint64(&p.stats.loads),
		Deletes:     atomic.LoadUint64(&p.stats.deletes),
		NotFound:    atomic.LoadUint64(&p.stats.notFound),
		Failures:    atomic.LoadUint64(&p.stats.failures),
		ReadBytes:   atomic.LoadUint64(&p.stats.readBytes),
		WriteBytes:  atomic.LoadUint64(&p.stats.writeBytes),
		BackendName: p.backend.Name(),
		Workers:     len(p.slots),
	}

	for _, slot := range p.slots {
		s.QueueDepth += len(slot)
	}

	if p.cache != nil {
		hits, misses, length := p.cache.Stats()
		s.CacheHits = hits
		s.CacheMisses = misses
		s.CacheSize = uint64(length)
		s.CacheMaxSize = uint64(p.cfg.CacheSize)
	}

	return s
}

// validateName rejects folder and key names that would escape the
// backend namespace.
func validateName(name string) error {
	if name == "" ||
		strings.ContainsAny(name, `/\`) ||
		strings.Contains(name, "..") {
		return ErrInvalidKey
	}
	return nil
}
