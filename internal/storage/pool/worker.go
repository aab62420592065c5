package pool

import (
	"hash/fnv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/storage/pool/compression"
)

// minCompressionSize skips compression for very small blobs.
const minCompressionSize = 128

type opKind int

const (
	opStore opKind = iota
	opLoad
	opDelete
)

// request travels from a caller to the slot worker owning its key.
// Sync requests carry a reply channel with capacity one so the worker
// never blocks on an abandoned caller.
type request struct {
	kind   opKind
	folder string
	key    string
	value  []byte // encoded record, stores only
	reply  chan response
}

type response struct {
	value []byte
	err   error
}

// slotFor partitions requests by key so per-key ordering holds.
func (p *Pool) slotFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.slots)))
}

// worker serves one slot queue until shutdown, then drains whatever is
// still queued before exiting.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	queue := p.slots[id]
	for {
		select {
		case req := <-queue:
			p.handle(req)
		case <-p.quit:
			for {
				select {
				case req := <-queue:
					p.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) handle(req *request) {
	var resp response
	switch req.kind {
	case opStore:
		resp.err = p.write(req.folder, req.key, req.value)
	case opLoad:
		resp.value, resp.err = p.read(req.folder, req.key)
	case opDelete:
		resp.err = p.remove(req.folder, req.key)
	}

	if req.reply != nil {
		req.reply <- resp
	} else if resp.err != nil {
		p.log.Error("async store failed",
			zap.String("folder", req.folder),
			zap.String("key", req.key),
			zap.Error(resp.err))
	}
}

func (p *Pool) write(folder, key string, encoded []byte) error {
	blob := p.seal(encoded)

	if status := p.backend.Put(folder, key, blob); status != OK {
		atomic.AddUint64(&p.stats.failures, 1)
		return &StoreError{Op: "put", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: status}
	}

	if p.cache != nil {
		p.cache.Put(folder, key, encoded)
	}

	atomic.AddUint64(&p.stats.stores, 1)
	atomic.AddUint64(&p.stats.writeBytes, uint64(len(blob)))
	return nil
}

func (p *Pool) read(folder, key string) ([]byte, error) {
	if p.cache != nil {
		if encoded, ok := p.cache.Get(folder, key); ok {
			atomic.AddUint64(&p.stats.loads, 1)
			return encoded, nil
		}
	}

	blob, status := p.backend.Get(folder, key)
	switch status {
	case OK:
	case NotFound:
		atomic.AddUint64(&p.stats.notFound, 1)
		return nil, &StoreError{Op: "get", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: NotFound}
	default:
		atomic.AddUint64(&p.stats.failures, 1)
		return nil, &StoreError{Op: "get", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: status}
	}

	encoded, err := unseal(blob)
	if err != nil {
		atomic.AddUint64(&p.stats.failures, 1)
		return nil, &StoreError{Op: "decode", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: DataCorrupt, Cause: err}
	}

	if p.cache != nil {
		p.cache.Put(folder, key, encoded)
	}

	atomic.AddUint64(&p.stats.loads, 1)
	atomic.AddUint64(&p.stats.readBytes, uint64(len(blob)))
	return encoded, nil
}

func (p *Pool) remove(folder, key string) error {
	if status := p.backend.Delete(folder, key); status != OK {
		atomic.AddUint64(&p.stats.failures, 1)
		return &StoreError{Op: "delete", Folder: folder, Key: key,
			Backend: p.backend.Name(), Status: status}
	}

	if p.cache != nil {
		p.cache.Remove(folder, key)
	}

	atomic.AddUint64(&p.stats.deletes, 1)
	return nil
}

// seal frames an encoded record for storage: one compressor tag byte
// followed by the payload. Small or incompressible records are stored
// raw under TagNone.
func (p *Pool) seal(encoded []byte) []byte {
	if len(encoded) >= minCompressionSize && p.compressor.Tag() != compression.TagNone {
		if compressed, err := p.compressor.Compress(encoded); err == nil && len(compressed) < len(encoded) {
			blob := make([]byte, 1+len(compressed))
			blob[0] = p.compressor.Tag()
			copy(blob[1:], compressed)
			return blob
		}
	}

	blob := make([]byte, 1+len(encoded))
	blob[0] = compression.TagNone
	copy(blob[1:], encoded)
	return blob
}

// unseal reverses seal, dispatching on the tag byte so records written
// under a different compressor configuration stay readable.
func unseal(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, ErrDataCorrupt
	}

	comp, err := compression.ByTag(blob[0])
	if err != nil {
		return nil, ErrDataCorrupt
	}
	return comp.Decompress(blob[1:])
}
