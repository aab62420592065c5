package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultQueueSize = 1024

// WriterConfig tunes the batching writer.
type WriterConfig struct {
	// BatchSize is the number of records that triggers an early flush.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// QueueSize bounds the intake queue. Records submitted while the
	// queue is full are dropped and counted.
	QueueSize int
}

// DefaultWriterConfig returns the production defaults.
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		BatchSize:     64,
		FlushInterval: 2 * time.Second,
		QueueSize:     defaultQueueSize,
	}
}

// Writer batches records and appends them to the archive in the
// background. Submitting never blocks the caller: the archive is an
// audit sink and must not slow down account mutations.
type Writer struct {
	sink Archiver
	cfg  *WriterConfig
	log  *zap.Logger

	queue chan Record
	quit  chan struct{}
	wg    sync.WaitGroup

	closed  int64 // atomic
	dropped uint64
	flushed uint64
}

// NewWriter starts a writer flushing into sink.
func NewWriter(sink Archiver, cfg *WriterConfig, log *zap.Logger) *Writer {
	if cfg == nil {
		cfg = DefaultWriterConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Writer{
		sink:  sink,
		cfg:   cfg,
		log:   log,
		queue: make(chan Record, cfg.QueueSize),
		quit:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()
	return w
}

// Submit queues a record. If the queue is full the record is dropped
// and counted; after Close all records are dropped.
func (w *Writer) Submit(rec Record) {
	if atomic.LoadInt64(&w.closed) != 0 {
		atomic.AddUint64(&w.dropped, 1)
		return
	}

	select {
	case w.queue <- rec:
	default:
		atomic.AddUint64(&w.dropped, 1)
	}
}

// Dropped returns the number of records lost to queue overflow.
func (w *Writer) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}

// Flushed returns the number of records written to the sink.
func (w *Writer) Flushed() uint64 {
	return atomic.LoadUint64(&w.flushed)
}

// Close drains the queue, flushes the final batch and stops the
// background goroutine. The sink itself is not closed.
func (w *Writer) Close() error {
	if !atomic.CompareAndSwapInt64(&w.closed, 0, 1) {
		return nil
	}
	close(w.quit)
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, w.cfg.BatchSize)
	for {
		select {
		case rec := <-w.queue:
			batch = append(batch, rec)
			if len(batch) >= w.cfg.BatchSize {
				batch = w.flush(batch)
			}
		case <-ticker.C:
			batch = w.flush(batch)
		case <-w.quit:
			// Drain whatever was queued before shutdown, then do a
			// final flush.
			for {
				select {
				case rec := <-w.queue:
					batch = append(batch, rec)
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

// flush appends the batch to the sink and returns an empty batch
// reusing the backing array. Failed batches are dropped after logging;
// the archive never retries into an unavailable database.
func (w *Writer) flush(batch []Record) []Record {
	if len(batch) == 0 {
		return batch
	}

	// The sink bounds its own statements; no extra deadline here.
	if err := w.sink.Append(context.Background(), batch); err != nil {
		atomic.AddUint64(&w.dropped, uint64(len(batch)))
		w.log.Error("archive flush failed",
			zap.Int("records", len(batch)), zap.Error(err))
	} else {
		atomic.AddUint64(&w.flushed, uint64(len(batch)))
	}
	return batch[:0]
}
