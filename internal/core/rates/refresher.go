package rates

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/core/money"

	"github.com/shopspring/decimal"
)

// SnapshotFolder is the storage folder rate snapshots are appended to,
// keyed by their UTC hour bucket.
const SnapshotFolder = "exchange"

// Source produces a fresh rate map on every refresh tick.
type Source func(ctx context.Context) (map[money.Currency]decimal.Decimal, error)

// StaticSource always returns the same map; it is the default when no
// external feed is configured.
func StaticSource(seed map[money.Currency]decimal.Decimal) Source {
	return func(context.Context) (map[money.Currency]decimal.Decimal, error) {
		return seed, nil
	}
}

// SnapshotStore is the slice of the storage pool the refresher needs.
// Snapshots ride the async path: they are a collector-style sink, not
// authoritative state.
type SnapshotStore interface {
	StoreAsync(folder, key string, v any)
}

// Refresher re-pulls the rate table on a fixed interval and appends each
// refreshed table to storage under its time bucket. A failing pull keeps
// the previous table.
type Refresher struct {
	table    *Table
	source   Source
	interval time.Duration
	store    SnapshotStore
	log      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher wires a refresher. store may be nil, in which case snapshots
// are skipped; log may be nil.
func NewRefresher(table *Table, source Source, interval time.Duration, store SnapshotStore, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		table:    table,
		source:   source,
		interval: interval,
		store:    store,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Stop halts the ticker and waits for the loop to exit.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	fresh, err := r.source(ctx)
	if err != nil {
		r.log.Warn("rates refresh failed, keeping previous table", zap.Error(err))
		return
	}
	if err := r.table.Replace(fresh); err != nil {
		r.log.Warn("rates refresh produced an invalid table, keeping previous", zap.Error(err))
		return
	}

	if r.store != nil {
		key := BucketKey(time.Now())
		r.store.StoreAsync(SnapshotFolder, key, r.table.Export())
		r.log.Debug("rates table refreshed", zap.String("bucket", key), zap.Int("currencies", len(fresh)))
	}
}

// BucketKey formats the UTC hour bucket a snapshot is stored under,
// e.g. 2026030114 for 2026-03-01 14:00 UTC.
func BucketKey(t time.Time) string {
	return t.UTC().Format("2006010215")
}
