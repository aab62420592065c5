// Package bank assembles the engine: storage pool, rates table and
// refresher, operations archive, account vault and HTTP edge, built from
// one configuration and started and stopped as a unit.
package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/config"
	"github.com/contalabs/bankd/internal/core/money"
	"github.com/contalabs/bankd/internal/core/rates"
	"github.com/contalabs/bankd/internal/core/vault"
	"github.com/contalabs/bankd/internal/server/rpc"
	"github.com/contalabs/bankd/internal/storage/archive"
	"github.com/contalabs/bankd/internal/storage/pool"
)

// stopTimeout bounds how long Stop waits for each component.
const stopTimeout = 10 * time.Second

// Service is the assembled engine.
type Service struct {
	cfg *config.Config
	log *zap.Logger

	pool      *pool.Pool
	table     *rates.Table
	refresher *rates.Refresher
	store     *archive.Store
	writer    *archive.Writer
	vault     *vault.Vault
	hub       *rpc.Hub
	edge      *rpc.Server

	started bool
}

// New builds every component without starting the background pieces. The
// context covers archive connection setup only.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, log: log}

	p, err := pool.New(&pool.Config{
		Backend:     cfg.Storage.Backend,
		BaseFolder:  cfg.Storage.BaseFolder,
		Workers:     cfg.Storage.Workers,
		CacheSize:   cfg.Storage.CacheSize,
		Compressor:  cfg.Storage.Compression,
		AsyncBuffer: cfg.Storage.AsyncBuffer,
	}, log.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("build storage pool: %w", err)
	}
	s.pool = p

	seed := SeedDecimals(cfg.Rates.SeedTable)
	table, err := rates.NewTable(seed)
	if err != nil {
		s.closePartial()
		return nil, fmt.Errorf("seed rates table: %w", err)
	}
	s.table = table
	s.refresher = rates.NewRefresher(table, rates.StaticSource(seed),
		cfg.Rates.RefreshInterval, p, log.Named("rates"))

	var sinks vault.MultiSink
	if cfg.Server.EnableWebSocket {
		s.hub = rpc.NewHub(log.Named("ws"))
		sinks = append(sinks, s.hub)
	}
	if cfg.Archive.Driver != "none" {
		acfg := archive.DefaultConfig()
		acfg.Driver = cfg.Archive.Driver
		acfg.DSN = cfg.Archive.DSN
		store, err := archive.Open(ctx, acfg, log.Named("archive"))
		if err != nil {
			s.closePartial()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		s.store = store
		s.writer = archive.NewWriter(store, &archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, log.Named("archive"))
		sinks = append(sinks, archiveSink{s.writer})
	}

	var sink vault.EventSink
	switch len(sinks) {
	case 0:
		sink = vault.NoOpSink{}
	case 1:
		sink = sinks[0]
	default:
		sink = sinks
	}

	s.vault = vault.New(&vault.Config{
		IdleTimeout:     cfg.Actor.IdleTimeout,
		DefaultCurrency: money.Currency(cfg.Account.DefaultCurrency),
		DefaultLimit:    cfg.Account.DefaultLimit,
	}, p, table, sink, log.Named("vault"))

	s.edge = rpc.NewServer(&rpc.Config{
		ListenAddress: cfg.Server.ListenAddress,
		NodeName:      cfg.Node.Name,
	}, s.vault, s.hub, log.Named("http"))

	return s, nil
}

// Vault exposes the account facade, mainly for tests driving the service
// without the HTTP edge.
func (s *Service) Vault() *vault.Vault {
	return s.vault
}

// Addr reports the HTTP edge's bound address once started.
func (s *Service) Addr() string {
	return s.edge.Addr()
}

// Start launches the background components: rates ticker first, then the
// edge. The storage pool and the vault serve from construction on.
func (s *Service) Start(ctx context.Context) error {
	s.refresher.Start(ctx)
	if err := s.edge.Start(); err != nil {
		s.refresher.Stop()
		return fmt.Errorf("start http edge: %w", err)
	}
	s.started = true
	s.log.Info("bankd started",
		zap.String("node", s.cfg.Node.Name),
		zap.String("address", s.edge.Addr()),
		zap.String("backend", s.cfg.Storage.Backend),
		zap.Int("workers", s.cfg.Storage.Workers))
	return nil
}

// Stop shuts the service down in reverse start order: edge, actors, rates
// ticker, archive flush, then the storage pool.
func (s *Service) Stop(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stopTimeout)
		defer cancel()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.started {
		keep(s.edge.Stop(ctx))
	} else if s.hub != nil {
		s.hub.Close()
	}
	keep(s.vault.Stop(ctx))
	s.refresher.Stop()
	if s.writer != nil {
		keep(s.writer.Close())
	}
	if s.store != nil {
		keep(s.store.Close())
	}
	keep(s.pool.Close())

	s.log.Info("bankd stopped")
	return firstErr
}

// closePartial unwinds what New built before failing.
func (s *Service) closePartial() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.writer != nil {
		_ = s.writer.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.pool != nil {
		_ = s.pool.Close()
	}
}

// SeedDecimals converts the configured float seed table to the decimal
// rates the table works with.
func SeedDecimals(seed map[string]float64) map[money.Currency]decimal.Decimal {
	out := make(map[money.Currency]decimal.Decimal, len(seed))
	for code, rate := range seed {
		out[money.Currency(code)] = decimal.NewFromFloat(rate)
	}
	return out
}

// archiveSink feeds applied operations to the archive writer. Submit never
// blocks, which the actor loop requires of a sink.
type archiveSink struct {
	w *archive.Writer
}

func (a archiveSink) Publish(ev vault.Event) {
	a.w.Submit(archive.FromOperation(ev.AccountID, ev.Op))
}
