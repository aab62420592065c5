// Package config loads and validates the bankd configuration. Values come
// from defaults, an optional TOML file and BANKD_ environment variables, in
// that priority order.
package config

import "time"

// Config is the complete bankd configuration.
type Config struct {
	Node    NodeConfig    `toml:"node" mapstructure:"node"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Storage StorageConfig `toml:"storage" mapstructure:"storage"`
	Archive ArchiveConfig `toml:"archive" mapstructure:"archive"`
	Account AccountConfig `toml:"account" mapstructure:"account"`
	Actor   ActorConfig   `toml:"actor" mapstructure:"actor"`
	Rates   RatesConfig   `toml:"rates" mapstructure:"rates"`

	configPath string
}

// NodeConfig names the instance in logs and the health endpoint.
type NodeConfig struct {
	Name string `toml:"name" mapstructure:"name"`
}

// ServerConfig configures the HTTP edge.
type ServerConfig struct {
	ListenAddress   string `toml:"listen_address" mapstructure:"listen_address"`
	EnableWebSocket bool   `toml:"enable_websocket" mapstructure:"enable_websocket"`
}

// StorageConfig configures the sharded storage pool.
type StorageConfig struct {
	// Backend selects the storage backend: file, memory, pebble, leveldb.
	Backend string `toml:"backend" mapstructure:"backend"`

	// BaseFolder is the root under which the logical folders
	// (accounts, exchange) are created.
	BaseFolder string `toml:"base_folder" mapstructure:"base_folder"`

	// Workers is the pool slot count. All requests for one key serialize
	// through the slot its hash selects.
	Workers int `toml:"workers" mapstructure:"workers"`

	// CacheSize bounds the read cache in entries; zero disables it.
	CacheSize int `toml:"cache_size" mapstructure:"cache_size"`

	// Compression names the blob compressor: none, lz4.
	Compression string `toml:"compression" mapstructure:"compression"`

	// AsyncBuffer is the per-slot queue depth for async stores.
	AsyncBuffer int `toml:"async_buffer" mapstructure:"async_buffer"`
}

// ArchiveConfig configures the relational operations archive.
type ArchiveConfig struct {
	// Driver selects the archive: none, sqlite, postgres.
	Driver string `toml:"driver" mapstructure:"driver"`

	// DSN is the connection string; a file path for sqlite.
	DSN string `toml:"dsn" mapstructure:"dsn"`

	BatchSize     int           `toml:"batch_size" mapstructure:"batch_size"`
	FlushInterval time.Duration `toml:"flush_interval" mapstructure:"flush_interval"`
}

// AccountConfig shapes accounts created on first access.
type AccountConfig struct {
	// DefaultCurrency is the currency every account opens with.
	DefaultCurrency string `toml:"default_currency" mapstructure:"default_currency"`

	// DefaultLimit is the floor the default-currency balance may reach;
	// usually zero or negative. Other currencies floor at zero.
	DefaultLimit int64 `toml:"default_limit" mapstructure:"default_limit"`
}

// ActorConfig tunes the account actor runtime.
type ActorConfig struct {
	// IdleTimeout unloads an actor that served no request for this long.
	IdleTimeout time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
}

// RatesConfig configures the exchange rates table and its refresher.
type RatesConfig struct {
	RefreshInterval time.Duration `toml:"refresh_interval" mapstructure:"refresh_interval"`

	// SeedTable maps currency code to its rate against the pivot. The
	// refresher falls back to it when no external source is wired.
	SeedTable map[string]float64 `toml:"seed_table" mapstructure:"seed_table"`
}

// ConfigPath reports where the configuration was loaded from, empty when
// only defaults and environment applied.
func (c *Config) ConfigPath() string {
	return c.configPath
}
