package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultSeedTable is the built-in rates seed, expressed against a USD
// pivot. Deployments override it with rates.seed_table.
func DefaultSeedTable() map[string]float64 {
	return map[string]float64{
		"USD": 1,
		"BRL": 5.45,
		"EUR": 0.92,
		"GBP": 0.79,
		"JPY": 147.20,
	}
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "bankd",
		},
		Server: ServerConfig{
			ListenAddress:   "127.0.0.1:8090",
			EnableWebSocket: true,
		},
		Storage: StorageConfig{
			Backend:     "file",
			BaseFolder:  "data",
			Workers:     3,
			CacheSize:   1024,
			Compression: "lz4",
			AsyncBuffer: 256,
		},
		Archive: ArchiveConfig{
			Driver:        "none",
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
		},
		Account: AccountConfig{
			DefaultCurrency: "BRL",
			DefaultLimit:    0,
		},
		Actor: ActorConfig{
			IdleTimeout: 240 * time.Second,
		},
		Rates: RatesConfig{
			RefreshInterval: time.Hour,
			SeedTable:       DefaultSeedTable(),
		},
	}
}

// setDefaults registers every default with viper so file and environment
// values merge on top of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("node.name", "bankd")

	v.SetDefault("server.listen_address", "127.0.0.1:8090")
	v.SetDefault("server.enable_websocket", true)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.base_folder", "data")
	v.SetDefault("storage.workers", 3)
	v.SetDefault("storage.cache_size", 1024)
	v.SetDefault("storage.compression", "lz4")
	v.SetDefault("storage.async_buffer", 256)

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.batch_size", 64)
	v.SetDefault("archive.flush_interval", "2s")

	v.SetDefault("account.default_currency", "BRL")
	v.SetDefault("account.default_limit", 0)

	v.SetDefault("actor.idle_timeout", "240s")

	v.SetDefault("rates.refresh_interval", "1h")
	v.SetDefault("rates.seed_table", DefaultSeedTable())
}
