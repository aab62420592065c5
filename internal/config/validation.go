package config

import (
	"fmt"
	"strings"
)

var (
	knownBackends    = []string{"file", "memory", "pebble", "leveldb"}
	knownCompressors = []string{"none", "lz4"}
	knownArchives    = []string{"none", "sqlite", "postgres"}
)

// Validate checks the whole configuration and reports every violation it
// finds, not just the first.
func (c *Config) Validate() error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.ListenAddress == "" {
		report("server.listen_address must not be empty")
	}

	if !contains(knownBackends, c.Storage.Backend) {
		report("storage.backend %q unknown, expected one of %s",
			c.Storage.Backend, strings.Join(knownBackends, ", "))
	}
	if c.Storage.Backend != "memory" && c.Storage.BaseFolder == "" {
		report("storage.base_folder required for backend %q", c.Storage.Backend)
	}
	if c.Storage.Workers <= 0 {
		report("storage.workers must be positive, have %d", c.Storage.Workers)
	}
	if c.Storage.CacheSize < 0 {
		report("storage.cache_size must not be negative, have %d", c.Storage.CacheSize)
	}
	if !contains(knownCompressors, c.Storage.Compression) {
		report("storage.compression %q unknown, expected one of %s",
			c.Storage.Compression, strings.Join(knownCompressors, ", "))
	}
	if c.Storage.AsyncBuffer <= 0 {
		report("storage.async_buffer must be positive, have %d", c.Storage.AsyncBuffer)
	}

	if !contains(knownArchives, c.Archive.Driver) {
		report("archive.driver %q unknown, expected one of %s",
			c.Archive.Driver, strings.Join(knownArchives, ", "))
	}
	if c.Archive.Driver != "none" {
		if c.Archive.DSN == "" {
			report("archive.dsn required for driver %q", c.Archive.Driver)
		}
		if c.Archive.BatchSize <= 0 {
			report("archive.batch_size must be positive, have %d", c.Archive.BatchSize)
		}
		if c.Archive.FlushInterval <= 0 {
			report("archive.flush_interval must be positive, have %s", c.Archive.FlushInterval)
		}
	}

	if err := validateCurrency(c.Account.DefaultCurrency); err != nil {
		report("account.default_currency: %v", err)
	}
	if c.Account.DefaultLimit > 0 {
		report("account.default_limit is a floor and must not be positive, have %d", c.Account.DefaultLimit)
	}

	if c.Actor.IdleTimeout <= 0 {
		report("actor.idle_timeout must be positive, have %s", c.Actor.IdleTimeout)
	}

	if c.Rates.RefreshInterval <= 0 {
		report("rates.refresh_interval must be positive, have %s", c.Rates.RefreshInterval)
	}
	if len(c.Rates.SeedTable) == 0 {
		report("rates.seed_table must not be empty")
	}
	for code, rate := range c.Rates.SeedTable {
		if err := validateCurrency(code); err != nil {
			report("rates.seed_table: %v", err)
		}
		if rate <= 0 {
			report("rates.seed_table[%s] must be positive, have %v", code, rate)
		}
	}
	if _, ok := c.Rates.SeedTable[c.Account.DefaultCurrency]; !ok && len(c.Rates.SeedTable) > 0 {
		report("rates.seed_table has no rate for default currency %q", c.Account.DefaultCurrency)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
}

func validateCurrency(code string) error {
	if code == "" {
		return fmt.Errorf("currency code must not be empty")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("currency code %q must be uppercase ASCII letters", code)
		}
	}
	return nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
