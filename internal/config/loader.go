package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFile is the file Load looks for in the working directory
// when no explicit path is given.
const DefaultConfigFile = "bankd.toml"

// Load builds the configuration from defaults, an optional TOML file and
// BANKD_ environment variables. An explicit path must exist; the implicit
// bankd.toml is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	loaded, err := readConfigFile(v, path, explicit)
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix("BANKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if loaded {
		cfg.configPath = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string, required bool) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return false, nil
		}
		return false, fmt.Errorf("config file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return false, fmt.Errorf("read config file %s: %w", path, err)
	}
	return true, nil
}
