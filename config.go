// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

type Config struct {
	TempDir     string   `toml:"tmpdir"`
	Exclude     []string `toml:"exclude"`
	Catalog     string   `toml:"catalog"`
	Unwrap      bool     `toml:"unwrap"`
	LogLevel    string   `toml:"log_level"`
	MetricsFile string   `toml:"metrics_file"`
	MaxChain    int      `toml:"max_chain"`
}

func defaultConfig() Config {
	return Config{LogLevel: "warn"}
}

// configPath finds the config file: explicit, $AZIP_CONFIG, or the user config dir.
// An empty result means there is none.
func configPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if e := os.Getenv("AZIP_CONFIG"); e != "" {
		return e
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(dir, "azip", "config.toml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// loadConfig layers the config file over the defaults.
// A missing file named explicitly is an error, a missing default one is not.
func loadConfig(explicit string) (Config, error) {
	cfg := defaultConfig()
	p := configPath(explicit)
	if p == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) && explicit == "" {
		return cfg, nil
	} else if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
