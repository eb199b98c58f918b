package store

import (
	"github.com/randalmurphal/eventkit/pkg/eventkit/config"
)

// ConfigFrom builds a store Config from a loaded configuration section.
// Missing keys fall back to DefaultConfig.
//
// Recognized keys:
//
//	max_events: 10000
//	retention_period: 24h
//	sweep_interval: 1m
func ConfigFrom(cfg config.Config) Config {
	return Config{
		MaxEvents:       cfg.Int("max_events", DefaultConfig.MaxEvents),
		RetentionPeriod: cfg.Duration("retention_period", DefaultConfig.RetentionPeriod),
		SweepInterval:   cfg.Duration("sweep_interval", DefaultConfig.SweepInterval),
	}
}

// SQLiteConfigFrom builds a SQLiteConfig from a loaded configuration
// section. The "path" key names the database file.
func SQLiteConfigFrom(cfg config.Config) SQLiteConfig {
	return SQLiteConfig{
		Path:   cfg.String("path", "./events.db"),
		Config: ConfigFrom(cfg),
	}
}
