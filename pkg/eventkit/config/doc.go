/*
Package config provides type-safe configuration extraction from map[string]any.

# Overview

config wraps a map[string]any and provides typed accessor methods that
handle missing keys and type mismatches gracefully by returning default
values. It is the loading half of bus configuration: parse a YAML or
JSON file here, then hand sections to event.BusConfigFrom and
store.ConfigFrom to build the typed configs.

# Basic Usage

	cfg, err := config.FromFile("eventkit.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	busCfg := event.BusConfigFrom(cfg.Bus())
	storeCfg := store.ConfigFrom(cfg.Store())

Or extract values directly:

	cfg := config.New(map[string]any{
	    "processing_timeout": "30s",
	    "buffer_size":        1000,
	})

	timeout := cfg.Duration("processing_timeout", 10*time.Second) // 30s
	size := cfg.Int("buffer_size", 500)                           // 1000
	missing := cfg.Bool("disable_retries", false)                 // false

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
  - time.Duration: used directly

Numeric types handle reasonable conversions:
  - int from float64 (only without a fractional part)
  - float64 from int

All methods return the default value if the key is missing or the value
cannot be converted to the requested type.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation. However, if the original map is modified
externally, behavior is undefined.
*/
package config
