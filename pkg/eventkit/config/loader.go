package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// An eventkit configuration file keeps the pipeline and storage
// settings in top-level "bus" and "store" sections:
//
//	bus:
//	  max_concurrent_processors: 10
//	  processing_timeout: 30s
//	  retry:
//	    max_attempts: 3
//	    initial_delay: 1s
//	store:
//	  max_events: 10000
//	  retention_period: 24h
//
// FromFile loads such a file, picking the parser by extension (.yaml,
// .yml, or .json). The Bus and Store accessors return the sections
// that event.BusConfigFrom and store.ConfigFrom consume.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml, or .json)", path, ext)
	}
}

// FromYAML parses YAML configuration data.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml config: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON configuration data.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json config: %w", err)
	}
	return New(m), nil
}
