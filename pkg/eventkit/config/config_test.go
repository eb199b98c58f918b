package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventkit/pkg/eventkit/config"
)

// TestNew verifies Config creation from maps.
func TestNew(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil map", nil},
		{"empty map", map[string]any{}},
		{"with values", map[string]any{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.NotNil(t, cfg.Raw())
		})
	}
}

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "default", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"empty string", map[string]any{"name": ""}, "name", "default", ""},
		{"wrong type int", map[string]any{"name": 123}, "name", "default", "default"},
		{"nil map", nil, "name", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.String(tt.key, tt.defaultVal))
		})
	}
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal time.Duration
		want       time.Duration
	}{
		{"string duration", map[string]any{"timeout": "30s"}, "timeout", 10 * time.Second, 30 * time.Second},
		{"string complex", map[string]any{"timeout": "1h30m"}, "timeout", 10 * time.Second, 90 * time.Minute},
		{"int seconds", map[string]any{"timeout": 5}, "timeout", 10 * time.Second, 5 * time.Second},
		{"float seconds", map[string]any{"timeout": 1.5}, "timeout", 10 * time.Second, 1500 * time.Millisecond},
		{"duration value", map[string]any{"timeout": 2 * time.Minute}, "timeout", 10 * time.Second, 2 * time.Minute},
		{"invalid string", map[string]any{"timeout": "forever"}, "timeout", 10 * time.Second, 10 * time.Second},
		{"missing", nil, "timeout", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.Duration(tt.key, tt.defaultVal))
		})
	}
}

// TestInt verifies integer extraction and conversions.
func TestInt(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal int
		want       int
	}{
		{"int", map[string]any{"n": 42}, "n", 0, 42},
		{"int64", map[string]any{"n": int64(42)}, "n", 0, 42},
		{"whole float", map[string]any{"n": 42.0}, "n", 0, 42},
		{"fractional float", map[string]any{"n": 42.5}, "n", 7, 7},
		{"string", map[string]any{"n": "42"}, "n", 7, 7},
		{"missing", nil, "n", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.Int(tt.key, tt.defaultVal))
		})
	}
}

// TestBoolAndFloat covers the remaining scalar accessors.
func TestBoolAndFloat(t *testing.T) {
	cfg := config.New(map[string]any{
		"enabled": true,
		"jitter":  0.1,
		"count":   3,
	})

	assert.True(t, cfg.Bool("enabled", false))
	assert.False(t, cfg.Bool("missing", false))
	assert.Equal(t, 0.1, cfg.Float("jitter", 0.5))
	assert.Equal(t, 3.0, cfg.Float("count", 0))
	assert.Equal(t, 0.5, cfg.Float("missing", 0.5))
}

// TestStringSlice verifies slice extraction.
func TestStringSlice(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want []string
	}{
		{"string slice", map[string]any{"tags": []string{"a", "b"}}, []string{"a", "b"}},
		{"any slice", map[string]any{"tags": []any{"a", "b"}}, []string{"a", "b"}},
		{"mixed slice", map[string]any{"tags": []any{"a", 1}}, []string{"default"}},
		{"missing", nil, []string{"default"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.StringSlice("tags", []string{"default"}))
		})
	}
}

// TestSub verifies nested section extraction.
func TestSub(t *testing.T) {
	cfg := config.New(map[string]any{
		"bus": map[string]any{
			"buffer_size": 500,
			"retry": map[string]any{
				"max_attempts": 5,
			},
		},
		"scalar": 1,
	})

	bus := cfg.Sub("bus")
	assert.Equal(t, 500, bus.Int("buffer_size", 0))
	assert.Equal(t, 5, bus.Sub("retry").Int("max_attempts", 0))

	// Missing or non-map keys give an empty section, not a panic
	assert.Equal(t, 9, cfg.Sub("missing").Int("anything", 9))
	assert.Equal(t, 9, cfg.Sub("scalar").Int("anything", 9))
}

// TestBusAndStoreSections verifies the canonical file layout accessors.
func TestBusAndStoreSections(t *testing.T) {
	cfg := config.New(map[string]any{
		"bus":   map[string]any{"buffer_size": 250},
		"store": map[string]any{"max_events": 500},
	})

	assert.Equal(t, 250, cfg.Bus().Int("buffer_size", 0))
	assert.Equal(t, 500, cfg.Store().Int("max_events", 0))

	// A file without the sections yields empty ones, so the builders
	// fall through to their defaults
	empty := config.New(nil)
	assert.False(t, empty.Bus().Has("buffer_size"))
	assert.False(t, empty.Store().Has("max_events"))
}

// TestFromYAML verifies YAML parsing.
func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
bus:
  max_concurrent_processors: 4
  processing_timeout: 10s
store:
  max_events: 500
`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Bus().Int("max_concurrent_processors", 0))
	assert.Equal(t, 10*time.Second, cfg.Bus().Duration("processing_timeout", 0))
	assert.Equal(t, 500, cfg.Store().Int("max_events", 0))

	_, err = config.FromYAML([]byte("a: [unclosed"))
	assert.Error(t, err)
}

// TestFromJSON verifies JSON parsing.
func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"buffer_size": 100, "disable_retries": true}`))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Int("buffer_size", 0))
	assert.True(t, cfg.Bool("disable_retries", false))

	_, err = config.FromJSON([]byte(`{broken`))
	assert.Error(t, err)
}

// TestFromFile verifies file loading with format detection.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "eventkit.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("buffer_size: 42"), 0o644))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Int("buffer_size", 0))

	jsonPath := filepath.Join(dir, "eventkit.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"buffer_size": 7}`), 0o644))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Int("buffer_size", 0))

	txtPath := filepath.Join(dir, "eventkit.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = config.FromFile(txtPath)
	assert.Error(t, err)

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
