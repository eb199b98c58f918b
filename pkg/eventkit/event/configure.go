package event

import (
	"github.com/randalmurphal/eventkit/pkg/eventkit/config"
)

// BusConfigFrom builds a BusConfig from a loaded configuration section.
// Missing keys fall back to DefaultBusConfig. Callbacks, hooks, the
// store, and observability wiring are code-level concerns and must be
// set on the result directly.
//
// Recognized keys:
//
//	max_concurrent_processors: 10
//	buffer_size: 1000
//	processing_timeout: 30s
//	disable_retries: false
//	drain_interval: 100ms
//	retry_sweep_interval: 1m
//	stale_retry_age: 1h
//	persistence_mode: terminal
//	delivery_mode: at-least-once
//	validate_schemas: false
//	retry:
//	  max_attempts: 3
//	  initial_delay: 1s
//	  backoff_multiplier: 2.0
//	  max_delay: 30s
//	  jitter_factor: 0.1
//	emitter:
//	  max_listeners: 100
//	  sync_errors: false
//	  dispatch_limit: 0
func BusConfigFrom(cfg config.Config) BusConfig {
	d := DefaultBusConfig

	retry := cfg.Sub("retry")
	emitter := cfg.Sub("emitter")

	return BusConfig{
		Emitter: EmitterConfig{
			MaxListeners:  emitter.Int("max_listeners", DefaultMaxListeners),
			SyncErrors:    emitter.Bool("sync_errors", false),
			DispatchLimit: emitter.Int("dispatch_limit", 0),
		},
		MaxConcurrentProcessors: cfg.Int("max_concurrent_processors", d.MaxConcurrentProcessors),
		BufferSize:              cfg.Int("buffer_size", d.BufferSize),
		ProcessingTimeout:       cfg.Duration("processing_timeout", d.ProcessingTimeout),
		Retry: RetryPolicy{
			MaxAttempts:       retry.Int("max_attempts", d.Retry.MaxAttempts),
			InitialDelay:      retry.Duration("initial_delay", d.Retry.InitialDelay),
			BackoffMultiplier: retry.Float("backoff_multiplier", d.Retry.BackoffMultiplier),
			MaxDelay:          retry.Duration("max_delay", d.Retry.MaxDelay),
			JitterFactor:      retry.Float("jitter_factor", d.Retry.JitterFactor),
		},
		DisableRetries:     cfg.Bool("disable_retries", false),
		DrainInterval:      cfg.Duration("drain_interval", d.DrainInterval),
		RetrySweepInterval: cfg.Duration("retry_sweep_interval", d.RetrySweepInterval),
		StaleRetryAge:      cfg.Duration("stale_retry_age", d.StaleRetryAge),
		PersistenceMode:    PersistenceMode(cfg.String("persistence_mode", string(d.PersistenceMode))),
		DeliveryMode:       DeliveryMode(cfg.String("delivery_mode", string(d.DeliveryMode))),
		ValidateSchemas:    cfg.Bool("validate_schemas", false),
	}
}
