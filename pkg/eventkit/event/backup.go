package event

import (
	"context"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
)

// BackupVersion identifies the bundle format. Restore accepts any
// bundle whose version it recognizes; currently only this one exists.
const BackupVersion = "1.0.0"

// TimeRange is the inclusive span covered by a backup.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BackupMetadata summarizes a bundle's contents.
type BackupMetadata struct {
	TotalEvents int       `json:"total_events"`
	EventTypes  []string  `json:"event_types"`
	TimeRange   TimeRange `json:"time_range"`

	// Config records the bus settings in effect at backup time, for
	// operators deciding whether a restore target is compatible.
	Config BackupConfig `json:"config"`
}

// BackupConfig is the subset of bus configuration worth carrying in a
// bundle.
type BackupConfig struct {
	MaxConcurrentProcessors int          `json:"max_concurrent_processors"`
	BufferSize              int          `json:"buffer_size"`
	PersistenceMode         string       `json:"persistence_mode"`
	DeliveryMode            DeliveryMode `json:"delivery_mode"`
}

// BackupBundle is a self-describing export of stored events. Marshal it
// with encoding/json for a portable snapshot.
type BackupBundle struct {
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Events    []*ProcessedEvent `json:"events"`
	Metadata  BackupMetadata    `json:"metadata"`
}

// RestoreOptions filters which bundle events are imported.
type RestoreOptions struct {
	// Types restricts the restore to these event types. Empty means all.
	Types []string

	// Since/Until restrict by event timestamp. Zero means unbounded.
	Since time.Time
	Until time.Time

	// Validate re-runs event validation on each entry, skipping
	// entries that no longer pass.
	Validate bool
}

func (o RestoreOptions) admits(pe *ProcessedEvent) bool {
	if len(o.Types) > 0 {
		found := false
		for _, t := range o.Types {
			if pe.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !o.Since.IsZero() && pe.Timestamp.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && pe.Timestamp.After(o.Until) {
		return false
	}
	return true
}

// BackupEvents exports everything the bus can see (store or in-memory
// fallback) as a bundle.
func (b *Bus) BackupEvents(ctx context.Context) (*BackupBundle, error) {
	events, err := b.QueryEvents(ctx, QueryOptions{SortBy: SortByTimestamp})
	if err != nil {
		return nil, WrapError(CodeStoreNotInitialized, "backup query failed", err)
	}

	bundle := &BackupBundle{
		Timestamp: time.Now(),
		Version:   BackupVersion,
		Events:    events,
		Metadata: BackupMetadata{
			TotalEvents: len(events),
			Config: BackupConfig{
				MaxConcurrentProcessors: b.cfg.MaxConcurrentProcessors,
				BufferSize:              b.cfg.BufferSize,
				PersistenceMode:         string(b.cfg.PersistenceMode),
				DeliveryMode:            b.cfg.DeliveryMode,
			},
		},
	}

	types := make(map[string]struct{})
	for i, pe := range events {
		types[pe.Type] = struct{}{}
		if i == 0 || pe.Timestamp.Before(bundle.Metadata.TimeRange.Start) {
			bundle.Metadata.TimeRange.Start = pe.Timestamp
		}
		if pe.Timestamp.After(bundle.Metadata.TimeRange.End) {
			bundle.Metadata.TimeRange.End = pe.Timestamp
		}
	}
	bundle.Metadata.EventTypes = make([]string, 0, len(types))
	for t := range types {
		bundle.Metadata.EventTypes = append(bundle.Metadata.EventTypes, t)
	}

	return bundle, nil
}

// RestoreEvents imports a bundle into the attached store and returns
// how many events were written. Restore requires a store: restored
// events are historical records, not re-deliveries, so they never
// re-enter the processing pipeline. Entries that fail the filter,
// validation, or the store write are skipped and logged, never aborting
// the rest of the bundle.
func (b *Bus) RestoreEvents(ctx context.Context, bundle *BackupBundle, opts RestoreOptions) (int, error) {
	if b.store == nil {
		return 0, NewError(CodeStoreNotInitialized, "restore requires an attached store")
	}
	if bundle == nil {
		return 0, NewError(CodeConfigurationError, "nil backup bundle")
	}
	if bundle.Version != BackupVersion {
		return 0, Errorf(CodeConfigurationError, "unsupported backup version %q", bundle.Version)
	}

	restored := 0
	for _, pe := range bundle.Events {
		if pe == nil || !opts.admits(pe) {
			continue
		}
		if opts.Validate {
			if err := pe.Event.Validate(); err != nil {
				observability.LogStoreError(b.logger, pe.ID, "restore-validate", err)
				continue
			}
		}
		if err := b.store.Store(ctx, pe.Clone()); err != nil {
			observability.LogStoreError(b.logger, pe.ID, "restore", err)
			continue
		}
		restored++
	}
	return restored, nil
}
