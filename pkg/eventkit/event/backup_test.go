package event_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/store"
)

func emitAndSettle(t *testing.T, bus *event.Bus, evt event.Event) {
	t.Helper()
	if err := bus.Emit(context.Background(), evt); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	srcStore := store.NewMemoryStore(store.Config{})
	src := newStartedBus(t, event.BusConfig{Store: srcStore})
	defer src.Shutdown(context.Background())

	src.On("order.created", func(ctx context.Context, evt event.Event) error { return nil })
	src.On("order.shipped", func(ctx context.Context, evt event.Event) error { return nil })

	emitAndSettle(t, src, event.New("order.created", map[string]any{"id": 1}))
	emitAndSettle(t, src, event.New("order.created", map[string]any{"id": 2}))
	emitAndSettle(t, src, event.New("order.shipped", map[string]any{"id": 1}))

	bundle, err := src.BackupEvents(context.Background())
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if bundle.Metadata.TotalEvents != 3 {
		t.Errorf("expected 3 events in bundle, got %d", bundle.Metadata.TotalEvents)
	}
	if len(bundle.Metadata.EventTypes) != 2 {
		t.Errorf("expected 2 event types, got %v", bundle.Metadata.EventTypes)
	}
	if bundle.Version != event.BackupVersion {
		t.Errorf("expected version %s, got %s", event.BackupVersion, bundle.Version)
	}
	if bundle.Metadata.TimeRange.Start.After(bundle.Metadata.TimeRange.End) {
		t.Error("expected time range start <= end")
	}

	// A bundle survives serialization
	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	var decoded event.BackupBundle
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}

	dstStore := store.NewMemoryStore(store.Config{})
	dst := newStartedBus(t, event.BusConfig{Store: dstStore})
	defer dst.Shutdown(context.Background())

	restored, err := dst.RestoreEvents(context.Background(), &decoded, event.RestoreOptions{})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored != 3 {
		t.Errorf("expected 3 restored, got %d", restored)
	}

	results, err := dst.QueryEvents(context.Background(), event.QueryOptions{
		Types: []string{"order.created"},
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 restored order.created events, got %d", len(results))
	}
	for _, pe := range results {
		if pe.Status != event.StatusProcessed {
			t.Errorf("expected restored status PROCESSED, got %s", pe.Status)
		}
	}
}

func TestRestoreFilters(t *testing.T) {
	now := time.Now()
	bundle := &event.BackupBundle{
		Timestamp: now,
		Version:   event.BackupVersion,
		Events: []*event.ProcessedEvent{
			event.NewProcessedEvent(event.New("a.happened", nil, event.WithTimestamp(now.Add(-2*time.Hour)))),
			event.NewProcessedEvent(event.New("a.happened", nil, event.WithTimestamp(now))),
			event.NewProcessedEvent(event.New("b.happened", nil, event.WithTimestamp(now))),
		},
	}

	st := store.NewMemoryStore(store.Config{})
	bus := newStartedBus(t, event.BusConfig{Store: st})
	defer bus.Shutdown(context.Background())

	restored, err := bus.RestoreEvents(context.Background(), bundle, event.RestoreOptions{
		Types: []string{"a.happened"},
		Since: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored != 1 {
		t.Errorf("expected 1 restored after filtering, got %d", restored)
	}
}

func TestRestoreValidation(t *testing.T) {
	broken := event.NewProcessedEvent(event.New("a.happened", nil))
	broken.ID = "" // no longer valid
	bundle := &event.BackupBundle{
		Version: event.BackupVersion,
		Events: []*event.ProcessedEvent{
			broken,
			event.NewProcessedEvent(event.New("a.happened", nil)),
		},
	}

	st := store.NewMemoryStore(store.Config{})
	bus := newStartedBus(t, event.BusConfig{Store: st})
	defer bus.Shutdown(context.Background())

	restored, err := bus.RestoreEvents(context.Background(), bundle, event.RestoreOptions{Validate: true})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored != 1 {
		t.Errorf("expected invalid entry to be skipped, restored %d", restored)
	}
}

func TestRestoreRequiresStore(t *testing.T) {
	bus := newStartedBus(t, event.BusConfig{})
	defer bus.Shutdown(context.Background())

	_, err := bus.RestoreEvents(context.Background(), &event.BackupBundle{Version: event.BackupVersion}, event.RestoreOptions{})
	if !event.IsCode(err, event.CodeStoreNotInitialized) {
		t.Errorf("expected CodeStoreNotInitialized, got %v", err)
	}
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	st := store.NewMemoryStore(store.Config{})
	bus := newStartedBus(t, event.BusConfig{Store: st})
	defer bus.Shutdown(context.Background())

	_, err := bus.RestoreEvents(context.Background(), &event.BackupBundle{Version: "9.9.9"}, event.RestoreOptions{})
	if !event.IsCode(err, event.CodeConfigurationError) {
		t.Errorf("expected CodeConfigurationError, got %v", err)
	}
}
