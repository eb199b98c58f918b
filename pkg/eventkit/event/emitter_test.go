package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

func newRunningEmitter(cfg event.EmitterConfig) *event.Emitter {
	e := event.NewEmitter(cfg)
	e.Initialize()
	return e
}

func TestEmitterDelivers(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{})

	var received atomic.Int32
	reg, err := e.On("test.event", func(ctx context.Context, evt event.Event) error {
		received.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	defer reg.Remove()

	if err := e.Emit(context.Background(), event.New("test.event", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}

	// Non-matching type is ignored
	if err := e.Emit(context.Background(), event.New("other.event", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("expected no delivery for other type, got %d", received.Load())
	}
}

func TestEmitterPriorityOrder(t *testing.T) {
	// Sequential dispatch makes invocation order observable.
	e := newRunningEmitter(event.EmitterConfig{DispatchLimit: 1})

	var mu sync.Mutex
	var order []string
	record := func(name string) event.Listener {
		return func(ctx context.Context, evt event.Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Registered low first to prove ordering is by priority, not
	// registration order. Equal priorities keep registration order.
	e.On("test.event", record("low"), event.WithListenerPriority(1))
	e.On("test.event", record("high"), event.WithListenerPriority(10))
	e.On("test.event", record("mid-a"), event.WithListenerPriority(5))
	e.On("test.event", record("mid-b"), event.WithListenerPriority(5))

	if err := e.Emit(context.Background(), event.New("test.event", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"high", "mid-a", "mid-b", "low"}
	if len(order) != len(want) {
		t.Fatalf("expected %d invocations, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestEmitterOnce(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{})

	var calls atomic.Int32
	_, err := e.Once("test.event", func(ctx context.Context, evt event.Event) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	e.Emit(context.Background(), event.New("test.event", nil))
	e.Emit(context.Background(), event.New("test.event", nil))

	if calls.Load() != 1 {
		t.Errorf("expected one-shot listener to run once, got %d", calls.Load())
	}
	if e.ListenerCount("test.event") != 0 {
		t.Errorf("expected registration to be removed, %d remain", e.ListenerCount("test.event"))
	}
}

func TestEmitterErrorIsolation(t *testing.T) {
	var reported atomic.Int32
	e := newRunningEmitter(event.EmitterConfig{
		OnListenerError: func(evt event.Event, err error) {
			reported.Add(1)
		},
	})

	var survived atomic.Int32
	e.On("test.event", func(ctx context.Context, evt event.Event) error {
		return errors.New("boom")
	})
	e.On("test.event", func(ctx context.Context, evt event.Event) error {
		survived.Add(1)
		return nil
	})

	if err := e.Emit(context.Background(), event.New("test.event", nil)); err != nil {
		t.Fatalf("expected isolated failure, got %v", err)
	}
	if survived.Load() != 1 {
		t.Error("expected healthy listener to run despite failure")
	}
	if reported.Load() != 1 {
		t.Errorf("expected 1 reported failure, got %d", reported.Load())
	}
}

func TestEmitterSyncErrors(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{SyncErrors: true})

	var afterFailure atomic.Int32
	e.On("test.event", func(ctx context.Context, evt event.Event) error {
		return errors.New("boom")
	}, event.WithListenerPriority(10))
	e.On("test.event", func(ctx context.Context, evt event.Event) error {
		afterFailure.Add(1)
		return nil
	})

	err := e.Emit(context.Background(), event.New("test.event", nil))
	if err == nil {
		t.Fatal("expected first failure to propagate")
	}
	if afterFailure.Load() != 0 {
		t.Error("expected later listeners to be skipped after failure")
	}
}

func TestEmitterMaxListeners(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{MaxListeners: 2})

	noop := func(ctx context.Context, evt event.Event) error { return nil }
	for i := 0; i < 2; i++ {
		if _, err := e.On("test.event", noop); err != nil {
			t.Fatalf("registration %d failed: %v", i, err)
		}
	}

	_, err := e.On("test.event", noop)
	if !event.IsCode(err, event.CodeMaxListenersExceeded) {
		t.Errorf("expected CodeMaxListenersExceeded, got %v", err)
	}

	// The limit is per type
	if _, err := e.On("other.event", noop); err != nil {
		t.Errorf("expected other type to register, got %v", err)
	}
}

func TestEmitterRegistrationValidation(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{})

	_, err := e.On("", func(ctx context.Context, evt event.Event) error { return nil })
	if !event.IsCode(err, event.CodeInvalidEventType) {
		t.Errorf("expected CodeInvalidEventType, got %v", err)
	}

	_, err = e.On("test.event", nil)
	if !event.IsCode(err, event.CodeInvalidListener) {
		t.Errorf("expected CodeInvalidListener, got %v", err)
	}
}

func TestEmitterNotInitialized(t *testing.T) {
	e := event.NewEmitter(event.EmitterConfig{})

	err := e.Emit(context.Background(), event.New("test.event", nil))
	if !event.IsCode(err, event.CodeEmitterNotInitialized) {
		t.Errorf("expected CodeEmitterNotInitialized, got %v", err)
	}

	e.Initialize()
	e.Shutdown()
	err = e.Emit(context.Background(), event.New("test.event", nil))
	if !event.IsCode(err, event.CodeEmitterNotInitialized) {
		t.Errorf("expected CodeEmitterNotInitialized after shutdown, got %v", err)
	}
}

func TestRegistrationDeactivate(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{})

	var calls atomic.Int32
	reg, _ := e.On("test.event", func(ctx context.Context, evt event.Event) error {
		calls.Add(1)
		return nil
	})

	reg.Deactivate()
	e.Emit(context.Background(), event.New("test.event", nil))
	if calls.Load() != 0 {
		t.Error("expected deactivated listener to be skipped")
	}

	reg.Activate()
	e.Emit(context.Background(), event.New("test.event", nil))
	if calls.Load() != 1 {
		t.Error("expected reactivated listener to run")
	}

	// Deactivated registrations still count against the limit
	if e.ListenerCount("test.event") != 1 {
		t.Errorf("expected 1 registration, got %d", e.ListenerCount("test.event"))
	}
}

func TestEmitterInvalidEvent(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{})

	evt := event.New("test.event", nil)
	evt.ID = ""
	err := e.Emit(context.Background(), evt)
	if !event.IsCode(err, event.CodeInvalidEventID) {
		t.Errorf("expected CodeInvalidEventID, got %v", err)
	}
}

func TestEmitterTypes(t *testing.T) {
	e := newRunningEmitter(event.EmitterConfig{})

	noop := func(ctx context.Context, evt event.Event) error { return nil }
	regA, _ := e.On("a", noop)
	e.On("b", noop)

	if len(e.Types()) != 2 {
		t.Errorf("expected 2 types, got %d", len(e.Types()))
	}

	// Removing the last registration drops the type
	regA.Remove()
	if len(e.Types()) != 1 {
		t.Errorf("expected 1 type after removal, got %d", len(e.Types()))
	}
}
