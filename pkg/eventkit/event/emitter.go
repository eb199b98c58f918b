package event

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Listener is the callback invoked when an event of a matching type is
// emitted. Listeners run concurrently within one emit; a listener may
// itself emit (reentrancy is legal, cycle avoidance is the caller's
// responsibility).
type Listener func(ctx context.Context, evt Event) error

// EmitterConfig configures the listener registry and fan-out behavior.
type EmitterConfig struct {
	// MaxListeners is the per-type registration ceiling.
	// Default: 100
	MaxListeners int

	// LeakWarning logs a warning when a type's registration count
	// approaches the ceiling, a common sign of a forgotten Remove.
	LeakWarning bool

	// SyncErrors disables per-listener error isolation: listeners run
	// sequentially and the first failure aborts the emit.
	SyncErrors bool

	// DispatchLimit bounds parallel listener execution per emit.
	// Default: 0 (unlimited)
	DispatchLimit int

	// OnListenerError receives isolated listener failures. If nil,
	// failures are logged.
	OnListenerError func(evt Event, err error)

	// Logger for leak warnings and listener failures. May be nil.
	Logger *slog.Logger
}

// DefaultMaxListeners is the registration ceiling applied when
// EmitterConfig.MaxListeners is unset.
const DefaultMaxListeners = 100

// Emitter maintains per-type listener registrations and performs
// validation and priority-ordered fan-out. It knows nothing about
// persistence or retries; Bus layers those on top.
type Emitter struct {
	cfg EmitterConfig

	mu        sync.RWMutex
	listeners map[string][]*Registration
	nextSeq   uint64

	state atomic.Int32 // stateNew -> stateRunning -> stateClosed
}

const (
	stateNew int32 = iota
	stateRunning
	stateClosed
)

// NewEmitter creates an emitter. Initialize must be called before Emit.
func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.MaxListeners <= 0 {
		cfg.MaxListeners = DefaultMaxListeners
	}
	return &Emitter{
		cfg:       cfg,
		listeners: make(map[string][]*Registration),
	}
}

// Initialize makes the emitter accept emits.
func (e *Emitter) Initialize() {
	e.state.CompareAndSwap(stateNew, stateRunning)
}

// Shutdown stops the emitter; subsequent emits fail with
// CodeEmitterNotInitialized. Registrations are kept so a registry dump
// is still possible after shutdown.
func (e *Emitter) Shutdown() {
	e.state.Store(stateClosed)
}

// Registration is the handle returned by On and Once. It identifies a
// single listener entry for removal and activation toggling.
type Registration struct {
	eventType string
	listener  Listener
	priority  int
	once      bool
	metadata  map[string]string
	seq       uint64

	active  atomic.Bool
	emitter *Emitter
}

// Priority returns the dispatch priority of the registration.
func (r *Registration) Priority() int { return r.priority }

// Metadata returns the annotations supplied at registration.
func (r *Registration) Metadata() map[string]string { return r.metadata }

// IsActive reports whether the listener currently receives events.
func (r *Registration) IsActive() bool { return r.active.Load() }

// Deactivate stops delivery without removing the registration.
func (r *Registration) Deactivate() { r.active.Store(false) }

// Activate resumes delivery after Deactivate.
func (r *Registration) Activate() { r.active.Store(true) }

// Remove deletes the registration from the emitter. Removing an
// already-removed registration is a no-op.
func (r *Registration) Remove() {
	r.emitter.remove(r)
}

// ListenerOption configures a registration.
type ListenerOption func(*Registration)

// WithListenerPriority sets the dispatch priority (default 0, higher
// runs first).
func WithListenerPriority(priority int) ListenerOption {
	return func(r *Registration) { r.priority = priority }
}

// WithListenerMetadata attaches annotations to the registration.
func WithListenerMetadata(md map[string]string) ListenerOption {
	return func(r *Registration) { r.metadata = md }
}

// On registers a listener for an event type.
func (e *Emitter) On(eventType string, listener Listener, opts ...ListenerOption) (*Registration, error) {
	return e.register(eventType, listener, false, opts...)
}

// Once registers a listener that is removed after its first invocation.
func (e *Emitter) Once(eventType string, listener Listener, opts ...ListenerOption) (*Registration, error) {
	return e.register(eventType, listener, true, opts...)
}

func (e *Emitter) register(eventType string, listener Listener, once bool, opts ...ListenerOption) (*Registration, error) {
	if eventType == "" {
		return nil, NewError(CodeInvalidEventType, "event type must be a non-empty string")
	}
	if listener == nil {
		return nil, NewError(CodeInvalidListener, "listener must not be nil")
	}

	reg := &Registration{
		eventType: eventType,
		listener:  listener,
		once:      once,
		emitter:   e,
	}
	for _, opt := range opts {
		opt(reg)
	}
	reg.active.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	count := len(e.listeners[eventType])
	if count >= e.cfg.MaxListeners {
		return nil, Errorf(CodeMaxListenersExceeded,
			"listener limit reached for type %q (%d)", eventType, e.cfg.MaxListeners)
	}
	if e.cfg.LeakWarning && e.cfg.Logger != nil && count+1 >= e.cfg.MaxListeners*4/5 {
		e.cfg.Logger.Warn("listener count approaching limit, possible leak",
			slog.String("event_type", eventType),
			slog.Int("count", count+1),
			slog.Int("max", e.cfg.MaxListeners),
		)
	}

	e.nextSeq++
	reg.seq = e.nextSeq
	e.listeners[eventType] = append(e.listeners[eventType], reg)

	return reg, nil
}

// remove deletes a registration; the type key is dropped once its list
// is empty so the registry never accumulates dangling entries.
func (e *Emitter) remove(reg *Registration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[reg.eventType]
	for i, r := range regs {
		if r.seq == reg.seq {
			e.listeners[reg.eventType] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(e.listeners[reg.eventType]) == 0 {
		delete(e.listeners, reg.eventType)
	}
}

// ListenerCount returns the number of registrations for a type.
func (e *Emitter) ListenerCount(eventType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[eventType])
}

// Types returns all event types with at least one registration.
func (e *Emitter) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	types := make([]string, 0, len(e.listeners))
	for t := range e.listeners {
		types = append(types, t)
	}
	return types
}

// Emit validates the event and fans it out to every active listener of
// its type, highest priority first (ties keep registration order). It
// returns once every listener has settled. Listener failures are
// isolated and reported via OnListenerError unless SyncErrors is set,
// in which case the first failure aborts the emit and propagates.
func (e *Emitter) Emit(ctx context.Context, evt Event) error {
	if e.state.Load() != stateRunning {
		return NewError(CodeEmitterNotInitialized, "emitter is not initialized")
	}
	if err := evt.Validate(); err != nil {
		return err
	}

	regs := e.snapshot(evt.Type)
	if len(regs) == 0 {
		return nil
	}

	if e.cfg.SyncErrors {
		return e.dispatchSync(ctx, evt, regs)
	}

	for _, err := range e.dispatch(ctx, evt, regs) {
		e.reportListenerError(evt, err)
	}
	removeOnce(regs)
	return nil
}

// emitCollect fans out like Emit but returns listener failures joined
// instead of isolating them. The bus pipeline delivers through it so a
// failed listener fails the attempt and drives the retry path. The
// event is assumed already validated.
func (e *Emitter) emitCollect(ctx context.Context, evt Event) error {
	if e.state.Load() != stateRunning {
		return NewError(CodeEmitterNotInitialized, "emitter is not initialized")
	}

	regs := e.snapshot(evt.Type)
	if len(regs) == 0 {
		return nil
	}

	if e.cfg.SyncErrors {
		return e.dispatchSync(ctx, evt, regs)
	}

	errs := e.dispatch(ctx, evt, regs)
	removeOnce(regs)
	return errors.Join(errs...)
}

// snapshot returns the active registrations for a type, highest
// priority first with ties in registration order.
func (e *Emitter) snapshot(eventType string) []*Registration {
	e.mu.RLock()
	regs := make([]*Registration, 0, len(e.listeners[eventType]))
	for _, r := range e.listeners[eventType] {
		if r.active.Load() {
			regs = append(regs, r)
		}
	}
	e.mu.RUnlock()

	// Stable sort: descending priority, registration order for ties.
	slices.SortStableFunc(regs, func(a, b *Registration) int {
		return b.priority - a.priority
	})
	return regs
}

// removeOnce drops invoked one-shot registrations after the batch has
// settled.
func removeOnce(invoked []*Registration) {
	for _, r := range invoked {
		if r.once {
			r.Remove()
		}
	}
}

// dispatch runs listeners concurrently and returns every failure. The
// caller decides whether failures are isolated or propagated.
func (e *Emitter) dispatch(ctx context.Context, evt Event, regs []*Registration) []error {
	var g errgroup.Group
	if e.cfg.DispatchLimit > 0 {
		g.SetLimit(e.cfg.DispatchLimit)
	}

	var errMu sync.Mutex
	var errs []error
	for _, r := range regs {
		g.Go(func() error {
			if err := r.listener(ctx, evt); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errs
}

// dispatchSync runs listeners one at a time and stops at the first
// failure. Only listeners that actually ran have their once flag
// honored.
func (e *Emitter) dispatchSync(ctx context.Context, evt Event, regs []*Registration) error {
	for i, r := range regs {
		if err := r.listener(ctx, evt); err != nil {
			removeOnce(regs[:i+1])
			return err
		}
	}
	removeOnce(regs)
	return nil
}

func (e *Emitter) reportListenerError(evt Event, err error) {
	if e.cfg.OnListenerError != nil {
		e.cfg.OnListenerError(evt, err)
		return
	}
	if e.cfg.Logger != nil {
		e.cfg.Logger.Error("listener failed",
			slog.String("event_id", evt.ID),
			slog.String("event_type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}
