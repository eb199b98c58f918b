package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
)

// System event types the bus emits about its own lifecycle. They are
// ordinary events: subscribe to them like any other type. They are
// always LOW priority and sourced as "event-bus".
const (
	TypeSystemStarted  = "system.started"
	TypeSystemStopped  = "system.stopped"
	TypeEventEmitted   = "event.emitted"
	TypeEventProcessed = "event.processed"
	TypeEventFailed    = "event.failed"

	// SourceBus labels events originated by the bus itself.
	SourceBus = "event-bus"
)

// PersistenceMode controls which events reach the attached store.
type PersistenceMode string

const (
	// PersistenceNone disables persistence even with a store attached.
	PersistenceNone PersistenceMode = "none"

	// PersistenceTerminal persists events once they settle as
	// PROCESSED or terminally FAILED. This is the default.
	PersistenceTerminal PersistenceMode = "terminal"
)

// DeliveryMode is a configuration label describing the intended
// delivery semantics. It is documentation for operators and backups,
// not an enforced protocol: the bus is in-process and gives
// at-most-once delivery per listener per attempt either way.
type DeliveryMode string

const (
	DeliveryAtMostOnce  DeliveryMode = "at-most-once"
	DeliveryAtLeastOnce DeliveryMode = "at-least-once"
)

// Hook is an interception point around emit and processing. Hooks may
// block; a hook's failure propagates into the pipeline like any other
// error and is not retried separately.
type Hook func(ctx context.Context, evt *ProcessedEvent) error

// BusConfig configures the processing pipeline.
type BusConfig struct {
	// Emitter configures the underlying listener registry.
	Emitter EmitterConfig

	// MaxConcurrentProcessors bounds simultaneously processing events.
	// Default: 10
	MaxConcurrentProcessors int

	// BufferSize bounds the overflow buffer used once the concurrency
	// limit is reached. When both are full, Emit fails fast with
	// CodeResourceLimitExceeded. Default: 1000
	BufferSize int

	// ProcessingTimeout bounds a single processing attempt.
	// Default: 30s
	ProcessingTimeout time.Duration

	// Retry governs reattempts of failed processing.
	// Zero value means DefaultRetryPolicy.
	Retry RetryPolicy

	// DisableRetries makes every processing failure terminal.
	DisableRetries bool

	// DrainInterval is how often buffered events are re-admitted while
	// spare concurrency capacity exists. Default: 100ms
	DrainInterval time.Duration

	// RetrySweepInterval is how often stale retry entries are checked.
	// Default: 1m
	RetrySweepInterval time.Duration

	// StaleRetryAge discards retry entries whose due time is this far
	// in the past, guarding against timers lost to process suspension.
	// Default: 1h
	StaleRetryAge time.Duration

	// Store receives terminal events. Optional; without it queries run
	// over the bus's own in-flight population.
	Store Store

	// PersistenceMode controls what reaches the store.
	// Default: PersistenceTerminal
	PersistenceMode PersistenceMode

	// DeliveryMode is a label recorded in stats and backups.
	// Default: DeliveryAtLeastOnce
	DeliveryMode DeliveryMode

	// Registry holds event schemas; used when ValidateSchemas is set.
	Registry *Registry

	// ValidateSchemas checks emitted events against the Registry.
	ValidateSchemas bool

	// Lifecycle hooks. All optional.
	BeforeEmit    Hook
	AfterEmit     Hook
	BeforeProcess Hook
	AfterProcess  Hook

	// OnError receives every captured processing failure, including
	// per-attempt failures that will be retried.
	OnError func(evt *ProcessedEvent, err error)

	// Logger for pipeline logging. May be nil.
	Logger *slog.Logger

	// Metrics defaults to observability.NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans defaults to observability.NoopSpanManager.
	Spans observability.SpanManager
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	MaxConcurrentProcessors: 10,
	BufferSize:              1000,
	ProcessingTimeout:       30 * time.Second,
	Retry:                   DefaultRetryPolicy,
	DrainInterval:           100 * time.Millisecond,
	RetrySweepInterval:      time.Minute,
	StaleRetryAge:           time.Hour,
	PersistenceMode:         PersistenceTerminal,
	DeliveryMode:            DeliveryAtLeastOnce,
}

// Bus turns a raw emit into a managed, retryable, metered, optionally
// persisted process. It embeds Emitter: final delivery to listeners is
// a call into the inherited fan-out, and On/Once/registrations work the
// same as on a bare emitter.
type Bus struct {
	*Emitter

	cfg     BusConfig
	store   Store
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu           sync.Mutex
	inflight     map[string]*ProcessedEvent // everything admitted, not yet settled
	active       map[string]struct{}        // IDs currently processing
	buffer       []*ProcessedEvent          // FIFO overflow
	retryPending map[string]*ProcessedEvent
	retryTimers  map[string]*time.Timer

	emitted   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	buffered  atomic.Int64
	rejected  atomic.Int64

	wg      sync.WaitGroup
	stopCh  chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// NewBus creates a bus. Start must be called before emitting.
func NewBus(cfg BusConfig) *Bus {
	if cfg.MaxConcurrentProcessors <= 0 {
		cfg.MaxConcurrentProcessors = DefaultBusConfig.MaxConcurrentProcessors
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBusConfig.BufferSize
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultBusConfig.ProcessingTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultBusConfig.Retry
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultBusConfig.DrainInterval
	}
	if cfg.RetrySweepInterval <= 0 {
		cfg.RetrySweepInterval = DefaultBusConfig.RetrySweepInterval
	}
	if cfg.StaleRetryAge <= 0 {
		cfg.StaleRetryAge = DefaultBusConfig.StaleRetryAge
	}
	if cfg.PersistenceMode == "" {
		cfg.PersistenceMode = DefaultBusConfig.PersistenceMode
	}
	if cfg.DeliveryMode == "" {
		cfg.DeliveryMode = DefaultBusConfig.DeliveryMode
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	if cfg.Emitter.Logger == nil {
		cfg.Emitter.Logger = cfg.Logger
	}

	return &Bus{
		Emitter:      NewEmitter(cfg.Emitter),
		cfg:          cfg,
		store:        cfg.Store,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		spans:        cfg.Spans,
		inflight:     make(map[string]*ProcessedEvent),
		active:       make(map[string]struct{}),
		retryPending: make(map[string]*ProcessedEvent),
		retryTimers:  make(map[string]*time.Timer),
		stopCh:       make(chan struct{}),
	}
}

// Start initializes the store (if attached), starts the maintenance
// loops, and emits system.started.
func (b *Bus) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	if b.store != nil {
		if err := b.store.Initialize(ctx); err != nil {
			b.started.Store(false)
			return err
		}
	}

	b.Emitter.Initialize()

	go b.drainLoop()
	go b.sweepLoop()

	b.emitSystem(ctx, TypeSystemStarted, nil)
	return nil
}

// Emit admits an event into the pipeline and returns once the full
// first attempt has settled (or the event was buffered or rejected).
// Scheduled retries run asynchronously and are not awaited here; their
// outcome surfaces through event.processed / event.failed and the
// store. Validation and resource-exhaustion errors are returned;
// transient processing failures are not.
func (b *Bus) Emit(ctx context.Context, evt Event) error {
	if !b.started.Load() || b.stopped.Load() {
		return NewError(CodeEmitterNotInitialized, "bus is not started")
	}
	if err := evt.Validate(); err != nil {
		return err
	}
	if b.cfg.ValidateSchemas && b.cfg.Registry != nil {
		if err := b.cfg.Registry.Validate(evt); err != nil {
			return err
		}
	}

	pe := NewProcessedEvent(evt)

	ectx, span := b.spans.StartEmitSpan(ctx, evt.ID, evt.Type)

	b.mu.Lock()
	b.inflight[evt.ID] = pe
	b.mu.Unlock()

	if b.cfg.BeforeEmit != nil {
		if err := b.cfg.BeforeEmit(ectx, pe); err != nil {
			b.forget(evt.ID)
			b.spans.EndSpanWithError(span, err)
			return err
		}
	}

	b.emitted.Add(1)
	b.metrics.RecordEmit(ectx, evt.Type)
	observability.LogEmit(b.logger, evt.ID, evt.Type)

	err := b.admit(ectx, pe)

	if err == nil && b.cfg.AfterEmit != nil {
		err = b.cfg.AfterEmit(ectx, pe)
	}

	b.spans.EndSpanWithError(span, err)

	if err == nil {
		b.emitSystem(ctx, TypeEventEmitted, map[string]any{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		})
	}
	return err
}

// admit applies admission control: run now, buffer, or reject.
func (b *Bus) admit(ctx context.Context, pe *ProcessedEvent) error {
	b.mu.Lock()

	if len(b.active) >= b.cfg.MaxConcurrentProcessors {
		if len(b.buffer) < b.cfg.BufferSize {
			b.buffer = append(b.buffer, pe)
			depth := len(b.buffer)
			b.mu.Unlock()

			b.buffered.Add(1)
			b.metrics.RecordBufferDepth(ctx, depth)
			observability.LogBuffered(b.logger, pe.ID, depth)
			return nil
		}

		delete(b.inflight, pe.ID)
		pe.Status = StatusCancelled
		b.mu.Unlock()

		b.rejected.Add(1)
		return Errorf(CodeResourceLimitExceeded,
			"event %s rejected: %d processors busy and buffer of %d full",
			pe.ID, b.cfg.MaxConcurrentProcessors, b.cfg.BufferSize)
	}

	b.active[pe.ID] = struct{}{}
	b.inflight[pe.ID] = pe // retries re-enter here
	b.mu.Unlock()

	b.wg.Add(1)
	b.runAttempt(ctx, pe)
	return nil
}

// runAttempt executes one processing attempt and routes the outcome to
// success bookkeeping or the retry decision. It always settles the
// active/in-flight tracking, win or lose. Every write to the event's
// tracked fields holds b.mu: the store-less query fallback clones
// events under the same lock and must never see a half-written
// transition.
func (b *Bus) runAttempt(ctx context.Context, pe *ProcessedEvent) {
	defer func() {
		b.mu.Lock()
		delete(b.active, pe.ID)
		delete(b.inflight, pe.ID)
		b.mu.Unlock()
		b.wg.Done()
	}()

	b.mu.Lock()
	pe.Status = StatusProcessing
	pe.Attempts++
	b.mu.Unlock()
	start := time.Now()

	pctx, span := b.spans.StartProcessSpan(ctx, pe.ID, pe.Attempts)

	if b.cfg.BeforeProcess != nil {
		if err := b.cfg.BeforeProcess(pctx, pe); err != nil {
			b.spans.EndSpanWithError(span, err)
			b.handleFailure(ctx, pe, err)
			return
		}
	}

	err := b.deliver(pctx, pe)
	duration := time.Since(start)

	b.metrics.RecordProcessing(ctx, pe.Type, duration, err)
	b.spans.EndSpanWithError(span, err)

	if err != nil {
		b.handleFailure(ctx, pe, err)
		return
	}

	b.mu.Lock()
	pe.Status = StatusProcessed
	pe.ProcessedAt = time.Now()
	pe.ProcessingDuration = duration
	pe.Error = ""
	pe.NextRetryAt = time.Time{}
	b.mu.Unlock()

	if b.cfg.AfterProcess != nil {
		if hookErr := b.cfg.AfterProcess(ctx, pe); hookErr != nil && b.cfg.OnError != nil {
			b.cfg.OnError(pe, hookErr)
		}
	}

	b.persist(ctx, pe)
	b.processed.Add(1)
	observability.LogProcessed(b.logger, pe.ID, pe.Type, duration)
	b.emitSystem(ctx, TypeEventProcessed, map[string]any{
		"event_id":    pe.ID,
		"event_type":  pe.Type,
		"duration_ms": duration.Milliseconds(),
	})
}

// deliver races listener fan-out against the processing timeout. On
// timeout the attempt fails but the listener batch is not waited for:
// it keeps running on its (cancelled) context and its result is
// discarded.
func (b *Bus) deliver(ctx context.Context, pe *ProcessedEvent) error {
	dctx, cancel := context.WithTimeout(ctx, b.cfg.ProcessingTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.Emitter.emitCollect(dctx, pe.Event)
	}()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return Errorf(CodeProcessingTimeout,
				"event %s exceeded processing timeout of %s", pe.ID, b.cfg.ProcessingTimeout)
		}
		return dctx.Err()
	}
}

// handleFailure captures the error on the event and either schedules a
// retry or settles it as terminally FAILED.
func (b *Bus) handleFailure(ctx context.Context, pe *ProcessedEvent, err error) {
	b.mu.Lock()
	pe.Error = err.Error()
	b.mu.Unlock()
	observability.LogProcessingFailed(b.logger, pe.ID, pe.Type, pe.Attempts, err)
	if b.cfg.OnError != nil {
		b.cfg.OnError(pe, err)
	}

	if !b.cfg.DisableRetries && b.cfg.Retry.Allows(pe.Attempts) && !b.stopped.Load() {
		b.scheduleRetry(ctx, pe)
		return
	}

	b.failTerminal(ctx, pe)
}

// scheduleRetry resets the event to PENDING and arms a timer that
// re-enters admission once the backoff elapses.
func (b *Bus) scheduleRetry(ctx context.Context, pe *ProcessedEvent) {
	delay := b.cfg.Retry.Delay(pe.Attempts)

	id := pe.ID
	b.mu.Lock()
	pe.Status = StatusPending
	pe.NextRetryAt = time.Now().Add(delay)
	b.retryPending[id] = pe
	b.retryTimers[id] = time.AfterFunc(delay, func() {
		b.fireRetry(id)
	})
	b.mu.Unlock()

	b.retried.Add(1)
	b.metrics.RecordRetry(ctx, pe.Type, pe.Attempts)
	observability.LogRetryScheduled(b.logger, pe.ID, pe.Attempts, delay)
}

// fireRetry moves a due event from retry-pending back through admission.
func (b *Bus) fireRetry(id string) {
	b.mu.Lock()
	pe, ok := b.retryPending[id]
	delete(b.retryPending, id)
	delete(b.retryTimers, id)
	b.mu.Unlock()

	if !ok || b.stopped.Load() {
		return
	}

	if err := b.admit(context.Background(), pe); err != nil {
		// Admission is saturated: the retry cannot be honored, the
		// failure becomes terminal.
		b.mu.Lock()
		pe.Error = err.Error()
		b.mu.Unlock()
		b.failTerminal(context.Background(), pe)
	}
}

// failTerminal settles an event as FAILED, persists it, and announces
// it via event.failed.
func (b *Bus) failTerminal(ctx context.Context, pe *ProcessedEvent) {
	b.mu.Lock()
	pe.Status = StatusFailed
	pe.ProcessedAt = time.Now()
	pe.NextRetryAt = time.Time{}
	b.mu.Unlock()

	b.failed.Add(1)
	b.persist(ctx, pe)
	b.emitSystem(ctx, TypeEventFailed, map[string]any{
		"event_id":   pe.ID,
		"event_type": pe.Type,
		"attempts":   pe.Attempts,
		"error":      pe.Error,
	})
}

// persist writes a value copy to the store. The in-memory status
// transition is authoritative: a store failure is reported through
// OnError and the log, never rolled back.
func (b *Bus) persist(ctx context.Context, pe *ProcessedEvent) {
	if b.store == nil || b.cfg.PersistenceMode == PersistenceNone {
		return
	}
	if err := b.store.Store(ctx, pe.Clone()); err != nil {
		observability.LogStoreError(b.logger, pe.ID, "store", err)
		if b.cfg.OnError != nil {
			b.cfg.OnError(pe, err)
		}
	}
}

// emitSystem emits a bus lifecycle event straight through the inherited
// fan-out, bypassing admission so system events never consume pipeline
// capacity or recurse into more system events.
func (b *Bus) emitSystem(ctx context.Context, eventType string, data map[string]any) {
	evt := New(eventType, data,
		WithSource(SourceBus),
		WithPriority(PriorityLow),
	)
	if err := b.Emitter.Emit(ctx, evt); err != nil && b.logger != nil {
		b.logger.Debug("system event dropped",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// forget drops an event from in-flight tracking.
func (b *Bus) forget(id string) {
	b.mu.Lock()
	delete(b.inflight, id)
	b.mu.Unlock()
}

// drainLoop periodically re-admits buffered events while spare
// concurrency capacity exists.
func (b *Bus) drainLoop() {
	ticker := time.NewTicker(b.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainBuffer()
		case <-b.stopCh:
			return
		}
	}
}

// drainBuffer admits up to (MaxConcurrentProcessors - active) buffered
// events and waits for them to settle. Returns how many were admitted.
func (b *Bus) drainBuffer() int {
	b.mu.Lock()
	spare := b.cfg.MaxConcurrentProcessors - len(b.active)
	if spare <= 0 || len(b.buffer) == 0 {
		b.mu.Unlock()
		return 0
	}

	n := min(spare, len(b.buffer))
	batch := make([]*ProcessedEvent, n)
	copy(batch, b.buffer[:n])
	b.buffer = append(b.buffer[:0:0], b.buffer[n:]...)
	depth := len(b.buffer)
	b.mu.Unlock()

	b.metrics.RecordBufferDepth(context.Background(), depth)

	var g errgroup.Group
	for _, pe := range batch {
		g.Go(func() error {
			// A full re-admission re-buffers at the tail; position in
			// the FIFO is only guaranteed up to admission order.
			_ = b.admit(context.Background(), pe)
			return nil
		})
	}
	_ = g.Wait()

	return n
}

// sweepLoop periodically discards retry entries whose due time is long
// past, a defense against timers that never fired.
func (b *Bus) sweepLoop() {
	ticker := time.NewTicker(b.cfg.RetrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweepStaleRetries()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) sweepStaleRetries() {
	cutoff := time.Now().Add(-b.cfg.StaleRetryAge)

	b.mu.Lock()
	var removed int
	for id, pe := range b.retryPending {
		if pe.NextRetryAt.Before(cutoff) {
			if timer, ok := b.retryTimers[id]; ok {
				timer.Stop()
			}
			delete(b.retryPending, id)
			delete(b.retryTimers, id)
			removed++
		}
	}
	b.mu.Unlock()

	if removed > 0 {
		observability.LogSweep(b.logger, "stale-retries", removed)
	}
}

// Shutdown stops the maintenance loops, abandons scheduled retries,
// waits for active processing to settle, flushes the overflow buffer
// once more, and emits system.stopped. It does not cancel in-flight
// work.
func (b *Bus) Shutdown(ctx context.Context) error {
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopCh)

	b.mu.Lock()
	for id, timer := range b.retryTimers {
		timer.Stop()
		delete(b.retryTimers, id)
		delete(b.retryPending, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.drainBuffer()
	b.wg.Wait()

	b.emitSystem(ctx, TypeSystemStopped, nil)
	b.Emitter.Shutdown()

	if b.store != nil {
		return b.store.Shutdown(ctx)
	}
	return nil
}

// QueryEvents delegates to the attached store, or falls back to a
// linear scan over the in-flight, buffered, and retry-pending
// populations when no store is attached.
func (b *Bus) QueryEvents(ctx context.Context, opts QueryOptions) ([]*ProcessedEvent, error) {
	if b.store != nil {
		return b.store.Query(ctx, opts)
	}

	var matched []*ProcessedEvent
	for _, pe := range b.snapshot() {
		if opts.Match(pe) {
			matched = append(matched, pe)
		}
	}
	SortEvents(matched, opts.SortBy, opts.SortDesc)
	return Paginate(matched, opts.Offset, opts.Limit), nil
}

// GetEventStats aggregates over whatever population is visible: the
// store when attached, the in-memory fallback otherwise.
func (b *Bus) GetEventStats(ctx context.Context) (Stats, error) {
	if b.store != nil {
		return b.store.Stats(ctx)
	}
	return ComputeStats(b.snapshot()), nil
}

// snapshot returns value copies of the union of in-flight, buffered,
// and retry-pending events, deduplicated by ID. Events are cloned while
// the lock is held; the pipeline writes event fields under the same
// lock, so the copies are always a consistent view.
func (b *Bus) snapshot() []*ProcessedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.inflight)+len(b.retryPending))
	events := make([]*ProcessedEvent, 0, len(b.inflight)+len(b.retryPending))

	collect := func(pe *ProcessedEvent) {
		if _, ok := seen[pe.ID]; ok {
			return
		}
		seen[pe.ID] = struct{}{}
		events = append(events, pe.Clone())
	}

	for _, pe := range b.inflight {
		collect(pe)
	}
	for _, pe := range b.buffer {
		collect(pe)
	}
	for _, pe := range b.retryPending {
		collect(pe)
	}
	return events
}

// BusMetrics is a snapshot of the bus's own counters.
type BusMetrics struct {
	Emitted   int64 // events admitted
	Processed int64 // events settled PROCESSED
	Failed    int64 // events settled FAILED
	Retried   int64 // retries scheduled
	Buffered  int64 // events parked in the overflow buffer
	Rejected  int64 // events refused with ResourceLimitExceeded
}

// Metrics returns a snapshot of the pipeline counters.
func (b *Bus) Metrics() BusMetrics {
	return BusMetrics{
		Emitted:   b.emitted.Load(),
		Processed: b.processed.Load(),
		Failed:    b.failed.Load(),
		Retried:   b.retried.Load(),
		Buffered:  b.buffered.Load(),
		Rejected:  b.rejected.Load(),
	}
}

// BufferDepth returns the current overflow buffer occupancy.
func (b *Bus) BufferDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// ActiveCount returns the number of events currently processing.
func (b *Bus) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// RetryPendingCount returns the number of events awaiting a retry.
func (b *Bus) RetryPendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.retryPending)
}
