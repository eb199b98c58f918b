/*
Package event provides an in-process event bus with priority-ordered
delivery, admission control, retries, and queryable persistence.

# Overview

The package is built in two layers:

  - Emitter: the raw fan-out. Registration by event type, priority
    ordering, one-shot listeners, and listener limits. Nothing is
    tracked after delivery returns.
  - Bus: the managed pipeline on top. Every emit becomes a tracked
    ProcessedEvent that moves through PENDING, PROCESSING, and a
    terminal PROCESSED or FAILED status, with bounded concurrency, an
    overflow buffer, timeout-bounded attempts, retry with exponential
    backoff, and optional persistence to a store.

Bus embeds Emitter, so listener registration works the same on both.

# Basic Usage

	bus := event.NewBus(event.BusConfig{})
	if err := bus.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	defer bus.Shutdown(ctx)

	reg, err := bus.On("order.created", func(ctx context.Context, evt event.Event) error {
	    order := evt.Data.(Order)
	    return fulfill(ctx, order)
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer reg.Remove()

	err = bus.Emit(ctx, event.New("order.created", order,
	    event.WithSource("checkout"),
	    event.WithPriority(event.PriorityHigh),
	))

Emit returns once the first processing attempt settles (or the event
was buffered). Validation failures and resource exhaustion come back as
errors; transient processing failures are retried in the background and
surface through event.failed and the store.

# Priorities

Listeners registered with a higher priority run before lower ones on
each delivery. Events also carry a priority, used for sorting queries
and stored populations; it does not preempt in-flight work.

	bus.On("payment.settled", audit, event.WithListenerPriority(100))

# Admission Control

At most MaxConcurrentProcessors events process at once. Excess emits
park in a FIFO buffer of BufferSize; a drain loop re-admits them as
capacity frees. When both are full, Emit fails fast with
CodeResourceLimitExceeded rather than queueing unboundedly.

# Retries

Failed attempts retry on an exponential backoff schedule with jitter
(RetryPolicy). An event that exhausts its attempts settles as FAILED.
Scheduled retries survive until Shutdown, which abandons them.

# Persistence and Queries

Attach a store from pkg/eventkit/store to keep terminal events:

	st := store.NewMemoryStore(store.Config{MaxEvents: 50000})
	bus := event.NewBus(event.BusConfig{Store: st})

	failures, err := bus.QueryEvents(ctx, event.QueryOptions{
	    Statuses:      []event.Status{event.StatusFailed},
	    CorrelationID: orderID,
	    SortBy:        event.SortByTimestamp,
	})

Without a store, queries fall back to the bus's in-flight population.
BackupEvents and RestoreEvents move bundles of stored events between
processes.

# System Events

The bus reports on itself through ordinary events: system.started,
system.stopped, event.emitted, event.processed, event.failed. They are
LOW priority, sourced as "event-bus", and delivered outside the managed
pipeline so they never consume its capacity.

# Thread Safety

  - Emitter and Bus are safe for concurrent use.
  - Registration handles are safe for concurrent use.
  - Event values passed to listeners are shared; treat Data as
    read-only or copy it.

# Subpackages

  - store: event persistence (memory, SQLite)
  - config: file-based configuration loading
  - observability: logging, metrics, and tracing helpers
*/
package event
