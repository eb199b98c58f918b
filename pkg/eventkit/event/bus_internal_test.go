package event

import (
	"context"
	"testing"
	"time"
)

func TestSweepStaleRetriesDiscardsOverdueEntries(t *testing.T) {
	b := NewBus(BusConfig{StaleRetryAge: time.Minute})

	stale := NewProcessedEvent(New("billing.sync", nil))
	stale.Status = StatusPending
	stale.NextRetryAt = time.Now().Add(-2 * time.Minute)

	fresh := NewProcessedEvent(New("billing.sync", nil))
	fresh.Status = StatusPending
	fresh.NextRetryAt = time.Now().Add(time.Hour)

	// Plant both as if their timers were lost to process suspension.
	b.mu.Lock()
	for _, pe := range []*ProcessedEvent{stale, fresh} {
		b.retryPending[pe.ID] = pe
		b.retryTimers[pe.ID] = time.AfterFunc(time.Hour, func() {})
	}
	b.mu.Unlock()

	b.sweepStaleRetries()

	b.mu.Lock()
	_, staleKept := b.retryPending[stale.ID]
	_, freshKept := b.retryPending[fresh.ID]
	_, staleTimerKept := b.retryTimers[stale.ID]
	b.mu.Unlock()

	if staleKept || staleTimerKept {
		t.Error("expected overdue entry and its timer to be discarded")
	}
	if !freshKept {
		t.Error("expected future entry to survive the sweep")
	}
	if b.processed.Load() != 0 {
		t.Errorf("discarded entry must not be re-processed, got %d", b.processed.Load())
	}
}

func TestSweepLoopDiscardsOverdueEntryOnInterval(t *testing.T) {
	b := NewBus(BusConfig{
		RetrySweepInterval: 5 * time.Millisecond,
		StaleRetryAge:      time.Millisecond,
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer b.Shutdown(context.Background())

	pe := NewProcessedEvent(New("billing.sync", nil))
	pe.Status = StatusPending
	pe.NextRetryAt = time.Now().Add(-time.Second)
	b.mu.Lock()
	b.retryPending[pe.ID] = pe
	b.retryTimers[pe.ID] = time.AfterFunc(time.Hour, func() {})
	b.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.RetryPendingCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweep loop never discarded the overdue entry")
}
