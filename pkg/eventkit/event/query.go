package event

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Store is the persistence SPI the bus writes terminal events to.
// pkg/eventkit/store ships an in-memory and a SQLite implementation;
// any alternative backend satisfies the same contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Initialize prepares the store. Store operations fail with
	// CodeStoreNotInitialized before this is called.
	Initialize(ctx context.Context) error

	// Shutdown releases resources and stops maintenance tasks.
	Shutdown(ctx context.Context) error

	// Store persists a value copy of the event, evicting the oldest
	// stored event first if the store is at capacity.
	Store(ctx context.Context, evt *ProcessedEvent) error

	// Get returns a value copy, or CodeEventNotFound.
	Get(ctx context.Context, id string) (*ProcessedEvent, error)

	// Query returns value copies matching the options, sorted and
	// paginated.
	Query(ctx context.Context, opts QueryOptions) ([]*ProcessedEvent, error)

	// Delete removes an event; false if it was not present.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteMany removes events by ID and returns how many existed.
	DeleteMany(ctx context.Context, ids []string) (int, error)

	// Clear removes everything.
	Clear(ctx context.Context) error

	// Stats aggregates over the full stored population.
	Stats(ctx context.Context) (Stats, error)
}

// SortField selects the ordering of query results.
type SortField string

// Supported sort fields. Ties always break by insertion order.
const (
	SortByTimestamp SortField = "timestamp"
	SortByPriority  SortField = "priority"
	SortByType      SortField = "type"
)

// QueryOptions filters, sorts, and paginates events. Indexed criteria
// (Types, Statuses, Sources, CorrelationID, CausationID) intersect:
// an event matches only if it satisfies every non-empty criterion.
type QueryOptions struct {
	Types         []string
	Statuses      []Status
	Sources       []string
	CorrelationID string
	CausationID   string

	// Since/Until bound the event timestamp (inclusive). Zero means
	// unbounded.
	Since time.Time
	Until time.Time

	// Priority filters on exact priority when non-nil.
	Priority *Priority

	// Metadata requires every given key to be present with an equal
	// value.
	Metadata map[string]string

	SortBy   SortField // default SortByTimestamp
	SortDesc bool

	Offset int
	Limit  int // 0 means no limit
}

// Indexed reports whether any index-accelerated criterion is set.
func (o QueryOptions) Indexed() bool {
	return len(o.Types) > 0 || len(o.Statuses) > 0 || len(o.Sources) > 0 ||
		o.CorrelationID != "" || o.CausationID != ""
}

// Match reports whether the event satisfies every criterion, indexed
// and non-indexed alike. Stores that pre-filter through indexes can
// still use Match for the remaining predicates.
func (o QueryOptions) Match(evt *ProcessedEvent) bool {
	if len(o.Types) > 0 && !slices.Contains(o.Types, evt.Type) {
		return false
	}
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, evt.Status) {
		return false
	}
	if len(o.Sources) > 0 && !slices.Contains(o.Sources, evt.Source) {
		return false
	}
	if o.CorrelationID != "" && evt.CorrelationID != o.CorrelationID {
		return false
	}
	if o.CausationID != "" && evt.CausationID != o.CausationID {
		return false
	}
	if !o.Since.IsZero() && evt.Timestamp.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && evt.Timestamp.After(o.Until) {
		return false
	}
	if o.Priority != nil && evt.Priority != *o.Priority {
		return false
	}
	for k, v := range o.Metadata {
		if evt.Metadata[k] != v {
			return false
		}
	}
	return true
}

// SortEvents orders events by the requested field. The sort is stable,
// so callers that append in insertion order get insertion-order ties.
func SortEvents(events []*ProcessedEvent, by SortField, desc bool) {
	cmp := func(a, b *ProcessedEvent) int {
		var c int
		switch by {
		case SortByPriority:
			c = int(a.Priority) - int(b.Priority)
		case SortByType:
			c = strings.Compare(a.Type, b.Type)
		default:
			c = a.Timestamp.Compare(b.Timestamp)
		}
		if desc {
			c = -c
		}
		return c
	}
	slices.SortStableFunc(events, cmp)
}

// Paginate applies offset/limit to an already-sorted slice.
func Paginate(events []*ProcessedEvent, offset, limit int) []*ProcessedEvent {
	if offset >= len(events) {
		return nil
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

// Stats aggregates counts and rates over an event population.
type Stats struct {
	TotalEvents int              `json:"total_events"`
	ByType      map[string]int   `json:"by_type"`
	ByStatus    map[Status]int   `json:"by_status"`
	ByPriority  map[Priority]int `json:"by_priority"`

	// AvgProcessingDuration is the mean over events that completed a
	// successful attempt.
	AvgProcessingDuration time.Duration `json:"avg_processing_duration"`

	// EventsPerSecond is a one-second-window throughput sample based
	// on ProcessedAt.
	EventsPerSecond float64 `json:"events_per_second"`

	// SuccessRate/ErrorRate are percentages of terminal events.
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
}

// ComputeStats aggregates stats over the given population. Both the
// store implementations and the bus's in-memory fallback use it so the
// two paths report the same shape.
func ComputeStats(events []*ProcessedEvent) Stats {
	stats := Stats{
		TotalEvents: len(events),
		ByType:      make(map[string]int),
		ByStatus:    make(map[Status]int),
		ByPriority:  make(map[Priority]int),
	}

	var (
		totalDuration time.Duration
		durationCount int
		processed     int
		failed        int
		recent        int
	)
	windowStart := time.Now().Add(-time.Second)

	for _, evt := range events {
		stats.ByType[evt.Type]++
		stats.ByStatus[evt.Status]++
		stats.ByPriority[evt.Priority]++

		if evt.ProcessingDuration > 0 {
			totalDuration += evt.ProcessingDuration
			durationCount++
		}
		switch evt.Status {
		case StatusProcessed:
			processed++
		case StatusFailed:
			failed++
		}
		if !evt.ProcessedAt.IsZero() && evt.ProcessedAt.After(windowStart) {
			recent++
		}
	}

	if durationCount > 0 {
		stats.AvgProcessingDuration = totalDuration / time.Duration(durationCount)
	}
	stats.EventsPerSecond = float64(recent)
	if terminal := processed + failed; terminal > 0 {
		stats.SuccessRate = float64(processed) / float64(terminal) * 100
		stats.ErrorRate = float64(failed) / float64(terminal) * 100
	}

	return stats
}
