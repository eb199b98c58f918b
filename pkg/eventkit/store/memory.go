package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
)

// Config configures a MemoryStore.
type Config struct {
	// MaxEvents caps the stored population. At capacity the event with
	// the oldest timestamp is evicted to admit the new one.
	// Default: 10000
	MaxEvents int

	// RetentionPeriod expires events older than this. Zero disables
	// expiry. File-loaded configs default to 24h.
	RetentionPeriod time.Duration

	// SweepInterval is how often expired events are collected.
	// Default: 1m
	SweepInterval time.Duration

	// Logger for maintenance logging. May be nil.
	Logger *slog.Logger
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxEvents:       10000,
	RetentionPeriod: 24 * time.Hour,
	SweepInterval:   time.Minute,
}

// stored pairs an event with its insertion sequence so queries can
// break sort ties in insertion order.
type stored struct {
	evt *event.ProcessedEvent
	seq uint64
}

// MemoryStore is an in-memory event.Store with secondary indexes on
// type, status, source, correlation ID, and causation ID. Indexed
// queries intersect candidate ID sets before evaluating the remaining
// predicates. Safe for concurrent use.
type MemoryStore struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	initialized bool
	closed      bool
	events      map[string]*stored
	nextSeq     uint64

	byType        map[string]map[string]struct{}
	byStatus      map[string]map[string]struct{}
	bySource      map[string]map[string]struct{}
	byCorrelation map[string]map[string]struct{}
	byCausation   map[string]map[string]struct{}

	stopCh chan struct{}
}

// Compile-time interface check.
var _ event.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory store. Initialize must be called
// before use.
func NewMemoryStore(cfg Config) *MemoryStore {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig.MaxEvents
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}

	return &MemoryStore{
		cfg:           cfg,
		logger:        cfg.Logger,
		events:        make(map[string]*stored),
		byType:        make(map[string]map[string]struct{}),
		byStatus:      make(map[string]map[string]struct{}),
		bySource:      make(map[string]map[string]struct{}),
		byCorrelation: make(map[string]map[string]struct{}),
		byCausation:   make(map[string]map[string]struct{}),
		stopCh:        make(chan struct{}),
	}
}

// Initialize starts the TTL sweep loop when retention is configured.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return event.NewError(event.CodeStoreNotInitialized, "store is shut down")
	}
	if s.initialized {
		return nil
	}
	s.initialized = true

	if s.cfg.RetentionPeriod > 0 {
		go s.sweepLoop()
	}
	return nil
}

// Shutdown stops maintenance and rejects further operations. Stored
// events are discarded with the process.
func (s *MemoryStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.initialized && s.cfg.RetentionPeriod > 0 {
		close(s.stopCh)
	}
	return nil
}

func (s *MemoryStore) ready() error {
	if s.closed || !s.initialized {
		return event.NewError(event.CodeStoreNotInitialized, "store is not initialized")
	}
	return nil
}

// Store persists a value copy, evicting the oldest-timestamped event
// first when at capacity. Storing an existing ID replaces the entry.
func (s *MemoryStore) Store(ctx context.Context, evt *event.ProcessedEvent) error {
	if evt == nil || evt.ID == "" {
		return event.NewError(event.CodeInvalidEventID, "event has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}

	if _, exists := s.events[evt.ID]; exists {
		s.removeLocked(evt.ID)
	} else if len(s.events) >= s.cfg.MaxEvents {
		s.evictOldestLocked()
	}

	s.nextSeq++
	entry := &stored{evt: evt.Clone(), seq: s.nextSeq}
	s.events[evt.ID] = entry
	s.indexLocked(entry.evt)
	return nil
}

// Get returns a value copy of the event, or CodeEventNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*event.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	entry, ok := s.events[id]
	if !ok {
		return nil, event.Errorf(event.CodeEventNotFound, "event %s not found", id)
	}
	return entry.evt.Clone(), nil
}

// Query filters via the secondary indexes when possible, then applies
// the remaining predicates, sorts, and paginates. Results are value
// copies.
func (s *MemoryStore) Query(ctx context.Context, opts event.QueryOptions) ([]*event.ProcessedEvent, error) {
	s.mu.RLock()

	if err := s.ready(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	candidates := s.candidatesLocked(opts)

	var matched []*event.ProcessedEvent
	for _, entry := range candidates {
		if opts.Match(entry.evt) {
			matched = append(matched, entry.evt.Clone())
		}
	}
	s.mu.RUnlock()

	event.SortEvents(matched, opts.SortBy, opts.SortDesc)
	return event.Paginate(matched, opts.Offset, opts.Limit), nil
}

// candidatesLocked returns the entries worth evaluating, in insertion
// order so stable sorting keeps insertion-order ties.
func (s *MemoryStore) candidatesLocked(opts event.QueryOptions) []*stored {
	var ids map[string]struct{}

	if opts.Indexed() {
		intersect := func(sets []map[string]struct{}) {
			union := make(map[string]struct{})
			for _, set := range sets {
				for id := range set {
					union[id] = struct{}{}
				}
			}
			if ids == nil {
				ids = union
				return
			}
			for id := range ids {
				if _, ok := union[id]; !ok {
					delete(ids, id)
				}
			}
		}

		lookup := func(index map[string]map[string]struct{}, keys ...string) {
			sets := make([]map[string]struct{}, 0, len(keys))
			for _, k := range keys {
				if set, ok := index[k]; ok {
					sets = append(sets, set)
				}
			}
			intersect(sets)
		}

		if len(opts.Types) > 0 {
			lookup(s.byType, opts.Types...)
		}
		if len(opts.Statuses) > 0 {
			keys := make([]string, len(opts.Statuses))
			for i, st := range opts.Statuses {
				keys[i] = string(st)
			}
			lookup(s.byStatus, keys...)
		}
		if len(opts.Sources) > 0 {
			lookup(s.bySource, opts.Sources...)
		}
		if opts.CorrelationID != "" {
			lookup(s.byCorrelation, opts.CorrelationID)
		}
		if opts.CausationID != "" {
			lookup(s.byCausation, opts.CausationID)
		}
	}

	var entries []*stored
	if ids != nil {
		entries = make([]*stored, 0, len(ids))
		for id := range ids {
			if entry, ok := s.events[id]; ok {
				entries = append(entries, entry)
			}
		}
	} else {
		entries = make([]*stored, 0, len(s.events))
		for _, entry := range s.events {
			entries = append(entries, entry)
		}
	}

	slices.SortFunc(entries, func(a, b *stored) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return entries
}

// Delete removes an event; false if it was not present.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return false, err
	}
	if _, ok := s.events[id]; !ok {
		return false, nil
	}
	s.removeLocked(id)
	return true, nil
}

// DeleteMany removes events by ID and returns how many existed.
func (s *MemoryStore) DeleteMany(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if _, ok := s.events[id]; ok {
			s.removeLocked(id)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all events and indexes.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.events = make(map[string]*stored)
	s.byType = make(map[string]map[string]struct{})
	s.byStatus = make(map[string]map[string]struct{})
	s.bySource = make(map[string]map[string]struct{})
	s.byCorrelation = make(map[string]map[string]struct{})
	s.byCausation = make(map[string]map[string]struct{})
	return nil
}

// Stats aggregates over the full stored population.
func (s *MemoryStore) Stats(ctx context.Context) (event.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return event.Stats{}, err
	}
	events := make([]*event.ProcessedEvent, 0, len(s.events))
	for _, entry := range s.events {
		events = append(events, entry.evt)
	}
	return event.ComputeStats(events), nil
}

// Len returns the stored population size.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryStore) indexLocked(evt *event.ProcessedEvent) {
	add := func(index map[string]map[string]struct{}, key string) {
		if key == "" {
			return
		}
		set, ok := index[key]
		if !ok {
			set = make(map[string]struct{})
			index[key] = set
		}
		set[evt.ID] = struct{}{}
	}
	add(s.byType, evt.Type)
	add(s.byStatus, string(evt.Status))
	add(s.bySource, evt.Source)
	add(s.byCorrelation, evt.CorrelationID)
	add(s.byCausation, evt.CausationID)
}

// removeLocked drops an event from the map and every index, deleting
// index sets that become empty.
func (s *MemoryStore) removeLocked(id string) {
	entry, ok := s.events[id]
	if !ok {
		return
	}
	delete(s.events, id)

	remove := func(index map[string]map[string]struct{}, key string) {
		if key == "" {
			return
		}
		if set, ok := index[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(index, key)
			}
		}
	}
	evt := entry.evt
	remove(s.byType, evt.Type)
	remove(s.byStatus, string(evt.Status))
	remove(s.bySource, evt.Source)
	remove(s.byCorrelation, evt.CorrelationID)
	remove(s.byCausation, evt.CausationID)
}

// evictOldestLocked removes the event with the oldest timestamp.
func (s *MemoryStore) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range s.events {
		if oldestID == "" || entry.evt.Timestamp.Before(oldest) {
			oldestID = id
			oldest = entry.evt.Timestamp
		}
	}
	if oldestID != "" {
		s.removeLocked(oldestID)
		observability.LogSweep(s.logger, "capacity-evict", 1)
	}
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-s.stopCh:
			return
		}
	}
}

// sweepExpired removes events older than the retention period.
func (s *MemoryStore) sweepExpired() {
	cutoff := time.Now().Add(-s.cfg.RetentionPeriod)

	s.mu.Lock()
	var expired []string
	for id, entry := range s.events {
		if entry.evt.Timestamp.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.removeLocked(id)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		observability.LogSweep(s.logger, "ttl-expiry", len(expired))
	}
}
