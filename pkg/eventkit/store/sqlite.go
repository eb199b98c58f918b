package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file (e.g. "./events.db") or ":memory:"
	// for testing.
	Path string

	// Config carries the shared capacity and retention settings.
	Config
}

// SQLiteStore is a durable event.Store on SQLite. Indexed query fields
// live in their own columns; the full event rides along as a JSON
// payload. Timestamps are stored as UnixNano integers so range
// comparisons and eviction order are numeric, never textual. Suitable
// for single-process production use.
type SQLiteStore struct {
	cfg    SQLiteConfig
	logger *slog.Logger

	mu          sync.RWMutex
	db          *sql.DB
	initialized bool
	closed      bool

	stopCh chan struct{}
}

// Compile-time interface check.
var _ event.Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLite store. Initialize must be called
// before use; it opens the database.
func NewSQLiteStore(cfg SQLiteConfig) *SQLiteStore {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig.MaxEvents
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}
	return &SQLiteStore{
		cfg:    cfg,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
	}
}

// Initialize opens the database, enables WAL mode, and creates the
// schema.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return event.NewError(event.CodeStoreNotInitialized, "store is shut down")
	}
	if s.initialized {
		return nil
	}

	db, err := sql.Open("sqlite", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id             TEXT PRIMARY KEY,
			event_type     TEXT NOT NULL,
			status         TEXT NOT NULL,
			source         TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id   TEXT NOT NULL DEFAULT '',
			priority       INTEGER NOT NULL,
			timestamp      INTEGER NOT NULL,
			seq            INTEGER NOT NULL,
			payload        BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return fmt.Errorf("create table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_causation ON events(causation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.db = db
	s.initialized = true

	if s.cfg.RetentionPeriod > 0 {
		go s.sweepLoop()
	}
	return nil
}

// Shutdown closes the database.
func (s *SQLiteStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.initialized {
		return nil
	}
	if s.cfg.RetentionPeriod > 0 {
		close(s.stopCh)
	}
	return s.db.Close()
}

func (s *SQLiteStore) ready() error {
	if s.closed || !s.initialized {
		return event.NewError(event.CodeStoreNotInitialized, "store is not initialized")
	}
	return nil
}

// Store upserts an event, evicting the oldest-timestamped row first
// when at capacity.
func (s *SQLiteStore) Store(ctx context.Context, evt *event.ProcessedEvent) error {
	if evt == nil || evt.ID == "" {
		return event.NewError(event.CodeInvalidEventID, "event has no ID")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE id = ?)`, evt.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check existing: %w", err)
	}

	if !exists {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		if count >= s.cfg.MaxEvents {
			if _, err := s.db.ExecContext(ctx, `
				DELETE FROM events WHERE id IN (
					SELECT id FROM events ORDER BY timestamp ASC, seq ASC LIMIT 1
				)
			`); err != nil {
				return fmt.Errorf("evict oldest: %w", err)
			}
			observability.LogSweep(s.logger, "capacity-evict", 1)
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, status, source, correlation_id,
			causation_id, priority, timestamp, seq, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(seq) FROM events), 0) + 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			status = excluded.status,
			source = excluded.source,
			correlation_id = excluded.correlation_id,
			causation_id = excluded.causation_id,
			priority = excluded.priority,
			timestamp = excluded.timestamp,
			seq = excluded.seq,
			payload = excluded.payload
	`, evt.ID, evt.Type, string(evt.Status), evt.Source, evt.CorrelationID,
		evt.CausationID, int(evt.Priority),
		evt.Timestamp.UnixNano(), payload,
	); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

// Get returns an event by ID, or CodeEventNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*event.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM events WHERE id = ?`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, event.Errorf(event.CodeEventNotFound, "event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	var evt event.ProcessedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &evt, nil
}

// Query prefilters through the indexed columns in SQL and finishes the
// remaining predicates, sorting, and pagination in Go so semantics
// match MemoryStore exactly.
func (s *SQLiteStore) Query(ctx context.Context, opts event.QueryOptions) ([]*event.ProcessedEvent, error) {
	s.mu.RLock()

	if err := s.ready(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	query, args := buildQuery(opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("query events: %w", err)
	}

	var matched []*event.ProcessedEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt event.ProcessedEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		if opts.Match(&evt) {
			matched = append(matched, &evt)
		}
	}
	err = rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	event.SortEvents(matched, opts.SortBy, opts.SortDesc)
	return event.Paginate(matched, opts.Offset, opts.Limit), nil
}

// buildQuery assembles the SQL prefilter over the indexed columns.
// Rows come back in insertion order so the Go-side stable sort keeps
// insertion-order ties.
func buildQuery(opts event.QueryOptions) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT payload FROM events`)

	var conds []string
	var args []any

	in := func(column string, values []string) {
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = "?"
			args = append(args, v)
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	}

	if len(opts.Types) > 0 {
		in("event_type", opts.Types)
	}
	if len(opts.Statuses) > 0 {
		values := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			values[i] = string(st)
		}
		in("status", values)
	}
	if len(opts.Sources) > 0 {
		in("source", opts.Sources)
	}
	if opts.CorrelationID != "" {
		conds = append(conds, "correlation_id = ?")
		args = append(args, opts.CorrelationID)
	}
	if opts.CausationID != "" {
		conds = append(conds, "causation_id = ?")
		args = append(args, opts.CausationID)
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if !opts.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, opts.Until.UnixNano())
	}
	if opts.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, int(*opts.Priority))
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY seq ASC")
	return sb.String(), args
}

// Delete removes an event; false if it was not present.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	return n > 0, nil
}

// DeleteMany removes events by ID and returns how many existed.
func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM events WHERE id IN (%s)`, strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return int(n), nil
}

// Clear removes everything.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

// Stats aggregates over the full stored population.
func (s *SQLiteStore) Stats(ctx context.Context) (event.Stats, error) {
	events, err := s.Query(ctx, event.QueryOptions{})
	if err != nil {
		return event.Stats{}, err
	}
	return event.ComputeStats(events), nil
}

func (s *SQLiteStore) sweepLoop() {
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
func (s *SQLiteStore) sweepExpired() {
	cutoff := time.Now().Add(-s.cfg.RetentionPeriod).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.initialized {
		return
	}
	res, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("retention sweep failed", slog.String("error", err.Error()))
		}
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		observability.LogSweep(s.logger, "ttl-expiry", int(n))
	}
}
