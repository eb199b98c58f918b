package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Priority controls dispatch order within a single emit: listeners see
// higher-priority events first when the bus orders work, and the store
// indexes events by priority for querying.
type Priority int

// Event priorities, lowest to highest.
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityMedium:   "MEDIUM",
	PriorityHigh:     "HIGH",
	PriorityCritical: "CRITICAL",
}

// String returns the canonical name of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Valid returns true if p is one of the four defined priorities.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a canonical priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityMedium, Errorf(CodeInvalidEventPriority, "unknown priority %q", s)
}

// MarshalJSON encodes the priority as its canonical name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, Errorf(CodeInvalidEventPriority, "invalid priority %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its canonical name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the processing state of an event inside the bus pipeline.
type Status string

// Event lifecycle states. PENDING -> PROCESSING -> {PROCESSED, FAILED}.
// A FAILED event with retry budget remaining loops back to PENDING.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Event is an immutable record of something that occurred. Once emitted it
// must not be modified; the bus wraps it in a ProcessedEvent and mutates
// only the processing fields.
type Event struct {
	// ID uniquely identifies the event. Defaults to a UUID.
	ID string `json:"id"`

	// Type is a dot-segmented namespace string, e.g. "tool.called".
	Type string `json:"type"`

	// Data is the payload. Opaque to the bus and store; only shape is
	// ever validated, never semantic structure.
	Data any `json:"data,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Source labels the origin, e.g. "agent", "tool", "event-bus".
	Source string `json:"source,omitempty"`

	// Priority orders dispatch. Defaults to PriorityMedium.
	Priority Priority `json:"priority"`

	// Metadata carries opaque key/value annotations.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CorrelationID groups related events. Defaults to the event's own
	// ID when it starts a new chain.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CausationID is the ID of the event that directly caused this one.
	CausationID string `json:"causation_id,omitempty"`

	// Version is the schema version for evolution. Zero means
	// unversioned.
	Version int `json:"version,omitempty"`

	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) { e.ID = id }
}

// WithSource sets the origin label.
func WithSource(source string) Option {
	return func(e *Event) { e.Source = source }
}

// WithPriority sets the event priority.
func WithPriority(p Priority) Option {
	return func(e *Event) { e.Priority = p }
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.Timestamp = t }
}

// WithMetadata sets the metadata map.
func WithMetadata(md map[string]string) Option {
	return func(e *Event) { e.Metadata = md }
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(e *Event) { e.CausationID = id }
}

// WithVersion sets the schema version.
func WithVersion(v int) Option {
	return func(e *Event) { e.Version = v }
}

// WithTags sets the label set.
func WithTags(tags ...string) Option {
	return func(e *Event) { e.Tags = tags }
}

// New creates an event with the given type and payload. The ID defaults
// to a UUID, the timestamp to now, and the priority to MEDIUM. If no
// correlation ID is set the event starts a new chain rooted at its own ID.
func New(eventType string, data any, opts ...Option) Event {
	evt := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Priority:  PriorityMedium,
	}

	for _, opt := range opts {
		opt(&evt)
	}

	if evt.CorrelationID == "" {
		evt.CorrelationID = evt.ID
	}

	return evt
}

// NewFromParent creates an event caused by a parent event. It inherits
// the parent's correlation ID and sets the causation ID to the parent.
func NewFromParent(parent Event, eventType string, data any, opts ...Option) Event {
	parentOpts := []Option{
		WithCorrelationID(parent.CorrelationID),
		WithCausationID(parent.ID),
	}
	return New(eventType, data, append(parentOpts, opts...)...)
}

// Validate checks the structural invariants a producer must satisfy
// before emitting. Each violation maps to a stable error code.
func (e Event) Validate() error {
	if e.ID == "" {
		return Errorf(CodeInvalidEventID, "event ID must be a non-empty string")
	}
	if e.Type == "" {
		return Errorf(CodeInvalidEventType, "event type must be a non-empty string")
	}
	if e.Timestamp.IsZero() {
		return Errorf(CodeInvalidEventTimestamp, "event %s has no timestamp", e.ID)
	}
	if !e.Priority.Valid() {
		return Errorf(CodeInvalidEventPriority, "event %s has invalid priority %d", e.ID, int(e.Priority))
	}
	return nil
}

// ProcessedEvent is an Event plus the mutable pipeline state the bus
// tracks while the event is in flight. The bus owns the record
// exclusively until the event settles; the store only ever receives a
// value copy.
type ProcessedEvent struct {
	Event

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// ProcessedAt is when the event reached a terminal state.
	ProcessedAt time.Time `json:"processed_at,omitzero"`

	// ProcessingDuration is how long the successful attempt took.
	ProcessingDuration time.Duration `json:"processing_duration,omitempty"`

	// Error is the message of the last failure, if any.
	Error string `json:"error,omitempty"`

	// Attempts counts processing attempts. Starts at 0.
	Attempts int `json:"attempts"`

	// NextRetryAt is when the next scheduled retry becomes due.
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`
}

// NewProcessedEvent wraps an event for admission into the pipeline.
func NewProcessedEvent(evt Event) *ProcessedEvent {
	return &ProcessedEvent{
		Event:  evt,
		Status: StatusPending,
	}
}

// Clone returns a value copy. Metadata and tags are copied so that store
// and caller never share mutable state with the pipeline; Data is opaque
// and shared as-is.
func (p *ProcessedEvent) Clone() *ProcessedEvent {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Metadata = maps.Clone(p.Metadata)
	cp.Tags = slices.Clone(p.Tags)
	return &cp
}

// Terminal returns true once the event can no longer change state.
func (p *ProcessedEvent) Terminal() bool {
	return p.Status == StatusProcessed || p.Status == StatusFailed || p.Status == StatusCancelled
}
