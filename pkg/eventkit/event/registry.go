package event

import (
	"sync"
)

// Schema describes one version of an event type. Registration is
// optional; the bus only consults the registry when ValidateSchemas is
// enabled.
type Schema struct {
	// Type is the event type this schema covers.
	Type string

	// Version is the schema version. Must be positive.
	Version int

	// Description explains the event's purpose.
	Description string

	// Compatible lists older versions this schema can still read.
	Compatible []int

	// Validator optionally checks payload shape. It must not inspect
	// semantic structure beyond what the producer contract promises.
	Validator func(Event) error

	// Deprecated marks the schema as deprecated.
	Deprecated bool
}

// IsCompatibleWith returns true if the schema can read events at the
// given version. Version 0 (unversioned events) is always accepted.
func (s *Schema) IsCompatibleWith(version int) bool {
	if version == 0 || version == s.Version {
		return true
	}
	for _, v := range s.Compatible {
		if v == version {
			return true
		}
	}
	return false
}

// Validate checks an event against this schema.
func (s *Schema) Validate(evt Event) error {
	if evt.Type != s.Type {
		return Errorf(CodeInvalidEventData,
			"event type mismatch: schema %s, event %s", s.Type, evt.Type)
	}
	if !s.IsCompatibleWith(evt.Version) {
		return Errorf(CodeInvalidEventData,
			"incompatible version for %s: schema %d, event %d", s.Type, s.Version, evt.Version)
	}
	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return WrapError(CodeInvalidEventData, "schema validation failed", err)
		}
	}
	return nil
}

// Registry manages event schemas with version support.
type Registry struct {
	mu sync.RWMutex

	// latest maps event type -> highest registered version.
	latest map[string]*Schema

	// versions maps event type -> version -> schema.
	versions map[string]map[int]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		latest:   make(map[string]*Schema),
		versions: make(map[string]map[int]*Schema),
	}
}

// Register adds a schema. Re-registering the same type and version
// replaces the earlier schema.
func (r *Registry) Register(schema *Schema) error {
	if schema.Type == "" {
		return NewError(CodeInvalidEventType, "schema type is required")
	}
	if schema.Version <= 0 {
		return Errorf(CodeConfigurationError, "schema version must be positive, got %d", schema.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.versions[schema.Type] == nil {
		r.versions[schema.Type] = make(map[int]*Schema)
	}
	r.versions[schema.Type][schema.Version] = schema

	if current, ok := r.latest[schema.Type]; !ok || schema.Version > current.Version {
		r.latest[schema.Type] = schema
	}

	return nil
}

// Get returns the latest schema for an event type.
func (r *Registry) Get(eventType string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.latest[eventType]
	return schema, ok
}

// GetVersion returns a specific schema version.
func (r *Registry) GetVersion(eventType string, version int) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.versions[eventType]
	if !ok {
		return nil, false
	}
	schema, ok := versions[version]
	return schema, ok
}

// Has returns true if any schema exists for the event type.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.latest[eventType]
	return ok
}

// Types returns all registered event types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.latest))
	for t := range r.latest {
		types = append(types, t)
	}
	return types
}

// Validate checks an event against the latest schema for its type.
// Events of unregistered types pass: registration is opt-in per type.
func (r *Registry) Validate(evt Event) error {
	r.mu.RLock()
	schema, ok := r.latest[evt.Type]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return schema.Validate(evt)
}
