package es

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Upcaster rewrites a stored payload of one schema version into the next.
type Upcaster func(data json.RawMessage) (json.RawMessage, error)

type eventSchema struct {
	version   int
	ctor      func() any
	upcasters map[int]Upcaster // from version -> from version + 1
}

// EventRegistry maps event type names to constructors and schema versions so
// persisted events can be decoded, including payloads written by older
// schema versions.
type EventRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*eventSchema
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{schemas: map[string]*eventSchema{}}
}

// Register registers ctor under eventType. The schema version is taken from
// the EventVersion() method of a sample, defaulting to 1.
func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schemas[eventType]
	if !ok {
		s = &eventSchema{upcasters: map[int]Upcaster{}}
		r.schemas[eventType] = s
	}
	s.ctor = ctor
	s.version = EventVersionOf(ctor())
}

// Upcast registers a migration of eventType payloads from fromVersion to
// fromVersion+1.
func (r *EventRegistry) Upcast(eventType string, fromVersion int, up Upcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schemas[eventType]
	if !ok {
		s = &eventSchema{upcasters: map[int]Upcaster{}}
		r.schemas[eventType] = s
	}
	s.upcasters[fromVersion] = up
}

func (r *EventRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[eventType]
	return ok && s.ctor != nil
}

// Types returns the registered event types, sorted.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for t, s := range r.schemas {
		if s.ctor != nil {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	s, ok := r.schemas[env.Type]
	r.mu.RUnlock()
	if !ok || s.ctor == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}

	data := env.Data
	from := env.EventVersion
	if from == 0 {
		from = 1
	}
	if from > s.version {
		return nil, fmt.Errorf("event %s: stored schema version %d is newer than %d", env.Type, from, s.version)
	}
	for v := from; v < s.version; v++ {
		up, ok := s.upcasters[v]
		if !ok {
			return nil, fmt.Errorf("event %s: no upcaster from schema version %d", env.Type, v)
		}
		var err error
		data, err = up(data)
		if err != nil {
			return nil, fmt.Errorf("event %s: upcast from schema version %d: %w", env.Type, v, err)
		}
	}

	ev := s.ctor()
	if len(data) > 0 {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// Encode marshals ev and resolves its type name and schema version. The type
// must have been registered.
func (r *EventRegistry) Encode(ev any) (eventType string, version int, data json.RawMessage, err error) {
	eventType = EventTypeOf(ev)
	if !r.Has(eventType) {
		return "", 0, nil, fmt.Errorf("%w: %s is not registered", ErrUnknownEventType, eventType)
	}
	data, err = json.Marshal(ev)
	if err != nil {
		return "", 0, nil, err
	}
	return eventType, EventVersionOf(ev), data, nil
}

var _ Decoder = (*EventRegistry)(nil)

type Registrar interface {
	Register(eventType string, ctor func() any)
	Upcast(eventType string, fromVersion int, up Upcaster)
}

// Event returns a reflection-free constructor for an event of type T.
// Each call to the returned function constructs a fresh *T via new(T).
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. For each provided constructor,
// we call it once to determine the event type name and then register the
// original constructor so future decodes produce fresh instances per call.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		r.Register(EventTypeOf(ctor()), ctor)
	}
}

// EventTypeOf returns the persisted type name of ev: its EventType() method
// when present, the Go type name otherwise.
func EventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return goTypeName(ev)
}

// EventVersionOf returns the schema version declared by ev, or 1.
func EventVersionOf(ev any) int {
	if v, ok := ev.(interface{ EventVersion() int }); ok && v.EventVersion() > 0 {
		return v.EventVersion()
	}
	return 1
}

var (
	typeNamesMu sync.RWMutex
	typeNames   = map[reflect.Type]string{}
)

func goTypeName(x any) string {
	t := reflect.TypeOf(x)
	if t == nil {
		return ""
	}
	typeNamesMu.RLock()
	name, ok := typeNames[t]
	typeNamesMu.RUnlock()
	if ok {
		return name
	}
	et := t
	if et.Kind() == reflect.Pointer {
		et = et.Elem()
	}
	name = et.PkgPath() + "." + et.Name()
	typeNamesMu.Lock()
	typeNames[t] = name
	typeNamesMu.Unlock()
	return name
}
