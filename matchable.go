package arbor

// Matchable is implemented by values that participate in handler matching:
// events and channels. The relation is asymmetric — events and channels are
// matched against handler keys, never the other way round.
//
// Match keys are opaque comparable values: an *EventType, a string (named
// events and channels), a *Component (a component acting as its own
// channel), or the broadcast key.
type Matchable interface {
	// MatchKey returns the key this value is published under.
	MatchKey() any

	// MatchesKey reports whether a handler bound to handlerKey receives
	// this value. Implementations must be safe for concurrent use.
	MatchesKey(handlerKey any) bool
}

// EventType identifies a kind of event. Types form a single-rooted
// hierarchy: a handler bound to a type also receives events of every type
// derived from it. TypeEvent is the root of the hierarchy.
type EventType struct {
	name   string
	parent *EventType
}

// TypeEvent is the root of the event type hierarchy. A handler bound to it
// receives every typed event.
var TypeEvent = &EventType{name: "event"}

// NewEventType creates an event type derived from parent. Passing a nil
// parent derives from TypeEvent.
func NewEventType(name string, parent *EventType) *EventType {
	if parent == nil {
		parent = TypeEvent
	}
	return &EventType{name: name, parent: parent}
}

// Name returns the type's name. Names are informational; identity is the
// pointer value.
func (t *EventType) Name() string { return t.name }

// Parent returns the type this type derives from, or nil for TypeEvent.
func (t *EventType) Parent() *EventType { return t.parent }

// DerivedFrom reports whether t is other or descends from it.
func (t *EventType) DerivedFrom(other *EventType) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

func (t *EventType) String() string { return t.name }
