package arbor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a value routed through the runtime. Concrete events embed
// EventBase and call Init (or InitNamed) before being fired; NewEvent and
// NewNamedEvent construct ready-to-fire ad-hoc events.
//
// An event is handled exactly when its open count returns to zero after
// having been positive; at that point Get unblocks and a Completed event is
// fired on the event's channels.
type Event interface {
	Matchable

	// Channels returns the channels the event was fired on.
	Channels() []Channel

	// Stop suppresses dispatch to the remaining, lower-priority handlers
	// of this event. Handlers already invoked are unaffected, as are
	// sibling events.
	Stop()

	// Stopped reports whether Stop has been called.
	Stopped() bool

	// SetResult replaces the event's results with the single value v.
	SetResult(v any)

	// AddResult appends v to the event's results.
	AddResult(v any)

	// Result returns the most recently set result, or nil.
	Result() any

	// Results returns a copy of all results.
	Results() []any

	// Get blocks until the event and every event it caused have been
	// handled, then returns the result. It returns early with ctx's error
	// if the context expires first.
	Get(ctx context.Context) (any, error)

	// ID returns the event's unique identifier.
	ID() string

	// FiredAt returns the time the event was fired, or the zero time if it
	// has not been fired yet.
	FiredAt() time.Time

	base() *EventBase
}

// EventBase carries the lifecycle state shared by all events: the match
// key, the channels, the open count with its causal parent link, the stop
// flag, and the result slot. Concrete event types embed it.
//
// The zero value is not usable; call Init or InitNamed before firing.
type EventBase struct {
	typ  *EventType
	name string
	id   string
	self Event

	mu          sync.Mutex
	channels    []Channel
	open        int
	everOpened  bool
	completed   bool
	done        chan struct{}
	stopped     bool
	results     []any
	parent      *EventBase
	processedBy internalPipeline
	firedAt     time.Time
}

// Init initializes the base as a typed event. It must be called exactly
// once, before the event is fired.
func (b *EventBase) Init(t *EventType) {
	if t == nil {
		t = TypeEvent
	}
	b.typ = t
	b.id = uuid.NewString()
	b.done = make(chan struct{})
}

// InitNamed initializes the base as a named event matched by string
// equality.
func (b *EventBase) InitNamed(name string) {
	b.name = name
	b.id = uuid.NewString()
	b.done = make(chan struct{})
}

// MatchKey returns the event's name for named events, else its type.
func (b *EventBase) MatchKey() any {
	if b.name != "" {
		return b.name
	}
	return b.typ
}

// MatchesKey reports whether a handler bound to handlerKey receives this
// event: equal names for named events, the event's type or any of its
// ancestors for typed events.
func (b *EventBase) MatchesKey(handlerKey any) bool {
	if b.name != "" {
		return handlerKey == b.name
	}
	if b.typ == nil {
		return false
	}
	t, ok := handlerKey.(*EventType)
	return ok && b.typ.DerivedFrom(t)
}

func (b *EventBase) Channels() []Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Channel, len(b.channels))
	copy(out, b.channels)
	return out
}

func (b *EventBase) setChannels(channels []Channel) {
	b.mu.Lock()
	b.channels = channels
	b.mu.Unlock()
}

func (b *EventBase) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *EventBase) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *EventBase) SetResult(v any) {
	b.mu.Lock()
	b.results = append(b.results[:0], v)
	b.mu.Unlock()
}

func (b *EventBase) AddResult(v any) {
	b.mu.Lock()
	b.results = append(b.results, v)
	b.mu.Unlock()
}

func (b *EventBase) Result() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.results) == 0 {
		return nil
	}
	return b.results[len(b.results)-1]
}

func (b *EventBase) Results() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.results))
	copy(out, b.results)
	return out
}

func (b *EventBase) Get(ctx context.Context) (any, error) {
	if b.done == nil {
		panic("arbor: event not initialized (call Init or InitNamed)")
	}
	select {
	case <-b.done:
		return b.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *EventBase) ID() string { return b.id }

func (b *EventBase) FiredAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firedAt
}

func (b *EventBase) base() *EventBase { return b }

// initialized reports whether Init or InitNamed has run.
func (b *EventBase) initialized() bool { return b.done != nil }

// claimBy records the pipeline that accepted the event. Re-firing an event
// that is still in flight on another pipeline is a programming error.
func (b *EventBase) claimBy(p internalPipeline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.processedBy != nil && b.processedBy != p && !b.completed {
		panic(fmt.Sprintf("arbor: event %s is already being processed by another pipeline", b.id))
	}
	b.processedBy = p
}

// reassign re-homes a buffered event to the pipeline it was merged into.
func (b *EventBase) reassign(p internalPipeline) {
	b.mu.Lock()
	b.processedBy = p
	b.mu.Unlock()
}

func (b *EventBase) processor() internalPipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processedBy
}

// enqueued records that the event was appended to a pipeline queue.
func (b *EventBase) enqueued() {
	b.mu.Lock()
	b.open++
	b.everOpened = true
	b.mu.Unlock()
}

// generatedBy links the causal parent: the parent's open count covers this
// event until it completes, so causally related events quiesce together.
func (b *EventBase) generatedBy(parent *EventBase) {
	if parent == nil || parent == b {
		return
	}
	parent.mu.Lock()
	if parent.completed {
		parent.mu.Unlock()
		return
	}
	parent.open++
	parent.mu.Unlock()

	b.mu.Lock()
	b.parent = parent
	b.mu.Unlock()
}

// decrementOpen is called after the event's own dispatch finished or one of
// its child events completed. When the count reaches zero the event is
// complete: Get unblocks, a Completed event is fired, and the parent is
// released (the link is cleared so a completed child never pins its
// parent).
func (b *EventBase) decrementOpen() {
	b.mu.Lock()
	b.open--
	if b.open > 0 || !b.everOpened || b.completed {
		b.mu.Unlock()
		return
	}
	b.completed = true
	parent := b.parent
	b.parent = nil
	proc := b.processedBy
	self := b.self
	done := b.done
	channels := b.channels
	b.mu.Unlock()

	if done != nil {
		close(done)
	}
	if proc != nil && self != nil && !suppressCompleted(self) {
		fireInternal(proc, NewCompleted(self), channels, nil)
	}
	if parent != nil {
		parent.decrementOpen()
	}
}

// suppressCompleted keeps completion reporting from recursing: the
// completion of a Completed event is not itself reported.
func suppressCompleted(ev Event) bool {
	_, ok := ev.(*Completed)
	return ok
}

// GenericEvent is a plain event with no payload beyond its type.
type GenericEvent struct {
	EventBase
}

// NewEvent creates a ready-to-fire event of the given type.
func NewEvent(t *EventType) *GenericEvent {
	e := &GenericEvent{}
	e.Init(t)
	return e
}

// NamedEvent is an ad-hoc event matched by name rather than by type. The
// payload carries small event-specific data.
type NamedEvent struct {
	EventBase
	payload map[string]any
}

// NewNamedEvent creates a ready-to-fire event matched by the given name.
func NewNamedEvent(name string) *NamedEvent {
	e := &NamedEvent{}
	e.InitNamed(name)
	return e
}

// Name returns the event's name.
func (e *NamedEvent) Name() string { return e.name }

// WithPayload adds a key/value pair to the event payload.
func (e *NamedEvent) WithPayload(key string, value any) *NamedEvent {
	e.mu.Lock()
	if e.payload == nil {
		e.payload = make(map[string]any)
	}
	e.payload[key] = value
	e.mu.Unlock()
	return e
}

// Payload returns the value stored under key, or nil.
func (e *NamedEvent) Payload(key string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.payload == nil {
		return nil
	}
	return e.payload[key]
}

var (
	_ Event = (*GenericEvent)(nil)
	_ Event = (*NamedEvent)(nil)
)
