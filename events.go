package arbor

import "context"

// Built-in event types. User-defined types usually derive from TypeEvent
// directly; deriving from a built-in type makes handlers for the built-in
// receive the derived events as well.
var (
	// TypeStart is emitted once on broadcast to boot a tree.
	TypeStart = NewEventType("start", nil)

	// TypeStop is emitted on broadcast to quiesce a tree.
	TypeStop = NewEventType("stop", nil)

	// TypeAttached is emitted when a component gains a parent.
	TypeAttached = NewEventType("attached", nil)

	// TypeDetached is emitted when a component loses its parent.
	TypeDetached = NewEventType("detached", nil)

	// TypeCompleted is emitted when an event and everything it caused
	// have been handled.
	TypeCompleted = NewEventType("completed", nil)

	// TypeHandlingError is emitted when a handler fails.
	TypeHandlingError = NewEventType("handlingError", nil)

	// TypeAction is the type of ActionEvent.
	TypeAction = NewEventType("action", nil)
)

// StartEvent boots a component tree. Components that need background work
// register themselves as generators in their Start handler.
type StartEvent struct {
	EventBase
}

// NewStart creates a StartEvent.
func NewStart() *StartEvent {
	e := &StartEvent{}
	e.Init(TypeStart)
	return e
}

// StopEvent quiesces a component tree. Low-priority handlers release
// resources; a handler may block briefly to wait for in-flight work.
type StopEvent struct {
	EventBase
}

// NewStop creates a StopEvent.
func NewStop() *StopEvent {
	e := &StopEvent{}
	e.Init(TypeStop)
	return e
}

// Attached notifies the tree that child has been attached to parent.
type Attached struct {
	EventBase
	parent ComponentType
	child  ComponentType
}

// NewAttached creates an Attached event for the given parent and child.
func NewAttached(parent, child ComponentType) *Attached {
	e := &Attached{parent: parent, child: child}
	e.Init(TypeAttached)
	return e
}

// Parent returns the component that gained a child.
func (e *Attached) Parent() ComponentType { return e.parent }

// Child returns the component that was attached.
func (e *Attached) Child() ComponentType { return e.child }

// Detached notifies the tree that a component has been detached from its
// former parent.
type Detached struct {
	EventBase
	formerParent ComponentType
	node         ComponentType
}

// NewDetached creates a Detached event.
func NewDetached(formerParent, node ComponentType) *Detached {
	e := &Detached{formerParent: formerParent, node: node}
	e.Init(TypeDetached)
	return e
}

// FormerParent returns the component that lost a child.
func (e *Detached) FormerParent() ComponentType { return e.formerParent }

// Node returns the component that was detached.
func (e *Detached) Node() ComponentType { return e.node }

// Completed signals that an event and all events it caused have been
// handled. It is fired on the completed event's channels.
type Completed struct {
	EventBase
	of Event
}

// NewCompleted creates a Completed event for the given event.
func NewCompleted(of Event) *Completed {
	e := &Completed{of: of}
	e.Init(TypeCompleted)
	return e
}

// Event returns the event whose handling completed.
func (e *Completed) Event() Event { return e.of }

// HandlingError carries an event whose handler failed together with the
// failure. It is fired on the failed event's channels; when no handler
// consumes it, the runtime logs it.
type HandlingError struct {
	EventBase
	event Event
	err   error
}

// NewHandlingError creates a HandlingError for the given event and error.
func NewHandlingError(ev Event, err error) *HandlingError {
	e := &HandlingError{event: ev, err: err}
	e.Init(TypeHandlingError)
	return e
}

// Event returns the event whose handler failed.
func (e *HandlingError) Event() Event { return e.event }

// Err returns the handler's error (or the recovered panic wrapped as an
// error).
func (e *HandlingError) Err() error { return e.err }

// ActionEvent wraps a function that is executed by the pipeline dispatching
// the event. It serializes arbitrary work onto a pipeline: fire an
// ActionEvent on a channel handled by an ActionExecutor and the closure
// runs in FIFO order with that pipeline's other events.
type ActionEvent struct {
	EventBase
	action func(context.Context) error
}

// NewActionEvent creates an ActionEvent executing fn.
func NewActionEvent(fn func(context.Context) error) *ActionEvent {
	e := &ActionEvent{action: fn}
	e.Init(TypeAction)
	return e
}

// Execute runs the wrapped function.
func (e *ActionEvent) Execute(ctx context.Context) error {
	if e.action == nil {
		return nil
	}
	return e.action(ctx)
}

// ActionExecutor executes ActionEvents fired on its channel.
type ActionExecutor struct {
	*Component
}

// NewActionExecutor creates an ActionExecutor component.
func NewActionExecutor(opts ...ComponentOption) *ActionExecutor {
	a := &ActionExecutor{}
	a.Component = NewComponent(a, opts...)
	a.On(func(ctx context.Context, ev Event) error {
		return ev.(*ActionEvent).Execute(ctx)
	}, WithEvents(TypeAction))
	return a
}
