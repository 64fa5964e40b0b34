package arbor

import "context"

// HandlerFunc handles a single event. The context carries the dispatch
// state: Fire calls made with it route child events to the currently
// executing pipeline and link them to the event being handled. A non-nil
// error (or a recovered panic) is routed as a HandlingError event on the
// event's channels; it never aborts the pipeline.
type HandlerFunc func(ctx context.Context, ev Event) error

// handlerRef binds a handler function to an event key and a channel key at
// a priority. Dispatch orders references by descending priority; the stable
// sort keeps ties in tree pre-order and, within a component, registration
// order.
type handlerRef struct {
	eventKey   any
	channelKey any
	priority   int
	name       string
	fn         HandlerFunc
}

// responds reports whether the reference matches the event and at least one
// of the channels.
func (h *handlerRef) responds(ev Event, channels []Channel) bool {
	if !ev.MatchesKey(h.eventKey) {
		return false
	}
	for _, ch := range channels {
		if ch.MatchesKey(h.channelKey) {
			return true
		}
	}
	return false
}

type handlerOptions struct {
	eventKeys   []any
	channelKeys []any
	priority    int
	name        string
}

// HandlerOption configures a handler registration.
type HandlerOption func(*handlerOptions)

// WithEvents sets the event keys handled: *EventType values or the names of
// named events. Registration produces the cross product of event keys and
// channel keys. Defaults to TypeEvent, which matches every typed event.
func WithEvents(keys ...any) HandlerOption {
	return func(o *handlerOptions) {
		o.eventKeys = append(o.eventKeys, keys...)
	}
}

// WithChannels sets the channels subscribed to: Channel values (including
// Broadcast and Self) or raw match keys. Defaults to the component's
// channel.
func WithChannels(channels ...any) HandlerOption {
	return func(o *handlerOptions) {
		o.channelKeys = append(o.channelKeys, channels...)
	}
}

// WithPriority sets the dispatch priority. Handlers with higher priority
// run earlier; the default is 0.
func WithPriority(p int) HandlerOption {
	return func(o *handlerOptions) {
		o.priority = p
	}
}

// WithHandlerName labels the handler for logs and errors.
func WithHandlerName(name string) HandlerOption {
	return func(o *handlerOptions) {
		o.name = name
	}
}
