package arbor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// componentTree is the state shared by all components of one tree: the
// root, the runtime, the root pipeline, and the handler-lookup cache.
type componentTree struct {
	root *Component
	rt   *Runtime

	// Guarded by treeMutation.
	pipeline internalPipeline
	started  bool

	// Handler-lookup cache, read lock-free after publication and swapped
	// out wholesale on structural change.
	cache    atomic.Pointer[map[string][]*handlerRef]
	cacheGen atomic.Uint64
	cacheMu  sync.Mutex
}

func newComponentTree(root *Component, rt *Runtime) *componentTree {
	t := &componentTree{root: root, rt: rt}
	t.pipeline = &bufferingPipeline{tree: t}
	return t
}

// start marks the tree started and swaps the buffering pipeline for a
// processor, re-homing buffered events. Caller holds treeMutation.
func (t *componentTree) start() {
	if t.started {
		return
	}
	t.started = true
	if bp, ok := t.pipeline.(*bufferingPipeline); ok {
		proc := newEventProcessor(t, t.rt)
		t.pipeline = proc
		proc.mergeBuffered(bp)
	}
}

// mergeFrom migrates the events buffered in another (unstarted) tree into
// this tree's pipeline. Caller holds treeMutation.
func (t *componentTree) mergeFrom(old *componentTree) {
	if err := t.pipeline.merge(old.pipeline); err != nil {
		t.rt.logger.Error("pipeline merge failed", "error", err)
	}
}

// invalidateCache discards all cached handler lookups.
func (t *componentTree) invalidateCache() {
	t.cacheMu.Lock()
	t.cacheGen.Add(1)
	t.cache.Store(nil)
	t.cacheMu.Unlock()
}

// handlersFor returns the handlers matching the event and channels, sorted
// for dispatch. Results are cached per (event key, channel key set) until
// the next structural change.
func (t *componentTree) handlersFor(ev Event, channels []Channel) []*handlerRef {
	key := lookupKey(ev, channels)
	if m := t.cache.Load(); m != nil {
		if hs, ok := (*m)[key]; ok {
			return hs
		}
	}

	gen := t.cacheGen.Load()
	treeMutation.RLock()
	var hs []*handlerRef
	t.root.collectHandlers(&hs, ev, channels)
	treeMutation.RUnlock()
	sort.SliceStable(hs, func(i, j int) bool {
		return hs[i].priority > hs[j].priority
	})

	t.cacheMu.Lock()
	if t.cacheGen.Load() == gen {
		var next map[string][]*handlerRef
		if old := t.cache.Load(); old != nil {
			next = make(map[string][]*handlerRef, len(*old)+1)
			for k, v := range *old {
				next[k] = v
			}
		} else {
			next = make(map[string][]*handlerRef, 1)
		}
		next[key] = hs
		t.cache.Store(&next)
	}
	t.cacheMu.Unlock()
	return hs
}

// dispatch delivers the event to all matching handlers in priority order,
// honoring Stop. Handler failures become HandlingError events; an
// unconsumed HandlingError is logged.
func (t *componentTree) dispatch(ctx context.Context, ev Event, channels []Channel) {
	hs := t.handlersFor(ev, channels)
	for _, h := range hs {
		if ev.Stopped() {
			break
		}
		t.invokeHandler(ctx, h, ev)
	}
	if he, ok := ev.(*HandlingError); ok && len(hs) == 0 {
		attrs := []any{"error", he.Err()}
		if inner := he.Event(); inner != nil {
			attrs = append(attrs, "event", keyName(inner.MatchKey()), "eventID", inner.ID())
		}
		t.rt.logger.Error("unhandled handler error", attrs...)
	}
}

func (t *componentTree) invokeHandler(ctx context.Context, h *handlerRef, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.reportHandlingError(ev, fmt.Errorf("handler panic: %v", r))
		}
	}()
	if err := h.fn(ctx, ev); err != nil {
		if h.name != "" {
			err = fmt.Errorf("%s: %w", h.name, err)
		}
		t.reportHandlingError(ev, err)
	}
}

// reportHandlingError fires a HandlingError on the failed event's channels
// via its pipeline. The failed event stays open until the error event has
// been handled. Failures while handling a HandlingError are only logged.
func (t *componentTree) reportHandlingError(ev Event, err error) {
	if _, ok := ev.(*HandlingError); ok {
		t.rt.logger.Error("error while handling HandlingError", "error", err)
		return
	}
	proc := ev.base().processor()
	if proc == nil {
		t.rt.logger.Error("handler error on unprocessed event", "error", err)
		return
	}
	fireInternal(proc, NewHandlingError(ev, err), ev.Channels(), ev.base())
}

// lookupKey builds the cache key for an event key and a channel key set.
func lookupKey(ev Event, channels []Channel) string {
	keys := make([]string, len(channels))
	for i, ch := range channels {
		keys[i] = keyName(ch.MatchKey())
	}
	sort.Strings(keys)
	out := keyName(ev.MatchKey())
	for _, k := range keys {
		out += "|" + k
	}
	return out
}

// keyName renders a match key for cache keys and logs.
func keyName(k any) string {
	switch v := k.(type) {
	case string:
		return "n:" + v
	case *EventType:
		return fmt.Sprintf("t:%s:%p", v.name, v)
	case broadcastKeyType:
		return "*"
	case *Component:
		return fmt.Sprintf("c:%s:%p", v.name, v)
	default:
		return fmt.Sprintf("x:%v", v)
	}
}
