package arbor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventPipeline processes events sequentially: within one pipeline,
// dispatch is strictly FIFO by enqueue time. Pipelines draw workers from
// the runtime's shared executor.
type EventPipeline interface {
	// Fire appends the event to this pipeline's queue. Without channels
	// the event's recorded channels are used, defaulting to broadcast.
	Fire(ctx context.Context, ev Event, channels ...Channel) Event
}

// internalPipeline is the inward-facing pipeline contract shared by the
// processor and the buffering pipeline.
type internalPipeline interface {
	add(ev Event, channels []Channel)
	merge(source internalPipeline) error
	componentTree() *componentTree
}

// fireInternal stamps the event and appends it to the pipeline, linking the
// causal parent first so related events quiesce together.
func fireInternal(pipe internalPipeline, ev Event, channels []Channel, parent *EventBase) {
	b := ev.base()
	b.mu.Lock()
	b.self = ev
	b.firedAt = time.Now()
	b.channels = channels
	b.mu.Unlock()
	if parent != nil {
		b.generatedBy(parent)
	}
	pipe.add(ev, channels)
}

// dispatchState is the per-dispatch context: the event being handled and
// the pipeline executing it. It is threaded through handler calls so that
// Fire can link causality and route child events back to the originating
// pipeline.
type dispatchState struct {
	event    Event
	pipeline internalPipeline
}

type dispatchStateKey struct{}

func withDispatch(ctx context.Context, ev Event, pipe internalPipeline) context.Context {
	return context.WithValue(ctx, dispatchStateKey{}, &dispatchState{event: ev, pipeline: pipe})
}

func dispatchStateFrom(ctx context.Context) *dispatchState {
	st, _ := ctx.Value(dispatchStateKey{}).(*dispatchState)
	return st
}

// CurrentEvent returns the event being dispatched in the handler context,
// if any.
func CurrentEvent(ctx context.Context) (Event, bool) {
	if st := dispatchStateFrom(ctx); st != nil {
		return st.event, true
	}
	return nil, false
}

// eventProcessor drains its queue on a single borrowed worker, dispatching
// each event to the matching handlers of its tree. It registers with the
// generator registry while executing and deregisters when the queue is
// drained.
type eventProcessor struct {
	tree *componentTree
	rt   *Runtime
	id   string

	queue eventQueue
	state processorState
}

// processorState tracks the idle/executing transition under its own lock.
type processorState struct {
	mu        sync.Mutex
	executing bool
}

func newEventProcessor(tree *componentTree, rt *Runtime) *eventProcessor {
	return &eventProcessor{tree: tree, rt: rt, id: uuid.NewString()}
}

func (p *eventProcessor) componentTree() *componentTree { return p.tree }

// add claims the event for this pipeline, queues it, and makes the
// processor executing if it was idle. The idle-to-executing transition is
// atomic with the enqueue: a caller returning from Fire can rely on the
// registry accounting for the event.
func (p *eventProcessor) add(ev Event, channels []Channel) {
	ev.base().claimBy(p)
	p.queue.add(ev, channels)
	p.schedule()
}

func (p *eventProcessor) schedule() {
	p.state.mu.Lock()
	if !p.state.executing {
		p.rt.generators.add(p)
		p.state.executing = true
		p.rt.executor.Execute(p.run)
	}
	p.state.mu.Unlock()
}

// merge accepts the events buffered in a buffering pipeline, re-homing them
// to this processor while preserving their causal state.
func (p *eventProcessor) merge(source internalPipeline) error {
	bp, ok := source.(*bufferingPipeline)
	if !ok {
		return fmt.Errorf("can only merge events from a buffering pipeline, got %T", source)
	}
	p.mergeBuffered(bp)
	return nil
}

func (p *eventProcessor) mergeBuffered(bp *bufferingPipeline) {
	moved := false
	for {
		t, ok := bp.queue.poll()
		if !ok {
			break
		}
		t.event.base().reassign(p)
		p.queue.addTuple(t)
		moved = true
	}
	if moved {
		p.schedule()
	}
}

// run drains the queue. The processor goes back to idle only while holding
// its state lock and only when the queue is empty, so an add racing with
// the drain either sees the processor still executing or finds it
// re-schedulable.
func (p *eventProcessor) run() {
	base := context.Background()
	for {
		next, ok := p.queue.peek()
		if !ok {
			p.state.mu.Lock()
			next, ok = p.queue.peek()
			if !ok {
				p.rt.generators.remove(p)
				p.state.executing = false
				p.state.mu.Unlock()
				return
			}
			p.state.mu.Unlock()
		}
		ctx := withDispatch(base, next.event, p)
		p.tree.dispatch(ctx, next.event, next.channels)
		next.event.base().decrementOpen()
		p.queue.removeHead()
	}
}

// bufferingPipeline collects events fired at a tree that has not been
// started yet. The events are dispatched once the tree is started or
// attached to a started tree.
type bufferingPipeline struct {
	tree  *componentTree
	queue eventQueue
}

func (b *bufferingPipeline) componentTree() *componentTree { return b.tree }

func (b *bufferingPipeline) add(ev Event, channels []Channel) {
	ev.base().claimBy(b)
	b.queue.add(ev, channels)
}

// merge takes over the events buffered in another buffering pipeline
// (attaching one unstarted tree to another).
func (b *bufferingPipeline) merge(source internalPipeline) error {
	bp, ok := source.(*bufferingPipeline)
	if !ok {
		return fmt.Errorf("can only merge events from a buffering pipeline, got %T", source)
	}
	for {
		t, ok := bp.queue.poll()
		if !ok {
			return nil
		}
		t.event.base().reassign(b)
		b.queue.addTuple(t)
	}
}

// checkingPipeline is the public face of a dedicated processor, as handed
// out by Manager.NewEventPipeline and carried by subchannels. It stamps
// fired events and rejects events that are already in flight elsewhere.
type checkingPipeline struct {
	proc *eventProcessor
}

func (cp *checkingPipeline) Fire(ctx context.Context, ev Event, channels ...Channel) Event {
	if ctx == nil {
		ctx = context.Background()
	}
	b := ev.base()
	if !b.initialized() {
		panic("arbor: event not initialized (call Init or InitNamed)")
	}
	if len(channels) == 0 {
		channels = ev.Channels()
		if len(channels) == 0 {
			channels = []Channel{Broadcast}
		}
	}
	for _, ch := range channels {
		if ch == Self {
			panic("arbor: the Self channel requires a component; fire through its Manager")
		}
	}
	var parent *EventBase
	if st := dispatchStateFrom(ctx); st != nil {
		parent = st.event.base()
	}
	fireInternal(cp.proc, ev, channels, parent)
	return ev
}

var _ EventPipeline = (*checkingPipeline)(nil)
