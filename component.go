package arbor

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ComponentType marks any object that can participate in a component tree.
// Objects either embed a *Component (native components) or are wrapped by a
// proxy created on first use by ManagerFor. Proxied objects must be
// comparable.
type ComponentType interface{}

// Manager gives access to a component's place in the tree, its handlers,
// and event firing.
type Manager interface {
	// Channel returns the component's default channel: the channel given
	// at creation, or the component itself.
	Channel() Channel

	// Name returns the component's simple name.
	Name() string

	// Path returns the slash-separated chain of component names from the
	// root to this component.
	Path() string

	// Parent returns the parent component, or nil for a root.
	Parent() ComponentType

	// Children returns the component's children in attachment order.
	Children() []ComponentType

	// Root returns the root of the component's tree.
	Root() ComponentType

	// Components returns the subtree rooted at this component in
	// pre-order, the component itself first.
	Components() []ComponentType

	// Attach makes child a child of this component, merging its tree into
	// this one. The child must be the detached root of an unstarted tree.
	Attach(child ComponentType) error

	// Detach removes this component from its parent; the subtree becomes
	// its own tree with a fresh pipeline. Detaching a root is a no-op.
	Detach() ComponentType

	// On registers a handler: the cross product of the event keys and
	// channel keys from the options, at the given priority.
	On(fn HandlerFunc, opts ...HandlerOption)

	// AddHandler registers a single dynamically constructed subscription.
	AddHandler(eventKey, channelKey any, name string, priority int, fn HandlerFunc) error

	// Fire appends the event to the appropriate pipeline: the currently
	// executing pipeline when called from a handler with the handler's
	// context and that pipeline belongs to this component's tree, the
	// tree's root pipeline otherwise. Without channels the
	// event's recorded channels are used, defaulting to the component's
	// channel.
	Fire(ctx context.Context, ev Event, channels ...Channel) Event

	// NewEventPipeline allocates a dedicated pipeline processing events
	// for this component's tree.
	NewEventPipeline() EventPipeline

	// Runtime returns the runtime shared by the component's tree.
	Runtime() *Runtime
}

// treeMutation is the dedicated tree-mutation lock: it guards structural
// state (parents, children, tree membership, handler lists) for all trees.
// Handler lookups go through the lock-free cache after publication.
var treeMutation sync.RWMutex

type componentConfig struct {
	name    string
	channel Channel
	rt      *Runtime
}

// ComponentOption configures a component at creation.
type ComponentOption func(*componentConfig)

// WithChannel sets the component's default channel. The default is the
// component itself.
func WithChannel(ch Channel) ComponentOption {
	return func(c *componentConfig) { c.channel = ch }
}

// WithName sets the component's simple name. The default is derived from
// the owner's type.
func WithName(name string) ComponentOption {
	return func(c *componentConfig) { c.name = name }
}

// WithRuntime sets the runtime for the component's tree. The default is
// the shared default runtime.
func WithRuntime(rt *Runtime) ComponentOption {
	return func(c *componentConfig) { c.rt = rt }
}

// Component is the manager node embedded in (or proxying for) a component.
// A freshly created Component forms a stand-alone tree.
type Component struct {
	owner   ComponentType
	name    string
	channel Channel // nil means the component itself

	// Guarded by treeMutation.
	parent   *Component
	children []*Component
	tree     *componentTree
	handlers []handlerRef
}

// NewComponent creates the manager node for owner. Passing a nil owner
// makes the node its own owner.
func NewComponent(owner ComponentType, opts ...ComponentOption) *Component {
	cfg := componentConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Component{owner: owner, channel: cfg.channel}
	if c.owner == nil {
		c.owner = c
	}
	if c.channel == Self {
		c.channel = nil
	}
	c.name = cfg.name
	if c.name == "" {
		c.name = typeName(c.owner)
	}
	rt := cfg.rt
	if rt == nil {
		rt = DefaultRuntime()
	}
	c.tree = newComponentTree(c, rt)
	return c
}

// componentNode is satisfied by objects embedding a *Component.
type componentNode interface {
	node() *Component
}

func (c *Component) node() *Component { return c }

// proxies maps foreign objects to their manager nodes.
var proxies sync.Map

// ManagerFor returns the Manager for obj: the embedded node for native
// components, else a proxy created on first use.
func ManagerFor(obj ComponentType) Manager {
	return nodeOf(obj)
}

func nodeOf(obj ComponentType) *Component {
	if cn, ok := obj.(componentNode); ok {
		return cn.node()
	}
	if existing, ok := proxies.Load(obj); ok {
		return existing.(*Component)
	}
	c := NewComponent(obj)
	actual, _ := proxies.LoadOrStore(obj, c)
	return actual.(*Component)
}

// MatchKey makes the component usable as a channel: the key is the
// component's identity.
func (c *Component) MatchKey() any { return c }

// MatchesKey reports whether a handler bound to handlerKey receives events
// fired on this component's channel.
func (c *Component) MatchesKey(handlerKey any) bool {
	return handlerKey == any(c) || handlerKey == any(broadcastKey)
}

func (c *Component) Channel() Channel {
	if c.channel != nil {
		return c.channel
	}
	return c
}

func (c *Component) Name() string { return c.name }

func (c *Component) String() string { return c.name }

func (c *Component) Parent() ComponentType {
	treeMutation.RLock()
	defer treeMutation.RUnlock()
	if c.parent == nil {
		return nil
	}
	return c.parent.owner
}

func (c *Component) Children() []ComponentType {
	treeMutation.RLock()
	defer treeMutation.RUnlock()
	out := make([]ComponentType, len(c.children))
	for i, child := range c.children {
		out[i] = child.owner
	}
	return out
}

func (c *Component) Root() ComponentType {
	treeMutation.RLock()
	defer treeMutation.RUnlock()
	return c.tree.root.owner
}

func (c *Component) Components() []ComponentType {
	treeMutation.RLock()
	defer treeMutation.RUnlock()
	var out []ComponentType
	c.walk(&out)
	return out
}

// walk appends the subtree in pre-order. Caller holds treeMutation.
func (c *Component) walk(out *[]ComponentType) {
	*out = append(*out, c.owner)
	for _, child := range c.children {
		child.walk(out)
	}
}

func (c *Component) Path() string {
	treeMutation.RLock()
	defer treeMutation.RUnlock()
	var names []string
	for cur := c; cur != nil; cur = cur.parent {
		names = append(names, cur.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/")
}

func (c *Component) Runtime() *Runtime {
	treeMutation.RLock()
	defer treeMutation.RUnlock()
	return c.tree.rt
}

func (c *Component) Attach(child ComponentType) error {
	node := nodeOf(child)
	if node == c {
		return fmt.Errorf("%w: %s", ErrSelfAttach, c.name)
	}
	treeMutation.Lock()
	if node.parent != nil {
		treeMutation.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, node.name)
	}
	childTree := node.tree
	if childTree == c.tree {
		treeMutation.Unlock()
		return fmt.Errorf("%w: %s is the root of this tree", ErrAlreadyAttached, node.name)
	}
	if childTree.started {
		treeMutation.Unlock()
		return fmt.Errorf("%w: %s", ErrSubtreeStarted, node.name)
	}
	node.parent = c
	c.children = append(c.children, node)
	newTree := c.tree
	node.adoptTree(newTree)
	newTree.invalidateCache()
	newTree.mergeFrom(childTree)
	treeMutation.Unlock()

	pChan := c.Channel()
	cChan := node.Channel()
	ev := NewAttached(c.owner, node.owner)
	ctx := context.Background()
	switch {
	case isBroadcast(pChan) || isBroadcast(cChan):
		c.Fire(ctx, ev, Broadcast)
	case sameChannel(pChan, cChan):
		c.Fire(ctx, ev, pChan)
	default:
		c.Fire(ctx, ev, pChan, cChan)
	}
	return nil
}

func (c *Component) Detach() ComponentType {
	treeMutation.Lock()
	p := c.parent
	if p == nil {
		treeMutation.Unlock()
		return c.owner
	}
	for i, child := range p.children {
		if child == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	c.parent = nil
	oldTree := c.tree
	oldTree.invalidateCache()
	newTree := newComponentTree(c, oldTree.rt)
	if oldTree.started {
		newTree.start()
	}
	c.adoptTree(newTree)
	treeMutation.Unlock()

	ctx := context.Background()
	p.Fire(ctx, NewDetached(p.owner, c.owner))
	c.Fire(ctx, NewDetached(p.owner, c.owner))
	return c.owner
}

// adoptTree points the subtree at the given tree. Caller holds
// treeMutation.
func (c *Component) adoptTree(t *componentTree) {
	c.tree = t
	for _, child := range c.children {
		child.adoptTree(t)
	}
}

func (c *Component) On(fn HandlerFunc, opts ...HandlerOption) {
	if fn == nil {
		panic("arbor: nil handler function")
	}
	o := handlerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.eventKeys) == 0 {
		o.eventKeys = []any{TypeEvent}
	}
	var channelKeys []any
	if len(o.channelKeys) == 0 {
		channelKeys = []any{c.Channel().MatchKey()}
	} else {
		channelKeys = make([]any, len(o.channelKeys))
		for i, ck := range o.channelKeys {
			channelKeys[i] = c.resolveChannelKey(ck)
		}
	}
	treeMutation.Lock()
	for _, ek := range o.eventKeys {
		for _, ck := range channelKeys {
			c.handlers = append(c.handlers, handlerRef{
				eventKey:   ek,
				channelKey: ck,
				priority:   o.priority,
				name:       o.name,
				fn:         fn,
			})
		}
	}
	tree := c.tree
	treeMutation.Unlock()
	tree.invalidateCache()
}

func (c *Component) AddHandler(eventKey, channelKey any, name string, priority int, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, name)
	}
	if eventKey == nil {
		eventKey = TypeEvent
	}
	var ck any
	if channelKey == nil {
		ck = c.Channel().MatchKey()
	} else {
		ck = c.resolveChannelKey(channelKey)
	}
	treeMutation.Lock()
	c.handlers = append(c.handlers, handlerRef{
		eventKey:   eventKey,
		channelKey: ck,
		priority:   priority,
		name:       name,
		fn:         fn,
	})
	tree := c.tree
	treeMutation.Unlock()
	tree.invalidateCache()
	return nil
}

// resolveChannelKey normalizes a channel registration key, resolving the
// Self placeholder to this component.
func (c *Component) resolveChannelKey(v any) any {
	if ch, ok := v.(Channel); ok && ch == Self {
		return any(c)
	}
	return channelKeyOf(v)
}

func (c *Component) Fire(ctx context.Context, ev Event, channels ...Channel) Event {
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
			channels = []Channel{c.Channel()}
		}
	}
	resolved := make([]Channel, len(channels))
	for i, ch := range channels {
		if ch == Self {
			resolved[i] = c
		} else {
			resolved[i] = ch
		}
	}

	treeMutation.RLock()
	tree := c.tree
	pipe := tree.pipeline
	treeMutation.RUnlock()

	var parent *EventBase
	if st := dispatchStateFrom(ctx); st != nil {
		parent = st.event.base()
		if st.pipeline.componentTree() == tree {
			pipe = st.pipeline
		}
	}
	fireInternal(pipe, ev, resolved, parent)
	return ev
}

func (c *Component) NewEventPipeline() EventPipeline {
	treeMutation.RLock()
	tree := c.tree
	treeMutation.RUnlock()
	return &checkingPipeline{proc: newEventProcessor(tree, tree.rt)}
}

// collectHandlers appends the matching handler references of this subtree
// in pre-order. Caller holds treeMutation.
func (c *Component) collectHandlers(out *[]*handlerRef, ev Event, channels []Channel) {
	for i := range c.handlers {
		h := &c.handlers[i]
		if h.responds(ev, channels) {
			*out = append(*out, h)
		}
	}
	for _, child := range c.children {
		child.collectHandlers(out, ev, channels)
	}
}

func typeName(v any) string {
	s := fmt.Sprintf("%T", v)
	s = strings.TrimPrefix(s, "*")
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return s
}

var (
	_ Manager = (*Component)(nil)
	_ Channel = (*Component)(nil)
)
