package arbor

import (
	"sync"
	"weak"

	"github.com/google/uuid"
)

// Subchannel is a channel that shares its main channel's match key:
// handlers bound to the main channel receive events fired on any of its
// subchannels. Subchannels carry per-connection state in an association map
// and serialize responses on a dedicated pipeline.
type Subchannel interface {
	Channel

	// MainChannel returns the channel this subchannel refines.
	MainChannel() Channel

	// ResponsePipeline returns the pipeline on which responses for this
	// subchannel are fired, keeping them independent of other
	// subchannels.
	ResponsePipeline() EventPipeline

	// SetAssociated stores a value under the given comparable key. A nil
	// value removes the association.
	SetAssociated(key, value any)

	// Associated returns the value stored under key.
	Associated(key any) (any, bool)
}

// DefaultSubchannel is the basic Subchannel implementation.
type DefaultSubchannel struct {
	name     string
	main     Channel
	pipeline EventPipeline
	assoc    sync.Map
	self     Subchannel
}

// NewSubchannel creates a subchannel of the component's channel with a
// fresh response pipeline.
func NewSubchannel(mgr Manager) *DefaultSubchannel {
	s := &DefaultSubchannel{
		name:     uuid.NewString(),
		main:     mgr.Channel(),
		pipeline: mgr.NewEventPipeline(),
	}
	s.self = s
	return s
}

func (s *DefaultSubchannel) MatchKey() any { return s.main.MatchKey() }

func (s *DefaultSubchannel) MatchesKey(handlerKey any) bool {
	return s.main.MatchesKey(handlerKey)
}

func (s *DefaultSubchannel) MainChannel() Channel { return s.main }

func (s *DefaultSubchannel) ResponsePipeline() EventPipeline { return s.pipeline }

func (s *DefaultSubchannel) SetAssociated(key, value any) {
	if value == nil {
		s.assoc.Delete(key)
		return
	}
	s.assoc.Store(key, value)
}

func (s *DefaultSubchannel) Associated(key any) (any, bool) {
	return s.assoc.Load(key)
}

func (s *DefaultSubchannel) String() string { return "sub:" + s.name }

func (s *DefaultSubchannel) subchannelBase() *DefaultSubchannel { return s }

// LinkedSubchannel is a subchannel linked to an upstream subchannel, the
// shape used by protocol converters: events for one connection arrive on
// the upstream subchannel, converted events leave on the linked downstream
// one. The upstream reference is weak so a downstream channel never keeps
// its upstream alive.
type LinkedSubchannel struct {
	DefaultSubchannel
	converter Manager
	upstream  weak.Pointer[DefaultSubchannel]
}

type subchanneler interface {
	subchannelBase() *DefaultSubchannel
}

// downstreamKey is the association key of the back link from an upstream
// subchannel to the downstream created for a converter.
type downstreamKey struct {
	converter Manager
}

// NewLinkedSubchannel creates a subchannel of the converter's channel
// linked to upstream. With linkBack set, the upstream is associated with
// the new subchannel so DownstreamOf can find it.
func NewLinkedSubchannel(converter Manager, upstream Subchannel, linkBack bool) *LinkedSubchannel {
	ls := &LinkedSubchannel{converter: converter}
	ls.name = uuid.NewString()
	ls.main = converter.Channel()
	ls.pipeline = converter.NewEventPipeline()
	ls.self = ls
	if sb, ok := upstream.(subchanneler); ok {
		ls.upstream = weak.Make(sb.subchannelBase())
	}
	if linkBack {
		upstream.SetAssociated(downstreamKey{converter: converter}, Subchannel(ls))
	}
	return ls
}

// Converter returns the component the subchannel was created for.
func (ls *LinkedSubchannel) Converter() Manager { return ls.converter }

// Upstream returns the linked upstream subchannel, or nil if it has been
// collected.
func (ls *LinkedSubchannel) Upstream() Subchannel {
	if base := ls.upstream.Value(); base != nil {
		return base.self
	}
	return nil
}

// Associated returns the value stored on this subchannel or, if absent, on
// the upstream subchannel.
func (ls *LinkedSubchannel) Associated(key any) (any, bool) {
	if v, ok := ls.DefaultSubchannel.Associated(key); ok {
		return v, true
	}
	if up := ls.Upstream(); up != nil {
		return up.Associated(key)
	}
	return nil, false
}

// DownstreamOf returns the downstream subchannel a converter created for
// the given upstream subchannel, if it installed a back link.
func DownstreamOf(converter Manager, upstream Subchannel) (Subchannel, bool) {
	v, ok := upstream.Associated(downstreamKey{converter: converter})
	if !ok {
		return nil, false
	}
	sub, ok := v.(Subchannel)
	return sub, ok
}

// AssociatedAs returns the association stored under key typed as T.
func AssociatedAs[T any](s Subchannel, key any) (T, bool) {
	if v, ok := s.Associated(key); ok {
		if t, ok := v.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

var (
	_ Subchannel = (*DefaultSubchannel)(nil)
	_ Subchannel = (*LinkedSubchannel)(nil)
)
