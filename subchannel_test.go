package arbor

import (
	"context"
	"testing"
	"time"
)

func TestSubchannel_SharesMainChannelKey(t *testing.T) {
	rt := NewRuntime()
	server := newTestComp("server", WithRuntime(rt))

	typeEv := NewEventType("request", nil)
	got := make(chan Event, 1)
	server.On(func(ctx context.Context, ev Event) error {
		select {
		case got <- ev:
		default:
		}
		return nil
	}, WithEvents(typeEv)) // bound to the server's own channel

	mustStart(t, server)

	sub := NewSubchannel(server)
	if sub.MatchKey() != server.Channel().MatchKey() {
		t.Fatal("subchannel does not share its main channel's match key")
	}

	ev := NewEvent(typeEv)
	server.Fire(context.Background(), ev, sub)

	select {
	case dispatched := <-got:
		if dispatched != Event(ev) {
			t.Errorf("dispatched %v, want the fired event", dispatched)
		}
		chans := dispatched.Channels()
		if len(chans) != 1 || chans[0] != Channel(sub) {
			t.Errorf("event channels = %v, want the subchannel", chans)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler on the main channel did not receive the subchannel event")
	}
}

func TestSubchannel_Associations(t *testing.T) {
	rt := NewRuntime()
	server := newTestComp("server", WithRuntime(rt))
	sub := NewSubchannel(server)

	type sessionKey struct{}
	sub.SetAssociated(sessionKey{}, "session-1")
	if v, ok := sub.Associated(sessionKey{}); !ok || v != "session-1" {
		t.Errorf("Associated = %v, %v; want session-1, true", v, ok)
	}

	sub.SetAssociated(sessionKey{}, "session-2")
	if v, _ := sub.Associated(sessionKey{}); v != "session-2" {
		t.Errorf("Associated = %v, want the most recent value", v)
	}

	sub.SetAssociated(sessionKey{}, nil)
	if _, ok := sub.Associated(sessionKey{}); ok {
		t.Error("association survived a nil store")
	}
}

func TestSubchannel_LinkedFallsBackToUpstream(t *testing.T) {
	rt := NewRuntime()
	server := newTestComp("server", WithRuntime(rt))
	converter := newTestComp("converter", WithRuntime(rt))

	upstream := NewSubchannel(server)
	type sessionKey struct{}
	upstream.SetAssociated(sessionKey{}, "upstream-value")

	down := NewLinkedSubchannel(converter, upstream, true)

	if v, ok := down.Associated(sessionKey{}); !ok || v != "upstream-value" {
		t.Errorf("Associated = %v, %v; want fallback to the upstream value", v, ok)
	}

	down.SetAssociated(sessionKey{}, "own-value")
	if v, _ := down.Associated(sessionKey{}); v != "own-value" {
		t.Errorf("Associated = %v, want the downstream's own value", v)
	}

	if up := down.Upstream(); up != Subchannel(upstream) {
		t.Errorf("Upstream = %v, want the linked subchannel", up)
	}
}

func TestSubchannel_DownstreamBackLink(t *testing.T) {
	rt := NewRuntime()
	server := newTestComp("server", WithRuntime(rt))
	converter := newTestComp("converter", WithRuntime(rt))

	upstream := NewSubchannel(server)
	down := NewLinkedSubchannel(converter, upstream, true)

	found, ok := DownstreamOf(converter, upstream)
	if !ok || found != Subchannel(down) {
		t.Errorf("DownstreamOf = %v, %v; want the created downstream", found, ok)
	}

	// Without a back link the downstream is not discoverable.
	upstream2 := NewSubchannel(server)
	_ = NewLinkedSubchannel(converter, upstream2, false)
	if _, ok := DownstreamOf(converter, upstream2); ok {
		t.Error("DownstreamOf found a downstream although linkBack was false")
	}
}

func TestSubchannel_AssociatedAs(t *testing.T) {
	rt := NewRuntime()
	server := newTestComp("server", WithRuntime(rt))
	sub := NewSubchannel(server)

	type countKey struct{}
	sub.SetAssociated(countKey{}, 42)
	if v, ok := AssociatedAs[int](sub, countKey{}); !ok || v != 42 {
		t.Errorf("AssociatedAs[int] = %v, %v; want 42, true", v, ok)
	}
	if _, ok := AssociatedAs[string](sub, countKey{}); ok {
		t.Error("AssociatedAs[string] matched an int value")
	}
}

func TestSubchannel_ResponsePipelineSerializesResponses(t *testing.T) {
	rt := NewRuntime()
	server := newTestComp("server", WithRuntime(rt))

	want := []string{"r0", "r1", "r2", "r3"}
	rec := &recorder{}
	server.On(func(ctx context.Context, ev Event) error {
		rec.record(ev.(*NamedEvent).Name())
		return nil
	}, WithEvents("r0", "r1", "r2", "r3"), WithChannels(Broadcast))

	mustStart(t, server)

	sub := NewSubchannel(server)
	var last Event
	for _, name := range want {
		ev := NewNamedEvent(name)
		last = sub.ResponsePipeline().Fire(context.Background(), ev, sub)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := last.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}

	got := rec.snapshot()
	if !equalStrings(got, want) {
		t.Errorf("response order = %v, want %v", got, want)
	}
}
