package arbor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func names(comps []ComponentType) []string {
	out := make([]string, len(comps))
	for i, c := range comps {
		out[i] = ManagerFor(c).Name()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func buildTestTree(t *testing.T, rt *Runtime) (root, n1, n2 *testComp) {
	t.Helper()
	root = newTestComp("root", WithRuntime(rt))
	n1 = newTestComp("n1", WithRuntime(rt))
	n2 = newTestComp("n2", WithRuntime(rt))
	for _, name := range []string{"n3", "n4", "n5"} {
		if err := n1.Attach(newTestComp(name, WithRuntime(rt))); err != nil {
			t.Fatalf("attach %s: %v", name, err)
		}
	}
	for _, name := range []string{"n6", "n7", "n8"} {
		if err := n2.Attach(newTestComp(name, WithRuntime(rt))); err != nil {
			t.Fatalf("attach %s: %v", name, err)
		}
	}
	if err := root.Attach(n1); err != nil {
		t.Fatalf("attach n1: %v", err)
	}
	if err := root.Attach(n2); err != nil {
		t.Fatalf("attach n2: %v", err)
	}
	return root, n1, n2
}

func TestTree_PreOrderIteration(t *testing.T) {
	rt := NewRuntime()
	root, _, _ := buildTestTree(t, rt)

	got := names(root.Components())
	want := []string{"root", "n1", "n3", "n4", "n5", "n2", "n6", "n7", "n8"}
	if !equalStrings(got, want) {
		t.Errorf("pre-order = %v, want %v", got, want)
	}
}

func TestTree_StructuralInvariants(t *testing.T) {
	rt := NewRuntime()
	root, n1, _ := buildTestTree(t, rt)

	if got := n1.Parent(); got != ComponentType(root) {
		t.Errorf("Parent(n1) = %v, want root", got)
	}
	found := false
	for _, c := range root.Children() {
		if c == ComponentType(n1) {
			found = true
		}
	}
	if !found {
		t.Error("children of root do not contain n1")
	}
	if got := n1.Root(); got != ComponentType(root) {
		t.Errorf("Root(n1) = %v, want root", got)
	}
	if got := root.Root(); got != ComponentType(root) {
		t.Errorf("Root(root) = %v, want root", got)
	}
}

func TestTree_Path(t *testing.T) {
	rt := NewRuntime()
	root, n1, _ := buildTestTree(t, rt)

	if got := root.Path(); got != "/root" {
		t.Errorf("root.Path() = %q, want %q", got, "/root")
	}
	n3 := nodeOf(n1.Children()[0])
	if got := n3.Path(); got != "/root/n1/n3" {
		t.Errorf("n3.Path() = %q, want %q", got, "/root/n1/n3")
	}
}

func TestTree_Detach(t *testing.T) {
	rt := NewRuntime()
	root, n1, _ := buildTestTree(t, rt)

	detached := n1.Detach()
	if detached != ComponentType(n1) {
		t.Fatalf("Detach returned %v, want n1", detached)
	}
	if got := n1.Parent(); got != nil {
		t.Errorf("Parent(n1) after detach = %v, want nil", got)
	}
	if got := n1.Root(); got != ComponentType(n1) {
		t.Errorf("Root(n1) after detach = %v, want n1", got)
	}
	for _, c := range root.Children() {
		if c == ComponentType(n1) {
			t.Error("root still lists n1 after detach")
		}
	}
	got := names(root.Components())
	want := []string{"root", "n2", "n6", "n7", "n8"}
	if !equalStrings(got, want) {
		t.Errorf("pre-order after detach = %v, want %v", got, want)
	}

	// The detached subtree is intact and independent.
	got = names(n1.Components())
	want = []string{"n1", "n3", "n4", "n5"}
	if !equalStrings(got, want) {
		t.Errorf("detached subtree = %v, want %v", got, want)
	}
}

func TestTree_DetachRootIsNoop(t *testing.T) {
	rt := NewRuntime()
	root := newTestComp("root", WithRuntime(rt))
	if got := root.Detach(); got != ComponentType(root) {
		t.Errorf("Detach of root returned %v, want root", got)
	}
}

func TestTree_AttachRejectsAttachedChild(t *testing.T) {
	rt := NewRuntime()
	root, n1, _ := buildTestTree(t, rt)

	other := newTestComp("other", WithRuntime(rt))
	err := other.Attach(n1)
	if !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("Attach of attached child returned %v, want ErrAlreadyAttached", err)
	}
	if got := n1.Parent(); got != ComponentType(root) {
		t.Error("n1 no longer attached to root after rejected attach")
	}
}

func TestTree_AttachRejectsSelf(t *testing.T) {
	rt := NewRuntime()
	root := newTestComp("root", WithRuntime(rt))
	if err := root.Attach(root); !errors.Is(err, ErrSelfAttach) {
		t.Errorf("self attach returned %v, want ErrSelfAttach", err)
	}
}

func TestTree_AttachRejectsStartedSubtree(t *testing.T) {
	rt := NewRuntime()
	a := newTestComp("a", WithRuntime(rt))
	b := newTestComp("b", WithRuntime(rt))
	mustStart(t, a)
	mustStart(t, b)

	err := a.Attach(b)
	if !errors.Is(err, ErrSubtreeStarted) {
		t.Fatalf("Attach of started subtree returned %v, want ErrSubtreeStarted", err)
	}

	// Both trees remain intact.
	if got := b.Parent(); got != nil {
		t.Errorf("b.Parent() = %v, want nil", got)
	}
	if got := b.Root(); got != ComponentType(b) {
		t.Errorf("b.Root() = %v, want b", got)
	}
	if got := a.Root(); got != ComponentType(a) {
		t.Errorf("a.Root() = %v, want a", got)
	}
}

func TestTree_AttachedEventChannels(t *testing.T) {
	rt := NewRuntime()
	parent := newTestComp("parent", WithRuntime(rt), WithChannel(NamedChannel("p")))
	mustStart(t, parent)

	attachedCh := make(chan *Attached, 4)
	parent.On(func(ctx context.Context, ev Event) error {
		attachedCh <- ev.(*Attached)
		return nil
	}, WithEvents(TypeAttached), WithChannels(Broadcast))

	child := newTestComp("child", WithRuntime(rt), WithChannel(NamedChannel("c")))
	if err := parent.Attach(child); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	select {
	case at := <-attachedCh:
		if at.Parent() != ComponentType(parent) || at.Child() != ComponentType(child) {
			t.Errorf("Attached(%v, %v), want (parent, child)", at.Parent(), at.Child())
		}
		chans := at.Channels()
		if len(chans) != 2 {
			t.Errorf("Attached fired on %v, want parent and child channels", chans)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Attached")
	}
}

func TestTree_AttachedOnEqualChannelsFiresOnce(t *testing.T) {
	rt := NewRuntime()
	shared := NamedChannel("shared")
	parent := newTestComp("parent", WithRuntime(rt), WithChannel(shared))
	mustStart(t, parent)

	attachedCh := make(chan *Attached, 4)
	parent.On(func(ctx context.Context, ev Event) error {
		attachedCh <- ev.(*Attached)
		return nil
	}, WithEvents(TypeAttached), WithChannels(Broadcast))

	child := newTestComp("child", WithRuntime(rt), WithChannel(shared))
	if err := parent.Attach(child); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	select {
	case at := <-attachedCh:
		chans := at.Channels()
		if len(chans) != 1 || chans[0].MatchKey() != shared.MatchKey() {
			t.Errorf("Attached fired on %v, want the single shared channel", chans)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Attached")
	}
	select {
	case <-attachedCh:
		t.Fatal("Attached delivered twice for equal channels")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTree_DetachedEventBothSides(t *testing.T) {
	rt := NewRuntime()
	parent := newTestComp("parent", WithRuntime(rt))
	child := newTestComp("child", WithRuntime(rt))
	if err := parent.Attach(child); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	mustStart(t, parent)

	parentSide := make(chan *Detached, 2)
	parent.On(func(ctx context.Context, ev Event) error {
		parentSide <- ev.(*Detached)
		return nil
	}, WithEvents(TypeDetached), WithChannels(Broadcast))

	childSide := make(chan *Detached, 2)
	child.On(func(ctx context.Context, ev Event) error {
		childSide <- ev.(*Detached)
		return nil
	}, WithEvents(TypeDetached), WithChannels(Broadcast))

	child.Detach()

	select {
	case d := <-parentSide:
		if d.FormerParent() != ComponentType(parent) || d.Node() != ComponentType(child) {
			t.Errorf("Detached(%v, %v), want (parent, child)", d.FormerParent(), d.Node())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Detached on the former parent's side")
	}
	select {
	case <-childSide:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Detached on the detached side")
	}
}

func TestTree_BufferedEventsMigrateOnAttach(t *testing.T) {
	rt := NewRuntime()
	root := newTestComp("root", WithRuntime(rt))
	mustStart(t, root)

	typeEv := NewEventType("buffered", nil)
	sub := newTestComp("sub", WithRuntime(rt))
	got := make(chan Event, 1)
	sub.On(func(ctx context.Context, ev Event) error {
		select {
		case got <- ev:
		default:
		}
		return nil
	}, WithEvents(typeEv), WithChannels(Broadcast))

	// Fired at the unstarted subtree: buffered, not dispatched.
	ev := NewEvent(typeEv)
	sub.Fire(context.Background(), ev, Broadcast)
	select {
	case <-got:
		t.Fatal("event dispatched before the subtree joined a started tree")
	case <-time.After(50 * time.Millisecond):
	}

	if err := root.Attach(sub); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	select {
	case dispatched := <-got:
		if dispatched != Event(ev) {
			t.Errorf("dispatched %v, want the buffered event", dispatched)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffered event was not dispatched after attach")
	}
}
