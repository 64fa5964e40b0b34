package arbor

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGenerators_ExhaustedWhenEmpty(t *testing.T) {
	rt := NewRuntime()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !rt.AwaitExhaustion(ctx) {
		t.Error("AwaitExhaustion on an empty registry should return immediately")
	}
}

func TestGenerators_WaitsForDeregistration(t *testing.T) {
	rt := NewRuntime()
	gen := struct{ name string }{"source"}
	rt.RegisterGenerator(&gen)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if rt.AwaitExhaustion(short) {
		t.Fatal("AwaitExhaustion returned while a generator was registered")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		rt.UnregisterGenerator(&gen)
	}()

	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	start := time.Now()
	if !rt.AwaitExhaustion(ctx) {
		t.Fatal("AwaitExhaustion timed out after deregistration")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("AwaitExhaustion returned before the generator deregistered")
	}
}

func TestGenerators_DuplicateAddIsIdempotent(t *testing.T) {
	rt := NewRuntime()
	gen := &struct{}{}
	rt.RegisterGenerator(gen)
	rt.RegisterGenerator(gen)
	rt.UnregisterGenerator(gen)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !rt.AwaitExhaustion(ctx) {
		t.Error("registry not empty after removing a doubly added generator")
	}
}

func TestGenerators_RemoveUnknownIsNoop(t *testing.T) {
	rt := NewRuntime()
	rt.UnregisterGenerator(&struct{}{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !rt.AwaitExhaustion(ctx) {
		t.Error("removing an unknown generator disturbed the registry")
	}
}

func TestGenerators_ManyWaitersAllWake(t *testing.T) {
	rt := NewRuntime()
	gen := &struct{}{}
	rt.RegisterGenerator(gen)

	const waiters = 8
	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			results <- rt.AwaitExhaustion(ctx)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	rt.UnregisterGenerator(gen)
	wg.Wait()
	close(results)
	for ok := range results {
		if !ok {
			t.Error("a waiter timed out although the registry drained")
		}
	}
}

func TestGenerators_PipelineRegistersWhileExecuting(t *testing.T) {
	rt := NewRuntime()
	root := newTestComp("root", WithRuntime(rt))

	typeEv := NewEventType("busy", nil)
	release := make(chan struct{})
	started := make(chan struct{})
	root.On(func(ctx context.Context, ev Event) error {
		close(started)
		<-release
		return nil
	}, WithEvents(typeEv), WithChannels(Broadcast))

	mustStart(t, root)
	// Let the Start dispatch drain before observing the registry.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !rt.AwaitExhaustion(ctx) {
		t.Fatal("registry did not drain after Start")
	}

	root.Fire(context.Background(), NewEvent(typeEv), Broadcast)
	<-started

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if rt.AwaitExhaustion(short) {
		t.Error("AwaitExhaustion returned while a pipeline was executing")
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if !rt.AwaitExhaustion(ctx2) {
		t.Error("AwaitExhaustion timed out after the pipeline drained")
	}
}
