package arbor

import (
	"context"
	"time"
)

// Start marks the component's tree as started, replaces the buffering
// pipeline with a processor, and fires Start on broadcast. It returns once
// Start and everything it caused have been handled. Do not call it from a
// handler running on the same tree's root pipeline; it would wait on
// itself.
func Start(ctx context.Context, root ComponentType) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := nodeOf(root)
	treeMutation.Lock()
	c.tree.start()
	treeMutation.Unlock()

	ev := NewStart()
	c.Fire(ctx, ev, Broadcast)
	_, err := ev.Get(ctx)
	return err
}

// Stop fires Stop on broadcast and waits for it to be handled. When the
// runtime is configured with WithSynchronousStop, it then also waits for
// the generator registry to drain, returning ErrDrainTimeout if the drain
// window elapses first.
func Stop(ctx context.Context, root ComponentType) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := nodeOf(root)
	ev := NewStop()
	c.Fire(ctx, ev, Broadcast)
	if _, err := ev.Get(ctx); err != nil {
		return err
	}

	rt := c.Runtime()
	if !rt.stopSync {
		return nil
	}
	dctx := ctx
	if rt.drainTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, rt.drainTimeout)
		defer cancel()
	}
	if !rt.AwaitExhaustion(dctx) {
		return ErrDrainTimeout
	}
	return nil
}

// AwaitExhaustion waits on the default runtime's generator registry. Use
// Runtime.AwaitExhaustion for components created with their own runtime.
func AwaitExhaustion(timeout time.Duration) bool {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return DefaultRuntime().AwaitExhaustion(ctx)
}
