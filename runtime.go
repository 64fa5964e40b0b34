package arbor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Executor runs pipeline drains on a shared worker pool.
type Executor interface {
	Execute(task func())
}

// goExecutor runs every task in its own goroutine, the moral equivalent of
// an unbounded cached thread pool.
type goExecutor struct{}

func (goExecutor) Execute(task func()) { go task() }

// NewGoroutineExecutor returns the default executor: one goroutine per
// task.
func NewGoroutineExecutor() Executor { return goExecutor{} }

// pooledExecutor caps the number of concurrently running tasks. Excess
// tasks park until a slot frees up.
type pooledExecutor struct {
	sem chan struct{}
}

// NewPooledExecutor returns an executor that runs at most maxWorkers tasks
// concurrently. A non-positive maxWorkers yields the unbounded executor.
func NewPooledExecutor(maxWorkers int) Executor {
	if maxWorkers <= 0 {
		return goExecutor{}
	}
	return &pooledExecutor{sem: make(chan struct{}, maxWorkers)}
}

func (e *pooledExecutor) Execute(task func()) {
	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		task()
	}()
}

// Runtime bundles the shared executor, the generator registry, and the
// logger. Components created without WithRuntime share the default
// instance; tests and embedders can create isolated runtimes.
type Runtime struct {
	executor   Executor
	generators *generatorRegistry
	logger     *slog.Logger

	stopSync     bool
	drainTimeout time.Duration
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithExecutor sets the executor pipelines draw workers from.
func WithExecutor(e Executor) RuntimeOption {
	return func(rt *Runtime) { rt.executor = e }
}

// WithLogger sets the logger used for unhandled handler errors and runtime
// diagnostics.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = l }
}

// WithSynchronousStop makes Stop drain the generator registry before
// returning, waiting at most drainTimeout (0 waits indefinitely). Without
// it Stop only schedules deregistration.
func WithSynchronousStop(drainTimeout time.Duration) RuntimeOption {
	return func(rt *Runtime) {
		rt.stopSync = true
		rt.drainTimeout = drainTimeout
	}
}

// NewRuntime creates a runtime with its own executor and generator
// registry.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		executor:   NewGoroutineExecutor(),
		generators: newGeneratorRegistry(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

var (
	defaultRuntimeOnce sync.Once
	defaultRuntime     *Runtime
)

// DefaultRuntime returns the shared default runtime.
func DefaultRuntime() *Runtime {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime = NewRuntime()
	})
	return defaultRuntime
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// RegisterGenerator records a long-running source of work. AwaitExhaustion
// does not return while any generator is registered.
func (rt *Runtime) RegisterGenerator(g any) { rt.generators.add(g) }

// UnregisterGenerator removes a previously registered generator.
func (rt *Runtime) UnregisterGenerator(g any) { rt.generators.remove(g) }

// AwaitExhaustion blocks until every pipeline has drained and every
// generator has deregistered, reporting true; it reports false if ctx
// expires first.
func (rt *Runtime) AwaitExhaustion(ctx context.Context) bool {
	return rt.generators.awaitExhaustion(ctx)
}
