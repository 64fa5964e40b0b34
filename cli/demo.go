package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor"
	"github.com/petal-labs/arbor/config"
	"github.com/petal-labs/arbor/timer"
)

const (
	exitSuccess = 0
	exitRuntime = 2
	exitConfig  = 3
)

// greeter is the demo component: it answers greet events by printing a
// greeting and setting it as the event's result.
type greeter struct {
	*arbor.Component
	out io.Writer
}

func newGreeter(out io.Writer, opts ...arbor.ComponentOption) *greeter {
	g := &greeter{out: out}
	g.Component = arbor.NewComponent(g, opts...)
	g.On(g.onGreet, arbor.WithEvents("greet"), arbor.WithChannels(arbor.Broadcast))
	return g
}

func (g *greeter) onGreet(ctx context.Context, ev arbor.Event) error {
	name, _ := ev.(*arbor.NamedEvent).Payload("name").(string)
	if name == "" {
		name = "world"
	}
	greeting := "hello, " + name
	fmt.Fprintln(g.out, greeting)
	ev.SetResult(greeting)
	return nil
}

// NewDemoCmd creates the "demo" subcommand: it builds a small component
// tree, fires a few events, waits for exhaustion, and prints what was
// dispatched.
func NewDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a small component tree and print the dispatched events",
		Args:  cobra.NoArgs,
		RunE:  runDemo,
	}

	cmd.Flags().IntP("count", "n", 3, "Number of greet events to fire")
	cmd.Flags().Duration("delay", 30*time.Millisecond, "Delay for the scheduled final event")
	cmd.Flags().String("config", "", "Path to an arbor.yaml (default: discovery)")

	return cmd
}

func runDemo(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	delay, _ := cmd.Flags().GetDuration("delay")

	rt, err := runtimeFromFlags(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	root := arbor.NewComponent(nil, arbor.WithRuntime(rt), arbor.WithName("demo"))
	g := newGreeter(out, arbor.WithRuntime(rt), arbor.WithName("greeter"))
	sched := timer.New(arbor.WithRuntime(rt), arbor.WithName("scheduler"))
	if err := root.Attach(g); err != nil {
		return exitError(exitRuntime, "building tree: %v", err)
	}
	if err := root.Attach(sched); err != nil {
		return exitError(exitRuntime, "building tree: %v", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := arbor.Start(ctx, root); err != nil {
		return exitError(exitRuntime, "starting tree: %v", err)
	}

	for i := 0; i < count; i++ {
		ev := arbor.NewNamedEvent("greet").WithPayload("name", fmt.Sprintf("visitor %d", i+1))
		root.Fire(ctx, ev, arbor.Broadcast)
	}
	sched.After(delay, func() arbor.Event {
		return arbor.NewNamedEvent("greet").WithPayload("name", "the scheduler")
	}, arbor.Broadcast)

	// Give the one-shot time to fire, then quiesce.
	time.Sleep(delay + 200*time.Millisecond)
	if err := arbor.Stop(ctx, root); err != nil {
		return exitError(exitRuntime, "stopping tree: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !rt.AwaitExhaustion(waitCtx) {
		return exitError(exitRuntime, "runtime did not quiesce")
	}
	fmt.Fprintln(out, "exhausted; all events dispatched")
	return nil
}

// runtimeFromFlags builds the runtime from the configuration referenced by
// the --config flag, falling back to discovery and defaults.
func runtimeFromFlags(cmd *cobra.Command) (*arbor.Runtime, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := config.DiscoverPath(explicit)
	if err != nil {
		return nil, exitError(exitConfig, "locating config: %v", err)
	}

	cfg := config.Default()
	if found {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, exitError(exitConfig, "loading config: %v", err)
		}
	}

	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, exitError(exitConfig, "config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return arbor.NewRuntime(cfg.RuntimeOptions(logger)...), nil
}
