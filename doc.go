// Package arbor is an event-driven component framework: application logic
// is expressed as a tree of components that exchange typed events over
// named channels, with handlers dispatched by type hierarchy and channel
// matching.
//
// Components embed a *Component created by NewComponent (or are wrapped on
// demand by ManagerFor) and register handlers with On. Events fired at any
// node are delivered to matching handlers in the whole tree, ordered by
// descending priority. Each tree has a root pipeline that dispatches its
// events sequentially; additional pipelines can be allocated per subsystem
// or per connection (see Subchannel).
//
// A minimal application:
//
//	type Greeter struct {
//		*arbor.Component
//	}
//
//	func NewGreeter() *Greeter {
//		g := &Greeter{}
//		g.Component = arbor.NewComponent(g)
//		g.On(func(ctx context.Context, ev arbor.Event) error {
//			ev.SetResult("hello, " + ev.(*arbor.NamedEvent).Payload("name").(string))
//			return nil
//		}, arbor.WithEvents("greet"))
//		return g
//	}
//
//	func main() {
//		g := NewGreeter()
//		arbor.Start(context.Background(), g)
//		ev := arbor.NewNamedEvent("greet").WithPayload("name", "world")
//		g.Fire(context.Background(), ev)
//		out, _ := ev.Get(context.Background())
//		fmt.Println(out)
//		arbor.Stop(context.Background(), g)
//		arbor.AwaitExhaustion(time.Second)
//	}
//
// Events are handled when their open count returns to zero: firing a child
// event from a handler keeps the parent open until the child completes, so
// causally related events quiesce together and AwaitExhaustion observes a
// tree-wide fixpoint.
package arbor
