// Package timer provides a scheduler component that fires events on cron
// schedules and one-shot delays. The scheduler registers as a generator
// between Start and Stop, and every pending one-shot timer counts as a
// generator of its own, so quiescence waits for timed work.
package timer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/arbor"
)

// standardParser accepts the five-field cron format (minute to day of
// week), evaluated in UTC.
var standardParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// EventFactory produces the event for one firing. Events are single-use, so
// recurring schedules need a fresh event per tick.
type EventFactory func() arbor.Event

// Scheduler fires caller-supplied events on cron schedules and after
// one-shot delays. Schedules run while the tree is started: the cron runner
// starts on Start and stops on Stop.
type Scheduler struct {
	*arbor.Component

	cron *cron.Cron

	mu       sync.Mutex
	running  bool
	oneShots map[*time.Timer]struct{}
}

// New creates a scheduler component.
func New(opts ...arbor.ComponentOption) *Scheduler {
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(standardParser), cron.WithLocation(time.UTC)),
		oneShots: make(map[*time.Timer]struct{}),
	}
	s.Component = arbor.NewComponent(s, opts...)
	s.On(s.onStart, arbor.WithEvents(arbor.TypeStart), arbor.WithChannels(arbor.Broadcast))
	s.On(s.onStop, arbor.WithEvents(arbor.TypeStop), arbor.WithChannels(arbor.Broadcast), arbor.WithPriority(-10000))
	return s
}

// At schedules the event produced by factory to be fired on the given
// channels at every tick of the UTC cron expression.
func (s *Scheduler) At(spec string, factory EventFactory, channels ...arbor.Channel) (cron.EntryID, error) {
	schedule, err := parseSpec(spec)
	if err != nil {
		return 0, err
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.Fire(context.Background(), factory(), channels...)
	}))
	return id, nil
}

// Remove drops a scheduled entry.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// After fires the event produced by factory once the delay has elapsed. The
// pending timer is accounted for as a generator, so AwaitExhaustion waits
// for it. The returned function cancels the timer if it has not fired yet.
func (s *Scheduler) After(delay time.Duration, factory EventFactory, channels ...arbor.Channel) (cancel func()) {
	rt := s.Runtime()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer rt.UnregisterGenerator(timer)
		s.forget(timer)
		s.Fire(context.Background(), factory(), channels...)
	})
	rt.RegisterGenerator(timer)
	s.mu.Lock()
	s.oneShots[timer] = struct{}{}
	s.mu.Unlock()

	return func() {
		if timer.Stop() {
			s.forget(timer)
			rt.UnregisterGenerator(timer)
		}
	}
}

func (s *Scheduler) forget(timer *time.Timer) {
	s.mu.Lock()
	delete(s.oneShots, timer)
	s.mu.Unlock()
}

func (s *Scheduler) onStart(_ context.Context, _ arbor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.cron.Start()
	s.Runtime().RegisterGenerator(s)
	return nil
}

func (s *Scheduler) onStop(_ context.Context, _ arbor.Event) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	pending := make([]*time.Timer, 0, len(s.oneShots))
	for timer := range s.oneShots {
		pending = append(pending, timer)
	}
	s.mu.Unlock()

	rt := s.Runtime()
	for _, timer := range pending {
		if timer.Stop() {
			s.forget(timer)
			rt.UnregisterGenerator(timer)
		}
	}
	<-s.cron.Stop().Done()
	rt.UnregisterGenerator(s)
	return nil
}

func parseSpec(spec string) (cron.Schedule, error) {
	clean := strings.TrimSpace(spec)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}
	schedule, err := standardParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}
