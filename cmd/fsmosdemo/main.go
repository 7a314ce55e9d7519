// Command fsmosdemo wires a Scheduler against a simulated platform and
// drives it through three end-to-end behaviors: periodic dispatch,
// publish/subscribe and direct addressing. Suspend buffering, pool
// exhaustion and watchdog recovery are not exercised by this demo.
//
// Grounded on the teacher's reference/main.go entrypoint shape (an init()
// doing one-time setup, a package-level component logger, a single Run-like
// call in main), adapted since this demo has no pluggable generator
// registry: every task is wired directly.
package main

import (
	"fmt"
	"os"

	"github.com/aykutozdemir/fsmos/bus"
	"github.com/aykutozdemir/fsmos/logx"
	"github.com/aykutozdemir/fsmos/platform"
	"github.com/aykutozdemir/fsmos/sched"
	"github.com/aykutozdemir/fsmos/task"
)

const instance = "fsmosdemo"

var mainLog = logx.NewCompLogger(instance)

func init() {
	_ = logx.Apply(logx.DefaultConfig())
}

// simClock is a manually advanced platform.Clock, used in place of
// platform/host.Host's wall-clock-backed one so the demo's tick-by-tick
// narrative is reproducible independent of how fast this process runs.
type simClock struct {
	ms uint32
}

func (c *simClock) NowMs() uint32 { return c.ms }
func (c *simClock) NowUs() uint32 { return c.ms * 1000 }
func (c *simClock) advance(deltaMs uint32) { c.ms += deltaMs }

// simCritical is a no-op critical section: the demo is single-threaded.
type simCritical struct{}

func (simCritical) Enter(fn func()) { fn() }

// blinker is S1: a periodic task with no message handling, toggling a
// simulated pin and counting its own steps.
type blinker struct {
	task.Base
	pin   bool
	steps int
}

func (b *blinker) Step() {
	b.pin = !b.pin
	b.steps++
}

// publisher is S2/S6's task A: posts a topic broadcast and a direct tell
// from inside its own Step, using its bound Control via Base.
type publisher struct {
	task.Base
	tick int
}

func (p *publisher) Step() {
	p.tick++
	switch p.tick {
	case 1:
		p.PublishTopic(3, 7, 42)
	case 2:
		p.Tell(2, 9, 0)
	}
}

// subscriber is S2's tasks B/C: records every on-message it receives.
type subscriber struct {
	task.Base
	topic    uint8
	received []string
}

func (s *subscriber) OnStart() {
	s.Subscribe(s.topic)
}

func (s *subscriber) OnMessage(env *bus.Envelope) {
	s.received = append(s.received, fmt.Sprintf("src=%d kind=%d arg=%d", env.Source, env.Kind, env.Arg))
}

func (s *subscriber) Step() {}

// nonSubscriber is S2's task D: never subscribes, so it must never observe
// the topic-3 broadcast.
type nonSubscriber struct {
	task.Base
	received []string
}

func (n *nonSubscriber) OnMessage(env *bus.Envelope) {
	n.received = append(n.received, fmt.Sprintf("src=%d kind=%d arg=%d", env.Source, env.Kind, env.Arg))
}

func (n *nonSubscriber) Step() {}

func main() {
	mainLog.Info("start")

	clock := &simClock{}
	plat := &platform.Platform{Clock: clock, CriticalSection: simCritical{}}
	pool := bus.NewPool(bus.DefaultConfig(), simCritical{})
	s := sched.New(sched.DefaultConfig(), plat, pool)

	blinkID := s.Add(&blinker{Base: task.Base{Name: "blinker"}}, 500)
	aID := s.Add(&publisher{Base: task.Base{Name: "publisherA"}}, 1000)
	bID := s.Add(&subscriber{Base: task.Base{Name: "subscriberB"}, topic: 3}, 1000)
	cID := s.Add(&subscriber{Base: task.Base{Name: "subscriberC"}, topic: 3}, 1000)
	dID := s.Add(&nonSubscriber{Base: task.Base{Name: "nonSubscriberD"}}, 1000)

	mainLog.Infof("registered tasks: blinker=%d A=%d B=%d C=%d D=%d", blinkID, aID, bID, cID, dID)

	const tickMs = 1
	for i := 0; i < 10_000; i++ {
		clock.advance(tickMs)
		s.TickOnce()
	}

	if bInfo, ok := s.GetTask(blinkID); ok {
		mainLog.Infof("blinker ran %d times over 10000ms at period %dms", bInfo.Stats.RunCount, bInfo.PeriodMs)
	}

	mainLog.Info("done")
	os.Exit(0)
}
