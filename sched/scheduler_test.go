package sched

import (
	"testing"

	"github.com/aykutozdemir/fsmos/bus"
	"github.com/aykutozdemir/fsmos/platform"
	"github.com/aykutozdemir/fsmos/task"
)

// testClock is a manually steppable platform.Clock.
type testClock struct{ ms uint32 }

func (c *testClock) NowMs() uint32 { return c.ms }
func (c *testClock) NowUs() uint32 { return c.ms * 1000 }

type noopCS struct{}

func (noopCS) Enter(fn func()) { fn() }

type testReset struct {
	lastTask  uint8
	raw       uint8
	preserved []uint8
}

func (r *testReset) ResetCauseRaw() uint8         { return r.raw }
func (r *testReset) TakeLastTaskPreserved() uint8 { v := r.lastTask; r.lastTask = task.InvalidID; return v }
func (r *testReset) PreserveLastTask(id uint8)    { r.preserved = append(r.preserved, id); r.lastTask = id }

func newTestScheduler(cfg *Config) (*Scheduler, *testClock) {
	clock := &testClock{}
	plat := &platform.Platform{Clock: clock, CriticalSection: noopCS{}}
	pool := bus.NewPool(bus.DefaultConfig(), noopCS{})
	return New(cfg, plat, pool), clock
}

// countingTask is a bare task.Task (no optional hooks), used for S1.
type countingTask struct {
	task.Base
	runs int
}

func (c *countingTask) Step() { c.runs++ }

// TestPeriodicDispatch is spec.md scenario S1: a 500ms-period task stepped
// for 10000ms should run 20 times, plus or minus one depending on deadline
// anchoring.
func TestPeriodicDispatch(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())
	ct := &countingTask{}
	s.Add(ct, 500)

	for i := 0; i < 10_000; i++ {
		clock.ms++
		s.TickOnce()
	}

	if ct.runs < 19 || ct.runs > 21 {
		t.Fatalf("runs = %d, want ~20", ct.runs)
	}
}

// TestMissedDeadlineNeverCatchesUp exercises spec.md §4.1's "drop, never
// catch up" policy: if the clock jumps far past several periods in one
// tick, the task runs exactly once and its next deadline is the first
// period boundary strictly after now, not a backlog of missed runs.
func TestMissedDeadlineNeverCatchesUp(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())
	ct := &countingTask{}
	s.Add(ct, 100)

	clock.ms = 1050 // 10+ periods elapsed in one jump
	s.TickOnce()
	if ct.runs != 1 {
		t.Fatalf("runs after big jump = %d, want 1 (no catch-up)", ct.runs)
	}

	clock.ms = 1051
	s.TickOnce()
	if ct.runs != 1 {
		t.Fatalf("runs one ms later = %d, want still 1", ct.runs)
	}
}

type msgTask struct {
	task.Base
	topic     uint8
	received  []recvMsg
	subscribe bool
}

type recvMsg struct {
	src, kind uint8
	arg       uint16
}

func (m *msgTask) OnStart() {
	if m.subscribe {
		m.Subscribe(m.topic)
	}
}

func (m *msgTask) OnMessage(env *bus.Envelope) {
	m.received = append(m.received, recvMsg{env.Source, env.Kind, env.Arg})
}

func (m *msgTask) Step() {}

// TestPublishSubscribeBroadcast is spec.md scenario S2.
func TestPublishSubscribeBroadcast(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())

	a := &msgTask{}
	aID := s.Add(a, 1000)
	b := &msgTask{topic: 3, subscribe: true}
	s.Add(b, 1000)
	c := &msgTask{topic: 3, subscribe: true}
	s.Add(c, 1000)
	d := &msgTask{topic: 3, subscribe: false}
	s.Add(d, 1000)

	if ok := s.Publish(aID, 3, 7, 42); !ok {
		t.Fatal("Publish() = false, want true")
	}

	poolBefore := s.PoolStat().InUse
	if poolBefore != 1 {
		t.Fatalf("pool in-use before delivery = %d, want 1", poolBefore)
	}

	clock.ms = 1
	s.TickOnce() // delivery phase moves the envelope into pending lists

	if len(b.received) != 1 || b.received[0] != (recvMsg{1, 7, 42}) {
		t.Fatalf("B received = %+v, want one {src=1 kind=7 arg=42}", b.received)
	}
	if len(c.received) != 1 || c.received[0] != (recvMsg{1, 7, 42}) {
		t.Fatalf("C received = %+v, want one {src=1 kind=7 arg=42}", c.received)
	}
	if len(d.received) != 0 {
		t.Fatalf("D received = %+v, want none", d.received)
	}
	if poolAfter := s.PoolStat().InUse; poolAfter != 0 {
		t.Fatalf("pool in-use after both observations = %d, want 0 (released)", poolAfter)
	}
}

// TestSuspendBuffering is spec.md scenario S3.
func TestSuspendBuffering(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())

	src := &msgTask{}
	srcID := s.Add(src, 1000)
	b := &msgTask{topic: 3, subscribe: true, Base: task.Base{SuspendQueueEnabled: true, MessageBudget: 8}}
	bID := s.Add(b, 1000)

	s.Suspend(bID)

	for arg := uint16(1); arg <= 3; arg++ {
		if !s.Publish(srcID, 3, 1, arg) {
			t.Fatalf("Publish(arg=%d) = false", arg)
		}
		clock.ms += 1000
		s.TickOnce()
	}

	if len(b.received) != 0 {
		t.Fatalf("suspended task received %d messages before resume, want 0", len(b.received))
	}

	s.Resume(bID)
	clock.ms += 1000
	s.TickOnce()

	if len(b.received) != 3 {
		t.Fatalf("received after resume = %d, want 3", len(b.received))
	}
	for i, want := range []uint16{1, 2, 3} {
		if b.received[i].arg != want {
			t.Fatalf("received[%d].arg = %d, want %d (posting order)", i, b.received[i].arg, want)
		}
	}
}

// TestPoolExhaustionViaPost is spec.md scenario S4, driven through the
// scheduler's Post rather than the pool directly.
func TestPoolExhaustionViaPost(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := newTestScheduler(cfg)
	pool := bus.NewPool(&bus.Config{HardCap: 4, InitialSoftCap: 4}, noopCS{})
	s.pool = pool

	dst := &msgTask{}
	dstID := s.Add(dst, 1000)

	for i := 0; i < 4; i++ {
		if !s.Post(1, dstID, bus.DirectTopic, uint16(i)) {
			t.Fatalf("Post() #%d = false, want true", i)
		}
	}
	beforeStat := pool.Stat()
	if !s.Post(1, dstID, bus.DirectTopic, 99) {
		// Expected: false.
	} else {
		t.Fatal("fifth Post() = true, want false (pool exhausted)")
	}
	afterStat := pool.Stat()
	if afterStat != beforeStat {
		t.Fatalf("pool stat changed on failed post: before=%+v after=%+v", beforeStat, afterStat)
	}
}

// TestWatchdogReset is spec.md scenario S5: preserving the last-run task id
// before dispatch, and clearing it on read.
func TestWatchdogReset(t *testing.T) {
	reset := &testReset{raw: ResetWatchdogRawForTest}
	clock := &testClock{}
	plat := &platform.Platform{Clock: clock, CriticalSection: noopCS{}, Reset: reset}
	pool := bus.NewPool(bus.DefaultConfig(), noopCS{})
	s := New(DefaultConfig(), plat, pool)

	runner := &countingTask{}
	runnerID := s.Add(runner, 1000)

	clock.ms = 1
	s.TickOnce()
	if len(reset.preserved) == 0 || reset.preserved[len(reset.preserved)-1] != runnerID {
		t.Fatalf("PreserveLastTask not called with runner id before dispatch")
	}

	info := s.ResetInfo()
	if info.LastTaskID != runnerID {
		t.Fatalf("ResetInfo().LastTaskID = %d, want %d", info.LastTaskID, runnerID)
	}
	if info.Cause != ResetWatchdog {
		t.Fatalf("ResetInfo().Cause = %v, want Watchdog", info.Cause)
	}

	info2 := s.ResetInfo()
	if info2.LastTaskID != task.InvalidID {
		t.Fatalf("second ResetInfo().LastTaskID = %d, want invalid sentinel after consumption", info2.LastTaskID)
	}
}

const ResetWatchdogRawForTest = 0x08

// TestDirectAddressing is spec.md scenario S6.
func TestDirectAddressing(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())

	a := &msgTask{}
	aID := s.Add(a, 1000)
	b := &msgTask{}
	s.Add(b, 1000)
	other := &msgTask{topic: 1, subscribe: true}
	s.Add(other, 1000)

	if !s.Tell(aID, 2, 9, 0) {
		t.Fatal("Tell() = false, want true")
	}

	clock.ms = 1
	s.TickOnce()

	if len(b.received) != 1 || b.received[0] != (recvMsg{1, 9, 0}) {
		t.Fatalf("B received = %+v, want one {src=1 kind=9 arg=0}", b.received)
	}
	if len(other.received) != 0 {
		t.Fatal("unrelated subscriber observed a direct message")
	}
}

func TestSubscribeRejectsOutOfRangeTopic(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	m := &msgTask{}
	id := s.Add(m, 1000)
	if s.Subscribe(id, 0) {
		t.Fatal("Subscribe(topic=0) = true, want false (0 is DirectTopic)")
	}
	if s.Subscribe(id, 99) {
		t.Fatal("Subscribe(topic=99) = true, want false (beyond max_topics)")
	}
}

func TestRemoveDrainsPendingAndReleasesEnvelopes(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())
	a := &msgTask{}
	aID := s.Add(a, 1000)
	b := &msgTask{topic: 3, subscribe: true, Base: task.Base{SuspendQueueEnabled: true}}
	bID := s.Add(b, 1000)

	s.Suspend(bID)
	s.Publish(aID, 3, 1, 1)
	clock.ms = 1
	s.TickOnce()

	if s.PoolStat().InUse != 1 {
		t.Fatal("expected one envelope pending in B's list")
	}
	s.Remove(bID)
	if s.PoolStat().InUse != 0 {
		t.Fatal("Remove() did not release pending envelope")
	}
}

// selfTerminatingTask terminates itself on its first Step and counts how
// many times Step and OnStop actually ran.
type selfTerminatingTask struct {
	task.Base
	steps, stops int
}

func (s *selfTerminatingTask) Step() {
	s.steps++
	s.Terminate()
}

func (s *selfTerminatingTask) OnStop() { s.stops++ }

// TestSweepRemovesTerminatedTask covers the sweep phase (spec.md §4.1 phase
// 4): a task that terminates itself during Step is left in the registry
// through the rest of that tick's dispatch pass, then unlinked by sweep
// before TickOnce returns, firing OnStop exactly once.
func TestSweepRemovesTerminatedTask(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())
	st := &selfTerminatingTask{}
	id := s.Add(st, 100)

	clock.ms = 100
	s.TickOnce()

	if st.steps != 1 {
		t.Fatalf("steps = %d, want 1", st.steps)
	}
	if st.stops != 1 {
		t.Fatalf("stops = %d, want 1 (OnStop must fire exactly once)", st.stops)
	}
	if _, ok := s.GetTask(id); ok {
		t.Fatal("GetTask() found a task after it was swept")
	}

	clock.ms = 200
	s.TickOnce()
	if st.steps != 1 {
		t.Fatalf("steps after second tick = %d, want still 1 (task must not run again)", st.steps)
	}
}

// TestTerminateDoesNotMutateRegistryMidDispatch ensures a task that
// terminates itself during Step never corrupts dispatch's walk over the same
// tick: every later Active task due this tick still runs exactly once.
func TestTerminateDoesNotMutateRegistryMidDispatch(t *testing.T) {
	s, clock := newTestScheduler(DefaultConfig())
	a := &selfTerminatingTask{}
	s.Add(a, 100)
	b := &countingTask{}
	s.Add(b, 100)
	c := &countingTask{}
	s.Add(c, 100)

	clock.ms = 100
	s.TickOnce()

	if a.steps != 1 || b.runs != 1 || c.runs != 1 {
		t.Fatalf("steps/runs = %d/%d/%d, want 1/1/1", a.steps, b.runs, c.runs)
	}
}

// TestRemoveBeforeSweepDoesNotDoubleFireOnStop covers an explicit Remove
// racing the sweep phase: Terminate marks the task, then Remove is called
// before TickOnce runs sweep. OnStop must still fire exactly once.
func TestRemoveBeforeSweepDoesNotDoubleFireOnStop(t *testing.T) {
	s, _ := newTestScheduler(DefaultConfig())
	st := &selfTerminatingTask{}
	id := s.Add(st, 100)

	s.Terminate(id)
	if st.stops != 0 {
		t.Fatal("Terminate() must not fire OnStop synchronously")
	}
	s.Remove(id)
	if st.stops != 1 {
		t.Fatalf("stops after Remove = %d, want 1", st.stops)
	}
}

// budgetBlockedTask declares a message budget larger than the shared queue's
// remaining capacity, so dispatch must skip it per spec.md §4.1 phase 3.
type budgetBlockedTask struct {
	task.Base
	runs int
}

func (b *budgetBlockedTask) Step()                   { b.runs++ }
func (b *budgetBlockedTask) MaxMessageBudget() uint8 { return 5 }

func TestDispatchSkipsWhenSharedQueueLacksFreeSlotsForBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 3
	cfg.DeliveryBudgetPerTick = 0 // keep the shared queue full through dispatch this tick
	s, clock := newTestScheduler(cfg)
	bt := &budgetBlockedTask{}
	s.Add(bt, 100)

	filler := &msgTask{}
	fillerID := s.Add(filler, 1000)
	s.Tell(fillerID, fillerID, 1, 0)
	s.Tell(fillerID, fillerID, 1, 0)
	s.Tell(fillerID, fillerID, 1, 0)

	clock.ms = 100
	s.TickOnce()

	if bt.runs != 0 {
		t.Fatalf("runs = %d, want 0 (shared queue has fewer free slots than the declared budget)", bt.runs)
	}
}
