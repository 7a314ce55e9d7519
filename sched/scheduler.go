// Scheduler owns the task registry and the shared message queue, assigns
// identifiers, and drives cooperative dispatch (spec.md §4.1), grounded on
// the teacher's vmi/internal/scheduler.go Task/TaskStats/Config/State
// layering, adapted from a goroutine+min-heap dispatcher to a single
// tick_once entry point with insertion-order dispatch, since this core has
// no preemption and no priority-ordered scheduling (spec.md §4.1
// "Tie-breaks").

package sched

import (
	"github.com/aykutozdemir/fsmos/bus"
	"github.com/aykutozdemir/fsmos/logx"
	"github.com/aykutozdemir/fsmos/platform"
	"github.com/aykutozdemir/fsmos/queue"
	"github.com/aykutozdemir/fsmos/task"
)

var schedLog = logx.NewCompLogger("sched")

// postedMessage pairs an allocated envelope with the recipient set resolved
// at post time. Recipients are resolved once, at post, so that the
// envelope's reference count (set from len(recipients)) stays consistent
// with what delivery actually walks, even if a recipient's state changes
// between post and delivery.
type postedMessage struct {
	env        *bus.Envelope
	recipients []task.ID
}

type taskNode struct {
	id       task.ID
	t        task.Task
	state    task.State
	priority task.Priority
	name     string

	periodMs   uint32
	deadlineMs uint32

	subs uint32 // bit (topic-1) set iff subscribed to topic

	budget              uint8
	suspendQueueEnabled bool

	stopped bool

	pending *queue.Queue[*bus.Envelope]
	stats   task.Stats

	next *taskNode
}

func (n *taskNode) hasSub(topic uint8) bool {
	if topic == 0 || topic > 32 {
		return false
	}
	return n.subs&(1<<(topic-1)) != 0
}

// Scheduler is the L3 component owning the task registry, the shared
// message queue, the envelope pool, the global clock, and dispatch.
//
// At most one Scheduler is intended per process (spec.md §3 invariant);
// nothing here enforces that structurally since Go has no natural
// "singleton" keyword, but every field the cooperative main context touches
// is unexported and reached only through this type.
type Scheduler struct {
	cfg  *Config
	plat *platform.Platform
	pool *bus.Pool

	sharedQ *queue.Queue[*postedMessage]

	head, tail *taskNode
	byID       map[task.ID]*taskNode
	count      int
	nextID     task.ID

	clockMs uint32

	lastExecutedTaskID task.ID
	lastTaskEndMs       uint32

	logLevel logx.Level
}

// New builds a Scheduler. pool is the envelope pool it will allocate
// messages from; plat supplies the clock, critical section, and optional
// watchdog/reset capabilities.
func New(cfg *Config, plat *platform.Platform, pool *bus.Pool) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !validMaxTopics(cfg.MaxTopics) {
		schedLog.Warnf("max_topics=%d invalid, falling back to %d", cfg.MaxTopics, ConfigMaxTopicsDefault)
		cfg.MaxTopics = ConfigMaxTopicsDefault
	}

	s := &Scheduler{
		cfg:      cfg,
		plat:     plat,
		pool:     pool,
		sharedQ:  queue.New[*postedMessage](cfg.QueueCapacity, plat.CriticalSection),
		byID:     make(map[task.ID]*taskNode),
		nextID:   1,
		logLevel: logx.LevelInfo,
	}
	if plat.Clock != nil {
		s.clockMs = plat.NowMs()
	}
	if cfg.WatchdogEnabled && plat.Watchdog != nil {
		plat.Watchdog.Enable(cfg.WatchdogTimeoutCode)
	}
	return s
}

func (s *Scheduler) allocID() task.ID {
	if s.count >= s.cfg.MaxTasks {
		return task.InvalidID
	}
	id := s.nextID
	next := s.nextID + 1
	if next == task.NoneID || next == task.InvalidID {
		next = 1
	}
	s.nextID = next
	return id
}

// Option customizes a task at Add time.
type Option func(*taskNode)

func WithName(name string) Option             { return func(n *taskNode) { n.name = name } }
func WithPriority(p task.Priority) Option      { return func(n *taskNode) { n.priority = p } }
func WithMessageBudget(budget uint8) Option    { return func(n *taskNode) { n.budget = budget } }
func WithQueueWhileSuspended(b bool) Option    { return func(n *taskNode) { n.suspendQueueEnabled = b } }

// Add registers t with the given period (milliseconds, clamped to >= 1),
// allocates its identifier, links it into the registry, sets it Active with
// a deadline of "now", and invokes its OnStart hook if present. It returns
// task.InvalidID (255) if the registry is full.
func (s *Scheduler) Add(t task.Task, periodMs uint32, opts ...Option) task.ID {
	if periodMs < 1 {
		periodMs = 1
	}

	id := s.allocID()
	if id == task.InvalidID {
		schedLog.Warn("add task: registry full")
		return task.InvalidID
	}

	node := &taskNode{
		id:         id,
		t:          t,
		state:      task.Active,
		priority:   task.PriorityNormal,
		periodMs:   periodMs,
		deadlineMs: s.clockMs,
		budget:     task.DefaultMessageBudget,
		pending:    queue.New[*bus.Envelope](s.cfg.PendingListCapacity, s.plat.CriticalSection),
	}
	if nd, ok := t.(task.NameDeclarer); ok {
		node.name = nd.DeclaredName()
	}
	if bd, ok := t.(task.BudgetDeclarer); ok {
		node.budget = bd.MaxMessageBudget()
	}
	if sb, ok := t.(task.SuspendBehaviorDeclarer); ok {
		node.suspendQueueEnabled = sb.QueueWhileSuspended()
	}
	for _, opt := range opts {
		opt(node)
	}

	if b, ok := t.(task.Binder); ok {
		b.Bind(s, id)
	}

	if s.head == nil {
		s.head, s.tail = node, node
	} else {
		s.tail.next = node
		s.tail = node
	}
	s.byID[id] = node
	s.count++

	if st, ok := t.(task.Starter); ok {
		st.OnStart()
	}

	schedLog.Infof("add task id=%d name=%q period=%dms", id, node.name, periodMs)
	return id
}

// Remove unlinks the task immediately, invoking OnStop if it hasn't already
// run (e.g. via the sweep phase), and drops any envelopes held only by its
// pending list.
func (s *Scheduler) Remove(id task.ID) bool {
	node, ok := s.byID[id]
	if !ok {
		return false
	}
	s.unlink(node)
	s.stopTask(node)
	s.drainPending(node)
	return true
}

// stopTask invokes OnStop at most once per task, regardless of whether it
// runs via an explicit Remove or via the Terminated sweep in TickOnce.
func (s *Scheduler) stopTask(node *taskNode) {
	if node.stopped {
		return
	}
	node.stopped = true
	if stp, ok := node.t.(task.Stopper); ok {
		stp.OnStop()
	}
}

func (s *Scheduler) unlink(node *taskNode) {
	var prev *taskNode
	for n := s.head; n != nil; n = n.next {
		if n == node {
			if prev == nil {
				s.head = n.next
			} else {
				prev.next = n.next
			}
			if s.tail == n {
				s.tail = prev
			}
			break
		}
		prev = n
	}
	delete(s.byID, node.id)
	s.count--
}

func (s *Scheduler) drainPending(node *taskNode) {
	for {
		env, ok := node.pending.Pop()
		if !ok {
			break
		}
		env.Release()
	}
}

// TaskInfo is what GetTask returns: a read-only snapshot plus the state a
// caller may want to branch on (the registry node itself stays private).
type TaskInfo struct {
	ID       task.ID
	Name     string
	State    task.State
	Priority task.Priority
	PeriodMs uint32
	Stats    task.Stats
}

func (s *Scheduler) GetTask(id task.ID) (TaskInfo, bool) {
	node, ok := s.byID[id]
	if !ok {
		return TaskInfo{}, false
	}
	return TaskInfo{
		ID:       node.id,
		Name:     node.name,
		State:    node.state,
		Priority: node.priority,
		PeriodMs: node.periodMs,
		Stats:    node.stats,
	}, true
}

func (s *Scheduler) TaskStats(id task.ID) (task.Stats, bool) {
	node, ok := s.byID[id]
	if !ok {
		return task.Stats{}, false
	}
	return node.stats, true
}

// MostDelayingTask returns the id of the task with the largest recorded
// MaxDelayMs, and that delay. ok is false if no task has ever been delayed.
// Per spec.md §9 Open Questions, this does not special-case the
// suspend/resume gap: a delay recorded before a suspend still counts.
func (s *Scheduler) MostDelayingTask() (id task.ID, delayMs uint32, ok bool) {
	for n := s.head; n != nil; n = n.next {
		if n.stats.MaxDelayMs > delayMs {
			delayMs = n.stats.MaxDelayMs
			id = n.id
			ok = true
		}
	}
	return id, delayMs, ok
}

func (s *Scheduler) LastExecutedTask() task.ID { return s.lastExecutedTaskID }

func (s *Scheduler) NowMs() uint32 { return s.clockMs }

func (s *Scheduler) QueueUtilization() (size, capacity int) {
	return s.sharedQ.Size(), s.sharedQ.Capacity()
}

func (s *Scheduler) PoolStat() bus.Stats { return s.pool.Stat() }

// SetLogLevel sets the minimum level the scheduler's own log records (and,
// via Log, task records) will emit at.
func (s *Scheduler) SetLogLevel(level logx.Level) {
	s.logLevel = level
	logx.SetLevelFloor(level)
}

// Post is the external, task-unaware entry point matching spec.md §4.2's
// post(kind, src_or_dst_id, topic, arg): used from outside any task's Step,
// e.g. from an ISR-simulating callback. Since the caller has no task
// identity of its own, the recorded Source is 0 (same sentinel as "none").
func (s *Scheduler) Post(kind uint8, srcOrDstID task.ID, topic uint8, arg uint16) bool {
	if topic == bus.DirectTopic {
		return s.postDirect(task.NoneID, srcOrDstID, kind, arg)
	}
	return s.postTopic(task.NoneID, topic, kind, arg)
}

// Publish implements task.Control, called via Base.PublishTopic with the
// caller's own id supplied as source.
func (s *Scheduler) Publish(id task.ID, topic uint8, kind uint8, arg uint16) bool {
	return s.postTopic(id, topic, kind, arg)
}

// Tell implements task.Control, called via Base.Tell.
func (s *Scheduler) Tell(id task.ID, dst task.ID, kind uint8, arg uint16) bool {
	return s.postDirect(id, dst, kind, arg)
}

func (s *Scheduler) postDirect(src, dst task.ID, kind uint8, arg uint16) bool {
	node, ok := s.byID[dst]
	if !ok {
		return false
	}
	if node.state == task.Suspended && !node.suspendQueueEnabled {
		return false
	}
	if node.state == task.Terminated {
		return false
	}
	return s.enqueue(src, bus.DirectTopic, kind, arg, []task.ID{dst})
}

func (s *Scheduler) postTopic(src task.ID, topic uint8, kind uint8, arg uint16) bool {
	if topic == bus.DirectTopic {
		return false
	}
	var recipients []task.ID
	for n := s.head; n != nil; n = n.next {
		if !n.hasSub(topic) {
			continue
		}
		if n.state == task.Terminated {
			continue
		}
		if n.state == task.Suspended && !n.suspendQueueEnabled {
			continue
		}
		recipients = append(recipients, n.id)
	}
	if len(recipients) == 0 {
		return false
	}
	return s.enqueue(src, topic, kind, arg, recipients)
}

// enqueue allocates an envelope, sets its reference count to exactly
// len(recipients), and pushes the resolved posted message onto the shared
// queue. If the pool is exhausted or the shared queue is full, the post is
// dropped and false is returned; nothing is left half-allocated.
func (s *Scheduler) enqueue(src task.ID, topic uint8, kind uint8, arg uint16, recipients []task.ID) bool {
	env, ok := s.pool.Alloc()
	if !ok {
		schedLog.Warn("post dropped: envelope pool exhausted")
		return false
	}
	env.Kind = kind
	env.Source = src
	env.Topic = topic
	env.Arg = arg
	env.InitRefCount(len(recipients))

	pm := &postedMessage{env: env, recipients: recipients}
	if !s.sharedQ.Push(pm) {
		schedLog.Warn("post dropped: shared queue full")
		// Nobody will ever deliver this envelope; release once per recipient
		// to unwind the InitRefCount set above.
		for range recipients {
			env.Release()
		}
		return false
	}
	return true
}

func (s *Scheduler) Suspend(id task.ID) {
	node, ok := s.byID[id]
	if !ok || node.state == task.Terminated {
		return
	}
	if node.state == task.Active {
		node.state = task.Suspended
		if susp, ok := node.t.(task.Suspender); ok {
			susp.OnSuspend()
		}
	}
}

func (s *Scheduler) Resume(id task.ID) {
	node, ok := s.byID[id]
	if !ok || node.state != task.Suspended {
		return
	}
	node.state = task.Active
	node.deadlineMs = s.clockMs
	if res, ok := node.t.(task.Resumer); ok {
		res.OnResume()
	}
}

// Terminate marks the task Terminated. A task can call this on itself from
// within its own Step, so it must not unlink the node or run OnStop here:
// mutating the registry mid-dispatch would corrupt dispatch's in-progress
// walk. The actual unlink, OnStop, and pending drain happen in TickOnce's
// sweep phase, which runs after dispatch finishes walking the registry.
func (s *Scheduler) Terminate(id task.ID) {
	node, ok := s.byID[id]
	if !ok || node.state == task.Terminated {
		return
	}
	node.state = task.Terminated
}

func (s *Scheduler) SetPeriod(id task.ID, periodMs uint32) {
	if periodMs < 1 {
		periodMs = 1
	}
	if node, ok := s.byID[id]; ok {
		node.periodMs = periodMs
	}
}

func (s *Scheduler) SetPriority(id task.ID, p task.Priority) {
	if node, ok := s.byID[id]; ok {
		node.priority = p
	}
}

func (s *Scheduler) Subscribe(id task.ID, topic uint8) bool {
	node, ok := s.byID[id]
	if !ok || topic == 0 || topic > uint8(s.cfg.MaxTopics) {
		return false
	}
	node.subs |= 1 << (topic - 1)
	return true
}

func (s *Scheduler) Unsubscribe(id task.ID, topic uint8) {
	node, ok := s.byID[id]
	if !ok || topic == 0 || topic > 32 {
		return
	}
	node.subs &^= 1 << (topic - 1)
}

func (s *Scheduler) Log(id task.ID, level task.LogLevel, msg string) {
	taskID := id
	logx.Record("task", &taskID, convertLevel(level), msg)
}

func convertLevel(l task.LogLevel) logx.Level {
	switch l {
	case task.LogDebug:
		return logx.LevelDebug
	case task.LogWarn:
		return logx.LevelWarn
	case task.LogError:
		return logx.LevelError
	default:
		return logx.LevelInfo
	}
}

// TickOnce drives one full scheduling tick: refresh the clock, deliver
// queued messages into recipients' pending lists, dispatch every task whose
// deadline has elapsed, sweep out anything that terminated this tick, and
// feed the watchdog. It never blocks.
//
// Per spec.md §4.1, a task whose deadline is missed more than once before it
// is dispatched is NOT caught up: its deadline is advanced to the first
// period boundary strictly after now, and the skip is counted once, not once
// per missed period.
func (s *Scheduler) TickOnce() {
	if s.plat.Clock != nil {
		s.clockMs = s.plat.NowMs()
	}

	s.deliver()
	s.dispatch()
	s.sweep()

	if s.cfg.WatchdogEnabled && s.plat.Watchdog != nil {
		s.plat.Watchdog.Feed()
	}
}

// deliver moves up to DeliveryBudgetPerTick posted messages from the shared
// queue into each resolved recipient's pending list, consuming the
// reference InitRefCount reserved for that recipient. A recipient that no
// longer exists, or that transitioned to Terminated (or to Suspended without
// queue-while-suspended) between post and delivery, has its reference
// dropped instead of being queued.
func (s *Scheduler) deliver() {
	for i := 0; i < s.cfg.DeliveryBudgetPerTick; i++ {
		pm, ok := s.sharedQ.Pop()
		if !ok {
			return
		}
		for _, rid := range pm.recipients {
			node, ok := s.byID[rid]
			deliverable := ok && node.state != task.Terminated &&
				(node.state != task.Suspended || node.suspendQueueEnabled)
			if !deliverable {
				pm.env.Release()
				continue
			}
			if !node.pending.Push(pm.env) {
				schedLog.Warnf("task id=%d pending list full, message dropped", rid)
				pm.env.Release()
				continue
			}
		}
	}
}

// dispatch executes every task whose deadline has elapsed, in registry
// (insertion) order; priority is recorded in stats but does not reorder
// execution, per spec.md §4.1 "Tie-breaks". Terminated tasks are left for
// the sweep phase that follows; they are never dispatched.
func (s *Scheduler) dispatch() {
	for n := s.head; n != nil; n = n.next {
		if n.state != task.Active {
			continue
		}
		if int32(s.clockMs-n.deadlineMs) < 0 {
			continue
		}
		if s.sharedQ.Capacity()-s.sharedQ.Size() < int(n.budget) {
			continue
		}
		s.runTask(n)
	}
}

// sweep unlinks every Terminated task from the registry, firing OnStop if it
// hasn't already run and releasing its pending messages back to the pool.
// Running this as its own phase, after dispatch, means a task that calls
// Terminate on itself from within its own Step is never unlinked mid-walk:
// dispatch finishes its pass over a stable list first, and only then does
// the node disappear.
func (s *Scheduler) sweep() {
	var prev *taskNode
	for n := s.head; n != nil; {
		next := n.next
		if n.state != task.Terminated {
			prev = n
			n = next
			continue
		}
		s.stopTask(n)
		s.drainPending(n)
		if prev == nil {
			s.head = next
		} else {
			prev.next = next
		}
		if s.tail == n {
			s.tail = prev
		}
		delete(s.byID, n.id)
		s.count--
		n = next
	}
}

func (s *Scheduler) runTask(n *taskNode) {
	missedMs := s.clockMs - n.deadlineMs
	if missedMs > 0 {
		n.stats.DelayCount++
		if missedMs > n.stats.MaxDelayMs {
			n.stats.MaxDelayMs = missedMs
		}
	}

	if s.plat.Reset != nil {
		s.plat.Reset.PreserveLastTask(n.id)
	}

	if handler, ok := n.t.(task.MessageHandler); ok {
		for i := uint8(0); i < n.budget; i++ {
			env, ok := n.pending.Pop()
			if !ok {
				break
			}
			handler.OnMessage(env)
			env.Release()
		}
	} else {
		s.drainPending(n)
	}

	var startUs, endUs uint32
	if s.plat.Clock != nil {
		startUs = s.plat.NowUs()
	}
	n.stats.LastScheduledMs = n.deadlineMs
	n.stats.LastActualStartMs = s.clockMs

	n.t.Step()

	if s.plat.Clock != nil {
		endUs = s.plat.NowUs()
	}
	elapsedUs := endUs - startUs
	n.stats.RunCount++
	if elapsedUs > n.stats.MaxUs {
		n.stats.MaxUs = elapsedUs
	}
	if n.stats.RunCount == 1 {
		n.stats.AvgUs = elapsedUs
	} else {
		n.stats.AvgUs = n.stats.AvgUs + (elapsedUs-n.stats.AvgUs)/n.stats.RunCount
	}

	s.lastExecutedTaskID = n.id
	s.lastTaskEndMs = s.clockMs

	// Advance the deadline to the first period boundary strictly after now,
	// without catching up missed periods (spec.md §4.1 "never catch up").
	if n.state == task.Active {
		next := n.deadlineMs + n.periodMs
		if int32(s.clockMs-next) >= 0 {
			behind := s.clockMs - n.deadlineMs
			periods := behind/n.periodMs + 1
			next = n.deadlineMs + periods*n.periodMs
		}
		n.deadlineMs = next
	}
}
