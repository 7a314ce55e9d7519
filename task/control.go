// Control is the scheduler-facing half of the "state-transition operations
// available to a task on itself" (spec.md §4.3): suspend, resume, terminate,
// set-period, set-priority, subscribe, unsubscribe, publish, tell, log.
//
// A Task that wants access to these embeds Base, which stores a Control and
// the task's own id, bound by the scheduler at Add time via Binder. This is
// the "global mutable scheduler singleton reached from callbacks" pattern
// from spec.md §9, expressed as one bound interface value per task instead
// of a package-level accessor.

package task

// LogLevel mirrors logx.Level without requiring this package to depend on
// the logging package.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// Control is implemented by the scheduler.
type Control interface {
	Suspend(id ID)
	Resume(id ID)
	Terminate(id ID)
	SetPeriod(id ID, periodMs uint32)
	SetPriority(id ID, p Priority)
	Subscribe(id ID, topic uint8) bool
	Unsubscribe(id ID, topic uint8)
	Publish(id ID, topic uint8, kind uint8, arg uint16) bool
	Tell(id ID, dst ID, kind uint8, arg uint16) bool
	Log(id ID, level LogLevel, msg string)
}

// Binder is implemented by Base; the scheduler calls Bind on every task that
// implements it, immediately after assigning the task's id.
type Binder interface {
	Bind(ctrl Control, self ID)
}

func (b *Base) Bind(ctrl Control, self ID) {
	b.ctrl = ctrl
	b.self = self
}

func (b *Base) Self() ID { return b.self }

func (b *Base) Suspend()  { b.withCtrl(func() { b.ctrl.Suspend(b.self) }) }
func (b *Base) Resume()   { b.withCtrl(func() { b.ctrl.Resume(b.self) }) }
func (b *Base) Terminate() { b.withCtrl(func() { b.ctrl.Terminate(b.self) }) }

func (b *Base) SetPeriod(periodMs uint32) {
	b.withCtrl(func() { b.ctrl.SetPeriod(b.self, periodMs) })
}

func (b *Base) SetPriority(p Priority) {
	b.withCtrl(func() { b.ctrl.SetPriority(b.self, p) })
}

func (b *Base) Subscribe(topic uint8) bool {
	if b.ctrl == nil {
		return false
	}
	return b.ctrl.Subscribe(b.self, topic)
}

func (b *Base) Unsubscribe(topic uint8) {
	b.withCtrl(func() { b.ctrl.Unsubscribe(b.self, topic) })
}

func (b *Base) PublishTopic(topic uint8, kind uint8, arg uint16) bool {
	if b.ctrl == nil {
		return false
	}
	return b.ctrl.Publish(b.self, topic, kind, arg)
}

func (b *Base) Tell(dst ID, kind uint8, arg uint16) bool {
	if b.ctrl == nil {
		return false
	}
	return b.ctrl.Tell(b.self, dst, kind, arg)
}

func (b *Base) Log(level LogLevel, msg string) {
	b.withCtrl(func() { b.ctrl.Log(b.self, level, msg) })
}

func (b *Base) withCtrl(fn func()) {
	if b.ctrl != nil {
		fn()
	}
}
