// Cooperative mutual exclusion for single-core, non-preemptive dispatch
// (spec.md §5 "Synchronization primitives"), grounded loosely on the
// teacher's credit-counter style in vmi/internal/rate_controller.go (a
// counter guarded by try/acquire/release operations) but stripped of its
// sync.Cond/goroutine replenishment machinery: since a Task's Step never
// runs concurrently with another Task's Step, Mutex needs no internal
// locking at all, only an owner field.

package coop

import "github.com/aykutozdemir/fsmos/task"

// Mutex is owned by at most one task at a time. TryLock never blocks;
// there is no blocking Lock, since a task that cannot proceed must return
// from Step and retry on a later period (spec.md's cooperative model has no
// notion of a task sleeping mid-step).
type Mutex struct {
	owner   task.ID
	held    bool
	waiters int
}

// TryLock attempts to acquire the mutex for id. It returns false without
// side effects if the mutex is held by a different task. Locking by the
// current owner again is a no-op success (the cooperative model has no
// re-entrancy count to overflow, since nothing preempts a Step).
func (m *Mutex) TryLock(id task.ID) bool {
	if m.held && m.owner != id {
		return false
	}
	m.held = true
	m.owner = id
	return true
}

// Unlock releases the mutex if id is the current owner. Unlocking a mutex
// you don't own is a no-op.
func (m *Mutex) Unlock(id task.ID) {
	if m.held && m.owner == id {
		m.held = false
		m.owner = task.NoneID
	}
}

func (m *Mutex) Locked() bool    { return m.held }
func (m *Mutex) Owner() task.ID  { return m.owner }

// NoteWaiter/ForgetWaiter let a task record that it is polling this mutex
// on its own period, purely for diagnostics (read back via Waiters); the
// mutex itself never schedules a wake-up.
func (m *Mutex) NoteWaiter()   { m.waiters++ }
func (m *Mutex) ForgetWaiter() {
	if m.waiters > 0 {
		m.waiters--
	}
}
func (m *Mutex) Waiters() int { return m.waiters }
