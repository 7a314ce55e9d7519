// Host is a workstation-backed implementation of the platform capability
// set, used for simulation, demos and tests where no real board is present.
//
// The monotonic clock wraps time.Now(); the critical section is a plain
// mutex (there are no interrupts to mask on a hosted process, but the lock
// still serializes the bus's mutation of queue head/tail/count and envelope
// reference counts exactly the way the board's interrupt mask would); the
// watchdog is a soft, timer-driven stand-in that persists reset info to a
// small file so it survives the process restart that simulates a reboot.

package host

import (
	"os"
	"sync"
	"time"

	"github.com/aykutozdemir/fsmos/logx"
)

var hostLog = logx.NewCompLogger("platform/host")

// Host implements platform.Clock, platform.CriticalSection, platform.Watchdog
// and platform.ResetSource.
type Host struct {
	start time.Time
	mu    sync.Mutex

	watchdogMu      sync.Mutex
	watchdogTimer   *time.Timer
	watchdogTimeout time.Duration
	onExpire        func()

	resetStore *ResetStore
	lastTaskID uint8
}

// New returns a Host clock/critical-section/watchdog bundle. statePath, if
// non-empty, names a file used to persist reset info across process
// restarts (simulating a non-zeroed memory region); pass "" to keep reset
// info in memory only (it will not survive a restart, which is fine for
// tests).
func New(statePath string) *Host {
	return &Host{
		start:      time.Now(),
		resetStore: NewResetStore(statePath),
		lastTaskID: InvalidTaskID,
	}
}

// InvalidTaskID is the sentinel used at the external boundary for "no task"
// / "allocation failed" / "no task preserved".
const InvalidTaskID uint8 = 0xFF

func (h *Host) NowMs() uint32 {
	return uint32(time.Since(h.start).Milliseconds())
}

func (h *Host) NowUs() uint32 {
	return uint32(time.Since(h.start).Microseconds())
}

func (h *Host) Enter(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// Enable arms the soft watchdog with the given timeout, encoded the way a
// board might encode a prescaler/period code: the low 4 bits select a
// duration from watchdogTimeoutTable, clamped to the table's bounds.
func (h *Host) Enable(timeoutCode uint8) {
	timeout := watchdogTimeoutTable[int(timeoutCode&0x0F)]

	h.watchdogMu.Lock()
	defer h.watchdogMu.Unlock()
	h.watchdogTimeout = timeout
	if h.watchdogTimer != nil {
		h.watchdogTimer.Stop()
	}
	h.watchdogTimer = time.AfterFunc(timeout, h.expire)
	hostLog.Infof("watchdog enabled: timeout=%s", timeout)
}

func (h *Host) Feed() {
	h.watchdogMu.Lock()
	defer h.watchdogMu.Unlock()
	if h.watchdogTimer != nil {
		h.watchdogTimer.Reset(h.watchdogTimeout)
	}
}

// SetResetFunc overrides what happens when the watchdog expires. Tests use
// this to observe the expiry instead of letting the default handler call
// os.Exit. The default, if unset, logs and exits the process with status 1,
// simulating a hard MCU reset.
func (h *Host) SetResetFunc(fn func()) {
	h.watchdogMu.Lock()
	defer h.watchdogMu.Unlock()
	h.onExpire = fn
}

// SetLastRunningTask is called by the scheduler just before it invokes a
// task's step, so that if the watchdog fires mid-step the reset info
// surfaces the offending task on the next boot.
func (h *Host) SetLastRunningTask(id uint8) {
	h.watchdogMu.Lock()
	h.lastTaskID = id
	h.watchdogMu.Unlock()
}

func (h *Host) expire() {
	h.watchdogMu.Lock()
	taskID := h.lastTaskID
	fn := h.onExpire
	h.watchdogMu.Unlock()

	hostLog.Errorf("watchdog expired: last_task_id=%d", taskID)
	h.resetStore.Persist(taskID, ResetCauseWatchdogRaw)

	if fn != nil {
		fn()
		return
	}
	os.Exit(1)
}

// ResetCauseRaw returns the raw reset-cause byte persisted from the previous
// boot, or 0 (Unknown) if none was persisted.
func (h *Host) ResetCauseRaw() uint8 {
	_, raw := h.resetStore.Load()
	return raw
}

// TakeLastTaskPreserved returns the task id preserved from the previous
// boot and clears it to the invalid sentinel, matching the "consumption
// clears" invariant.
func (h *Host) TakeLastTaskPreserved() uint8 {
	taskID, _ := h.resetStore.Load()
	h.resetStore.ClearTaskID()
	return taskID
}

func (h *Host) PreserveLastTask(id uint8) {
	h.SetLastRunningTask(id)
}

// watchdogTimeoutTable mirrors the coarse timeout codes typical 8-bit
// watchdog peripherals expose (16ms .. 8s doubling), clamped at both ends.
var watchdogTimeoutTable = [16]time.Duration{
	16 * time.Millisecond,
	32 * time.Millisecond,
	64 * time.Millisecond,
	125 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	8 * time.Second,
	8 * time.Second,
	8 * time.Second,
	8 * time.Second,
	8 * time.Second,
	8 * time.Second,
}

// ResetCauseWatchdogRaw is the raw byte this host implementation writes when
// the soft watchdog trips. Real boards have their own register encodings;
// the sched package's deriveResetCause reads bit 3 (this value) as Watchdog.
const ResetCauseWatchdogRaw uint8 = 0x08
