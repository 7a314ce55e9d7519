// Platform capability set consumed by the scheduler core.
//
// The core never touches hardware directly: every board-specific detail (pin
// I/O, UART, hardware timers, watchdog registers, interrupt vectors) lives
// behind this small capability set, implemented once per board. The `host`
// sub-package provides a workstation-backed implementation for simulation,
// demos and tests.

package platform

// Clock is the monotonic time source the scheduler and timers are driven
// from. Both NowMs and NowUs are allowed to wrap around; callers must treat
// differences as unsigned modular arithmetic.
type Clock interface {
	// NowMs returns monotonic milliseconds since boot.
	NowMs() uint32
	// NowUs returns monotonic microseconds, best-effort precision, used for
	// execution profiling only.
	NowUs() uint32
}

// CriticalSection masks interrupts for the duration of fn and restores the
// prior interrupt state on return. It is the only synchronization primitive
// the core uses; it must be as short as possible and must never run
// arbitrary user code.
type CriticalSection interface {
	Enter(fn func())
}

// Watchdog is optional: boards without a hardware watchdog simply never
// provide one to the scheduler.
type Watchdog interface {
	Enable(timeoutCode uint8)
	Feed()
}

// ResetSource is optional. It exposes the raw reset-cause register and the
// task identifier preserved, across reset, in a memory region the boot code
// does not zero. Reading the preserved task identifier clears it to the
// invalid sentinel (0xFF), matching the "consumption clears" invariant in the
// data model.
type ResetSource interface {
	ResetCauseRaw() uint8
	TakeLastTaskPreserved() uint8
	// PreserveLastTask is called by the scheduler before a step that might
	// never return (i.e. right before dispatch), so that the watchdog reset
	// path has something to report on the next boot.
	PreserveLastTask(id uint8)
}

// Telemetry is optional diagnostic-only data a board may expose beyond the
// bare minimum the core needs to run: heap/stack estimates and basic process
// info consumed only by the diag package, never by the scheduler itself.
type Telemetry interface {
	HeapFreeBytes() (free uint64, largestFree uint64, fragments int, ok bool)
	StackHeadroomBytes() (headroom uint64, ok bool)
}

// Platform bundles the capabilities above. Watchdog, ResetSource and
// Telemetry are optional and may be nil.
type Platform struct {
	Clock
	CriticalSection
	Watchdog  Watchdog
	Reset     ResetSource
	Telemetry Telemetry
}
