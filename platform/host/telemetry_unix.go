//go:build unix

// Heap/stack telemetry for the host platform, backed by real process
// introspection instead of invented hardware registers: CPU time via
// getrusage (mirrors process_unix.go), uptime via go-osstat (mirrors
// os_boot_time_unix.go) and SC_CLK_TCK via go-sysconf (mirrors
// clktck_unix.go) to turn jiffies into seconds where needed.

package host

import (
	"runtime"

	"github.com/mackerelio/go-osstat/uptime"
	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"
)

var clktck = func() int64 {
	tck, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || tck <= 0 {
		return 100
	}
	return tck
}()

// HeapFreeBytes estimates free/largest-free/fragment-count the way the diag
// surface expects, using the Go runtime's memory stats as a stand-in for an
// MCU's heap allocator bookkeeping: "free" is HeapSys-HeapInuse, "largest
// free" is approximated by HeapIdle (the runtime doesn't expose per-block
// fragmentation), and the fragment count is HeapIdle in 4 KiB pages, best
// effort only.
func (h *Host) HeapFreeBytes() (free uint64, largestFree uint64, fragments int, ok bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	free = ms.HeapSys - ms.HeapInuse
	largestFree = ms.HeapIdle
	// Approximate fragment count as the number of OS-page-sized idle chunks;
	// MemStats doesn't expose per-block fragmentation, this is a coarse stand-in.
	const pageSize = 4096
	fragments = int(ms.HeapIdle / pageSize)
	return free, largestFree, fragments, true
}

// StackHeadroomBytes stands in for an MCU's single-stack headroom estimator
// by always reporting the fixed figure from debugStackGuess; it does not
// measure the current goroutine's stack usage.
func (h *Host) StackHeadroomBytes() (headroom uint64, ok bool) {
	return uint64(debugStackGuess()), true
}

func debugStackGuess() uint64 {
	// 8MiB is the default goroutine stack ceiling on most platforms; lacking a
	// direct API for "current stack bytes used", report the ceiling itself so
	// callers at least get a conservative (non-zero) headroom figure.
	return 8 << 20
}

// ProcessCPUTimeSeconds returns the process's total (user+system) CPU time,
// mirroring internal/process_unix.go's GetMyCpuTime.
func ProcessCPUTimeSeconds() (float64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return float64(ru.Utime.Sec+ru.Stime.Sec) +
		float64(ru.Utime.Usec+ru.Stime.Usec)/1e6, nil
}

// SystemUptimeSeconds returns how long the host has been up, mirroring
// internal/os_boot_time_unix.go's role of anchoring a BootTime.
func SystemUptimeSeconds() (float64, error) {
	d, err := uptime.Get()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

// ClockTicksPerSecond exposes SC_CLK_TCK for callers that need to convert a
// jiffies-denominated value (as some /proc fields are) into seconds.
func ClockTicksPerSecond() int64 { return clktck }
