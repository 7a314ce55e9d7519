//go:build !unix

package host

import "runtime"

func (h *Host) HeapFreeBytes() (free uint64, largestFree uint64, fragments int, ok bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapSys - ms.HeapInuse, ms.HeapIdle, 0, true
}

func (h *Host) StackHeadroomBytes() (headroom uint64, ok bool) {
	return 8 << 20, true
}

func ProcessCPUTimeSeconds() (float64, error) { return 0, nil }

func SystemUptimeSeconds() (float64, error) { return 0, nil }

func ClockTicksPerSecond() int64 { return 100 }
