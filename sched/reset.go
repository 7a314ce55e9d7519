// Reset info: persisted across resets by the platform (spec.md §3, "Reset
// info"), surfaced here via the scheduler's reset_info() query.

package sched

import "github.com/aykutozdemir/fsmos/task"

// ResetCause is the derived variant of a raw reset-cause register byte.
type ResetCause int

const (
	ResetUnknown ResetCause = iota
	ResetPowerOn
	ResetExternal
	ResetBrownOut
	ResetWatchdog
	ResetMultiple
)

var resetCauseNames = map[ResetCause]string{
	ResetUnknown:  "Unknown",
	ResetPowerOn:  "PowerOn",
	ResetExternal: "External",
	ResetBrownOut: "BrownOut",
	ResetWatchdog: "Watchdog",
	ResetMultiple: "Multiple",
}

func (c ResetCause) String() string {
	if name, ok := resetCauseNames[c]; ok {
		return name
	}
	return "Unknown"
}

// ResetInfo is the scheduler's snapshot of the previous boot's reset cause.
type ResetInfo struct {
	LastTaskID task.ID
	RawCause   uint8
	Cause      ResetCause
}

// deriveResetCause follows the common AVR/ARM convention of one bit per
// cause in the low nibble (bit0 power-on, bit1 external, bit2 brown-out,
// bit3 watchdog); more than one bit set is reported as Multiple, and a raw
// byte of 0 (or a platform with no reset source at all) degrades to
// Unknown rather than erroring, per the teacher's "best effort telemetry"
// philosophy. This resolves an Open Question the distilled spec left
// unspecified (see DESIGN.md).
func deriveResetCause(raw uint8) ResetCause {
	const (
		bitPowerOn  = 0x01
		bitExternal = 0x02
		bitBrownOut = 0x04
		bitWatchdog = 0x08
	)
	if raw == 0 {
		return ResetUnknown
	}
	bits := 0
	for _, b := range []uint8{bitPowerOn, bitExternal, bitBrownOut, bitWatchdog} {
		if raw&b != 0 {
			bits++
		}
	}
	if bits > 1 {
		return ResetMultiple
	}
	switch {
	case raw&bitWatchdog != 0:
		return ResetWatchdog
	case raw&bitBrownOut != 0:
		return ResetBrownOut
	case raw&bitExternal != 0:
		return ResetExternal
	case raw&bitPowerOn != 0:
		return ResetPowerOn
	default:
		return ResetUnknown
	}
}

// ResetInfo reads the platform's preserved reset state. Consuming it clears
// the preserved task identifier to the invalid sentinel, per the data
// model's "consumption clears" invariant; a platform without a ResetSource
// reports everything as unknown/absent.
func (s *Scheduler) ResetInfo() ResetInfo {
	if s.plat.Reset == nil {
		return ResetInfo{LastTaskID: task.InvalidID, RawCause: 0, Cause: ResetUnknown}
	}
	lastTaskID := s.plat.Reset.TakeLastTaskPreserved()
	raw := s.plat.Reset.ResetCauseRaw()
	return ResetInfo{LastTaskID: lastTaskID, RawCause: raw, Cause: deriveResetCause(raw)}
}
