// Diagnostics snapshot: per-task statistics, queue and pool utilization,
// memory telemetry and reset info, formatted for a human operator (spec.md
// §4.5 "Diagnostics and introspection"), grounded on the teacher's
// stdout_metrics_queue.go/compressor_pool.go use of docker/go-units for
// human-readable byte sizes, and on config_test.go's use of huandu/go-clone
// for defensive copies of structs a caller must not be able to mutate
// through the returned snapshot.

package diag

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/huandu/go-clone"

	"github.com/aykutozdemir/fsmos/bus"
	"github.com/aykutozdemir/fsmos/sched"
	"github.com/aykutozdemir/fsmos/task"
)

// TaskReport is a defensive, clonable snapshot of one task's stats.
type TaskReport struct {
	ID       task.ID
	Name     string
	State    task.State
	Priority task.Priority
	PeriodMs uint32
	Stats    task.Stats
}

// QueueReport summarizes the shared message queue's utilization.
type QueueReport struct {
	Size, Capacity int
}

// MemoryReport surfaces whatever the platform's optional Telemetry
// capability can report, formatted with the same library the teacher uses
// for human-readable sizes.
type MemoryReport struct {
	Available      bool
	FreeBytes      uint64
	LargestFree    uint64
	Fragments      int
	StackHeadroom  uint64
	StackAvailable bool
}

func (m MemoryReport) String() string {
	if !m.Available {
		return "memory: unavailable"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "free=%s largest=%s fragments=%d", units.BytesSize(float64(m.FreeBytes)), units.BytesSize(float64(m.LargestFree)), m.Fragments)
	if m.StackAvailable {
		fmt.Fprintf(&sb, " stack_headroom=%s", units.BytesSize(float64(m.StackHeadroom)))
	}
	return sb.String()
}

// Snapshot is the full diagnostics report for one instant.
type Snapshot struct {
	Tasks      []TaskReport
	Queue      QueueReport
	Pool       bus.Stats
	Memory     MemoryReport
	ResetInfo  sched.ResetInfo
	MostDelayed task.ID
	MostDelayedMs uint32
}

// Collector builds Snapshots from a live Scheduler plus a platform's
// optional Telemetry capability.
type Collector struct {
	sched *sched.Scheduler
	tel   Telemetry
	ids   []task.ID
}

// Telemetry mirrors platform.Telemetry; declared locally so this package
// does not need to import platform just for one optional capability.
type Telemetry interface {
	HeapFreeBytes() (free uint64, largestFree uint64, fragments int, ok bool)
	StackHeadroomBytes() (headroom uint64, ok bool)
}

// NewCollector builds a Collector. ids is the fixed set of task identifiers
// to report on, since Scheduler does not expose registry enumeration
// (spec.md's data model has no "list all tasks" operation, only lookup by
// id); a caller tracks ids itself from the values Scheduler.Add returned.
func NewCollector(s *sched.Scheduler, tel Telemetry, ids []task.ID) *Collector {
	return &Collector{sched: s, tel: tel, ids: ids}
}

// Collect builds one Snapshot. The returned TaskReport.Stats and ResetInfo
// are deep copies (via go-clone) so a caller holding onto an old Snapshot
// cannot observe later scheduler mutation through it.
func (c *Collector) Collect() Snapshot {
	var snap Snapshot

	for _, id := range c.ids {
		info, ok := c.sched.GetTask(id)
		if !ok {
			continue
		}
		snap.Tasks = append(snap.Tasks, TaskReport{
			ID:       info.ID,
			Name:     info.Name,
			State:    info.State,
			Priority: info.Priority,
			PeriodMs: info.PeriodMs,
			Stats:    clone.Clone(info.Stats).(task.Stats),
		})
	}

	size, capacity := c.sched.QueueUtilization()
	snap.Queue = QueueReport{Size: size, Capacity: capacity}
	snap.Pool = c.sched.PoolStat()
	snap.ResetInfo = clone.Clone(c.sched.ResetInfo()).(sched.ResetInfo)

	if c.tel != nil {
		free, largest, frag, ok := c.tel.HeapFreeBytes()
		if ok {
			snap.Memory.Available = true
			snap.Memory.FreeBytes = free
			snap.Memory.LargestFree = largest
			snap.Memory.Fragments = frag
		}
		if headroom, ok := c.tel.StackHeadroomBytes(); ok {
			snap.Memory.StackAvailable = true
			snap.Memory.StackHeadroom = headroom
		}
	}

	id, delayMs, ok := c.sched.MostDelayingTask()
	if ok {
		snap.MostDelayed = id
		snap.MostDelayedMs = delayMs
	}

	return snap
}

// String renders a Snapshot as a multi-line human-readable report, in the
// same spirit as the teacher's stdout metrics dump.
func (s Snapshot) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "queue: %d/%d\n", s.Queue.Size, s.Queue.Capacity)
	fmt.Fprintf(&sb, "pool: in_use=%d size=%d peak=%d hard_cap=%d\n", s.Pool.InUse, s.Pool.Size, s.Pool.Peak, s.Pool.HardCap)
	fmt.Fprintf(&sb, "%s\n", s.Memory.String())
	fmt.Fprintf(&sb, "reset: last_task=%d cause=%s raw=0x%02x\n", s.ResetInfo.LastTaskID, s.ResetInfo.Cause, s.ResetInfo.RawCause)
	if s.MostDelayedMs > 0 {
		fmt.Fprintf(&sb, "most delayed task: id=%d delay=%dms\n", s.MostDelayed, s.MostDelayedMs)
	}
	for _, t := range s.Tasks {
		fmt.Fprintf(&sb, "task %d %q state=%s period=%dms runs=%d max_us=%d avg_us=%d delays=%d max_delay_ms=%d\n",
			t.ID, t.Name, t.State, t.PeriodMs, t.Stats.RunCount, t.Stats.MaxUs, t.Stats.AvgUs, t.Stats.DelayCount, t.Stats.MaxDelayMs)
	}
	return sb.String()
}
