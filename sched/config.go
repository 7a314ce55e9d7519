// Scheduler configuration, mirroring the teacher's config.go layering: a
// struct with yaml tags and a Default*Config() constructor.

package sched

const (
	ConfigMaxTasksDefault              = 32
	ConfigMaxTopicsDefault             = 16
	ConfigQueueCapacityDefault         = 64
	ConfigPendingListCapacityDefault   = 16
	ConfigDeliveryBudgetPerTickDefault = 32
)

// Config is the SchedulerConfig section of the top-level YAML config.
type Config struct {
	// Fixed cap on registry size.
	MaxTasks int `yaml:"max_tasks"`
	// Subscription bitfield width: one of 8, 16, 32.
	MaxTopics int `yaml:"max_topics"`
	// Capacity of the shared message bus.
	QueueCapacity int `yaml:"queue_capacity"`
	// Capacity of each task's own pending-message list.
	PendingListCapacity int `yaml:"pending_list_capacity"`
	// Bounded per-tick limit on envelopes moved from the shared queue into
	// task pending lists during the delivery phase.
	DeliveryBudgetPerTick int `yaml:"delivery_budget_per_tick"`
	// Whether to feed a platform watchdog at the end of every tick.
	WatchdogEnabled bool `yaml:"watchdog_enabled"`
	// Opaque watchdog timeout code, passed to platform.Watchdog.Enable.
	WatchdogTimeoutCode uint8 `yaml:"watchdog_timeout_code"`
}

func DefaultConfig() *Config {
	return &Config{
		MaxTasks:              ConfigMaxTasksDefault,
		MaxTopics:              ConfigMaxTopicsDefault,
		QueueCapacity:          ConfigQueueCapacityDefault,
		PendingListCapacity:    ConfigPendingListCapacityDefault,
		DeliveryBudgetPerTick:  ConfigDeliveryBudgetPerTickDefault,
		WatchdogEnabled:        false,
		WatchdogTimeoutCode:    6, // ~1s on the host watchdog timeout table
	}
}

func validMaxTopics(n int) bool {
	return n == 8 || n == 16 || n == 32
}
