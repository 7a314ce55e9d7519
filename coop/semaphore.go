// Counting semaphore, the non-blocking sibling of Mutex, grounded on the
// same credit-counter shape as vmi/internal/rate_controller.go's Credit
// type (a bounded counter with try-acquire/release) but with the
// replenish-ticker and condition-variable wait removed: there is nothing
// to replenish it on a timer, and nothing blocks.

package coop

// Semaphore is a plain counter, initialized with a maximum count. Unlike
// Credit in the teacher, it never replenishes itself: Release is always an
// explicit call from the task that previously acquired.
type Semaphore struct {
	count int
	max   int
}

// NewSemaphore returns a Semaphore with count initialized to max.
func NewSemaphore(max int) *Semaphore {
	if max < 0 {
		max = 0
	}
	return &Semaphore{count: max, max: max}
}

// TryAcquire takes n units if available, returning false and leaving the
// semaphore unchanged otherwise.
func (s *Semaphore) TryAcquire(n int) bool {
	if n <= 0 || s.count < n {
		return false
	}
	s.count -= n
	return true
}

// Release returns n units, capped at the configured max so a caller that
// releases more than it acquired cannot push the count past its ceiling.
func (s *Semaphore) Release(n int) {
	if n <= 0 {
		return
	}
	s.count += n
	if s.count > s.max {
		s.count = s.max
	}
}

func (s *Semaphore) Available() int { return s.count }
func (s *Semaphore) Max() int       { return s.max }
