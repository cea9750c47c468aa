package scheduler

import "time"

type (
	// Clock reports the time that task run times are compared against
	Clock func() time.Time

	// Timer wakes the scheduler when the earliest task is due
	Timer interface {
		Channel() <-chan time.Time
		Reset(delay time.Duration) bool
		Stop() bool
	}

	// TimerConstructor arms a new Timer for delay
	TimerConstructor func(delay time.Duration) Timer

	systemTimer struct {
		*time.Timer
	}
)

// Until returns the delay before at, or zero when at has already passed
func (c Clock) Until(at time.Time) time.Duration {
	return max(at.Sub(c()), 0)
}

// NewTimer arms a Timer backed by the runtime's timers
func NewTimer(delay time.Duration) Timer {
	return &systemTimer{
		Timer: time.NewTimer(delay),
	}
}

func (t *systemTimer) Channel() <-chan time.Time {
	return t.C
}
