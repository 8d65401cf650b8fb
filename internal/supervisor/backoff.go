package supervisor

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetrySchedule computes reconnect delays: Base·Growth^(attempt−1) plus a
// uniform jitter in [0, Jitter).
type RetrySchedule struct {
	Base        time.Duration
	Growth      float64
	Jitter      time.Duration
	MaxAttempts int

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{
		Base:        15 * time.Second,
		Growth:      1.5,
		Jitter:      10 * time.Second,
		MaxAttempts: 5,
	}
}

// BaseDelay is the delay before jitter for attempt (1-based). It is
// non-decreasing in attempt.
func (s RetrySchedule) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	g := s.Growth
	if g < 1 {
		g = 1
	}
	d := float64(s.Base) * math.Pow(g, float64(attempt-1))
	if d > float64(math.MaxInt64/2) {
		return time.Duration(math.MaxInt64 / 2)
	}
	return time.Duration(d)
}

// Delay adds jitter to BaseDelay.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	d := s.BaseDelay(attempt)
	if s.Jitter <= 0 {
		return d
	}
	r := s.Rand
	if r == nil {
		r = rand.Float64
	}
	j := time.Duration(r() * float64(s.Jitter))
	if j >= s.Jitter {
		j = s.Jitter - 1
	}
	if j < 0 {
		j = 0
	}
	return d + j
}

// Exhausted reports whether attempt is past the retry bound.
func (s RetrySchedule) Exhausted(attempt int) bool {
	return attempt > s.MaxAttempts
}
