package model

import "time"

const rateWindow = time.Second

// RateLimiter is a sliding-window counter for per-session actions.
// An action may proceed while fewer than maxPerSecond recorded
// timestamps fall inside the trailing one-second window.
// Not safe for concurrent use; each session owns exactly one.
type RateLimiter struct {
	maxPerSecond int
	stamps       []time.Time
	now          func() time.Time
}

func NewRateLimiter(maxPerSecond int) *RateLimiter {
	if maxPerSecond <= 0 {
		maxPerSecond = 10
	}
	return &RateLimiter{
		maxPerSecond: maxPerSecond,
		stamps:       make([]time.Time, 0, maxPerSecond),
		now:          time.Now,
	}
}

// CanProceed reports whether another action fits in the current window.
func (r *RateLimiter) CanProceed() bool {
	r.prune(r.now())
	return len(r.stamps) < r.maxPerSecond
}

// Record registers an action at the current time. It returns false and
// leaves the limiter unchanged when the window is already full.
func (r *RateLimiter) Record() bool {
	now := r.now()
	r.prune(now)
	if len(r.stamps) >= r.maxPerSecond {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

func (r *RateLimiter) Reset() {
	r.stamps = r.stamps[:0]
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}
