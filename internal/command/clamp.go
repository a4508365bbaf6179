package command

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fanWriteState tracks the last successfully commanded speed for one fan and
// gates the write rate. lastSpeed is nil until the first successful write, so
// a fan legitimately written at process start is never confused with a fan
// that was never written.
type fanWriteState struct {
	mu        sync.Mutex
	lastSpeed *int
	limiter   *rate.Limiter
}

// clampLayer owns the per-fan write state behind the safety clamps. The lock
// in each fanWriteState is scoped to that fan's read-modify-write; the outer
// mutex only guards the map itself.
type clampLayer struct {
	mu            sync.Mutex
	writeInterval time.Duration
	fans          map[string]*fanWriteState
}

func newClampLayer(writeInterval time.Duration) *clampLayer {
	return &clampLayer{
		writeInterval: writeInterval,
		fans:          make(map[string]*fanWriteState),
	}
}

func (c *clampLayer) state(fanID string) *fanWriteState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.fans[fanID]
	if !ok {
		st = &fanWriteState{
			limiter: rate.NewLimiter(rate.Every(c.writeInterval), 1),
		}
		c.fans[fanID] = st
	}

	return st
}

// clampSpeed raises a requested speed to the floor and caps it at 100.
func clampSpeed(requested, floor int) int {
	if requested < floor {
		return floor
	}
	if requested > 100 {
		return 100
	}

	return requested
}

// isDuplicate reports whether the clamped speed equals the last speed
// successfully written to this fan.
func (s *fanWriteState) isDuplicate(speed int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSpeed != nil && *s.lastSpeed == speed
}

// tryReserve consumes one write slot; false means the fan was written less
// than the configured interval ago and the caller must reject, not queue.
func (s *fanWriteState) tryReserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.limiter.Allow()
}

// recordWrite notes a successful hardware write.
func (s *fanWriteState) recordWrite(speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	speedCopy := speed
	s.lastSpeed = &speedCopy
}

// forgetLastSpeeds drops deduplication state for every fan, keeping the rate
// limiters intact. Called after an emergency stop, which writes hardware
// outside the clamp path.
func (c *clampLayer) forgetLastSpeeds() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.fans {
		st.mu.Lock()
		st.lastSpeed = nil
		st.mu.Unlock()
	}
}
