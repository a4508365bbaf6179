package session

import "time"

// backoff produces reconnect delays: the configured floor on the first
// failure, doubling on each consecutive failure, capped at the ceiling.
// Reset returns the sequence to the floor after a successful registration.
type backoff struct {
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(floor, ceiling time.Duration) *backoff {
	if floor <= 0 {
		floor = 5 * time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}

	return &backoff{
		floor:   floor,
		ceiling: ceiling,
	}
}

func (b *backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.floor
	} else {
		b.current *= 2
		if b.current > b.ceiling {
			b.current = b.ceiling
		}
	}

	return b.current
}

func (b *backoff) Reset() {
	b.current = 0
}
