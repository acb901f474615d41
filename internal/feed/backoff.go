package feed

import "time"

// backoff produces capped-exponential reconnect delays: each failure doubles
// the delay until it plateaus at the cap.
type backoff struct {
	base time.Duration
	cap  time.Duration
	next time.Duration
}

func newBackoff(base, cap time.Duration) *backoff {
	return &backoff{base: base, cap: cap, next: base}
}

// Next returns the delay before the coming attempt and advances the state.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.cap {
		b.next = b.cap
	}
	return d
}

// Reset rewinds to the base delay after a successful connection.
func (b *backoff) Reset() {
	b.next = b.base
}
