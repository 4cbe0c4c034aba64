package stream

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FixedDelay is the reconnect policy observed in the original dashboard:
// a constant wait between attempts, no jitter.
type FixedDelay struct {
	Delay time.Duration
}

// NextDelay returns the fixed delay regardless of attempt count.
func (f FixedDelay) NextDelay(int) time.Duration { return f.Delay }

// Reset is a no-op for a fixed delay.
func (f FixedDelay) Reset() {}

// ExponentialPolicy wraps backoff.ExponentialBackOff as a ReconnectPolicy.
// This is the default: connectivity loss is expected and recoverable, and
// jittered exponential backoff avoids hammering a recovering producer the
// way the original fixed 5-second timer did.
type ExponentialPolicy struct {
	b *backoff.ExponentialBackOff
}

// NewExponentialPolicy builds the default policy. base is the initial wait,
// max caps the growth. Non-positive values select 1s and 30s.
func NewExponentialPolicy(base, max time.Duration) *ExponentialPolicy {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // retry forever; giving up is the caller's call
	b.Reset()
	return &ExponentialPolicy{b: b}
}

// NextDelay returns the next jittered interval.
func (p *ExponentialPolicy) NextDelay(int) time.Duration {
	return p.b.NextBackOff()
}

// Reset restarts the backoff sequence after a successful connect.
func (p *ExponentialPolicy) Reset() {
	p.b.Reset()
}
