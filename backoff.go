package notifyws

import (
	"math"
	"time"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultReconnectDelayMax = 5 * time.Second
	DefaultConnectTimeout    = 20 * time.Second
)

// BackoffPolicy maps a reconnection attempt to the delay that precedes it.
// It is the single source of truth for reconnect timing: the transport sleeps
// what Delay returns and the channel reports the same value.
type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:     DefaultReconnectDelay,
		Max:         DefaultReconnectDelayMax,
		MaxAttempts: DefaultReconnectAttempts,
	}
}

// Delay returns min(Initial * 2^(attempt-1), Max). Attempts below 1 yield Initial.
// A zero Max leaves the delay unbounded; it then stops growing before it would
// overflow.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Initial
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return d
		}
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}

	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether attempt is beyond the allowed number of retries.
// A non positive MaxAttempts means unbounded.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}
