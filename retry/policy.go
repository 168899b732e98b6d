// Package retry defines the declarative retry policy consumed by the
// step executor.
package retry

import "time"

// Policy is an immutable retry configuration. MaxAttempts is the total
// number of closure invocations allowed across successive workflow runs
// for a single step (including the first); InitialBackoff is the delay
// before the second attempt, doubling on each subsequent attempt.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// New constructs a Policy, defaulting MaxAttempts to 1 if non-positive.
func New(maxAttempts int, initialBackoff time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{MaxAttempts: maxAttempts, InitialBackoff: initialBackoff}
}

// Common presets.
var (
	Default    = Policy{MaxAttempts: 3, InitialBackoff: 1 * time.Second}
	Aggressive = Policy{MaxAttempts: 5, InitialBackoff: 500 * time.Millisecond}
	None       = Policy{MaxAttempts: 1, InitialBackoff: 0}
)

// BackoffForAttempt returns InitialBackoff * 2^(attempt-1): pure
// exponential backoff with no jitter. attempt is 1-indexed.
func (p Policy) BackoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift to avoid overflow on pathologically large attempt
	// counts.
	shift := attempt - 1
	if shift > 62 {
		shift = 62
	}
	multiplier := time.Duration(1) << uint(shift)
	// Saturate instead of wrapping when the product would overflow.
	const maxBackoff = time.Duration(1<<63 - 1)
	if p.InitialBackoff > maxBackoff/multiplier {
		return maxBackoff
	}
	return p.InitialBackoff * multiplier
}
