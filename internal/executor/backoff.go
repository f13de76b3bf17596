package executor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds retry pacing for transient step failures.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

// DefaultBackoff is the engine-wide retry policy unless configured otherwise.
var DefaultBackoff = BackoffPolicy{
	Base:        500 * time.Millisecond,
	Max:         30 * time.Second,
	MaxJitter:   250 * time.Millisecond,
	MaxAttempts: 3,
}

// computeBackoff returns the delay before the given attempt (attempt 0 is the
// first retry). Exponential with deterministic jitter: the jitter is a PRF of
// the dedup key and attempt index, so a replayed trigger backs off on the
// same schedule.
func computeBackoff(policy BackoffPolicy, dedupKey string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := time.Duration(int64(policy.Base) * factor)
	if delay > policy.Max {
		delay = policy.Max
	}
	return delay + deterministicJitter(policy, dedupKey, attempt)
}

func deterministicJitter(policy BackoffPolicy, dedupKey string, attempt int) time.Duration {
	if policy.MaxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", dedupKey, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(policy.MaxJitter)) //nolint:gosec // MaxJitter is always positive
}
