// Package retry computes deterministic backoff delays and runs bounded
// retries. Jitter is derived from the request, not from a random source, so
// a replayed request waits exactly as long as the original.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type BackoffParams struct {
	PolicyID     string
	RequestID    string
	Operation    string
	AttemptIndex int
}

type BackoffPolicy struct {
	PolicyID    string
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// ResolverPolicy allows one retry of a failed data-resolution call.
func ResolverPolicy() BackoffPolicy {
	return BackoffPolicy{PolicyID: "resolver", BaseMs: 50, MaxMs: 1000, MaxJitterMs: 25, MaxAttempts: 2}
}

// ComputeBackoff returns the delay for a specific attempt using deterministic jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	return time.Duration(baseDelay+ComputeDeterministicJitter(params, policy)) * time.Millisecond
}

func ComputeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%s:%d", params.PolicyID, params.RequestID, params.Operation, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	jitterBasis := binary.BigEndian.Uint64(hash[:8])
	return int64(jitterBasis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive here
}

// Do calls fn up to policy.MaxAttempts times, waiting ComputeBackoff between
// attempts. Only errors for which retryable returns true are retried. The
// last error is returned along with the number of attempts made.
func Do(ctx context.Context, params BackoffParams, policy BackoffPolicy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			p := params
			p.AttemptIndex = i
			timer := time.NewTimer(ComputeBackoff(p, policy))
			select {
			case <-ctx.Done():
				timer.Stop()
				return i, ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx, i); err == nil {
			return i + 1, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return i + 1, err
		}
	}
	return attempts, err
}
