package authcore

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// withUniformLatency runs fn and holds the response until a random deadline
// drawn uniformly from [MinLatency, MaxLatency]. Success and every failure
// mode take indistinguishable wall time, so response timing leaks neither
// account existence nor which check rejected the attempt.
func (e *Engine) withUniformLatency(ctx context.Context, fn func() (*LoginResult, error)) (*LoginResult, error) {
	if !e.config.Timing.Enabled {
		return fn()
	}

	target := uniformDelay(e.config.Timing.MinLatency, e.config.Timing.MaxLatency)
	start := time.Now()

	result, err := fn()

	remaining := target - time.Since(start)
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return result, err
}

func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := big.NewInt(int64(max - min + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return min
	}
	return min + time.Duration(n.Int64())
}
