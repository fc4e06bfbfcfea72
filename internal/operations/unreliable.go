package operations

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
)

// lockedRand makes a *rand.Rand safe for concurrent operations.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// Unreliable returns an operation that runs for latency and then fails with
// a network error with probability failureRate. A nil rnd is seeded from the
// clock.
func Unreliable(failureRate float64, latency time.Duration, rnd *rand.Rand) (domain.Operation, error) {
	if failureRate < 0 || failureRate > 1 {
		return nil, fmt.Errorf("failure rate %v outside [0,1]: %w", failureRate, domain.ErrInvalidArgument)
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	lr := &lockedRand{rnd: rnd}
	run := Simulated(latency, DefaultSteps/2)

	return func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		// Hold progress below 100 until the roll decides the outcome.
		res, err := run(ctx, func(p int) { progress(p * 9 / 10) })
		if err != nil {
			return nil, err
		}
		if lr.Float64() < failureRate {
			return nil, fmt.Errorf("simulated upstream failure: %w", domain.ErrNetwork)
		}
		progress(100)
		return res, nil
	}, nil
}
