package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/pkg/retry"
)

const DefaultSteps = 10

// Simulated latencies offered by Defaults.
const (
	FastLatency   = 500 * time.Millisecond
	MediumLatency = 2000 * time.Millisecond
	SlowLatency   = 5000 * time.Millisecond
)

// Simulated returns an operation that takes duration split into steps,
// reports progress after each step and checks ctx between steps.
func Simulated(duration time.Duration, steps int) domain.Operation {
	if steps < 1 {
		steps = 1
	}
	step := duration / time.Duration(steps)

	return func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		start := time.Now()
		for i := 1; i <= steps; i++ {
			if err := retry.Wait(ctx, step); err != nil {
				return nil, fmt.Errorf("simulated step %d/%d: %w", i, steps, err)
			}
			progress(i * 100 / steps)
		}
		return map[string]any{
			"steps":       steps,
			"duration_ms": time.Since(start).Milliseconds(),
		}, nil
	}
}
