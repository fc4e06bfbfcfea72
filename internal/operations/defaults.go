package operations

import (
	"fmt"
	"time"
)

// Defaults registers the demo set: fast, medium and slow simulations,
// fetch-<resource> for each placeholder collection, and unreliable.
func Defaults(fetcher *JSONFetcher, failureRate float64) (*Registry, error) {
	reg := NewRegistry()
	reg.Register("fast", Simulated(FastLatency, DefaultSteps))
	reg.Register("medium", Simulated(MediumLatency, DefaultSteps))
	reg.Register("slow", Simulated(SlowLatency, DefaultSteps))

	if fetcher != nil {
		for _, r := range DefaultResources {
			reg.Register("fetch-"+r, fetcher.Fetch(r))
		}
	}

	op, err := Unreliable(failureRate, time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("unreliable operation: %w", err)
	}
	reg.Register("unreliable", op)
	return reg, nil
}
