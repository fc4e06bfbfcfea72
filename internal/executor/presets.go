package executor

import (
	"fmt"
	"sort"
	"time"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/pkg/retry"
)

const (
	PresetNetwork = "network"
	PresetFast    = "fast"
	PresetNone    = "none"
)

// NetworkRetry suits calls over the network: 5 attempts, 500ms doubling up to
// 16s, and only network and timeout failures are retried.
func NetworkRetry() retry.Config {
	return retry.Config{
		Enabled:           true,
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          16 * time.Second,
		ShouldRetry: func(err error) bool {
			switch domain.Classify(err).Code {
			case domain.CodeNetworkError, domain.CodeOperationTimeout:
				return true
			default:
				return false
			}
		},
	}
}

// FastRetry suits quick local operations: 3 attempts, 100ms growing by 1.5x
// up to 1s, default recoverability.
func FastRetry() retry.Config {
	return retry.Config{
		Enabled:           true,
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxDelay:          time.Second,
	}
}

// NoRetry makes exactly one attempt.
func NoRetry() retry.Config {
	return retry.Config{MaxAttempts: 1}
}

var presets = map[string]func() retry.Config{
	PresetNetwork: NetworkRetry,
	PresetFast:    FastRetry,
	PresetNone:    NoRetry,
}

// PresetByName resolves a named preset.
func PresetByName(name string) (retry.Config, error) {
	p, ok := presets[name]
	if !ok {
		return retry.Config{}, fmt.Errorf("unknown retry preset %q: %w", name, domain.ErrInvalidArgument)
	}
	return p(), nil
}

// PresetNames returns the known preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
