package endpoint

import (
	"math/rand/v2"
	"time"
)

// JitterFunc returns a value in [0, max). Tests inject a deterministic
// implementation so retry counts in scenarios like "retry until success"
// (spec §8) don't depend on real randomness or real sleep durations.
type JitterFunc func(max time.Duration) time.Duration

// defaultJitter draws from the process-global PRNG. Not used for anything
// security-sensitive, so math/rand/v2's unseeded default source is fine.
func defaultJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// nextBackoff computes delay(attempt) under full jitter: base*factor^(n-1),
// capped, then redrawn uniformly from [0, capped) (spec §4.6). attempt is
// 1-indexed: the delay awaited *before* the nth retry dial.
func nextBackoff(attempt int, cfg BackoffConfig, jitter JitterFunc) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if jitter == nil {
		jitter = defaultJitter
	}

	raw := float64(cfg.Base) * pow(cfg.Factor, attempt-1)
	capped := cfg.Cap
	if raw < float64(cfg.Cap) {
		capped = time.Duration(raw)
	}
	if capped <= 0 {
		capped = cfg.Cap
	}
	return jitter(capped)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
