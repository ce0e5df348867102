package stealth

import (
	"math/rand/v2"
	"time"
)

// Delay is a randomized pause drawn uniformly from [Min, Max].
type Delay struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Between returns a Delay over [lo, hi].
func Between(lo, hi time.Duration) Delay {
	return Delay{Min: lo, Max: hi}
}

// Pick draws a duration. A zero Delay always yields zero.
func (d Delay) Pick() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + rand.N(d.Max-d.Min+1)
}

// Intn returns a uniform integer in [lo, hi].
func Intn(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

// Uniform returns a uniform float in [lo, hi).
func Uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

// Chance reports true with probability p.
func Chance(p float64) bool {
	return rand.Float64() < p
}

func pick[T any](items []T) T {
	return items[rand.IntN(len(items))]
}
