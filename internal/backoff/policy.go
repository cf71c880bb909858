// Package backoff computes jittered exponential delays and retries
// operations against them.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff curve. Attempt n waits
// Initial*Factor^(n-1) plus up to Jitter of that again, capped at Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultPolicy starts at 500ms and doubles up to 10s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// FromBase doubles from base with 10% jitter, capped at 20x base.
func FromBase(base time.Duration) Policy {
	if base <= 0 {
		return DefaultPolicy()
	}
	return Policy{Initial: base, Max: 20 * base, Factor: 2, Jitter: 0.1}
}

// Delay returns the wait before retrying after the given 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (p Policy) delay(attempt int, r float64) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(total)
}
