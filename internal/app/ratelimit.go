package app

import (
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

// newAPILimiter returns nil when rps is zero, which disables limiting.
func newAPILimiter(rps float64, burst int) (*rate.Limiter, error) {
	if rps < 0 || math.IsNaN(rps) || math.IsInf(rps, 0) {
		return nil, fmt.Errorf("invalid --rate-limit %v (must be >= 0)", rps)
	}
	if burst < 0 {
		return nil, fmt.Errorf("invalid --rate-burst %d (must be >= 0)", burst)
	}
	if rps == 0 {
		return nil, nil
	}
	if burst == 0 {
		burst = int(math.Ceil(rps))
	}
	return rate.NewLimiter(rate.Limit(rps), burst), nil
}
