package server

import (
	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket that admits cfg.Burst events at once
// and refills the whole bucket every cfg.RefillInterval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = defaultConfig().RateLimit.RefillInterval
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}
