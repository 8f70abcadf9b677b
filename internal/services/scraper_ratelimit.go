package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a global limit and a per-domain limit to page fetches
type RateLimiter struct {
	globalLimiter     *rate.Limiter
	perDomainLimiters sync.Map // map[string]*rate.Limiter
	perDomainRate     float64
}

// NewRateLimiter creates a limiter allowing globalRate requests/second in
// total and perDomainRate requests/second to any single domain
func NewRateLimiter(globalRate, perDomainRate float64) *RateLimiter {
	burst := int(globalRate * 2)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRate), burst),
		perDomainRate: perDomainRate,
	}
}

// Wait blocks until both tiers allow a request to domain. A robots.txt
// crawl delay slower than the configured domain rate takes precedence.
func (rl *RateLimiter) Wait(ctx context.Context, domain string, crawlDelay time.Duration) error {
	if err := rl.globalLimiter.Wait(ctx); err != nil {
		return err
	}
	return rl.domainLimiter(domain, crawlDelay).Wait(ctx)
}

func (rl *RateLimiter) domainLimiter(domain string, crawlDelay time.Duration) *rate.Limiter {
	if limiter, ok := rl.perDomainLimiters.Load(domain); ok {
		return limiter.(*rate.Limiter)
	}

	rps := rl.perDomainRate
	if crawlDelay > 0 {
		if fromDelay := 1.0 / crawlDelay.Seconds(); fromDelay < rps {
			rps = fromDelay
		}
	}
	if rps < 0.1 {
		rps = 0.1 // at least one request every 10 seconds
	}

	actual, _ := rl.perDomainLimiters.LoadOrStore(domain, rate.NewLimiter(rate.Limit(rps), 1))
	return actual.(*rate.Limiter)
}
