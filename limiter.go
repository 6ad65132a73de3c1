package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// walletLimiter hands out one token bucket per wallet so a single client
// cannot hammer the verify endpoint into the upstream balance providers.
type walletLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	buckets map[string]*walletBucket
	hits    int
	maxIdle time.Duration
}

type walletBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newWalletLimiter(perMinute float64, burst int) *walletLimiter {
	return &walletLimiter{
		perSec:  rate.Limit(perMinute / 60.0),
		burst:   burst,
		buckets: make(map[string]*walletBucket),
		maxIdle: 30 * time.Minute,
	}
}

// Allow reports whether the wallet may run a verification right now.
func (wl *walletLimiter) Allow(wallet string) bool {
	now := time.Now()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	b, ok := wl.buckets[wallet]
	if !ok {
		b = &walletBucket{limiter: rate.NewLimiter(wl.perSec, wl.burst)}
		wl.buckets[wallet] = b
	}
	b.lastSeen = now

	// Occasionally drop buckets nobody has touched in a while, the wallet
	// space is unbounded.
	wl.hits++
	if wl.hits%512 == 0 {
		wl.evictIdle(now)
	}

	return b.limiter.Allow()
}

func (wl *walletLimiter) evictIdle(now time.Time) {
	for wallet, b := range wl.buckets {
		if now.Sub(b.lastSeen) > wl.maxIdle {
			delete(wl.buckets, wallet)
		}
	}
}
