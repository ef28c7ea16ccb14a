package ratelimit

import (
	"math"
	"sync"
	"time"
)

// One token is tracked as 1e9 units, so a refill rate of N tokens/sec adds
// exactly N units per elapsed nanosecond and no float rounding is involved.
const unitsPerToken = int64(time.Second)

// TokenBucket is a token bucket with an integer capacity and refill rate
// (tokens/sec). It starts full.
//
// A bucket with a zero rate never refills; a bucket with zero capacity rejects
// every positive request.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // units
	rate     int64 // units per nanosecond == tokens per second

	available int64 // units
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, ratePerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capUnits := tokensToUnits(capacity)
	return &TokenBucket{
		clock:     clock,
		capacity:  capUnits,
		rate:      max(ratePerSecond, 0),
		available: capUnits,
		last:      clock.Now(),
	}
}

// Allow takes n tokens if the bucket holds at least n. n <= 0 always succeeds
// without consuming anything.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := tokensToUnits(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

// Tokens returns the number of whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.clock.Now())
	return b.available / unitsPerToken
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock that steps backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.rate == 0 {
		return
	}

	missing := b.capacity - b.available
	if missing <= 0 {
		return
	}
	// Compare against the time needed to fill up instead of multiplying, so
	// long idle periods cannot overflow.
	if elapsed > missing/b.rate {
		b.available = b.capacity
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func tokensToUnits(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > math.MaxInt64/unitsPerToken:
		return math.MaxInt64
	default:
		return tokens * unitsPerToken
	}
}
