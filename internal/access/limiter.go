package access

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"docgate.io/internal/ids"
)

const limiterIdleTTL = 5 * time.Minute

// RedemptionLimiter is a token bucket per redeeming user. Idle buckets are
// evicted on access; there is no background sweeper.
type RedemptionLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	buckets   map[ids.UserID]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim *rate.Limiter
	ts  time.Time
}

// NewRedemptionLimiter allows perSecond attempts per user with the given
// burst. A non-positive rate returns nil, which allows everything.
func NewRedemptionLimiter(perSecond float64, burst int) *RedemptionLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RedemptionLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		buckets:   make(map[ids.UserID]*bucket),
	}
}

// Allow spends one attempt of user's budget at now.
func (l *RedemptionLimiter) Allow(user ids.UserID, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.ts) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[user]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[user] = b
	}
	b.ts = now
	return b.lim.AllowN(now, 1)
}
