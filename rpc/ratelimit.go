package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCallsPerSecond = 5
	defaultCallBurst      = 10
	visitorIdleTTL        = 5 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callLimiter keeps one token bucket per client source.
type callLimiter struct {
	perSecond rate.Limit
	burst     int

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newCallLimiter(perSecond float64, burst int) *callLimiter {
	if perSecond <= 0 {
		perSecond = defaultCallsPerSecond
	}
	if burst <= 0 {
		burst = defaultCallBurst
	}
	return &callLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
	}
}

func (l *callLimiter) allow(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= visitorIdleTTL {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) >= visitorIdleTTL {
				delete(l.visitors, id)
			}
		}
		l.lastSweep = now
	}
	entry, ok := l.visitors[source]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
