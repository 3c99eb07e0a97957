package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterSweepAt = 1024

// loginLimiter spends one token per failed login. An identifier with no
// tokens left is refused until the bucket refills.
type loginLimiter struct {
	attempts int
	every    rate.Limit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newLoginLimiter(attempts int, window time.Duration) *loginLimiter {
	l := &loginLimiter{attempts: attempts, buckets: make(map[string]*rate.Limiter)}
	if attempts > 0 && window > 0 {
		l.every = rate.Every(window / time.Duration(attempts))
	}
	return l
}

func (l *loginLimiter) enabled() bool { return l.attempts > 0 && l.every > 0 }

func (l *loginLimiter) allowed(id string) bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[id]
	return !ok || b.Tokens() >= 1
}

func (l *loginLimiter) fail(id string) {
	if !l.enabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[id]
	if !ok {
		if len(l.buckets) >= limiterSweepAt {
			l.sweep()
		}
		b = rate.NewLimiter(l.every, l.attempts)
		l.buckets[id] = b
	}
	b.Allow()
}

func (l *loginLimiter) reset(id string) {
	l.mu.Lock()
	delete(l.buckets, id)
	l.mu.Unlock()
}

// sweep forgets identifiers whose bucket has refilled. Caller holds mu.
func (l *loginLimiter) sweep() {
	for id, b := range l.buckets {
		if b.Tokens() >= float64(l.attempts) {
			delete(l.buckets, id)
		}
	}
}
