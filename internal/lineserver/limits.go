package lineserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterIdleTTL     = 10 * time.Minute
	rateLimiterCleanupTick = 5 * time.Minute
)

// GlobalLimiter caps concurrent connections per server.
// Uses atomic operations for lock-free counting.
type GlobalLimiter struct {
	current atomic.Int64
	max     int64
}

func NewGlobalLimiter(max int64) *GlobalLimiter {
	return &GlobalLimiter{max: max}
}

// Acquire attempts to take a connection slot.
func (l *GlobalLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *GlobalLimiter) Release() {
	l.current.Add(-1)
}

func (l *GlobalLimiter) Current() int64 {
	return l.current.Load()
}

// IPLimiter caps concurrent connections per remote IP.
type IPLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func NewIPLimiter(maxPer int) *IPLimiter {
	return &IPLimiter{
		ips:    make(map[string]int),
		maxPer: maxPer,
	}
}

func (l *IPLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *IPLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// RateLimiter limits how fast a single IP may open new connections.
// Token bucket per IP via golang.org/x/time/rate.
type RateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(connectionsPerSecond float64, burst int, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clock:     clock,
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(rateLimiterCleanupTick),
	}
}

func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(rateLimiterCleanupTick)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}

	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanup drops limiters idle for longer than rateLimiterIdleTTL.
// Must be called with mu held.
func (l *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleTTL)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// Limits combines the admission checks. A nil sub-limiter is disabled.
type Limits struct {
	global *GlobalLimiter
	perIP  *IPLimiter
	rate   *RateLimiter
}

// NewLimits builds the admission checks; zero disables the respective limit.
// Returns nil when every limit is disabled.
func NewLimits(globalMax, perIPMax int, connectionsPerSecond float64, burst int, clock clockwork.Clock) *Limits {
	l := &Limits{}
	if globalMax > 0 {
		l.global = NewGlobalLimiter(int64(globalMax))
	}
	if perIPMax > 0 {
		l.perIP = NewIPLimiter(perIPMax)
	}
	if connectionsPerSecond > 0 {
		l.rate = NewRateLimiter(connectionsPerSecond, burst, clock)
	}
	if l.global == nil && l.perIP == nil && l.rate == nil {
		return nil
	}
	return l
}

// Acquire runs every enabled check for ip. On success the caller must Release.
func (l *Limits) Acquire(ip string) (bool, LimitReason) {
	if l == nil {
		return true, ""
	}

	// Rate first: cheapest and holds no slot.
	if l.rate != nil && !l.rate.Allow(ip) {
		return false, LimitReasonRate
	}

	if l.global != nil && !l.global.Acquire() {
		return false, LimitReasonGlobal
	}

	if l.perIP != nil && !l.perIP.Acquire(ip) {
		if l.global != nil {
			l.global.Release()
		}
		return false, LimitReasonPerIP
	}

	return true, ""
}

func (l *Limits) Release(ip string) {
	if l == nil {
		return
	}
	if l.perIP != nil {
		l.perIP.Release(ip)
	}
	if l.global != nil {
		l.global.Release()
	}
}
