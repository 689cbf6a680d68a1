package lim

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
)

// Limiter hands out per-IP token buckets. Anonymous mutation paths
// (create, report, password attempts) share one budget per client.
type Limiter struct {
	trustedProxies []string
	rpm            int
	burst          int
	mu             sync.Mutex
	entries        map[string]*limiterEntry
	quit           chan struct{}
	stopOnce       sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(rpm, burst int, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else if net.ParseIP(proxy) == nil {
			panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
		}
	}
	l := &Limiter{
		trustedProxies: trustedProxies,
		rpm:            rpm,
		burst:          burst,
		entries:        make(map[string]*limiterEntry),
		quit:           make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-limiterTTL)
			for key, e := range l.entries {
				if e.lastAccess.Before(cutoff) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		case <-l.quit:
			return
		}
	}
}

// CheckLimit consumes one token for the client behind r, keyed per
// endpoint class so a burst of views cannot starve creates.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) Result {
	ip := GetRealIP(r, l.trustedProxies)
	key := endpoint + ":" + ip
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxLimiters {
			l.evictOldestLocked()
		}
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst),
		}
		l.entries[key] = e
	}
	e.lastAccess = time.Now()
	l.mu.Unlock()

	allowed := e.limiter.Allow()
	tokens := int(e.limiter.Tokens())
	if tokens < 0 {
		tokens = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     l.rpm,
		Remaining: tokens,
		Reset:     time.Now().Add(time.Minute),
	}
}

func (l *Limiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range l.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(l.entries, oldestKey)
	}
}

// GetRealIP trusts X-Forwarded-For only when the peer itself is a
// configured proxy; otherwise the TCP peer address wins.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !ipTrusted(peer, trustedProxies) {
		return peer
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(parts[i])
		if candidate == "" {
			continue
		}
		if !ipTrusted(candidate, trustedProxies) {
			return candidate
		}
	}
	return peer
}

func ipTrusted(ip string, trustedProxies []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, cidr, err := net.ParseCIDR(proxy); err == nil && cidr.Contains(parsed) {
				return true
			}
		} else if proxy == ip {
			return true
		}
	}
	return false
}
