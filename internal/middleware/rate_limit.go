package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedClients 超过该数量时清理过期计数
const maxTrackedClients = 1024

// RateLimit 限制同一来源在固定窗口内的请求数量。
//
// 来源取 RemoteAddr，需放在 chi 的 RealIP 之后才能识别代理后的真实地址。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return passthrough
	}

	limiter := newIPRateLimiter(maxRequests, window, time.Now)
	retryAfter := strconv.Itoa(int(window.Round(time.Second).Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

type ipRateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientCounter
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

type clientCounter struct {
	count   int
	expires time.Time
}

func newIPRateLimiter(maxRequests int, window time.Duration, now func() time.Time) *ipRateLimiter {
	return &ipRateLimiter{
		maxRequests: maxRequests,
		window:      window,
		clients:     make(map[string]*clientCounter),
		now:         now,
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) > maxTrackedClients {
		l.cleanupLocked(now)
	}

	entry, ok := l.clients[key]
	if !ok || now.After(entry.expires) {
		l.clients[key] = &clientCounter{
			count:   1,
			expires: now.Add(l.window),
		}
		return true
	}

	if entry.count >= l.maxRequests {
		return false
	}

	entry.count++
	return true
}

func (l *ipRateLimiter) cleanupLocked(now time.Time) {
	for key, entry := range l.clients {
		if now.After(entry.expires) {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
