// Package middleware holds HTTP middleware shared by the service routes.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a fixed-window request limiter keyed by client IP.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	rate      int
	window    time.Duration
	whitelist map[string]struct{}
	onBlocked func(ip string)
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

type client struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows rate requests per window and per IP. IPs in
// whitelist bypass the limiter. Call Stop to end the cleanup goroutine.
func NewRateLimiter(rate int, window time.Duration, whitelist []string, logger *slog.Logger) *RateLimiter {
	wl := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			wl[ip] = struct{}{}
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rl := &RateLimiter{
		clients:   make(map[string]*client),
		rate:      rate,
		window:    window,
		whitelist: wl,
		logger:    logger.With("component", "rate_limiter"),
		stop:      make(chan struct{}),
	}
	go rl.cleanupLoop(window * 2)
	return rl
}

// OnBlocked registers a callback run for every rejected request.
func (rl *RateLimiter) OnBlocked(fn func(ip string)) {
	rl.onBlocked = fn
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if now.Sub(c.lastReset) > every {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	_, ok := rl.whitelist[ip]
	return ok
}

// Allow spends one request from ip's window. When the window is used up it
// returns false and the time until the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, exists := rl.clients[ip]
	if !exists || now.Sub(c.lastReset) > rl.window {
		rl.clients[ip] = &client{tokens: rl.rate - 1, lastReset: now}
		return true, 0
	}
	if c.tokens > 0 {
		c.tokens--
		return true, 0
	}
	return false, rl.window - now.Sub(c.lastReset)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		ok, wait := rl.Allow(ip)
		if !ok {
			rl.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			if rl.onBlocked != nil {
				rl.onBlocked(ip)
			}
			seconds := int(wait.Round(time.Second).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if host, _, err := net.SplitHostPort(first); err == nil {
			return host
		}
		return first
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type LimiterStats struct {
	TrackedIPs       int     `json:"tracked_ips"`
	RatePerWindow    int     `json:"rate_per_window"`
	WindowSeconds    float64 `json:"window_seconds"`
	WhitelistEntries int     `json:"whitelist_entries"`
}

func (rl *RateLimiter) Stats() LimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return LimiterStats{
		TrackedIPs:       len(rl.clients),
		RatePerWindow:    rl.rate,
		WindowSeconds:    rl.window.Seconds(),
		WhitelistEntries: len(rl.whitelist),
	}
}
