package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/bpradana/edgeboard/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits dashboard API requests per client
type RateLimitMiddleware struct {
	logger   *zap.Logger
	config   config.RateLimitConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(logger *zap.Logger, cfg config.RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		logger:   logger,
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handle implements the middleware interface
func (rlm *RateLimitMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rlm.getKey(r)
		limiter := rlm.getLimiter(key)

		if !limiter.Allow() {
			rlm.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", r.URL.Path))

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.2f", rlm.config.RequestsPerSecond))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "1")

			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Name returns the middleware name
func (rlm *RateLimitMiddleware) Name() string {
	return "rate_limit"
}

// getKey generates a key for rate limiting based on the configured key function
func (rlm *RateLimitMiddleware) getKey(r *http.Request) string {
	switch rlm.config.KeyFunc {
	case "user":
		if userID := r.Header.Get(UserIDHeader); userID != "" {
			return userID
		}
		return getClientIP(r)
	case "global":
		return "global"
	default:
		return getClientIP(r)
	}
}

// getLimiter gets or creates a rate limiter for the given key
func (rlm *RateLimitMiddleware) getLimiter(key string) *rate.Limiter {
	rlm.mu.RLock()
	limiter, exists := rlm.limiters[key]
	rlm.mu.RUnlock()

	if !exists {
		rlm.mu.Lock()
		// Double-check after acquiring write lock
		if limiter, exists = rlm.limiters[key]; !exists {
			limiter = rate.NewLimiter(rate.Limit(rlm.config.RequestsPerSecond), rlm.config.Burst)
			rlm.limiters[key] = limiter
		}
		rlm.mu.Unlock()
	}

	return limiter
}

// Cleanup drops limiters whose bucket is full again
func (rlm *RateLimitMiddleware) Cleanup() {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()

	for key, limiter := range rlm.limiters {
		if limiter.Tokens() >= float64(rlm.config.Burst) {
			delete(rlm.limiters, key)
		}
	}
}

// Len returns the number of tracked clients
func (rlm *RateLimitMiddleware) Len() int {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()
	return len(rlm.limiters)
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
