package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tastebook/tastebook/pkg/client"
)

// Config holds rate limiting configuration.
type Config struct {
	// Per-IP rate limiting
	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64 // requests per second

	// Per-user rate limiting for authenticated requests
	PerUserEnabled    bool
	PerUserCapacity   int
	PerUserRefillRate float64

	// Endpoint-specific limits keyed by "METHOD /path"
	EndpointLimits map[string]EndpointLimit

	// How long to keep inactive buckets in memory
	BucketTTL time.Duration

	IncludeHeaders bool
}

// EndpointLimit defines the budget for one endpoint.
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig returns limits tuned for an authentication service: generous
// per-client budgets plus tight caps on the token endpoints, which are the
// ones worth hammering.
func DefaultConfig() *Config {
	return &Config{
		PerIPEnabled:    true,
		PerIPCapacity:   60,
		PerIPRefillRate: 1.0,

		PerUserEnabled:    true,
		PerUserCapacity:   120,
		PerUserRefillRate: 2.0,

		EndpointLimits: map[string]EndpointLimit{
			"POST /auth/token":   {Capacity: 10, RefillRate: 10.0 / 60.0},
			"POST /auth/refresh": {Capacity: 20, RefillRate: 20.0 / 60.0},
			"GET /auth/provider": {Capacity: 15, RefillRate: 15.0 / 60.0},
		},

		BucketTTL: time.Hour,

		IncludeHeaders: true,
	}
}

// Middleware holds the rate limiting middleware state.
type Middleware struct {
	config           *Config
	ipLimiter        *KeyedLimiter
	userLimiter      *KeyedLimiter
	endpointLimiters map[string]*KeyedLimiter
}

// NewMiddleware creates a rate limiting middleware from the config. A nil
// config gets the defaults.
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Middleware{
		config:           config,
		endpointLimiters: make(map[string]*KeyedLimiter),
	}

	if config.PerIPEnabled {
		m.ipLimiter = NewKeyedLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL)
	}
	if config.PerUserEnabled {
		m.userLimiter = NewKeyedLimiter(config.PerUserCapacity, config.PerUserRefillRate, config.BucketTTL)
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewKeyedLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}

	return m
}

// Handler returns the rate limiting middleware handler.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if m.config.PerIPEnabled && ip != "" && !m.ipLimiter.Allow(ip) {
			m.rateLimitExceeded(w, r, "ip")
			return
		}

		userKey := authenticatedUserKey(r)
		if m.config.PerUserEnabled && userKey != "" && !m.userLimiter.Allow(userKey) {
			m.rateLimitExceeded(w, r, "user")
			return
		}

		endpointKey := r.Method + " " + r.URL.Path
		if limiter, ok := m.endpointLimiters[endpointKey]; ok {
			if !limiter.Allow(ip + ":" + endpointKey) {
				m.rateLimitExceeded(w, r, "endpoint")
				return
			}
		}

		if m.config.IncludeHeaders {
			m.addRateLimitHeaders(w, ip, userKey)
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, limitType string) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", clientIP(r),
		"path", r.URL.Path,
		"method", r.Method,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)

	fmt.Fprintf(w, `{"error": "rate_limit_exceeded", "message": "Too many requests. Please try again later.", "type": %q}`, limitType)
}

func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, ip, userKey string) {
	if m.config.PerIPEnabled && ip != "" {
		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.config.PerIPCapacity))
	}
	if m.config.PerUserEnabled && userKey != "" {
		w.Header().Set("X-RateLimit-Limit-User", strconv.Itoa(m.config.PerUserCapacity))
	}
}

// clientIP extracts the client IP, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may list several hops, the first is the client
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "IP:port"
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// authenticatedUserKey returns a per-user bucket key for requests that went
// through the access-token verifier, empty otherwise.
func authenticatedUserKey(r *http.Request) string {
	authCtx := client.GetAuthContext(r)
	if !authCtx.IsAuthenticated {
		return ""
	}
	return strconv.FormatInt(authCtx.User.UserID, 10)
}
