package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/diagnosis/tolet/internal/http/response"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/metrics"
)

// Counter counts one hit for key within a fixed window.
type Counter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Function to generate rate limit keys
	SkipFunc func(r *http.Request) bool     // Function to skip rate limiting
	// Forwarding headers are only read from these peers
	TrustedProxies []netip.Prefix
}

type RateLimiter struct {
	counter Counter
	config  RateLimitConfig
	metrics *metrics.Metrics
}

// NewRateLimiter returns a limiter backed by counter. A nil counter disables
// limiting.
func NewRateLimiter(counter Counter, config RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	rl := &RateLimiter{counter: counter, config: config, metrics: m}
	if rl.config.KeyFunc == nil {
		rl.config.KeyFunc = rl.clientKeys
	}
	return rl
}

// ParseTrustedProxies accepts CIDRs and bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil || rl.counter == nil || (rl.config.SkipFunc != nil && rl.config.SkipFunc(r)) {
				next.ServeHTTP(w, r)
				return
			}

			for _, key := range rl.config.KeyFunc(r) {
				ok, err := rl.counter.Allow(r.Context(), r.URL.Path+"|"+key, rl.config.Requests, rl.config.Window)
				if err != nil {
					// fail open
					logger.WarnContext(r.Context(), "Rate limit check failed", "error", err)
				}
				if !ok {
					rl.metrics.RateLimited()
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKeys limits by client IP, and by token email once authenticated.
func (rl *RateLimiter) clientKeys(r *http.Request) []string {
	var keys []string
	if ip := getClientIP(r, rl.config.TrustedProxies); ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	if c := Claims(r); c != nil {
		keys = append(keys, "email:"+c.Email)
	}
	return keys
}

// getClientIP returns the peer address unless the peer is a trusted proxy.
// Behind a proxy it walks X-Forwarded-For from the right and takes the first
// hop that is not trusted.
func getClientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !isTrusted(peer, trusted) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			addr, err := netip.ParseAddr(hop)
			if err != nil {
				return hop
			}
			if !isTrusted(addr, trusted) || i == 0 {
				return addr.String()
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
