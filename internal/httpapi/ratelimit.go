// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package httpapi

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client limiter for credential routes.
type RateLimitConfig struct {
	// Rate is the sustained requests per second per client IP. Zero disables
	// limiting.
	Rate  rate.Limit
	Burst int
	// IdleTTL is how long an unused client entry is kept.
	IdleTTL time.Duration
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Requests from any other peer are keyed on the
	// socket address.
	TrustedProxies []netip.Prefix
}

// DefaultRateLimitConfig allows 10 credential attempts per minute per IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:    rate.Limit(10.0 / 60.0),
		Burst:   10,
		IdleTTL: 10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client IP. Idle entries are pruned
// lazily on access, so no background goroutine is needed.
type RateLimiter struct {
	cfg    RateLimitConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastPrune time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Middleware rejects clients over their budget with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.cfg.Rate <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.cfg.TrustedProxies)
		if !rl.limiter(ip).Allow() {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("client_ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rl.cfg.Rate)))
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > rl.cfg.IdleTTL {
		for k, c := range rl.clients {
			if now.Sub(c.lastAccess) > rl.cfg.IdleTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastPrune = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.clients[ip] = c
	}
	c.lastAccess = now
	return c.limiter
}

// retryAfter is the whole seconds until one token is refilled.
func retryAfter(r rate.Limit) int {
	sec := int(math.Ceil(1.0 / float64(r)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// clientIP returns the address a request is attributed to. Forwarding
// headers are only read when the socket peer is a trusted proxy; the
// X-Forwarded-For chain is walked from the right and the first untrusted hop
// wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !isTrusted(addr.String(), trusted) {
				return addr.String()
			}
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses CIDR prefixes or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, oops.Code("TRUSTED_PROXY_INVALID").With("value", v).Wrap(err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, oops.Code("TRUSTED_PROXY_INVALID").With("value", v).Wrap(err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
