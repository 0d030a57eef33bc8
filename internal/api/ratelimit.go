package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimiter allows each client a burst of attempts per window, refilling
// evenly across the window. A nil RateLimiter allows everything.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	every     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
	trusted   []*net.IPNet
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns nil when attempts is not positive.
func NewRateLimiter(attempts int, window time.Duration) *RateLimiter {
	if attempts <= 0 || window <= 0 {
		return nil
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		every:   rate.Every(window / time.Duration(attempts)),
		burst:   attempts,
		idle:    window,
		now:     time.Now,
	}
}

// TrustProxies names the addresses or CIDR ranges of reverse proxies in front
// of the server. Only requests arriving from one of them have their
// X-Forwarded-For header consulted; every other client is keyed on its
// connection address.
func (l *RateLimiter) TrustProxies(proxies ...string) error {
	if l == nil {
		return nil
	}
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, p := range proxies {
		if ip := net.ParseIP(p); ip != nil {
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			return errors.Wrapf(err, "trusted proxy %q", p)
		}
		nets = append(nets, n)
	}
	l.trusted = nets
	return nil
}

// Allow reports whether key may make another attempt now.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > l.idle {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
		l.lastPrune = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.every, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Middleware answers 429 once a client runs out of attempts.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.clientIP(r)) {
			rateLimitedTotal.Inc()
			respondWithError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many payment attempts, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the connection address, unless the connection comes from a
// trusted proxy. Then X-Forwarded-For is walked from the right and the first
// hop that is not a trusted proxy is the client.
func (l *RateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !l.isTrusted(host) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			break
		}
		if !l.isTrusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (l *RateLimiter) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range l.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
