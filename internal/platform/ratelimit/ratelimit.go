// Package ratelimit throttles requests per client IP with token buckets.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipelink-labs/pipelink-go/internal/platform/httpserver"
	"github.com/pipelink-labs/pipelink-go/internal/platform/requestid"
)

const (
	idleAfter     = 10 * time.Minute
	pruneInterval = 5 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerIP allows perMinute requests per client address, with a burst of the
// same size. Idle clients are forgotten after ten minutes.
type PerIP struct {
	mu         sync.Mutex
	clients    map[string]*client
	limit      rate.Limit
	burst      int
	trustProxy bool
	now        func() time.Time
	lastPrune  time.Time
}

type Option func(*PerIP)

// WithTrustedProxy makes X-Real-IP and X-Forwarded-For decide the client.
func WithTrustedProxy() Option {
	return func(p *PerIP) { p.trustProxy = true }
}

func New(perMinute int, opts ...Option) *PerIP {
	if perMinute <= 0 {
		perMinute = 10
	}
	p := &PerIP{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastPrune = p.now()
	return p
}

// Allow takes a token for ip. When none is left it reports how long until one is.
func (p *PerIP) Allow(ip string) (bool, time.Duration) {
	now := p.now()
	limiter := p.get(ip, now)
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	if d := reservation.DelayFrom(now); d > 0 {
		reservation.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (p *PerIP) get(ip string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastPrune) >= pruneInterval {
		for key, c := range p.clients {
			if now.Sub(c.lastSeen) > idleAfter {
				delete(p.clients, key)
			}
		}
		p.lastPrune = now
	}
	c, ok := p.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (p *PerIP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := p.Allow(p.clientIP(r))
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			requestID, _ := requestid.FromContext(r.Context())
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httpserver.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "rate_limited",
				"request_id": requestID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *PerIP) clientIP(r *http.Request) string {
	if p.trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
