package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"peercall/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// unlimitedRoutes are liveness and scrape endpoints of the control API.
// A supervisor polling them must never see 429.
var unlimitedRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// controlClientIdle is how long a caller's limiter is kept after its last request.
const controlClientIdle = 10 * time.Minute

type controlClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// controlClients tracks one token bucket per control API caller.
type controlClients struct {
	mu      sync.Mutex
	clients map[string]*controlClient
	limit   rate.Limit
	burst   int
	now     func() time.Time
	swept   time.Time
}

func newControlClients(limit rate.Limit, burst int) *controlClients {
	return &controlClients{
		clients: make(map[string]*controlClient),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

func (s *controlClients) allow(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.swept) >= controlClientIdle {
		for key, client := range s.clients {
			if now.Sub(client.lastSeen) >= controlClientIdle {
				delete(s.clients, key)
			}
		}
		s.swept = now
	}

	client, ok := s.clients[addr]
	if !ok {
		client = &controlClient{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[addr] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}

func (s *controlClients) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// retryAfter is the whole number of seconds until one token refills.
func (s *controlClients) retryAfter() int {
	if s.limit <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(s.limit))))
}

// clientIP extracts the caller address, preferring the first
// X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits call control requests per caller and
// caps how many run at once. Health and metrics routes pass through.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	clients := newControlClients(rate.Limit(cfg.RateLimiting.RequestsPerSecond), cfg.RateLimiting.Burst)
	return newControlLimiter(clients, cfg.RateLimiting.MaxConcurrent)
}

func newControlLimiter(clients *controlClients, maxConcurrent int) gin.HandlerFunc {
	var inFlight chan struct{}
	if maxConcurrent > 0 {
		inFlight = make(chan struct{}, maxConcurrent)
	}

	return func(c *gin.Context) {
		if unlimitedRoutes[c.FullPath()] {
			c.Next()
			return
		}

		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent control requests",
				})
				return
			}
		}

		if !clients.allow(clientIP(c.Request)) {
			wait := clients.retryAfter()
			c.Header("Retry-After", strconv.Itoa(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": wait,
			})
			return
		}
		c.Next()
	}
}
