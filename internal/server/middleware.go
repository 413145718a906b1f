package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultWriteRate  = rate.Limit(5)
	defaultWriteBurst = 10
	limiterIdleAfter  = 10 * time.Minute
	limiterSweepSize  = 4096
	unmatchedRoute    = "unmatched"
)

func observeRequests(registry *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		registry.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per client.
type clientLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	now     func() time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	if limit <= 0 {
		limit = defaultWriteRate
	}
	if burst <= 0 {
		burst = defaultWriteBurst
	}
	return &clientLimiters{limit: limit, burst: burst, clients: make(map[string]*clientLimiter), now: time.Now}
}

func (l *clientLimiters) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if len(l.clients) >= limiterSweepSize {
		for key, entry := range l.clients {
			if now.Sub(entry.lastSeen) > limiterIdleAfter {
				delete(l.clients, key)
			}
		}
	}
	entry, ok := l.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// limitWrites throttles mutating requests per signed-in user, or per client IP for
// anonymous callers.
func limitWrites(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		default:
			c.Next()
			return
		}
		client := c.GetString(userIDContextKey)
		if client == "" {
			client = "ip:" + c.ClientIP()
		}
		if !limiters.allow(client) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

// sessionToken returns the raw session token carried by the request.
func sessionToken(r *http.Request, cookieName string) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
