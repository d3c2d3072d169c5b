// README: Per-client token bucket limiter for the chat routes.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	perMin    int
	clients   map[string]*clientLimiter
	lastPrune time.Time
	now       func() time.Time
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastPrune) > limiterIdle {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(s.clients, k)
			}
		}
		s.lastPrune = now
	}
	cl, ok := s.clients[key]
	if !ok {
		burst := s.perMin / 4
		if burst < 1 {
			burst = 1
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMin)), burst)}
		s.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit allows perMinute requests per client IP, with a quarter of that as burst.
// perMinute <= 0 disables limiting.
func RateLimit(perMinute int, log *zap.Logger) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	store := &limiterStore{perMin: perMinute, clients: map[string]*clientLimiter{}, now: time.Now}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !store.get(ip).Allow() {
			log.Warn("rate limit exceeded", zap.String("client_ip", ip))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, try again later"})
			return
		}
		c.Next()
	}
}
