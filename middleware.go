package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = "requestID"

// requestIDMiddleware assigns a correlation id to every request and echoes
// it in the response so client reports can be matched to server logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	id, _ := c.Get(requestIDKey)
	s, _ := id.(string)
	return s
}

// securityHeadersMiddleware sets the fixed response header set on every
// response, including errors and preflights.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Cross-Origin-Resource-Policy", "same-site")
		c.Next()
	}
}

// rateLimiter is a fixed-window per-source-IP counter. The window resets
// lazily on the first request after expiry; it is not a sliding window, and
// the map is process-local (no cross-process limiting).
type rateLimiter struct {
	window time.Duration
	max    int

	mu        sync.Mutex
	windows   map[string]*ipWindow
	lastSweep time.Time
}

type ipWindow struct {
	start time.Time
	count int
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{window: window, max: max, windows: map[string]*ipWindow{}}
}

func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	// sweep expired windows at most once per window so one-shot sources
	// don't accumulate for the process lifetime
	if now.Sub(rl.lastSweep) >= rl.window {
		for k, w := range rl.windows {
			if now.Sub(w.start) >= rl.window {
				delete(rl.windows, k)
			}
		}
		rl.lastSweep = now
	}
	w, ok := rl.windows[ip]
	if !ok || now.Sub(w.start) >= rl.window {
		w = &ipWindow{start: now}
		rl.windows[ip] = w
	}
	w.count++
	return w.count <= rl.max
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// authMiddleware verifies the bearer session token and stores the caller's
// identity in the request context.
func (s *server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		claims, ok := s.tokens.Verify(authHeader[7:])
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("userId", claims.UserID)
		c.Set("email", claims.Email)
		c.Next()
	}
}

// recoveryMiddleware converts any handler panic into a generic 500; the full
// detail goes to the server log under the request's correlation id.
func (s *server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		s.log.Error("handler panic",
			zap.Any("panic", err),
			zap.String("request_id", requestID(c)),
			zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
