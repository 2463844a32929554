// Package middleware provides the gin middleware chain for sandboxd:
// panic recovery, request IDs, structured access logging, per-IP rate
// limiting ahead of /execute/, and Prometheus instrumentation.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sandboxd/internal/metrics"
)

// ErrorResponse is the standardized JSON error body.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Recovery turns a panic in any handler into a 500 JSON response
// instead of killing the connection.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		requestID, _ := c.Get("request_id")
		log.Error("panic recovered",
			zap.Any("request_id", requestID),
			zap.Any("error", recovered),
			zap.ByteString("stack", debug.Stack()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "internal server error",
			Code:      "INTERNAL_SERVER_ERROR",
			Timestamp: time.Now().UTC(),
			RequestID: fmt.Sprintf("%v", requestID),
		})
	})
}

// RequestID stamps every request with an X-Request-ID, generating one
// if the caller did not supply it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = generateRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// AccessLog writes one structured log line per request via zap, and
// feeds the Prometheus HTTP metrics.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	m := metrics.Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		m.RecordHTTPRequest(path, c.Request.Method, status, latency)

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// ipLimiter pairs a token bucket with its last-seen time so idle IPs
// can be swept out of the map.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

// NewIPRateLimiter builds a limiter at rps requests/sec with the given
// burst, and starts a background sweep of entries idle for over an hour.
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go l.sweepLoop()
	return l
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		l.mu.Lock()
		for ip, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit rejects requests over the configured per-IP budget with 429.
func RateLimit(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			requestID, _ := c.Get("request_id")
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "RATE_LIMIT_EXCEEDED",
				Timestamp: time.Now().UTC(),
				RequestID: fmt.Sprintf("%v", requestID),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func generateRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}
