// Package api provides the HTTP surface of the gateway.
// Middleware: request logging, per-client rate limiting, admin auth.
package api //nolint:revive // package name is intentional

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/infergate/infergate/internal/observability"
)

// responseRecorder captures the status code written by a handler. It
// forwards Flush so streaming responses keep working through the stack.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs one line per request with the request id,
// method, path, status and duration.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http request",
				"request_id", observability.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// ClientRateLimiter applies a token bucket per client address. Inactive
// buckets are dropped after cleanupTTL.
type ClientRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time

	limit      rate.Limit
	burst      int
	cleanupTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewClientRateLimiter creates a limiter allowing rpm requests per minute
// with the given burst per client.
func NewClientRateLimiter(rpm, burst int) *ClientRateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	l := &ClientRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Limit(float64(rpm) / 60.0),
		burst:      burst,
		cleanupTTL: 10 * time.Minute,
		stop:       make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether one request from the given client may proceed.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.lastAccess[client] = time.Now()
	l.mu.Unlock()
	return limiter.Allow()
}

// Middleware rejects clients over their budget with 429.
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			writeControlError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the cleanup goroutine.
func (l *ClientRateLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ClientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *ClientRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for client, last := range l.lastAccess {
		if now.Sub(last) > l.cleanupTTL {
			delete(l.limiters, client)
			delete(l.lastAccess, client)
		}
	}
}

// clientKey identifies the caller for rate limiting purposes.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

// requestID reads the request id installed by the request-id middleware.
func requestID(r *http.Request) string {
	return observability.RequestIDFromContext(r.Context())
}

// AdminAuth gates mutating control-plane endpoints behind an HS256 bearer
// token. With auth disabled every request passes.
type AdminAuth struct {
	secret  []byte
	enabled bool
}

// NewAdminAuth creates the admin gate. secret signs and verifies tokens.
func NewAdminAuth(secret string, enabled bool) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), enabled: enabled}
}

// Enabled reports whether the gate is active.
func (a *AdminAuth) Enabled() bool {
	return a.enabled
}

// Middleware rejects requests without a valid bearer token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeControlError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if err := a.verify(token); err != nil {
			writeControlError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) verify(tokenString string) error {
	_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err
}

// IssueToken mints a short-lived admin token. Exposed for operational
// tooling and tests.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
