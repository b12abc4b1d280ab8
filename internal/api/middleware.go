package api

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/roles"
	"github.com/nerrad567/schooldocs-core/internal/session"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeySession   contextKey = "session"
	ctxKeyClaims    contextKey = "claims"
)

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PUT, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (64 KB).
const maxRequestBodySize = 64 << 10

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the bearer token and binds the request to the
// open session named by its sid claim. The session must still be signed
// in as the token's subject.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "bearer token is required")
			return
		}

		claims, err := identity.ParseToken(token, s.secCfg.JWT.Secret)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		entry, err := s.sessions.Get(claims.SessionID)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.logger.Error("session lookup failed", "error", err)
			}
			writeUnauthorized(w, "session has ended")
			return
		}

		current := entry.Auth.Current()
		if current == nil || current.ID != claims.Subject {
			writeUnauthorized(w, "session has ended")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeySession, entry)
		ctx = context.WithValue(ctx, ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminDashboard restricts a route to sessions routed to the admin
// dashboard. It must run after authMiddleware.
func (s *Server) requireAdminDashboard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := sessionFromContext(r.Context())
		if entry == nil {
			writeUnauthorized(w, "authentication required")
			return
		}

		snap := entry.Listener.Snapshot()
		if snap.Dashboard(s.policy) == roles.DashboardAdmin {
			next.ServeHTTP(w, r)
			return
		}
		if snap.Loading {
			writeError(w, http.StatusConflict, ErrCodeSessionLoading, "roles are still loading")
			return
		}
		writeForbidden(w, "admin dashboard required")
	})
}

// rateLimitMiddleware limits requests per client IP. It is a pass-through
// when rate limiting is disabled.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			ip := clientIP(r)
			if !s.limiter.get(ip).Allow() {
				s.logger.Warn("auth rate limit exceeded", "ip", ip, "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests, try again shortly")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFromContext returns the session bound by authMiddleware, or nil.
func sessionFromContext(ctx context.Context) *session.Entry {
	entry, _ := ctx.Value(ctxKeySession).(*session.Entry) //nolint:errcheck // absent means unauthenticated
	return entry
}

// claimsFromContext returns the token claims bound by authMiddleware, or nil.
func claimsFromContext(ctx context.Context) *identity.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*identity.Claims) //nolint:errcheck // absent means unauthenticated
	return claims
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientIP returns the request's remote host. Forwarded headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiter holds one token bucket per client IP, with double-check locking.
type ipLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// get returns the limiter for ip, creating one if needed.
func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[ip]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists = l.limiters[ip]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.rate, l.burst)
	l.limiters[ip] = limiter
	return limiter
}

// clearIfExceeds drops every limiter once more than maxSize are tracked.
func (l *ipLimiter) clearIfExceeds(maxSize int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) > maxSize {
		l.limiters = make(map[string]*rate.Limiter)
		return true
	}
	return false
}

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// requestIDBytes is the number of random bytes used for request IDs.
const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}
