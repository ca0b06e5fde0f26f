package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestLogger logs one line per request and feeds the request counter. The
// counter is labelled with the chi route pattern, not the raw path, to keep
// label cardinality bounded.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			recordRequest(r.Method, route, recorder.status)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LimitBody caps request body reads at maxBytes. Oversized bodies surface as
// a decode error the handlers map to 413.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit enforces a per-client request budget keyed by remote IP. A
// non-positive budget disables the limiter.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	limiters := &clientLimiters{
		perMinute: perMinute,
		clients:   make(map[string]*rate.Limiter),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !limiters.allow(clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type clientLimiters struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*rate.Limiter
}

func (c *clientLimiters) allow(key string) bool {
	c.mu.Lock()
	limiter, ok := c.clients[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.perMinute)), c.perMinute)
		c.clients[key] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
