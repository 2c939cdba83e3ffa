package middleware

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"agentscan/internal/httputil"
	"agentscan/internal/model"
	"agentscan/internal/ratelimit"
)

// RateLimit budgets requests per client IP. Mount it after middleware.RealIP
// so proxied clients are told apart.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return limit(limiter, logger, func(r *http.Request) (string, bool) {
		return "ip:" + clientIP(r), true
	})
}

// KeyRateLimit budgets requests per authenticated API key. It must run after
// APIKeyAuth; requests without a key in context pass through.
func KeyRateLimit(limiter ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return limit(limiter, logger, func(r *http.Request) (string, bool) {
		key, ok := GetAPIKeyFromContext(r.Context())
		if !ok {
			return "", false
		}
		return "key:" + key.ID, true
	})
}

func limit(limiter ratelimit.Limiter, logger *zap.Logger, keyFn func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter error", zap.Error(err))
				allowed = true
			}
			if !allowed {
				logger.Warn("rate limit exceeded", zap.String("client", key))
				httputil.WriteServiceError(w, logger, model.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
