package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"agentscan/internal/httputil"
	"agentscan/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	apiKeyKey  contextKey = "api_key"
	deviceKey  contextKey = "device"
	sessionKey contextKey = "session"
)

// DeviceIDHeader carries the paired device id on device endpoints.
const DeviceIDHeader = "X-Device-Id"

// Authenticator resolves a raw API key.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.APIKey, error)
}

// DeviceAuthorizer checks a device id against an authenticated key.
type DeviceAuthorizer interface {
	AuthorizeDevice(ctx context.Context, key *model.APIKey, deviceID string) (*model.Device, error)
}

// Session is what the dashboard login flow puts in its token.
type Session struct {
	UserID string
	Email  string
}

// bearerToken returns the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// APIKeyAuth requires a valid, active API key as a bearer token.
func APIKeyAuth(auth Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				httputil.WriteServiceError(w, logger, model.ErrUnauthorized)
				return
			}

			key, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				httputil.WriteServiceError(w, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceAuth requires X-Device-Id to name a device paired with the
// authenticated key. It must run after APIKeyAuth.
func DeviceAuth(auth DeviceAuthorizer, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := GetAPIKeyFromContext(r.Context())
			if !ok {
				httputil.WriteServiceError(w, logger, model.ErrUnauthorized)
				return
			}

			device, err := auth.AuthorizeDevice(r.Context(), key, r.Header.Get(DeviceIDHeader))
			if err != nil {
				httputil.WriteServiceError(w, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), deviceKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionAuth validates dashboard session tokens minted by the external
// login flow (HMAC-signed JWT with userId and email claims).
func SessionAuth(jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				httputil.WriteServiceError(w, logger, model.ErrUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				httputil.WriteServiceError(w, logger, model.ErrInvalidSession)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				httputil.WriteServiceError(w, logger, model.ErrInvalidSession)
				return
			}
			userID, _ := claims["userId"].(string)
			email, _ := claims["email"].(string)
			if userID == "" {
				httputil.WriteServiceError(w, logger, model.ErrInvalidSession)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, &Session{UserID: userID, Email: email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyFromContext returns the key set by APIKeyAuth.
func GetAPIKeyFromContext(ctx context.Context) (*model.APIKey, bool) {
	key, ok := ctx.Value(apiKeyKey).(*model.APIKey)
	return key, ok
}

// GetDeviceFromContext returns the device set by DeviceAuth.
func GetDeviceFromContext(ctx context.Context) (*model.Device, bool) {
	device, ok := ctx.Value(deviceKey).(*model.Device)
	return device, ok
}

// GetSessionFromContext returns the session set by SessionAuth.
func GetSessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}
