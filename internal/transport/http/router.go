package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"agentscan/internal/handler"
	"agentscan/internal/httputil"
	"agentscan/internal/ratelimit"
	authmw "agentscan/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	KeyHandler           *handler.KeyHandler
	DeviceHandler        *handler.DeviceHandler
	RequestHandler       *handler.RequestHandler
	DeviceRequestHandler *handler.DeviceRequestHandler
	DashboardHandler     *handler.DashboardHandler

	Authenticator    authmw.Authenticator
	DeviceAuthorizer authmw.DeviceAuthorizer
	Limiter          ratelimit.Limiter
	JWTSecret        string
	Logger           *zap.Logger
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.AccessLog(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.RateLimit(cfg.Limiter, cfg.Logger))

		// Public pairing redemption: the phone has no key yet
		r.Post("/devices/pair-with-token", cfg.DeviceHandler.PairWithToken)
		r.Post("/devices/pair-with-code", cfg.DeviceHandler.PairWithCode)

		// Issuer routes
		r.Group(func(r chi.Router) {
			r.Use(authmw.APIKeyAuth(cfg.Authenticator, cfg.Logger))
			r.Use(authmw.KeyRateLimit(cfg.Limiter, cfg.Logger))

			r.Route("/keys", func(r chi.Router) {
				r.Post("/", cfg.KeyHandler.Issue)
				r.Get("/", cfg.KeyHandler.List)
				r.Delete("/{id}", cfg.KeyHandler.Revoke)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Post("/pair", cfg.DeviceHandler.Pair)
				r.Get("/", cfg.DeviceHandler.List)
				r.Delete("/{id}", cfg.DeviceHandler.Unpair)
			})

			r.Route("/requests", func(r chi.Router) {
				r.Post("/", cfg.RequestHandler.Create)
				r.Get("/", cfg.RequestHandler.List)
				r.Get("/{id}", cfg.RequestHandler.Get)
				r.Delete("/{id}", cfg.RequestHandler.Cancel)
				r.Get("/{id}/result", cfg.RequestHandler.Result)
				r.Get("/{id}/pdf", cfg.RequestHandler.PDF)
				r.Get("/{id}/text", cfg.RequestHandler.Text)
			})

			// Phone routes: key plus X-Device-Id
			r.Route("/device/requests", func(r chi.Router) {
				r.Use(authmw.DeviceAuth(cfg.DeviceAuthorizer, cfg.Logger))

				r.Get("/", cfg.DeviceRequestHandler.List)
				r.Post("/{id}/accept", cfg.DeviceRequestHandler.Accept)
				r.Post("/{id}/reject", cfg.DeviceRequestHandler.Reject)
				r.Post("/{id}/complete", cfg.DeviceRequestHandler.Complete)
			})
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(authmw.SessionAuth(cfg.JWTSecret, cfg.Logger))

			r.Post("/pairing/generate", cfg.DashboardHandler.GeneratePairing)
			r.Get("/keys", cfg.DashboardHandler.ListKeys)
			r.Post("/keys", cfg.DashboardHandler.IssueKey)
			r.Delete("/keys/{id}", cfg.DashboardHandler.RevokeKey)
			r.Get("/devices", cfg.DashboardHandler.ListDevices)
			r.Delete("/devices/{id}", cfg.DashboardHandler.UnpairDevice)
		})
	})

	return r
}
