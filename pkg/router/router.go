package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/tendant/simple-twofa/pkg/enforcement"
	loginapi "github.com/tendant/simple-twofa/pkg/loginflow/api"
	resetapi "github.com/tendant/simple-twofa/pkg/reset/api"
	"github.com/tendant/simple-twofa/pkg/sessions"
	twofaapi "github.com/tendant/simple-twofa/pkg/twofa/api"
)

// Config holds all the dependencies and handlers needed to setup routes
type Config struct {
	LoginHandle *loginapi.Handle
	TwoFaHandle *twofaapi.Handle
	ResetHandle *resetapi.Handle

	Sessions *sessions.Manager
	Policy   *enforcement.Policy

	// AllowedOrigins enables CORS with credentials for these origins
	AllowedOrigins []string
	// RequestTimeout cancels the request context; zero disables it
	RequestTimeout time.Duration

	// Healthz reports backend health; nil always answers ok
	Healthz func(ctx context.Context) error

	// AppRoutes mounts the application's own pages behind the session and
	// 2FA enforcement middleware
	AppRoutes func(r chi.Router)
}

// NewRouter builds the full handler: common middleware, session lookup,
// 2FA enforcement, then the login, 2FA management and reset routes.
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", healthzHandler(cfg.Healthz))

	r.Group(func(r chi.Router) {
		r.Use(cfg.Sessions.Middleware)
		r.Use(cfg.Policy.Middleware)
		SetupRoutes(r, cfg)
	})

	return r
}

// SetupRoutes mounts the login, 2FA and reset routes. Session lookup and
// enforcement are expected to run already.
func SetupRoutes(r chi.Router, cfg Config) {
	r.Mount("/", loginapi.LoginHandler(cfg.LoginHandle))

	r.Route("/2fa", func(r chi.Router) {
		// reset is for accounts that cannot sign in, so it sits outside
		// the session requirement of the management routes
		r.Mount("/reset", resetapi.ResetHandler(cfg.ResetHandle))
		r.Mount("/", twofaapi.TwoFaHandler(cfg.TwoFaHandle))
	})

	if cfg.AppRoutes != nil {
		r.Group(func(r chi.Router) {
			r.Use(sessions.RequireSession)
			cfg.AppRoutes(r)
		})
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthzHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				slog.Error("Health check failed", "error", err)
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, healthResponse{Status: "unavailable"})
				return
			}
		}
		render.JSON(w, r, healthResponse{Status: "ok"})
	}
}
