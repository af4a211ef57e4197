package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/health"
)

type RouterConfig struct {
	Orders      *OrderHandler
	Admin       *AdminHandler
	Webhooks    *WebhookHandler
	Health      *health.Handler
	RateLimiter *RateLimiter
	AdminSecret []byte
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(router)
	}

	if cfg.Webhooks != nil {
		cfg.Webhooks.RegisterRoutes(router)
	}

	if cfg.Orders != nil {
		router.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Middleware)
			}
			cfg.Orders.RegisterRoutes(r)
		})
	}

	if cfg.Admin != nil {
		router.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(cfg.AdminSecret))
			cfg.Admin.RegisterRoutes(r)
		})
	}

	return router
}
