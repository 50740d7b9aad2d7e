package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/auth"
	"github.com/lalithlochan/ldninbox/internal/metrics"
)

// RouterConfig wires the optional middleware of the router
type RouterConfig struct {
	Limiter Limiter // nil disables rate limiting
	Tokens  auth.TokenResolver
	Logger  *zap.Logger
	Timeout time.Duration
}

// NewRouter mounts every endpoint of h
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(auth.Middleware(cfg.Tokens))

	r.Route("/inbox", func(r chi.Router) {
		r.With(RateLimitMiddleware(cfg.Limiter, cfg.Logger, InboxKeyFunc)).Post("/", h.ReceiveNotification)
		r.Get("/", h.ListInbox)
		r.Options("/", h.InboxOptions)
	})
	r.Get("/notification", h.GetNotification)

	r.Route("/outgoing", func(r chi.Router) {
		r.Post("/", h.SendOutgoing)
		r.Post("/compose", h.ComposeOutgoing)
		r.Get("/", h.ListOutgoing)
		r.Get("/{id}", h.GetOutgoing)
		r.Get("/{id}/attempts", h.ListAttempts)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Post("/inboxes", h.CreateInbox)
		r.Post("/inboxes/{id}/primary", h.SetPrimaryInbox)
		r.Get("/inboxes/{id}/acl", h.ListRules)
		r.Post("/inboxes/{id}/acl", h.CreateRule)
		r.Delete("/acl/{id}", h.DeleteRule)
		r.Get("/origin", h.GetOrigin)
		r.Put("/origin", h.PutOrigin)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
