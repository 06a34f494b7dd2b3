package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/checker-lobby/internal/config"
	"github.com/DoyleJ11/checker-lobby/internal/hub"
	"github.com/DoyleJ11/checker-lobby/internal/logging"
	"github.com/DoyleJ11/checker-lobby/internal/ws"
)

func SetupRoutes(h *hub.Hub, cfg config.Config, logger *zap.Logger) http.Handler {
	api := NewAPI(h, logger, cfg.AssignmentTimeout)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, ws.Options{
		BroadcastInterval: cfg.BroadcastInterval,
		WriteTimeout:      cfg.WriteTimeout,
		OriginPatterns:    cfg.Origins,
	}, logger))
	r.Get("/sessions/{id}/qr", api.SessionQR)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", api.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.GetSession)
			r.Post("/slots/{slot}/assign", api.AssignSlot)
			r.Post("/slots/{slot}/reassign", api.ReassignSlot)
			r.Post("/slots/{slot}/unassign", api.UnassignSlot)
		})
	})
	return r
}
