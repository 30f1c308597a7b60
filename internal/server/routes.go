package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/relaychat/internal/observability"
)

// Routes returns the HTTP handler with all application routes: health, the
// WebSocket endpoint, the test page, metrics and the REST API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsMiddleware)
	r.Use(observability.RequestLogger(s.log.Named("http")))

	r.Get("/", HealthHandler)
	r.Get("/health", HealthHandler)
	r.Get("/test", TestPageHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RESTRequestsPerMin, time.Minute))
		r.Use(s.requireIdentity)

		r.Get("/me", s.handleMe)
		r.Get("/rooms", s.handleListRooms)
		r.Post("/rooms", s.handleCreateRoom)
		r.Get("/rooms/{roomID}", s.handleGetRoom)
		r.Get("/rooms/{roomID}/messages", s.handleRoomMessages)
		r.Get("/messages/private/{userID}", s.handlePrivateMessages)
		r.Get("/users/online", s.handleOnlineUsers)
		r.Get("/users/{userID}", s.handleGetUser)
	})

	return r
}
