package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Authenticator resolves a bearer credential to the identity it was issued for.
type Authenticator interface {
	Authenticate(token string) (chat.Identity, error)
}

// Server ties the hub, the coordination engine and the HTTP surface together.
type Server struct {
	cfg        Config
	hub        *Hub
	engine     *chat.Engine
	authn      Authenticator
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        *zap.Logger
}

// New builds a Server over store. cfg becomes the process-wide configuration
// read by connections.
func New(cfg *Config, store chat.Store, authn Authenticator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	SetConfig(cfg)

	s := &Server{
		cfg:   currentConfig(),
		hub:   NewHub(log.Named("hub")),
		authn: authn,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	s.engine = chat.NewEngine(store, s.hub,
		chat.WithLogger(log.Named("chat")),
		chat.WithHistoryLimit(s.cfg.HistoryLimit),
	)
	s.httpServer = CreateServer(s.cfg.Port, s.Routes())
	return s
}

// Engine returns the coordination engine.
func (s *Server) Engine() *chat.Engine { return s.engine }

// Hub returns the connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// HTTPServer returns the underlying HTTP server.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// Bootstrap prepares shared state that must exist before clients connect.
func (s *Server) Bootstrap(ctx context.Context) error {
	room, err := s.engine.EnsureGlobalRoom(ctx, s.cfg.GlobalRoomName)
	if err != nil {
		return err
	}
	s.log.Info("global room ready", zap.String("room_id", room.ID), zap.String("name", room.Name))
	return nil
}

// StartHub runs the hub in a separate goroutine. It must be called before
// the HTTP server accepts connections.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("hub started and ready to manage WebSocket connections")
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	return StartServer(s.httpServer, s.log)
}

// Shutdown stops accepting requests, then closes every connection. Each
// closed connection records its offline transition before the hub returns.
func (s *Server) Shutdown(timeout time.Duration) error {
	httpErr := ShutdownServer(s.httpServer, timeout, s.log)
	hubErr := s.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}
