// Package server exposes spritegate over HTTP: three WebSocket channel
// endpoints (chat, terminal, files) and a small REST surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/sprite-ai/spritegate/internal/history"
	"github.com/sprite-ai/spritegate/internal/identity"
	"github.com/sprite-ai/spritegate/internal/session"
	"github.com/sprite-ai/spritegate/internal/terminal"
	"github.com/sprite-ai/spritegate/internal/workspace"
)

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	EnableCORS  bool
	ReadTimeout time.Duration
	// WriteBuffer is the outbound event buffer per channel. A channel that
	// falls this far behind is disconnected.
	WriteBuffer int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:        "0.0.0.0",
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 0, // WebSocket connections are long-lived
		WriteBuffer: 256,
	}
}

// Deps are the subsystems the handlers serve from.
type Deps struct {
	Registry    *session.Registry
	Resolver    *identity.Resolver
	History     *history.Store
	Provisioner *workspace.Provisioner
	Terminal    terminal.Config
	// IgnorePatterns filters the file tree; empty means the defaults.
	IgnorePatterns []string
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	deps     Deps
	router   *chi.Mux
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New creates a server. It does not start listening.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WriteBuffer <= 0 {
		cfg.WriteBuffer = 256
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon fronts a browser app served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, used by tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
