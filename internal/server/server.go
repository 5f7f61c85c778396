// Package server exposes the event hub to overlay clients over WebSocket,
// plus status, health, metrics and the OAuth authorization routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/john/multichat/internal/credentials"
	"github.com/john/multichat/internal/hub"
	"github.com/john/multichat/internal/message"
)

// DefaultOutboxSize is the per-connection event buffer
const DefaultOutboxSize = 256

// Status reports which platforms are configured and authorized
type Status struct {
	Twitch         bool `json:"twitch"`
	TwitchAuthed   bool `json:"twitchAuthed"`
	YouTube        bool `json:"youtube"`
	Kick           bool `json:"kick"`
	Joystick       bool `json:"joystick"`
	JoystickAuthed bool `json:"joystickAuthed"`
}

// Deps are the collaborators of the HTTP surface
type Deps struct {
	Hub     *hub.Hub
	Enabled map[message.Platform]bool

	// Credential stores; nil when the platform is disabled
	Twitch   *credentials.Store
	Joystick *credentials.Store

	// LookupLogin resolves the Twitch login owning an access token
	LookupLogin func(ctx context.Context, accessToken string) (string, error)

	// OnAuthorized is called after new credentials are installed
	OnAuthorized func(message.Platform)

	StaticDir  string
	OutboxSize int
}

// Server is the HTTP surface
type Server struct {
	deps     Deps
	log      *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// New creates a new server listening on addr
func New(addr string, deps Deps) *Server {
	if deps.OutboxSize <= 0 {
		deps.OutboxSize = DefaultOutboxSize
	}
	if deps.OnAuthorized == nil {
		deps.OnAuthorized = func(message.Platform) {}
	}

	s := &Server{
		deps: deps,
		log:  slog.Default().With("component", "server"),
		upgrader: websocket.Upgrader{
			// Overlays are loaded from browser sources on any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	if s.deps.Twitch != nil {
		r.Get("/twitch/auth", s.handleAuth(s.deps.Twitch))
		r.Get("/twitch/callback", s.handleTwitchCallback)
	}
	if s.deps.Joystick != nil {
		r.Get("/joystick/auth", s.handleAuth(s.deps.Joystick))
		r.Get("/joystick/callback", s.handleJoystickCallback)
	}

	if s.deps.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.deps.StaticDir)))
	}

	return r
}

// Status returns the current platform flags
func (s *Server) Status() Status {
	return Status{
		Twitch:         s.deps.Enabled[message.Twitch],
		TwitchAuthed:   s.deps.Twitch != nil && s.deps.Twitch.HasToken(),
		YouTube:        s.deps.Enabled[message.YouTube],
		Kick:           s.deps.Enabled[message.Kick],
		Joystick:       s.deps.Enabled[message.Joystick],
		JoystickAuthed: s.deps.Joystick != nil && s.deps.Joystick.HasToken(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		s.log.Warn("failed to write status", "error", err)
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.server.Shutdown(ctx)
}
