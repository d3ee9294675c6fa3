package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/porticohq/portico/internal/auth"
	"github.com/porticohq/portico/internal/copilot"
	"github.com/porticohq/portico/internal/otel"
)

const defaultTimeout = 60 * time.Second

// Server holds the dependencies for the portal HTTP API.
type Server struct {
	router         *chi.Mux
	copilot        *copilot.Service
	resolver       *auth.Resolver
	copilotEnabled bool
	corsOrigins    []string
	version        string
	startTime      time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithCopilotEnabled toggles the copilot routes. Disabled routes return 404
// so the feature is invisible, not broken.
func WithCopilotEnabled(enabled bool) Option {
	return func(s *Server) { s.copilotEnabled = enabled }
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds a Server with the required dependencies and optional Option(s).
func NewServer(svc *copilot.Service, resolver *auth.Resolver, opts ...Option) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		copilot:        svc,
		resolver:       resolver,
		copilotEnabled: true,
		corsOrigins:    []string{"*"},
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler. The chat route carries no
// request timeout; the LLM client enforces its own deadline and the usage
// write must not race a middleware cutoff.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))

	r.Get("/health", s.handleHealth)

	if s.copilotEnabled {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.resolver))

			r.Post("/portal/copilot/chat", s.handleChat)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(defaultTimeout))
				r.Get("/portal/copilot/usage", s.handleUsage)
				r.Get("/portal/copilot/context/{projectID}", s.handleContextPreview)
			})
		})
	}

	return r
}
