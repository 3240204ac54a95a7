package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/auth"
	"github.com/org/sitepanel/internal/content"
	"github.com/org/sitepanel/internal/ratelimit"
	"github.com/org/sitepanel/pkg/models"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	// PasswordHash is the operator credential in salt:hash form. Empty means
	// login is impossible and answers "server misconfigured".
	PasswordHash string
	CookieSecure bool
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// Sections is the allow-list of editable section names.
	Sections []string

	LoginLimit ratelimit.Policy
	APILimit   ratelimit.Policy
	// StorageName is reported by the health endpoint.
	StorageName string
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
	LogEvent(ctx context.Context, event *models.AuditEvent)
}

// Deps are the components the server dispatches into. They are created by
// the caller so that each process (or test) owns its own state.
type Deps struct {
	Sessions *auth.SessionManager
	Content  *content.Store
	Limiter  *ratelimit.Limiter
	Auditor  AuditLogger
}

// Server is the API server.
type Server struct {
	sessions *auth.SessionManager
	content  *content.Store
	limiter  *ratelimit.Limiter
	auditor  AuditLogger
	sections map[string]bool
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(cfg Config, deps Deps) *Server {
	if len(cfg.Sections) == 0 {
		cfg.Sections = content.DefaultSections
	}
	sections := make(map[string]bool, len(cfg.Sections))
	for _, name := range cfg.Sections {
		sections[name] = true
	}

	return &Server{
		sessions: deps.Sessions,
		content:  deps.Content,
		limiter:  deps.Limiter,
		auditor:  deps.Auditor,
		sections: sections,
		cfg:      cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if s.cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(auditMiddleware(s.auditor))

	r.Get("/healthz", s.HealthHandler)
	r.Handle("/metrics", MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.throttleMiddleware)

		// Public routes (no auth required)
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", s.LoginHandler)
			r.Post("/auth/logout", s.LogoutHandler)
			r.Get("/auth/session", s.SessionHandler)
			r.Get("/content", s.ContentHandler)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.sessions))

			r.Get("/admin/content", s.ContentHandler)
			r.Get("/admin/content/{section}", s.SectionReadHandler)
			r.Patch("/admin/content/{section}", s.SectionWriteHandler)
			r.Get("/admin/sections", s.SectionsHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
