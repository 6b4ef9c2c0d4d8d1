package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creatorpass/creatorpass/internal/auth"
	"github.com/creatorpass/creatorpass/internal/database"
	"github.com/creatorpass/creatorpass/internal/ratelimit"
	"github.com/creatorpass/creatorpass/internal/storage"
)

const defaultHeartbeat = 25 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// DB backs the catalog and notifications; nil selects Memory.
	DB     database.DBTX
	Memory *MemoryStore
	Pinger Pinger

	Objects storage.ObjectStore
	// Signer issues the download authorization embedded in delivery URLs.
	Signer *storage.Signer

	JWTSecret        string
	BaseURL          string
	AllowedOrigin    string
	PlaybackTokenTTL time.Duration
	Heartbeat        time.Duration
}

type Server struct {
	router    chi.Router
	pinger    Pinger
	catalog   Catalog
	notes     NotificationStore
	hub       *Hub
	objects   storage.ObjectStore
	signer    *storage.Signer
	jwtSecret string
	baseURL   string
	tokenTTL  time.Duration
	heartbeat time.Duration
	limiter   *ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(slogMiddleware)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:       cfg.BaseURL,
		AllowedOrigin: cfg.AllowedOrigin,
	}))

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	s := &Server{
		router:    r,
		pinger:    cfg.Pinger,
		hub:       NewHub(),
		objects:   cfg.Objects,
		signer:    cfg.Signer,
		jwtSecret: cfg.JWTSecret,
		baseURL:   baseURL,
		tokenTTL:  cfg.PlaybackTokenTTL,
		heartbeat: cfg.Heartbeat,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeat
	}

	switch {
	case cfg.DB != nil:
		pg := NewPGStore(cfg.DB)
		s.catalog, s.notes = pg, pg
	case cfg.Memory != nil:
		s.catalog, s.notes = cfg.Memory, cfg.Memory
	}

	if s.catalog != nil && cfg.JWTSecret == "" {
		slog.Warn("server: no JWT secret configured; API routes disabled")
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub exposes the notification fan-out so other components can publish.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	if s.objects != nil && s.signer != nil {
		s.router.Get("/file/*", s.handleFile)
		s.router.Head("/file/*", s.handleFile)
	}

	if s.catalog == nil || s.jwtSecret == "" {
		return
	}

	s.limiter = ratelimit.NewLimiter(1, 10, func(r *http.Request) string {
		if id := auth.UserIDFromContext(r.Context()); id != "" {
			return "user:" + id
		}
		return ratelimit.ClientIP(r)
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.jwtSecret))
		r.With(s.limiter.Middleware).Post("/playback/token", s.handlePlaybackToken)
		r.Get("/playback/secure/{media_id}", s.handleSecureURL)
		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications", s.handleCreateNotification)
		r.Post("/notifications/{id}/read", s.handleMarkRead)
		r.Get("/notifications/stream", s.handleNotificationStream)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
