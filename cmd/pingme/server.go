package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pingme/internal/auth"
	"pingme/internal/chatsync"
	"pingme/internal/constants"
	"pingme/internal/httputil"
	"pingme/internal/metrics"
	"pingme/internal/middleware"
	"pingme/internal/models"
	"pingme/internal/realtime"
	"pingme/internal/service"
	"pingme/internal/versioning"
	"pingme/pkg/media"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the HTTP surface serves.
type Deps struct {
	Sync    *chatsync.Coordinator
	Users   *service.UserService
	Hub     *realtime.Hub
	Tokens  auth.Verifier
	Media   *media.Store
	DB      Pinger
	Limiter *middleware.LimiterPool
	// Verbose logs identifiers and message content unmasked.
	Verbose bool
}

type Server struct {
	cfg      *models.Config
	router   *mux.Router
	logger   *logrus.Logger
	deps     Deps
	versions *versioning.VersionMiddleware
	server   *http.Server
}

func NewServer(cfg *models.Config, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		logger:   logger,
		deps:     deps,
		versions: versioning.NewVersionMiddleware(logger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.VerboseLoggingMiddleware(s.deps.Verbose))
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.prometheusHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics.json", s.handleMetrics()).Methods(http.MethodGet)

	if s.deps.Media != nil {
		s.router.PathPrefix(media.RoutePrefix).Handler(s.deps.Media.Handler()).Methods(http.MethodGet, http.MethodHead)
	}

	// Empty origins restrict websocket handshakes to the serving host.
	ws := realtime.NewHandler(s.deps.Hub, s.deps.Tokens, s.cfg.Realtime, s.cfg.Server.AllowedOrigins, s.logger)
	s.router.Handle("/ws", s.versions.VersionHandler(ws)).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(auth.RequireUser(s.deps.Tokens, s.logger))
	api.Use(middleware.RateLimitMiddleware(s.deps.Limiter))
	api.Use(s.versions.VersionHandler)

	messages := api.PathPrefix("/messages").Subrouter()
	messages.HandleFunc("/send/{userId}", s.handleSend()).Methods(http.MethodPost)
	messages.HandleFunc("/reply/{messageId}", s.handleReply()).Methods(http.MethodPost)
	messages.HandleFunc("/edit/{messageId}", s.handleEdit()).Methods(http.MethodPut)
	messages.HandleFunc("/reaction/{messageId}", s.handleAddReaction()).Methods(http.MethodPost)
	messages.HandleFunc("/reaction/{messageId}", s.handleRemoveReaction()).Methods(http.MethodDelete)
	messages.HandleFunc("/read/{messageId}", s.handleMarkRead()).Methods(http.MethodPut)
	messages.HandleFunc("/deliver/{messageId}", s.handleMarkDelivered()).Methods(http.MethodPut)
	messages.HandleFunc("/conversation/{userId}", s.handleConversation()).Methods(http.MethodGet)
	messages.HandleFunc("/unread", s.handleUnread()).Methods(http.MethodGet)
	messages.HandleFunc("/{messageId}", s.handleGetMessage()).Methods(http.MethodGet)
	messages.HandleFunc("/{messageId}", s.handleDelete()).Methods(http.MethodDelete)

	users := api.PathPrefix("/users").Subrouter()
	users.HandleFunc("/online", s.handleOnlineUsers()).Methods(http.MethodGet)
	users.HandleFunc("/all", s.handleAllUsers()).Methods(http.MethodGet)
	users.HandleFunc("/search", s.handleSearchUsers()).Methods(http.MethodGet)
	users.HandleFunc("/{userId}", s.handleGetUser()).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port <= 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("port", port).Info("Starting server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every realtime session.
// Hijacked websocket connections are not tracked by http.Server, so the
// hub is closed explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok", "database": "ok"}
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed to reach the database")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
		if s.deps.Media != nil {
			body["media_circuit"] = s.deps.Media.Stats().State.String()
		}
		body["online_users"] = strconv.Itoa(len(s.deps.Hub.OnlineUsers()))
		_ = httputil.WriteJSON(w, status, body)
	}
}

func (s *Server) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, versioning.NewBuildInfo(Version, GitCommit, BuildTime))
	}
}

// prometheusHandler serves the internal metric registry in the Prometheus
// exposition format next to the Go runtime collectors.
func (s *Server) prometheusHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(metrics.GetRegistry(), "pingme"),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: s.logger})
}
