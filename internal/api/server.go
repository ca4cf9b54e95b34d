// Package api exposes the tracking workflow over HTTP and pushes live status
// events to websocket clients.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/events"
	"github.com/report-tracking-server/internal/metrics"
	"github.com/report-tracking-server/internal/tracking"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Options holds the server's configuration and collaborators. Events and
// Metrics are optional.
type Options struct {
	Server  domain.ServerConfig
	Auth    domain.AuthConfig
	Engine  *tracking.Engine
	Events  *events.Bus
	Metrics *metrics.Tracking
	Logger  *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg     domain.ServerConfig
	engine  *tracking.Engine
	auth    *Authenticator
	hub     *Hub
	metrics *metrics.Tracking
	logger  *logrus.Logger
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(opts Options) *Server {
	// Set Gin mode based on log level
	if opts.Logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CorrelationID())
	router.Use(RequestLogger(opts.Logger))
	router.Use(SecurityHeaders())
	router.Use(corsMiddleware())
	if opts.Metrics != nil {
		router.Use(RequestMetrics(opts.Metrics))
	}

	s := &Server{
		cfg:     opts.Server,
		engine:  opts.Engine,
		auth:    NewAuthenticator(opts.Auth, opts.Engine.Store().Users(), opts.Logger),
		metrics: opts.Metrics,
		logger:  opts.Logger,
		router:  router,
	}
	if opts.Events != nil {
		var onCount func(int)
		if opts.Metrics != nil {
			onCount = opts.Metrics.SetEventSubscribers
		}
		s.hub = NewHub(opts.Events, opts.Logger, onCount)
	}

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub, or nil when events are disabled
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.hub != nil {
		s.router.GET("/ws", s.auth.Middleware(), s.hub.ServeWS)
	}

	v1 := s.router.Group("/api/v1/tracking")
	v1.Use(s.auth.Middleware(), RequestTimeout(s.cfg.RequestTimeout))
	{
		v1.GET("/definitions", s.listDefinitions)
		v1.POST("/definitions", s.createDefinition)
		v1.GET("/definitions/:slug", s.getDefinition)
		v1.PUT("/definitions/:slug", s.updateDefinition)
		v1.DELETE("/definitions/:slug", s.deleteDefinition)
		v1.PUT("/definitions/:slug/tasks", s.updateDefinitionTasks)
		v1.PUT("/definitions/:slug/group", s.updateDefinitionGroup)

		v1.POST("/analyses/:analysis/generate", s.generate)
		v1.GET("/analyses/:analysis/states", s.listStates)
		v1.GET("/patients/:patient/analyses/:analysis/states/:state", s.findState)
		v1.GET("/patients/:patient/analyses/:analysis/states/:state/tasks/:task", s.findTask)

		v1.GET("/states/:ident", s.getState)
		v1.PUT("/states/:ident", s.updateState)
		v1.DELETE("/states/:ident", s.deleteState)
		v1.PUT("/states/:ident/status/:status", s.setStateStatus)
		v1.PUT("/states/:ident/assign/:user", s.assignState)
		v1.POST("/states/:ident/next", s.createNextState)

		v1.GET("/tasks/:ident", s.getTask)
		v1.PUT("/tasks/:ident", s.updateTask)
		v1.PATCH("/tasks/:ident/checkin", s.checkIn)
		v1.DELETE("/tasks/:ident/checkin/:target", s.cancelCheckIn)
		v1.PUT("/tasks/:ident/assign/:user", s.assignTask)
		v1.PUT("/tasks/:ident/target/:n", s.updateCheckInsTarget)

		v1.GET("/hooks", s.listHooks)
		v1.POST("/hooks", s.createHook)
		v1.GET("/hooks/:ident", s.getHook)
		v1.PUT("/hooks/:ident", s.updateHook)
		v1.DELETE("/hooks/:ident", s.deleteHook)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}
	if s.hub != nil {
		body["ws_clients"] = s.hub.Clients()
	}
	c.JSON(http.StatusOK, body)
}
