package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/api/middleware"
	"github.com/latticehq/lattice/backend/internal/infrastructure/config"
	"github.com/latticehq/lattice/backend/internal/logging"
)

// Server wraps the HTTP surface around a Host
type Server struct {
	engine *gin.Engine
	host   *Host
	logger *logging.Logger
	http   *http.Server
}

// New builds the host and its HTTP surface
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	host, err := NewHost(cfg, logger)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(nil))
	engine.Use(middleware.RateLimit(cfg.RateLimit))

	handlers := newHandlers(host)

	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/stats", handlers.Stats)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		host.metrics.Registry(),
		promhttp.HandlerOpts{},
	)))

	// Bundle registration and validation
	engine.POST("/manifests", handlers.RegisterManifest)
	engine.POST("/manifests/validate", handlers.ValidateBundle)
	engine.GET("/manifests", handlers.ListManifests)
	engine.GET("/manifests/:key", handlers.GetManifest)

	// Widget lifecycle
	engine.POST("/widgets", handlers.MountWidget)
	engine.GET("/widgets", handlers.ListWidgets)
	engine.GET("/widgets/:id", handlers.GetWidget)
	engine.DELETE("/widgets/:id", handlers.UnmountWidget)
	engine.POST("/widgets/:id/suspend", handlers.SuspendWidget)
	engine.POST("/widgets/:id/resume", handlers.ResumeWidget)

	// Pipeline connections
	engine.POST("/connections", handlers.AddConnection)
	engine.GET("/connections", handlers.ListConnections)
	engine.DELETE("/connections/:id", handlers.RemoveConnection)
	engine.POST("/connections/:id/enable", handlers.SetConnectionEnabled)
	engine.GET("/pipeline/export", handlers.ExportPipeline)
	engine.POST("/pipeline/import", handlers.ImportPipeline)
	engine.GET("/pipeline/validate", handlers.ValidatePipeline)

	// Wiring suggestions
	engine.POST("/suggest", handlers.Suggest)

	// Cross-boundary routes and scopes
	engine.POST("/routes", handlers.AddRoute)
	engine.GET("/routes", handlers.ListRoutes)
	engine.DELETE("/routes/:id", handlers.RemoveRoute)
	engine.POST("/routes/:id/enable", handlers.SetRouteEnabled)
	engine.GET("/scopes", handlers.ListScopes)
	engine.POST("/scopes/:id/subscribe", handlers.SubscribeScope)
	engine.DELETE("/subscriptions/:id", handlers.Unsubscribe)

	// WebSocket endpoints
	engine.GET("/ws/widget/:instanceId", host.channels.HandleConnection)
	engine.GET("/ws/scope", host.bridge.HandleConnection)

	return &Server{
		engine: engine,
		host:   host,
		logger: logger.Component("server"),
	}, nil
}

// Host exposes the underlying host, mainly for tests
func (s *Server) Host() *Host {
	return s.host
}

// Engine exposes the gin engine, mainly for tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the heartbeat and serves until Shutdown
func (s *Server) Run(addr string) error {
	s.host.Start()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Info("Host listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains HTTP and tears the host down
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.host.Stop()
	return err
}
