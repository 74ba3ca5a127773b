package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/api"
	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
	"github.com/sirosfoundation/go-dcp-holder/pkg/middleware"
)

// RouteProvider allows components to register their routes on the shared router
type RouteProvider interface {
	// RegisterRoutes adds this component's routes to the router.
	RegisterRoutes(router *gin.Engine)

	// Name returns the component name for logging
	Name() string
}

// HealthChecker reports whether the storage behind the service is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Address      string
	CORS         config.CORSConfig
	LoggingLevel string
	// StorageType is reported on /status
	StorageType string
	// Gatherer backs /metrics; nil means the default prometheus registry
	Gatherer prometheus.Gatherer
}

// Manager combines RouteProviders into an HTTP server
type Manager struct {
	cfg    *ServerConfig
	health HealthChecker
	logger *zap.Logger

	providers []RouteProvider

	httpServer *http.Server
	router     *gin.Engine
}

// NewManager creates a new server manager
func NewManager(cfg *ServerConfig, health HealthChecker, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		health:    health,
		logger:    logger.Named("server"),
		providers: make([]RouteProvider, 0),
	}
}

// AddProvider adds a RouteProvider to the manager.
// Call this before Start() to register all components.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider", zap.String("name", p.Name()))
}

// Handler builds the router with all registered routes. It is built once.
func (m *Manager) Handler() http.Handler {
	if m.router != nil {
		return m.router
	}

	if m.cfg.LoggingLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m.router = m.buildRouter()
	for _, p := range m.providers {
		m.logger.Info("Registering HTTP routes", zap.String("component", p.Name()))
		p.RegisterRoutes(m.router)
	}
	m.addStatusEndpoints(m.router)
	return m.router
}

// Start starts the HTTP server in the background
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Address == "" {
		return errors.New("server address is required")
	}

	m.httpServer = &http.Server{
		Addr:         m.cfg.Address,
		Handler:      m.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		m.logger.Info("HTTP server listening", zap.String("address", m.cfg.Address))
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.httpServer == nil {
		return nil
	}
	if err := m.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// buildRouter creates a new router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(m.logger))
	if len(m.cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     m.cfg.CORS.AllowedOrigins,
			AllowMethods:     m.cfg.CORS.AllowedMethods,
			AllowHeaders:     m.cfg.CORS.AllowedHeaders,
			ExposeHeaders:    m.cfg.CORS.ExposedHeaders,
			AllowCredentials: m.cfg.CORS.AllowCredentials,
			MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
		}))
	}
	return router
}

// addStatusEndpoints adds /health, /status and /metrics routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, api.NewStatusResponse("ok", ""))
	})

	router.GET("/status", func(c *gin.Context) {
		if m.health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			if err := m.health.Ping(ctx); err != nil {
				m.logger.Warn("Storage ping failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, api.NewStatusResponse("unavailable", m.cfg.StorageType))
				return
			}
		}
		c.JSON(http.StatusOK, api.NewStatusResponse("ok", m.cfg.StorageType))
	})

	gatherer := m.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
