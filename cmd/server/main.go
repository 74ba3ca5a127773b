package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/api"
	"github.com/sirosfoundation/go-dcp-holder/internal/backend"
	"github.com/sirosfoundation/go-dcp-holder/internal/dcp"
	"github.com/sirosfoundation/go-dcp-holder/internal/did"
	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/events"
	"github.com/sirosfoundation/go-dcp-holder/internal/poller"
	"github.com/sirosfoundation/go-dcp-holder/internal/server"
	"github.com/sirosfoundation/go-dcp-holder/internal/service"
	"github.com/sirosfoundation/go-dcp-holder/internal/statuslist"
	"github.com/sirosfoundation/go-dcp-holder/internal/sts"
	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
	"github.com/sirosfoundation/go-dcp-holder/pkg/logging"
	"github.com/sirosfoundation/go-dcp-holder/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting DCP Holder",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Initialize storage backend
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(ctx)
	cancel()
	if err != nil {
		logger.Fatal("Failed to ping storage", zap.Error(err))
	}
	logger.Info("Storage backend initialized", zap.String("type", string(store.Type())))

	// Outbound collaborators
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	resolver, closeResolver, err := did.NewResolver(ctx, cfg.DID, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize DID resolver", zap.Error(err))
	}
	defer func() { _ = closeResolver() }()

	participants, err := sts.LoadRegistry(cfg.Participants, logger)
	if err != nil {
		logger.Fatal("Failed to load participants", zap.Error(err))
	}

	publisher, err := events.NewPublisher(cfg.Events, logger)
	if err != nil {
		logger.Fatal("Failed to initialize event publisher", zap.Error(err))
	}
	defer func() { _ = publisher.Close() }()

	clock := clockwork.NewRealClock()
	deps := service.Collaborators{
		Participants: participants,
		Endpoints:    dcp.NewEndpointResolver(resolver),
		Issuer:       dcp.NewIssuerClient(cfg.Requests.HTTPTimeout()),
		Tokens:       sts.NewTokenService(participants, clock, cfg.Requests.TokenTTL()),
		Events:       publisher,
		Clock:        clock,
	}
	revocation := statuslist.NewRegistry(cfg.Requests.HTTPTimeout(), logger)

	// Initialize services
	services := service.NewServices(store, cfg, deps, revocation, logger)

	// Polling engine drives the request state machine
	engine := poller.New[*domain.HolderCredentialRequest](store.HolderRequests(),
		poller.WithBatchSize(cfg.Polling.BatchSize),
		poller.WithPollInterval(cfg.Polling.PollInterval()),
		poller.WithConcurrency(cfg.Polling.Concurrency),
		poller.WithMetrics(poller.NewMetrics(prometheus.DefaultRegisterer)),
		poller.WithLogger(logger.Named(logging.ComponentPoller)),
	)
	for _, p := range services.Requests.Processors(cfg.Polling.RequestedPollInterval()) {
		if err := engine.Register(p); err != nil {
			logger.Fatal("Failed to register processor", zap.String("processor", p.Name), zap.Error(err))
		}
	}

	// HTTP surface
	mgr := server.NewManager(&server.ServerConfig{
		Address:      cfg.Server.Address(),
		CORS:         cfg.Server.CORS,
		LoggingLevel: cfg.Logging.Level,
		StorageType:  string(store.Type()),
	}, store, logger)
	handlers := api.NewHandlers(services, logger)
	mgr.AddProvider(server.NewHolderProvider(handlers, middleware.IssuerTokenMiddleware(did.NewKeyResolver(resolver), clock, logger)))

	if err := mgr.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	engine.Start()
	services.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := engine.Stop(ctx); err != nil {
		logger.Error("Polling engine did not stop cleanly", zap.Error(err))
	}
	services.Stop()

	logger.Info("Server exited")
}
