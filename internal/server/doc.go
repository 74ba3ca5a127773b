// Package server provides HTTP server management for the holder service.
//
// Architecture:
//   - RouteProvider: components implement this to contribute routes
//   - Manager: combines RouteProviders into one HTTP server and adds the
//     operational endpoints (/health, /status, /metrics)
//
// Usage:
//
//	mgr := server.NewManager(&server.ServerConfig{
//	    Address:      cfg.Server.Address(),
//	    CORS:         cfg.Server.CORS,
//	    LoggingLevel: cfg.Logging.Level,
//	}, store, logger)
//
//	mgr.AddProvider(server.NewHolderProvider(handlers, issuerAuth))
//	mgr.Start(ctx)
package server
