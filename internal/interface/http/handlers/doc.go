// Package handlers contains the HTTP health checks and reusable middleware.
//
// # Health Checks
//
// Named checks run in parallel, each under its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("store", handlers.NewPingCheck(pool))
//	checker.AddCheck("cache", handlers.NewPingCheck(cache))
//
// # Middleware
//
// API keys are configured as bcrypt hashes:
//
//	auth, err := handlers.NewAPIKeyAuth("X-API-Key", hashes)
//	protected := handlers.ChainHandler(apiRoutes,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(1<<20),
//	    auth.Middleware,
//	)
package handlers
