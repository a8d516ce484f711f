// Package handlers contains HTTP building blocks shared by the control API:
// health checks and reusable middleware.
//
// # Health Checks
//
// Checks run concurrently on every call. A failing check marks the daemon
// unhealthy; only a failing critical check also marks it not ready:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddCheck("snapshot_store", handlers.NewBreakerCheck(kv.Breaker()))
//	checker.AddCriticalCheck("timer_tick", handlers.NewHeartbeatCheck(5*time.Second, lastTick))
//
//	if status := checker.Check(ctx); !status.Ready {
//	    log.Warn("not ready", "message", status.Message)
//	}
//
// # Middleware
//
// Middleware composes with Chain; the first argument is the outermost layer:
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", []string{key})
//	limiter := handlers.NewRateLimiter(20, 40, 10*time.Minute)
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    limiter.Middleware(clientIP),
//	    auth.Middleware,
//	)
package handlers
