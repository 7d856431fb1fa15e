package api

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/vanguard/pkg/config"
	"github.com/cuemby/vanguard/pkg/failover"
	"github.com/cuemby/vanguard/pkg/health"
	"github.com/cuemby/vanguard/pkg/metrics"
	"github.com/cuemby/vanguard/pkg/session"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
	"github.com/cuemby/vanguard/pkg/watchdog"
)

// Dependencies bundles everything a running vanguard instance hands the
// admin API: read access to pooler state plus a handful of process-
// control hooks that only cmd/vanguard (the process entry point) can
// implement. Coordinator is nil on a node running without watchdog
// clustering (config.UseWatchdog == false); handlers degrade the
// watchdog endpoints to 404 in that case rather than panicking.
type Dependencies struct {
	Config      *config.Config
	Nodes       []types.BackendNode
	Table       *statustable.Table
	Stats       *health.StatsRegistry
	Sessions    *session.Registry
	Executor    *failover.Executor
	Coordinator *watchdog.Coordinator

	// Reload re-reads and re-validates the on-disk config, swapping it
	// in only if valid (spec §7's config_invalid rule). Shutdown begins
	// a graceful process stop. LogRotate reopens the configured log
	// destination. Any of the three may be nil, in which case the
	// corresponding control action reports 501.
	Reload    func() error
	Shutdown  func()
	LogRotate func() error
}

// NewRouter builds the chi router for spec §5's admin surface. /auth/login
// and the /metrics, /healthz, /readyz and /livez scrape/probe routes are
// served without credentials; every other route requires adminAuth.
func NewRouter(deps Dependencies, jwtSecret []byte) chi.Router {
	s := &Server{deps: deps, jwtSecret: jwtSecret}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger)

	r.Post("/auth/login", s.handleLogin)

	// Scrape/probe endpoints are deliberately left outside adminAuth:
	// Prometheus and container-runtime liveness/readiness probes have no
	// bearer token to present.
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())

	r.Group(func(r chi.Router) {
		r.Use(adminAuth(jwtSecret, deps.Config.AdminUsername, deps.Config.AdminPasswordHash))

		r.Get("/status", s.handleStatus)
		r.Get("/nodes", s.handleListNodes)
		r.Get("/nodes/{id}", s.handleGetNode)
		r.Post("/nodes/{id}/{action}", s.handleNodeAction)
		r.Get("/processes", s.handleProcesses)
		r.Get("/health/stats", s.handleHealthStats)
		r.Post("/control/{action}", s.handleControl)
		r.Post("/cache/invalidate", s.handleCacheInvalidate)
		r.Get("/watchdog/info", s.handleWatchdogInfo)
		r.Get("/watchdog/status", s.handleWatchdogStatus)
		r.Post("/watchdog/start", s.handleWatchdogStart)
		r.Post("/watchdog/stop", s.handleWatchdogStop)
	})

	return r
}
