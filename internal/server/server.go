package server

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gridsim/notebook/internal/bridge"
	"github.com/gridsim/notebook/internal/config"
	"github.com/gridsim/notebook/internal/logging"
	"github.com/gridsim/notebook/internal/middleware"
	"github.com/gridsim/notebook/internal/monitoring"
	"github.com/gridsim/notebook/internal/notebook"
	"github.com/gridsim/notebook/internal/runtime"
	"github.com/gridsim/notebook/internal/scheduler"
	"github.com/gridsim/notebook/internal/ws"
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	router  *gin.Engine
	bridge  *bridge.Bridge
	sched   *scheduler.Scheduler
	runner  *notebook.Runner
	metrics *monitoring.Metrics
	logger  *logging.Logger
	cfg     *config.Config
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing execution backend",
		zap.String("port", cfg.Server.Port),
		zap.String("loader", cfg.Runtime.LoaderMode),
	)

	metrics, registry := monitoring.NewMetrics()

	b := bridge.New(bridge.Config{
		InitTimeout: cfg.Runtime.InitTimeout,
		ExecTimeout: cfg.Runtime.ExecTimeout,
		Packages:    runtime.DefaultPackages(),
		Loader:      runtime.NewLoader(cfg.Runtime),
		Logger:      logger,
	})

	sched := scheduler.New(scheduler.Config{
		ForceRerun: cfg.Runtime.ForceRerun,
		Logger:     logger,
	})

	runner := notebook.NewRunner(b, sched, logger)

	if err := registerManifests(cfg.Runtime.ManifestDir, runner, metrics, sched, logger); err != nil {
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(monitoring.Middleware(metrics))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	srv := &Server{
		router:  router,
		bridge:  b,
		sched:   sched,
		runner:  runner,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}

	wsHandler := ws.NewHandler(runner, b, sched, metrics, logger)

	router.GET("/", srv.handleRoot)
	router.GET("/health", srv.handleHealth)
	router.POST("/execute", srv.handleExecute)
	router.GET("/cells", srv.handleListCells)
	router.POST("/cells/:id/run", srv.handleRunCell)
	router.POST("/reset", srv.handleReset)
	router.GET("/metrics", metricsHandler(registry, metrics))
	router.GET("/stream", wsHandler.HandleConnection)

	return srv, nil
}

// registerManifests loads notebook manifests from disk; a missing directory
// is fine (pages may register cells over the wire instead).
func registerManifests(dir string, runner *notebook.Runner, metrics *monitoring.Metrics, sched *scheduler.Scheduler, logger *logging.Logger) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("manifest directory not found", zap.String("dir", dir))
		return nil
	}

	manifests, err := notebook.LoadDir(dir)
	if err != nil {
		return err
	}
	cells := 0
	for _, m := range manifests {
		if err := runner.RegisterManifest(m); err != nil {
			return err
		}
		cells += len(m.Cells)
	}
	metrics.CellsActive.Set(float64(cells))
	logger.Info("manifests loaded",
		zap.Int("manifests", len(manifests)), zap.Int("cells", cells))
	return nil
}

func metricsHandler(registry *prometheus.Registry, m *monitoring.Metrics) gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		m.UpdateUptime()
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Run starts the server.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.logger.Info("starting execution backend", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router exposes the gin engine, mainly for httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close tears down the runtime worker and flushes logs.
func (s *Server) Close() error {
	s.bridge.Terminate()
	s.logger.Sync()
	return nil
}
