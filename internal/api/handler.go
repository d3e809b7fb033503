package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"genx-core/internal/analytics"
	"genx-core/internal/bridge"
	"genx-core/internal/engine"
	"genx-core/internal/events"
	"genx-core/internal/monitor"
	"genx-core/internal/reconciliation"
	"genx-core/internal/risk"
	"genx-core/internal/validator"
	"genx-core/pkg/cache"
	"genx-core/pkg/db"
)

// Server exposes the trading core over the admin HTTP surface. Every
// collaborator is read through its own concurrency-safe API; the server
// holds no state of its own beyond the start timestamp.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Bridge    *bridge.Server
	Pipeline  *engine.Pipeline
	Sizer     *risk.Sizer
	Validator *validator.Validator
	History   *analytics.History
	Quotes    *cache.QuoteCache
	Recon     *reconciliation.Service
	Metrics   *monitor.Metrics
	Log       *zap.Logger
	JWTSecret string
	Creds     Credentials
	Meta      SystemMeta

	sortinoTarget  float64
	periodsPerYear float64
	startedAt      time.Time
}

// SystemMeta describes runtime identity exposed on the status endpoint.
type SystemMeta struct {
	Version    string
	HostID     string
	Symbols    []string
	BridgeAddr string
	Simulation bool
}

// Config carries the server's collaborators and settings.
type Config struct {
	Bus       *events.Bus
	DB        *db.Database
	Bridge    *bridge.Server
	Pipeline  *engine.Pipeline
	Sizer     *risk.Sizer
	Validator *validator.Validator
	History   *analytics.History
	Quotes    *cache.QuoteCache
	Recon     *reconciliation.Service
	Metrics   *monitor.Metrics
	Log       *zap.Logger

	JWTSecret string
	Creds     Credentials
	Meta      SystemMeta

	SortinoTarget  float64
	PeriodsPerYear float64
}

// NewServer builds the router and wires all routes.
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewMetrics()
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(cfg.Log, cfg.Metrics))
	r.Use(RateLimitMiddleware(cfg.Log))
	r.Use(TimeoutMiddleware(30*time.Second, cfg.Log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       cfg.Bus,
		DB:        cfg.DB,
		Bridge:    cfg.Bridge,
		Pipeline:  cfg.Pipeline,
		Sizer:     cfg.Sizer,
		Validator: cfg.Validator,
		History:   cfg.History,
		Quotes:    cfg.Quotes,
		Recon:     cfg.Recon,
		Metrics:   cfg.Metrics,
		Log:       cfg.Log,
		JWTSecret: cfg.JWTSecret,
		Creds:     cfg.Creds,
		Meta:      cfg.Meta,

		sortinoTarget:  cfg.SortinoTarget,
		periodsPerYear: cfg.PeriodsPerYear,
		startedAt:      time.Now().UTC(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/agents", s.getAgents)
			protected.POST("/command", s.sendCommand)

			protected.GET("/signals", s.getSignals)
			protected.POST("/signals", s.submitSignal)
			protected.GET("/signals/queued", s.getQueuedSignals)

			protected.GET("/results", s.getTradeResults)

			protected.GET("/portfolio", s.getPortfolio)
			protected.GET("/portfolio/closed", s.getClosedPositions)
			protected.POST("/positions/:symbol/close", s.closePosition)

			protected.GET("/analytics", s.getAnalytics)
			protected.GET("/validator/stats", s.getValidatorStats)
			protected.GET("/validator/reports", s.getValidatorReports)

			protected.GET("/quotes", s.getQuotes)
			protected.GET("/reconciliation", s.getReconciliation)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
