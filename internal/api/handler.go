package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"copytrading-core/internal/bot"
	"copytrading-core/internal/events"
	"copytrading-core/internal/gateway"
	"copytrading-core/internal/monitor"
	"copytrading-core/internal/scheduler"
	"copytrading-core/pkg/crypto"
	"copytrading-core/pkg/db"
)

// CycleRunner triggers one scheduler cycle on demand (debug surface).
type CycleRunner interface {
	RunCycle(ctx context.Context) (scheduler.Report, error)
}

// Server wires the thin HTTP control surface. Handlers mutate only bot
// config and run state; brokerage I/O stays in the engine.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Bot       *bot.Controller
	Metrics   *monitor.Metrics
	Cycles    CycleRunner
	Sealer    *crypto.Sealer
	Pool      *gateway.Pool
	Factory   gateway.Factory
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	PaperGateway  bool
	CycleInterval time.Duration
	Version       string
}

// NewServer builds the router with the full middleware stack.
func NewServer(bus *events.Bus, database *db.Database, controller *bot.Controller, metrics *monitor.Metrics,
	cycles CycleRunner, sealer *crypto.Sealer, pool *gateway.Pool, factory gateway.Factory,
	jwtSecret string, meta SystemMeta) *Server {

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Bot:       controller,
		Metrics:   metrics,
		Cycles:    cycles,
		Sealer:    sealer,
		Pool:      pool,
		Factory:   factory,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

// Start serves the API on addr until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
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
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			trading := protected.Group("/trading")
			{
				trading.POST("/account/connect", s.connectBrokerageAccount)
				trading.POST("/bot/start", s.startBot)
				trading.POST("/bot/stop", s.stopBot)
				trading.GET("/bot/status", s.getBotStatus)
				trading.PUT("/bot/settings", s.updateBotSettings)
				trading.GET("/bot/trades", s.listBotTrades)
			}
			protected.POST("/system/run-cycle", s.runCycle)
		}
	}
}
