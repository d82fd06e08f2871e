package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/assessor"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/cache"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/config"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/handlers"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/llm"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/middleware"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/models"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/simulator"
	"github.com/nandipalleparthu-eng/saferoute-ai/server/state"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	holder      *state.Holder
	assessor    *assessor.Assessor
	driver      *simulator.Driver
	cache       cache.Cache
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	var logger *zap.Logger
	var err error

	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Validate configuration
	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if cfg.Simulation.AutoStart {
		server.driver.Start()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the simulation ticker; an in-flight assessment still completes.
	server.driver.Stop()

	if server.rateLimiter != nil {
		server.rateLimiter.Shutdown()
	}

	if server.cache != nil {
		if err := server.cache.Close(); err != nil {
			logger.Error("Failed to close cache", zap.Error(err))
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Initialize verdict cache
	var verdictCache cache.Cache
	if cfg.Cache.Enabled {
		verdictCache = cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, logger)
	}

	// Initialize risk model client
	classifier := llm.NewClient(llm.ClientConfig{
		BaseURL:             cfg.LLM.BaseURL,
		APIKey:              cfg.LLM.APIKey,
		Model:               cfg.LLM.Model,
		Timeout:             cfg.LLM.Timeout,
		HealthCheckInterval: cfg.LLM.HealthCheckInterval,
	}, logger)

	// Initialize sensor state with a calm baseline reading
	holder := state.NewHolder(models.SensorReading{
		VehicleID:      cfg.Simulation.VehicleID,
		LeftClearance:  120,
		RightClearance: 115,
		ClosingSpeed:   0.5,
		VehicleSpeed:   45,
		DrivingMode:    models.ModeTraffic,
		Timestamp:      time.Now().UnixMilli(),
	})

	// The websocket hub doubles as the assessor's event sink
	wsHandler := handlers.NewWebSocketHandler(holder, logger)

	riskAssessor := assessor.New(classifier, verdictCache, cfg.Cache.TTL, wsHandler, logger)
	wsHandler.SetAssessor(riskAssessor)

	driver := simulator.NewDriver(holder, riskAssessor, cfg.Simulation.Period, logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.AdminSecret, logger)

	// Setup router
	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))

	dashboardHandler := handlers.NewDashboardHandler(holder, riskAssessor, driver, logger)

	setupRoutes(router, cfg, dashboardHandler, wsHandler, authMiddleware, rateLimiter)

	return &Server{
		router:      router,
		logger:      logger,
		holder:      holder,
		assessor:    riskAssessor,
		driver:      driver,
		cache:       verdictCache,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}

func setupRoutes(router *gin.Engine, cfg *config.Config, dashboard *handlers.DashboardHandler, ws *handlers.WebSocketHandler, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) {
	// Health check (no auth required)
	router.GET("/health", middleware.HealthCheck())

	// WebSocket endpoint (rate limited)
	router.GET("/ws", rateLimiter.RateLimit(), ws.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		protected := api.Group("/")
		protected.Use(rateLimiter.RateLimit())
		{
			protected.GET("/reading", dashboard.GetReading)
			protected.PATCH("/reading", dashboard.PatchReading)
			protected.GET("/bounds", dashboard.GetBounds)

			protected.POST("/assess", dashboard.Assess)
			protected.GET("/assessment", dashboard.GetAssessment)
			protected.GET("/history", dashboard.GetHistory)
			protected.GET("/stats", dashboard.GetStats)

			protected.POST("/simulation/start", dashboard.StartSimulation)
			protected.POST("/simulation/stop", dashboard.StopSimulation)
			protected.GET("/simulation/status", dashboard.SimulationStatus)
		}

		// Admin endpoints (require authentication)
		admin := api.Group("/admin")
		admin.Use(auth.RequireAuth())
		admin.Use(auth.RequireRole("admin"))
		{
			admin.GET("/stats", dashboard.GetStats)
		}
	}

	// Static dashboard, when deployed alongside the backend
	if cfg.Server.DashboardDir != "" {
		router.Static("/static", cfg.Server.DashboardDir)
		router.StaticFile("/", cfg.Server.DashboardDir+"/index.html")
	}
}
