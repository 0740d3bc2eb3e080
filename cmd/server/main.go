package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/tradeguard-api/internal/auth"
	"github.com/ksred/tradeguard-api/internal/breaker"
	"github.com/ksred/tradeguard-api/internal/config"
	"github.com/ksred/tradeguard-api/internal/database"
	"github.com/ksred/tradeguard-api/internal/events"
	"github.com/ksred/tradeguard-api/internal/exchange"
	"github.com/ksred/tradeguard-api/internal/guard"
	"github.com/ksred/tradeguard-api/internal/idempotency"
	"github.com/ksred/tradeguard-api/internal/orders"
	"github.com/ksred/tradeguard-api/internal/signals"
	"github.com/ksred/tradeguard-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Demo credentials registered at startup
var (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
	testTenantID  = "tenant-demo"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trading safety guard server with graceful
// shutdown support. It sets up all required services, database connections,
// background workers, and API routes
func main() {
	// Local overrides for development; missing file is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(testAPIKey, testAPISecret, testTenantID)

	publisher := newPublisher(cfg)
	defer publisher.Close()

	breakerService := breaker.NewService(db, publisher, authService)
	breakerHandlers := breaker.NewGinHandlers(breakerService)

	ledger := newLedger(cfg, db)
	ordersDB := orders.NewDatabase(db)

	adapters := exchange.NewRegistry()
	// The demo tenant talks to a simulated exchange; real deployments
	// register per-tenant adapters here from their connection config.
	adapters.Register(testTenantID, "SIM",
		exchange.NewSimulatedAdapter("SIM", "Simulated Exchange", 5, 30, 0.05))

	verifier := guard.NewVerifier(ordersDB, adapters, cfg.Verifier.AdapterTimeout)
	guardService := guard.NewService(ledger, verifier, ordersDB)
	guardHandlers := guard.NewGinHandlers(guardService)

	// Create and start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	scheduler := breaker.NewScheduler(breakerService, cfg.Breaker.SchedulerInterval)
	go scheduler.Start(workerCtx)

	sweeper := idempotency.NewSweeper(ledger, cfg.Ledger.SweepInterval)
	go sweeper.Start(workerCtx)

	if cfg.Signals.FeedURL != "" {
		stream := signals.NewStream(cfg.Signals.FeedURL, breakerService)
		go stream.Start(workerCtx)
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, authHandlers, breakerHandlers, guardHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop background workers before the HTTP server so no transition is
	// half-applied when connections drain
	workerCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// newPublisher selects the breaker event sink from configuration
func newPublisher(cfg *config.Config) events.Publisher {
	if cfg.Events.Publisher == "kafka" {
		zlog.Info().
			Strs("brokers", cfg.Events.KafkaBrokers).
			Str("topic", cfg.Events.KafkaTopic).
			Msg("publishing breaker events to kafka")
		return events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	}
	return events.NewLogPublisher()
}

// newLedger selects the idempotency store from configuration
func newLedger(cfg *config.Config, db *gorm.DB) idempotency.Ledger {
	if cfg.Ledger.Backend == "redis" {
		client, err := idempotency.NewRedisClient(cfg.Ledger.RedisAddr, cfg.Ledger.RedisPassword, cfg.Ledger.RedisDB)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect to redis ledger")
		}
		zlog.Info().Str("addr", cfg.Ledger.RedisAddr).Msg("using redis idempotency ledger")
		return idempotency.NewRedisLedger(client)
	}
	return idempotency.NewSQLLedger(db)
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Breaker routes: Protected by JWT authentication, tenant-scoped
// - Internal routes: Protected by internal network authentication; these
//   carry the acting tenant explicitly since the caller is a platform service
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	breakerHandlers *breaker.GinHandlers,
	guardHandlers *guard.GinHandlers,
) {
	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Breaker routes
		breakers := v1.Group("/breakers")
		breakers.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			breakers.POST("", breakerHandlers.CreateBreakerHandler())
			breakers.GET("", breakerHandlers.ListBreakersHandler())
			breakers.GET("/:breaker_id", breakerHandlers.GetBreakerHandler())
			breakers.PUT("/:breaker_id", breakerHandlers.UpdateBreakerHandler())
			breakers.DELETE("/:breaker_id", breakerHandlers.DeleteBreakerHandler())
			breakers.POST("/:breaker_id/trip", breakerHandlers.TripBreakerHandler())
			breakers.POST("/:breaker_id/reset", breakerHandlers.ResetBreakerHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/signals", breakerHandlers.EvaluateSignalHandler())
			internal.GET("/trading-status", breakerHandlers.TradingStatusHandler())
			internal.POST("/orders/check-retry", guardHandlers.CheckRetryHandler())
			internal.POST("/orders/submissions", guardHandlers.RegisterSubmissionHandler())
			internal.PUT("/orders/submissions/:idempotency_key", guardHandlers.RecordOutcomeHandler())
			internal.DELETE("/orders/submissions/:idempotency_key", guardHandlers.ReleaseSubmissionHandler())
		}
	}
}
