package main

import (
	"context"
	"strings"
	"time"

	"github.com/Laudkyle/fuel-me/internal/handlers"
	"github.com/Laudkyle/fuel-me/pkg/auth"
	"github.com/Laudkyle/fuel-me/pkg/config"
	"github.com/Laudkyle/fuel-me/pkg/database"
	"github.com/Laudkyle/fuel-me/pkg/kafka"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/monitoring"
	"github.com/Laudkyle/fuel-me/pkg/redis"
	"github.com/Laudkyle/fuel-me/pkg/server"
	"github.com/Laudkyle/fuel-me/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Fuel Credit API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Refresh tokens live in Redis when available, in memory otherwise
	var tokenStore auth.TokenStore = auth.NewMemoryTokenStore()
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := redis.NewClientFromURL(ctx, redisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		tokenStore = auth.NewRedisTokenStore(client)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(client))
		logger.Info("Redis refresh-token store enabled")
	} else {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(nil))
		logger.Warn("REDIS_URL not set; refresh tokens held in memory")
	}

	// Ledger events are published when brokers are configured
	var producer *kafka.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		var err error
		producer, err = kafka.NewProducer(
			strings.Split(brokers, ","),
			"bursar",
			config.GetEnv("KAFKA_LEDGER_TOPIC", "bursar.ledger_events"),
			logger,
		)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		healthChecker.AddCheck("kafka", func() monitoring.CheckResult {
			if err := producer.HealthCheck(); err != nil {
				return monitoring.CheckResult{Status: monitoring.StatusUnhealthy, Message: err.Error()}
			}
			return monitoring.CheckResult{Status: monitoring.StatusHealthy}
		})
		logger.Info("Kafka ledger event publishing enabled")
	}

	// Create custom credit-ledger metrics
	metrics := &handlers.BursarMetrics{
		FuelPurchases:   metricsCollector.NewCounter("fuel_purchases_total", "Fuel purchase transactions", []string{"status"}),
		Repayments:      metricsCollector.NewCounter("repayments_total", "Repayment transactions", []string{"status"}),
		InterestRuns:    metricsCollector.NewCounter("interest_runs_total", "Interest calculation passes", []string{"status"}),
		Penalties:       metricsCollector.NewCounter("penalties_applied_total", "Late payment penalties applied", []string{"type"}),
		CycleOperations: metricsCollector.NewCounter("billing_cycle_operations_total", "Billing cycle operations", []string{"operation", "status"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Initialize handlers
	handlers.Init(db, logger, metrics, handlers.Options{
		Events:        producer,
		TokenStore:    tokenStore,
		JWTSecret:     []byte(jwtSecret),
		LimitFailOpen: config.GetEnvBool("CREDIT_LIMIT_FAIL_OPEN", true),
	})

	// Optional billing sweeps (endpoint-driven by default)
	jobManager := handlers.NewJobManager(db, logger)
	if err := jobManager.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start billing jobs")
	}
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes
	{
		router.POST("/auth/register", handlers.Register)
		router.POST("/auth/login", handlers.Login)
		router.POST("/auth/refresh", handlers.RefreshToken)
		router.POST("/auth/logout", handlers.Logout)

		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// Credit ledger
			protected.POST("/credit/fuel-purchase", handlers.RecordFuelPurchase)
			protected.POST("/credit/repayment", handlers.ProcessRepayment)
			protected.POST("/credit/calculate-interest/:cycle_id", handlers.CalculateInterest)
			protected.GET("/credit/user/:user_id", handlers.GetUserTransactions)
			protected.GET("/credit/billing-cycle/current/:user_id", handlers.GetCurrentBillingCycle)

			// Billing cycles
			protected.POST("/billing-cycles/get-or-create", handlers.GetOrCreateBillingCycle)
			protected.POST("/billing-cycles/close/:cycle_id", handlers.CloseBillingCycle)
			protected.POST("/billing-cycles/open-next/:cycle_id", handlers.OpenNextBillingCycle)
			protected.POST("/billing-cycles/apply-penalty/:cycle_id", handlers.ApplyLatePenalty)
			protected.GET("/billing-cycles/history/:user_id", handlers.GetBillingCycleHistory)

			// Repayment schedules
			protected.POST("/repayment-schedules/from-cycle", handlers.CreateScheduleFromCycle)
			protected.PUT("/repayment-schedules/:schedule_id/status", handlers.UpdateScheduleStatus)
			protected.GET("/repayment-schedules/user/:user_id", handlers.GetUserSchedules)
			protected.GET("/repayment-schedules/:schedule_id", handlers.GetSchedule)

			// Fuel requests
			protected.POST("/requests", handlers.CreateRequest)
			protected.GET("/requests", handlers.GetAllRequests)
			protected.GET("/requests/user/:user_id", handlers.GetUserRequests)
			protected.GET("/requests/:request_id", handlers.GetRequest)
			protected.PUT("/requests/:request_id/approve", handlers.ApproveRequest)
			protected.PUT("/requests/:request_id/decline", handlers.DeclineRequest)

			// Profiles
			protected.GET("/profiles/:user_id", handlers.GetProfile)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18040")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
