package main

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fadhlanhapp/splitbill-backend/auth"
	"github.com/fadhlanhapp/splitbill-backend/cache"
	"github.com/fadhlanhapp/splitbill-backend/config"
	"github.com/fadhlanhapp/splitbill-backend/handlers"
	"github.com/fadhlanhapp/splitbill-backend/logger"
	"github.com/fadhlanhapp/splitbill-backend/middleware"
	"github.com/fadhlanhapp/splitbill-backend/repository"
	"github.com/fadhlanhapp/splitbill-backend/routes"
	"github.com/fadhlanhapp/splitbill-backend/services"
)

// sharedState holds the cache, rate limiter and lock backends
type sharedState struct {
	cache   cache.Cache
	limiter cache.RateLimiter
	locker  cache.Locker
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Info(".env file not found, using environment variables")
	}

	cfg := config.Load()
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	gin.SetMode(cfg.Server.GinMode)

	ctx := context.Background()

	// Initialize database
	db, err := repository.InitDB(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	shared := newSharedState(ctx, cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// Initialize repositories and services
	groupRepo := repository.NewGroupRepository(db)
	billRepo := repository.NewBillRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	slackRepo := repository.NewSlackConfigRepository(db)

	notifier := services.NewNotificationService(cfg.Server.PublicBaseURL, cfg.Money.DefaultPhoneRegion, cfg.Slack.Timeout, shared.limiter, metrics)
	settlementService := services.NewSettlementService(groupRepo, settlementRepo, metrics)
	receiptService, err := services.NewReceiptService(cfg.OCR, cfg.Money.DefaultCurrency)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize receipt service")
	}
	if cfg.OCR.APIKey == "" {
		logrus.Warn("ANTHROPIC_API_KEY is not set, receipt extraction is disabled")
	}

	h := handlers.New(&handlers.HandlerServices{
		Groups: services.NewGroupService(groupRepo, billRepo, settlementRepo, shared.cache, cfg.Cache.TTL, cfg.Money.DefaultCurrency),
		Allocations: services.NewAllocationService(services.AllocationDeps{
			Groups:      groupRepo,
			Bills:       billRepo,
			Settlements: settlementRepo,
			Slack:       slackRepo,
			Calculator:  services.NewCalculationService(),
			Generator:   settlementService,
			Notifier:    notifier,
			Locker:      shared.locker,
			Cache:       shared.cache,
			Metrics:     metrics,
		}),
		Settlements: settlementService,
		Slack:       services.NewSlackService(slackRepo, groupRepo, billRepo, notifier),
		Receipts:    receiptService,
		Excel:       services.NewExcelService(groupRepo, billRepo, settlementRepo),
		DB:          db,
	})

	// Set up Gin router
	router := gin.New()
	router.Use(gin.Recovery())

	// Add New Relic middleware
	if app := newRelicApp(cfg.NewRelic); app != nil {
		router.Use(nrgin.Middleware(app))
	}
	router.Use(middleware.RequestMetrics(metrics.HTTPRequestDuration), middleware.RequestLogger())

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: !containsWildcard(cfg.Server.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Set up routes
	routes.SetupRoutes(router, h, auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration), registry)

	// Start server
	logrus.WithField("port", cfg.Server.Port).Info("Server starting")
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}

// newSharedState uses Redis when configured and in-process backends otherwise
func newSharedState(ctx context.Context, cfg *config.Config) sharedState {
	window := time.Minute
	if cfg.Redis.Address == "" {
		logrus.Info("REDIS_ADDRESS not set, cache and rate limiting are per process")
		return sharedState{
			cache:   cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL),
			limiter: cache.NewMemoryRateLimiter(cfg.Slack.RatePerMinute, window),
			locker:  cache.NewMemoryLocker(),
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to Redis")
	}
	logrus.WithField("address", cfg.Redis.Address).Info("Using Redis for cache, rate limiting and locks")

	return sharedState{
		cache:   cache.NewRedisCache(client, "splitbill:cache:"),
		limiter: cache.NewRedisRateLimiter(client, "splitbill:rate:", cfg.Slack.RatePerMinute, window),
		locker:  cache.NewRedisLocker(redislock.New(client), "splitbill:lock:"),
	}
}

// newRelicApp starts the New Relic agent when a license key is configured
func newRelicApp(cfg config.NewRelicConfig) *newrelic.Application {
	if cfg.LicenseKey == "" {
		return nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		logrus.WithError(err).Warn("Failed to initialize New Relic")
		return nil
	}
	return app
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
