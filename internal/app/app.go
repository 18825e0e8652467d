package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coolpix/server/internal/module/email"
	"github.com/coolpix/server/internal/module/generation"
	"github.com/coolpix/server/internal/module/payment"
	"github.com/coolpix/server/internal/module/tune"
	"github.com/coolpix/server/internal/module/user"
	sharedcache "github.com/coolpix/server/internal/shared/cache"
	"github.com/coolpix/server/internal/shared/config"
	"github.com/coolpix/server/internal/shared/database"
	"github.com/coolpix/server/internal/shared/logger"
	"github.com/coolpix/server/internal/shared/storage"
	"github.com/coolpix/server/internal/utils/metrics"
	"github.com/coolpix/server/internal/utils/middleware"
)

// App wires together every module of the coolpix server.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine

	metrics *metrics.Metrics
	monitor *generation.Monitor

	generationHandler *generation.Handler
	tuneHandler       *tune.Handler
	tuneWebhooks      *tune.WebhookHandler
	userHandler       *user.Handler
	paymentWebhooks   *payment.WebhookHandler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New("coolpix"),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	// Redis is optional: without it the generation cache is disabled
	// but everything else works.
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis connection failed, generation cache disabled", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()
	app.monitor.StartMonitoring()
	return app, nil
}

func (a *App) initModules() error {
	cfg := a.config

	// Generation
	registry := generation.NewRegistry()
	registry.Register(generation.NewFalProvider(cfg.AI.FalAPIKey))
	registry.Register(generation.NewLeonardoProvider(cfg.AI.LeonardoAPIKey))

	a.monitor = generation.NewMonitor(registry, &generation.MonitorConfig{
		DegradedLatency: cfg.AI.DegradedLatency,
		CheckInterval:   cfg.AI.HealthCheckInterval,
	}, a.metrics, a.logger)

	var genCache *generation.Cache
	if a.redis != nil && cfg.AI.CacheEnabled {
		genCache = generation.NewCache(a.redis, &generation.CacheConfig{
			Prefix: "gen:",
			TTL:    cfg.AI.CacheTTL,
		}, a.metrics)
	}

	router := generation.NewRouter(registry, a.monitor, genCache, generation.RouterConfig{
		PrimaryProvider:  cfg.AI.PrimaryProvider,
		FallbackProvider: cfg.AI.FallbackProvider,
		FallbackEnabled:  cfg.AI.FallbackEnabled,
		CacheEnabled:     cfg.AI.CacheEnabled && genCache != nil,
		RequestTimeout:   cfg.AI.RequestTimeout,
	}, a.metrics, a.logger)

	a.generationHandler = generation.NewHandler(router, a.monitor, a.logger)

	// Email
	var notifier email.Sender = email.NopSender{}
	if cfg.Email.Enabled && cfg.Email.ResendAPIKey != "" {
		notifier = email.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.FromAddress, a.logger)
	}

	// Users and photo storage
	userRepo := user.NewRepository(a.db)

	var photoStore user.PhotoStore
	var ingestor *tune.HeadshotIngestor
	if cfg.Storage.Endpoint != "" {
		store, err := storage.New(&storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Bucket:          cfg.Storage.Bucket,
		})
		if err != nil {
			return fmt.Errorf("init photo storage: %w", err)
		}
		photoStore = store
		ingestor = tune.NewHeadshotIngestor(store, a.logger)
	}
	userService := user.NewService(userRepo, photoStore, a.logger)
	a.userHandler = user.NewHandler(userService, a.logger)

	// Tune claim guard
	var trainer tune.Trainer
	switch cfg.Tune.Provider {
	case "fal":
		trainer = tune.NewFalTrainer(cfg.Tune.FalAPIKey)
	default:
		trainer = tune.NewAstriaTrainer(cfg.Tune.AstriaAPIKey)
	}

	resubmitWindow := cfg.Tune.ResubmitWindow
	if !cfg.Server.IsProduction() {
		resubmitWindow = 0
	}
	guard := tune.NewGuard(userRepo, trainer, tune.GuardConfig{
		RequiredPhotos:    cfg.Tune.RequiredPhotos,
		ResubmitWindow:    resubmitWindow,
		TrainingSteps:     cfg.Tune.TrainingSteps,
		TriggerWordPrefix: cfg.Tune.TriggerWordPrefix,
		BaseURL:           cfg.Server.BaseURL,
		WebhookSecret:     cfg.Tune.WebhookSecret,
	}, a.metrics, a.logger)
	a.tuneHandler = tune.NewHandler(guard, a.logger)
	a.tuneWebhooks = tune.NewWebhookHandler(userRepo, cfg.Tune.WebhookSecret, notifier, ingestor, a.metrics, a.logger)

	// Payments
	paymentRepo := payment.NewRepository(a.db)
	paymentService := payment.NewService(paymentRepo, userRepo, notifier, a.logger)
	a.paymentWebhooks = payment.NewWebhookHandler(
		paymentService,
		cfg.Payment.PolarWebhookSecret,
		cfg.Payment.StripeWebhookSecret,
		a.metrics,
		a.logger,
	)

	return nil
}

func (a *App) setupRouter() *gin.Engine {
	if a.config.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(a.config.Server.CORSOrigins...))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	// Webhooks authenticate with their own secrets, not the JWT.
	webhooks := api.Group("/webhooks")
	a.tuneWebhooks.RegisterRoutes(webhooks)
	a.paymentWebhooks.RegisterRoutes(webhooks)

	validator := middleware.NewJWTValidator(a.config.Auth.JWTSecret)
	authed := api.Group("")
	authed.Use(middleware.RequireAuth(validator))
	a.generationHandler.RegisterRoutes(authed)
	a.tuneHandler.RegisterRoutes(authed)
	a.userHandler.RegisterRoutes(authed)

	return r
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Migrate runs the schema migrations.
func (a *App) Migrate() error {
	return a.db.AutoMigrate(
		&user.User{},
		&payment.Order{},
		&payment.WebhookEvent{},
	)
}

// Stop releases application resources.
func (a *App) Stop() {
	a.monitor.StopMonitoring()

	if a.redis != nil {
		if err := sharedcache.Close(a.redis); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
