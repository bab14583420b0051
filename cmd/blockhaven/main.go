package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/blockhaven/server/internal/api"
	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/auth"
	"github.com/blockhaven/server/internal/gamestatus"
	"github.com/blockhaven/server/internal/instance"
	"github.com/blockhaven/server/internal/logging"
	"github.com/blockhaven/server/internal/metrics"
	"github.com/blockhaven/server/internal/ratelimit"
	"github.com/blockhaven/server/internal/rcon"
	"github.com/blockhaven/server/internal/serverlogs"
	"github.com/blockhaven/server/internal/websocket"
	"github.com/blockhaven/server/pkg/cache"
	"github.com/blockhaven/server/pkg/config"
	"github.com/blockhaven/server/pkg/database"
	"github.com/sirupsen/logrus"
)

const gameStatusCacheTTL = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"instance_id": cfg.EC2InstanceID,
		"region":      cfg.AWSRegion,
	}).Info("Starting BlockHaven admin server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS clients
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to load AWS configuration")
	}
	ec2Client := ec2.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)
	logsClient := cloudwatchlogs.NewFromConfig(awsCfg)

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	// Rate limit counter store
	store, closeStore, err := openCounterStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open rate limit store")
	}
	defer closeStore()

	checks := map[string]api.HealthChecker{}
	if pinger, ok := store.(api.HealthChecker); ok {
		checks["redis"] = pinger
	}

	var limiter *ratelimit.Limiter
	if store != nil {
		opts := []ratelimit.Option{ratelimit.WithTTLBuffer(cfg.RateLimitTTLBuffer)}
		if collector != nil {
			opts = append(opts, ratelimit.WithObserver(collector))
		}
		limiter = ratelimit.NewLimiter(store, ratelimit.DefaultPolicies(), log, opts...)
	} else {
		log.Warn("No rate limit store configured, admin API requests are not rate limited")
	}

	// Audit trail
	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}

		checks["database"] = db

		pgStore := audit.NewPostgresStore(db.Pool)
		auditStore = pgStore

		retention, err := audit.StartRetentionJob(cfg.AuditPurgeSchedule, pgStore, log)
		if err != nil {
			log.WithError(err).Fatal("Invalid audit purge schedule")
		}
		defer retention.Stop()
	} else {
		log.Warn("DATABASE_URL not set, audit records are written to the log only")
	}
	auditLogger := audit.NewLogger(auditStore, log)
	if collector != nil {
		auditLogger.SetObserver(collector)
	}

	// Game host
	controller := instance.NewController(ec2Client, cfg.EC2InstanceID, log)

	executor := rcon.NewExecutor(
		rcon.NewSSMService(ssmClient, cfg.EC2InstanceID, cfg.RconSubmitTimeout),
		rcon.Options{
			Container:    cfg.GameContainerName,
			InitialDelay: cfg.RconInitialDelay,
			PollInterval: cfg.RconPollInterval,
			MaxAttempts:  cfg.RconMaxAttempts,
		},
		nil,
		log,
	)
	if collector != nil {
		executor.SetObserver(collector)
	}

	logSource := serverlogs.NewCloudWatchSource(logsClient, cfg.LogGroupName)

	game := gamestatus.NewClient(gameStatusCacheTTL, log)
	defer game.Close()

	hub := websocket.NewHub(logSource, cfg.LogStreamInterval, log)
	go hub.Run(ctx)

	// Authentication
	sessions, err := auth.NewSessionManager(cfg.AuthSecret, cfg.IsProduction())
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize sessions")
	}
	var oauth api.IdentityProvider
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		oauth = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.BaseURL+"/api/auth/callback")
	} else {
		log.Warn("GitHub OAuth is not configured, sign-in is disabled")
	}

	services := &api.Services{
		Config:   cfg,
		Instance: controller,
		Game:     game,
		Logs:     logSource,
		Executor: executor,
		Audit:    auditLogger,
		Sessions: sessions,
		OAuth:    oauth,
		Admins:   auth.NewAllowlist(cfg.AdminUsernames),
		Limiter:  limiter,
		Hub:      hub,
		Metrics:  collector,
		Checks:   checks,
		Log:      log,
	}

	router := api.NewRouter(services)

	// WriteTimeout stays above the worst-case console command round trip.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("BlockHaven admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Flush pending audit writes
	auditLogger.Wait()

	log.Info("Server stopped")
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// openCounterStore returns the configured store, or nil when rate limiting
// is disabled.
func openCounterStore(cfg *config.Config, log logrus.FieldLogger) (ratelimit.Store, func(), error) {
	switch cfg.RateLimitStore {
	case config.StoreRedis:
		redisCache, err := cache.New(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("Rate limiting backed by Redis")
		return redisCache, func() { redisCache.Close() }, nil
	case config.StoreMemory:
		memory := cache.NewMemory()
		log.Info("Rate limiting backed by in-process memory")
		return memory, func() { memory.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
