package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/api"
	"github.com/veridoc/stmtguard-go/internal/cache"
	"github.com/veridoc/stmtguard-go/internal/classifier"
	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/database"
	"github.com/veridoc/stmtguard-go/internal/fusion"
	"github.com/veridoc/stmtguard-go/internal/logging"
	"github.com/veridoc/stmtguard-go/internal/middleware"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/rules"
	"github.com/veridoc/stmtguard-go/internal/services"
	"github.com/veridoc/stmtguard-go/internal/telemetry"
	"github.com/veridoc/stmtguard-go/internal/vision"
	"github.com/veridoc/stmtguard-go/pkg/oracle"
)

func main() {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	appLogger.LogStartup(telemetry.ServiceName, telemetry.ServiceVersion, cfg.Server.Port)

	logrusLogger := logrus.New()
	logrusLogger.SetLevel(logging.ParseLogrusLevel(cfg.LogLevel))
	if cfg.Environment == "production" {
		logrusLogger.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx := context.Background()

	telCfg := telemetry.DefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.Environment = cfg.Environment
	telCfg.LogLevel = cfg.LogLevel
	if cfg.Telemetry.Endpoint != "" {
		telCfg.OTLPEndpoint = resolveOTLPEndpoint(cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure)
	}
	provider, err := telemetry.InitTelemetryWithProvider(ctx, telCfg, slog.Default())
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logrusLogger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()

	db, err := database.NewPostgresConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	model, err := classifier.Load(cfg.Model.Path)
	if err != nil {
		log.Fatalf("Failed to load classifier model: %v", err)
	}
	if err := model.VerifyVersion(cfg.Model.Version); err != nil {
		log.Fatalf("Classifier model version check failed: %v", err)
	}
	scorer := classifier.NewScorer(model, logrusLogger)

	ruleEngine := rules.NewEngine(buildRuleOptions(&cfg.Rules), logrusLogger)
	fusionEngine := fusion.NewEngine(&cfg.Fusion)

	var visionAnalyzer services.VisionAnalyzer
	var breaker *services.CircuitBreaker
	if cfg.Oracle.Enabled {
		if cfg.Oracle.APIKey == "" {
			logrusLogger.Warn("vision oracle enabled but no API key configured, running without cross-check")
		} else {
			oracleClient := oracle.NewClient(&cfg.Oracle)

			// reachability probe; a failure here is a config problem worth
			// surfacing at startup, not a reason to refuse to serve
			probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
			if _, err := oracleClient.ListModels(probeCtx); err != nil {
				logrusLogger.WithError(err).Warn("vision oracle unreachable at startup, continuing with degraded cross-check")
			}
			cancelProbe()

			visionAnalyzer = vision.NewAdapter(oracleClient, &cfg.Oracle, logrusLogger)
			breaker = services.NewCircuitBreaker("vision-oracle", services.CircuitBreakerConfig{}, logrusLogger)
		}
	}

	tracedPool := database.NewTracedDB(db.Pool)
	verdictRepo := database.NewVerdictRepository(tracedPool)
	featureRepo := database.NewFeatureRepository(tracedPool)

	var verdictCache *cache.RedisVerdictCache
	if cfg.Cache.Enabled {
		verdictCache = cache.NewRedisVerdictCache(redisClient.Client, cfg.Cache.Prefix, cfg.Cache.VerdictTTL, logrusLogger)
	}

	deps := services.VerificationDeps{
		Rules:         ruleEngine,
		Scorer:        scorer,
		Fusion:        fusionEngine,
		Vision:        visionAnalyzer,
		Breaker:       breaker,
		OracleTimeout: cfg.Oracle.Timeout,
		Verdicts:      verdictRepo,
		FeatureLog:    featureRepo,
		Analytics:     services.NewActivityAnalyzer(cfg.Analytics.SMAPeriod, logrusLogger),
		Retrier:       services.NewRetrier(services.DefaultRetryPolicies(), logrusLogger),
		Logger:        logrusLogger,
	}
	if verdictCache != nil {
		deps.Cache = verdictCache
	}
	if alerts := services.NewNotificationService(&cfg.Alerts, logrusLogger); alerts.Enabled() {
		deps.Alerts = alerts
	}
	verificationService := services.NewVerificationService(deps)

	var authMiddleware *middleware.AuthMiddleware
	if cfg.Auth.Enabled {
		authMiddleware = middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	routerDeps := &api.RouterDeps{
		Verifier:    verificationService,
		Verdicts:    verdictRepo,
		DB:          db,
		Redis:       redisClient,
		Auth:        authMiddleware,
		Admin:       middleware.NewAdminMiddleware(),
		Logger:      logrusLogger,
		ServiceName: telemetry.ServiceName,
		Version:     telemetry.ServiceVersion,
	}
	if verdictCache != nil {
		routerDeps.Cache = verdictCache
	}
	api.SetupRoutes(router, routerDeps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrusLogger.WithField("port", cfg.Server.Port).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.LogShutdown(telemetry.ServiceName, "signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if verdictCache != nil {
		verdictCache.LogStats()
	}
	logrusLogger.Info("server exited")
}

// buildRuleOptions maps the flat configuration surface onto the rule engine's
// typed options.
func buildRuleOptions(cfg *config.RulesConfig) rules.Options {
	opts := rules.Options{
		BalanceTolerance:  decimal.NewFromFloat(cfg.BalanceTolerance),
		MaxFontCount:      cfg.MaxFontCount,
		MaxDuplicateDates: cfg.MaxDuplicateDates,
		KnownCreators:     cfg.KnownCreators,
		StatementKeywords: cfg.StatementKeywords,
		MinKeywordHits:    cfg.MinKeywordHits,
	}
	if len(cfg.Overrides) > 0 {
		opts.Overrides = make(map[string]rules.Override, len(cfg.Overrides))
		for id, ov := range cfg.Overrides {
			opts.Overrides[id] = rules.Override{
				Enabled:  ov.Enabled,
				Severity: models.Severity(ov.Severity),
			}
		}
	}
	return opts
}

// resolveOTLPEndpoint accepts both bare host:port values and full URLs from
// configuration and returns the scheme-qualified form the exporter expects.
func resolveOTLPEndpoint(endpoint string, insecure bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if insecure {
		return "http://" + endpoint
	}
	return "https://" + endpoint
}
