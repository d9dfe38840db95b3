package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/stock-issuance-api/api/swagger"
	"github.com/noah-isme/stock-issuance-api/internal/handler"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/repository"
	"github.com/noah-isme/stock-issuance-api/internal/router"
	"github.com/noah-isme/stock-issuance-api/internal/service"
	"github.com/noah-isme/stock-issuance-api/pkg/cache"
	"github.com/noah-isme/stock-issuance-api/pkg/config"
	"github.com/noah-isme/stock-issuance-api/pkg/database"
	"github.com/noah-isme/stock-issuance-api/pkg/export"
	"github.com/noah-isme/stock-issuance-api/pkg/logger"
)

// @title Stock Issuance API
// @version 1.0.0
// @description Stock request, approval routing, verification and issuance workflow.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()

	var redisClient *redis.Client
	if cfg.Routing.CacheEnabled {
		redisClient, err = cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, routing cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix)
	}
	routingCache := service.NewCacheService(cacheRepo, metrics, "routing", cfg.Routing.CacheTTL, logr)

	policy, err := service.LoadRoutingPolicy(cfg.Routing.PolicyFile)
	if err != nil {
		logr.Fatal("failed to load routing policy", zap.String("file", cfg.Routing.PolicyFile), zap.Error(err))
	}
	hierarchy := service.NewCachedHierarchy(repository.NewHierarchyRepository(db), routingCache)
	approverRouter := service.NewHierarchyRouter(hierarchy, policy, logr)

	validate := validator.New()
	store := repository.NewStore(db)
	users := repository.NewUserRepository(db)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})
	approvalSvc := service.NewApprovalService(store, approverRouter, metrics, logr)
	requestSvc := service.NewRequestService(store, approvalSvc, validate, logr)
	verificationSvc := service.NewVerificationService(store, metrics, logr)
	ledgerSvc := service.NewLedgerService(store, metrics, logr)
	exportSvc := service.NewExportService(store, cfg.Exports.MaxRows, logr, map[models.ExportFormat]service.Renderer{
		models.ExportFormatCSV: export.NewCSVExporter(cfg.Exports.CSVByteOrderMark),
	})

	engine := router.New(router.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		LogSkipPaths:   cfg.Log.SkipPaths,
		Tokens:         authSvc,
		Audit:          users,
		Metrics:        metrics,
		DB:             db,
		Auth:           handler.NewAuthHandler(authSvc),
		Requests:       handler.NewRequestHandler(requestSvc),
		Approvals:      handler.NewApprovalHandler(approvalSvc, hierarchy),
		Verifications:  handler.NewVerificationHandler(verificationSvc),
		Ledger:         handler.NewLedgerHandler(ledgerSvc, exportSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "policy", policy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
