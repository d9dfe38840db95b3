package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/stock-issuance-api/internal/handler"
	"github.com/noah-isme/stock-issuance-api/internal/middleware"
	"github.com/noah-isme/stock-issuance-api/internal/models"
	"github.com/noah-isme/stock-issuance-api/internal/service"
	"github.com/noah-isme/stock-issuance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/stock-issuance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/stock-issuance-api/pkg/middleware/requestid"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options carries everything the HTTP surface depends on.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger
	LogSkipPaths   []string

	Tokens  middleware.TokenValidator
	Audit   middleware.AuditWriter
	Metrics *service.MetricsService
	DB      Pinger

	Auth          *handler.AuthHandler
	Requests      *handler.RequestHandler
	Approvals     *handler.ApprovalHandler
	Verifications *handler.VerificationHandler
	Ledger        *handler.LedgerHandler
}

// New builds the gin engine with every route registered.
func New(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger,
		logger.SkipPaths(opts.LogSkipPaths...),
		logger.WithFields(callerFields),
	))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics, "/metrics"))
	r.Use(middleware.WithResponseMeta())

	metrics := handler.NewMetricsHandler(opts.Metrics)
	r.GET("/health", metrics.Health)
	r.GET("/ready", readiness(opts.DB))
	r.GET("/metrics", metrics.Prometheus)

	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(opts.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", opts.Auth.Login)
	auth.POST("/refresh", opts.Auth.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(opts.Tokens))

	secured.POST("/auth/logout", opts.Auth.Logout)
	secured.GET("/auth/me", opts.Auth.Me)

	approvers := middleware.RequireRoles(models.RoleApprover, models.RoleAdmin)
	keepers := middleware.RequireRoles(models.RoleStoreKeeper, models.RoleAdmin)
	admins := middleware.RequireRoles(models.RoleAdmin)

	requests := secured.Group("/requests")
	requests.POST("", middleware.Audit(opts.Audit, opts.Logger, "REQUEST_SUBMIT", "requests"), opts.Requests.Submit)
	requests.GET("", opts.Requests.List)
	requests.GET("/:id", opts.Requests.Get)
	requests.GET("/:id/timeline", opts.Requests.Timeline)
	requests.POST("/:id/route", opts.Requests.Route)
	requests.POST("/:id/issue", keepers, middleware.Audit(opts.Audit, opts.Logger, "STOCK_ISSUE", "requests"), opts.Ledger.Issue)
	requests.DELETE("/:id", middleware.Audit(opts.Audit, opts.Logger, "REQUEST_DELETE", "requests"), opts.Requests.Delete)
	requests.DELETE("/:id/purge", admins, middleware.Audit(opts.Audit, opts.Logger, models.AuditActionRequestPurge, "requests"), opts.Requests.Purge)

	approvals := secured.Group("/approvals")
	approvals.POST("", admins, opts.Approvals.Create)
	approvals.GET("", approvers, opts.Approvals.List)
	approvals.GET("/:id", approvers, opts.Approvals.Get)
	approvals.POST("/:id/items/:itemId/decision", approvers, opts.Approvals.Decide)
	approvals.POST("/:id/finalize", approvers, middleware.Audit(opts.Audit, opts.Logger, "APPROVAL_FINALIZE", "approvals"), opts.Approvals.Finalize)

	verifications := secured.Group("/verifications")
	verifications.GET("", keepers, opts.Verifications.List)
	verifications.POST("/:id/forward", approvers, opts.Verifications.Forward)
	verifications.POST("/:id/verify", keepers, opts.Verifications.Verify)
	verifications.POST("/:id/reforward", keepers, opts.Verifications.Reforward)

	ledger := secured.Group("/ledger")
	ledger.GET("", keepers, opts.Ledger.List)
	ledger.GET("/export", keepers, opts.Ledger.Export)
	ledger.POST("/:id/return", keepers, middleware.Audit(opts.Audit, opts.Logger, "STOCK_RETURN", "ledger"), opts.Ledger.Return)

	secured.GET("/items", opts.Ledger.Items)

	admin := secured.Group("/admin", admins)
	admin.DELETE("/routing-cache", opts.Approvals.InvalidateRoutingCache)

	return r
}

func readiness(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func callerFields(c *gin.Context) []zap.Field {
	claims := middleware.Claims(c)
	if claims == nil {
		return nil
	}
	return []zap.Field{zap.String("user_id", claims.UserID), zap.String("role", string(claims.Role))}
}
