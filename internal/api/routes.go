package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/veridoc/stmtguard-go/internal/api/handlers"
	"github.com/veridoc/stmtguard-go/internal/database"
	"github.com/veridoc/stmtguard-go/internal/middleware"
)

// RouterDeps carries everything the route table needs. Nil entries disable
// the corresponding surface: no Auth means an open API, no Cache means the
// admin cache endpoints answer 503.
type RouterDeps struct {
	Verifier    handlers.StatementVerifier
	Verdicts    handlers.VerdictReader
	Cache       handlers.VerdictCacheAdmin
	DB          *database.PostgresDB
	Redis       *database.RedisClient
	Auth        *middleware.AuthMiddleware
	Admin       *middleware.AdminMiddleware
	Logger      *logrus.Logger
	ServiceName string
	Version     string
}

// SetupRoutes registers every endpoint on the router.
func SetupRoutes(router *gin.Engine, deps *RouterDeps) {
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "stmtguard"
	}
	router.Use(otelgin.Middleware(serviceName, otelgin.WithFilter(middleware.TraceFilter)))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/live", healthHandler.Liveness)

	verifyHandler := handlers.NewVerificationHandler(deps.Verifier, deps.Logger)
	verdictHandler := handlers.NewVerdictHandler(deps.Verdicts, deps.Logger)
	cacheHandler := handlers.NewCacheHandler(deps.Cache, deps.Logger)

	v1 := router.Group("/api/v1")
	if deps.Auth != nil {
		v1.Use(deps.Auth.RequireAuth())
	}
	{
		statements := v1.Group("/statements")
		{
			statements.POST("/verify", verifyHandler.VerifyStatement)
		}

		verdicts := v1.Group("/verdicts")
		{
			verdicts.GET("/:id", verdictHandler.GetVerdict)
		}

		documents := v1.Group("/documents")
		{
			documents.GET("/:fingerprint/verdicts", verdictHandler.GetDocumentHistory)
		}

		admin := v1.Group("/admin")
		if deps.Admin != nil {
			admin.Use(deps.Admin.RequireAdminAuth())
		}
		{
			admin.GET("/cache/stats", cacheHandler.GetStats)
			admin.POST("/cache/clear", cacheHandler.ClearCache)
		}
	}
}
