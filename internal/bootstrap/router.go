package bootstrap

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	httpapi "github.com/idan55/makeamitsva-backend/internal/api/http"
	"github.com/idan55/makeamitsva-backend/internal/api/http/middleware"
	"github.com/idan55/makeamitsva-backend/internal/auth"
	authhttp "github.com/idan55/makeamitsva-backend/internal/auth/http"
	authmw "github.com/idan55/makeamitsva-backend/internal/auth/middleware"
	favorshttp "github.com/idan55/makeamitsva-backend/internal/favors/http"
	"github.com/idan55/makeamitsva-backend/internal/logging"
	"github.com/idan55/makeamitsva-backend/internal/metrics"
)

type RouterDeps struct {
	ServiceName    string
	Version        string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Services       *Services
	// Verifier checks Firebase ID tokens. Nil falls back to X-User-Id headers.
	Verifier authmw.TokenVerifier
	Log      logrus.FieldLogger
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(dep.Log))
	r.Use(metrics.Middleware())
	r.Use(corsMiddleware(dep.CORSOrigins))

	svc := dep.Services

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, svc.Users, svc.Requests)
	healthHandler.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")

	favors := favorshttp.New(svc.Favors, logging.Component(dep.Log, "favors-http"))
	favors.RegisterPublic(api)

	authed := api.Group("")
	if dep.Verifier != nil {
		authed.Use(authmw.FirebaseAuthMiddleware(dep.Verifier))
	} else {
		authed.Use(auth.HeaderIdentity())
	}
	authed.Use(auth.WithUser(svc.Auth))

	var writeMW []gin.HandlerFunc
	if dep.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(dep.RateLimitRPS, dep.RateLimitBurst)
		writeMW = append(writeMW, middleware.RateLimit(limiter, auth.UserID))
	}
	favors.Register(authed, writeMW...)
	authhttp.New(svc.Auth).Register(authed)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-Id", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
