package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/diagnosis-api/internal/middleware"
)

// Handler mounts its routes on a group, wrapped by mw.
type Handler interface {
	RegisterRoutes(r gin.IRouter, mw ...gin.HandlerFunc)
}

// HealthHandler mounts /health routes.
type HealthHandler interface {
	RegisterRoutes(r gin.IRouter)
}

// MetricsHandler records per-request metrics and serves /metrics.
type MetricsHandler interface {
	Middleware() gin.HandlerFunc
	Handler() gin.HandlerFunc
}

type Router struct {
	engine     *gin.Engine
	config     RouterConfig
	auth       *middleware.AuthMiddleware
	diagnosisH Handler
	patientH   Handler
	healthH    HealthHandler
	metricsH   MetricsHandler
}

type RouterConfig struct {
	Mode string

	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	DiagnosisLimit   rate.Limit
	DiagnosisBurst   int

	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NewRouter builds the engine. auth may be nil, which leaves the patient
// routes open.
func NewRouter(
	auth *middleware.AuthMiddleware,
	diagnosisH Handler,
	patientH Handler,
	healthH HealthHandler,
	metricsH MetricsHandler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	middleware.RegisterJSONFieldNames()

	engine := gin.New()

	r := &Router{
		engine:     engine,
		config:     config,
		auth:       auth,
		diagnosisH: diagnosisH,
		patientH:   patientH,
		healthH:    healthH,
		metricsH:   metricsH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		metricsH.Middleware(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		cors.New(r.corsConfig()),
	)

	return r
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  r.config.AllowedMethods,
		AllowHeaders:  r.config.AllowedHeaders,
		ExposeHeaders: []string{middleware.HeaderXRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(r.config.AllowedOrigins) == 0 || (len(r.config.AllowedOrigins) == 1 && r.config.AllowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = r.config.AllowedOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metricsH.Handler())

	api := r.engine.Group("/api")
	if r.config.MaxBodyBytes > 0 {
		api.Use(middleware.SizeLimit(r.config.MaxBodyBytes))
	}
	api.Use(middleware.Timeout(r.config.RequestTimeout))
	if r.config.RateLimitEnabled {
		api.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		}).RateLimit())
	}

	var generate []gin.HandlerFunc
	if r.config.RateLimitEnabled && r.config.DiagnosisLimit > 0 {
		generate = append(generate, middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.DiagnosisLimit,
			Burst: r.config.DiagnosisBurst,
		}).RateLimit())
	}
	r.diagnosisH.RegisterRoutes(api, generate...)

	var protected []gin.HandlerFunc
	if r.auth != nil {
		protected = append(protected, r.auth.Authenticate())
	}
	r.patientH.RegisterRoutes(api, protected...)

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Route not found"})
	})
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
