package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/billing-api/internal/handler"
	"github.com/jwalitptl/billing-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit      float64
	RateBurst      int
	CORSOrigins    []string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Mode           string
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	health   *handler.Handler
	handlers []Handler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	health *handler.Handler,
	config Config,
	handlers ...Handler,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.Metrics(),
		middleware.SecurityHeaders(),
		middleware.CORS(middleware.DefaultCORSConfig(config.CORSOrigins...)),
		middleware.Timeout(config.RequestTimeout),
		middleware.BodyLimit(config.MaxBodyBytes),
	)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return &Router{
		engine:   engine,
		auth:     auth,
		health:   health,
		handlers: handlers,
	}
}

func (r *Router) Setup() *gin.Engine {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.health.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range r.handlers {
		h.RegisterRoutes(protected)
	}

	return r.engine
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
