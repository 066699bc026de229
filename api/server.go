// Package api is the HTTP shell around the matching engine: routing,
// request validation, authentication and error mapping. It holds no trading
// state of its own.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/birzha-dev/birzha/internal/exchange/engine"
	"github.com/birzha-dev/birzha/internal/exchange/model"
	"github.com/birzha-dev/birzha/internal/identities"
)

// Server represents the API server
type Server struct {
	router     *gin.Engine
	logger     *zap.Logger
	engine     *engine.Engine
	identities identities.IdentityService
	cache      *redis.Client // optional order book snapshot cache
}

// NewServer creates a new API server. cache may be nil to disable the order
// book snapshot cache.
func NewServer(logger *zap.Logger, eng *engine.Engine, ids identities.IdentityService, cache *redis.Client) *Server {
	server := &Server{
		logger:     logger,
		engine:     eng,
		identities: ids,
		cache:      cache,
	}

	// Create router
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Register the ticker format rule with gin's binding validator
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
			return model.ValidTicker(fl.Field().String())
		})
	}

	server.router = router
	server.registerRoutes()
	return server
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		pub := public.Group("/public")
		{
			pub.GET("/orderbook/:ticker", s.getOrderBook)
			pub.GET("/instruments", s.listInstruments)
			pub.GET("/trades/:ticker", s.listTrades)
		}

		auth := public.Group("/auth")
		{
			auth.POST("/register", s.register)
			auth.POST("/login", s.login)
		}
	}

	protected := s.router.Group("/api/v1")
	protected.Use(s.authMiddleware())
	{
		order := protected.Group("/order")
		{
			order.POST("", s.createOrder)
			order.GET("", s.listOrders)
			order.GET("/:order_id", s.getOrder)
			order.DELETE("/:order_id", s.cancelOrder)
		}
		protected.GET("/balance", s.getBalances)

		me := protected.Group("/users/me")
		{
			me.GET("", s.getProfile)
			me.PUT("", s.updateProfile)
			me.DELETE("", s.deleteProfile)
		}

		admin := protected.Group("/admin")
		admin.Use(s.adminMiddleware())
		{
			admin.POST("/instrument", s.addInstrument)
			admin.DELETE("/instrument/:ticker", s.delistInstrument)
			admin.POST("/balance/deposit", s.deposit)
			admin.POST("/balance/withdraw", s.withdraw)
		}
	}
}

// healthCheck reports liveness
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
