package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"usdtgate/internal/infrastructure/config"
	"usdtgate/internal/interfaces/http/middleware"
	"usdtgate/internal/shared/logger"
)

// OrderAPI is implemented by the order handler; the indirection keeps the
// router free of application imports.
type OrderAPI interface {
	Create(c *gin.Context)
	Cancel(c *gin.Context)
	Detail(c *gin.Context)
}

// NewRouter assembles the gin engine: signed merchant endpoints, the public
// order detail the checkout page polls, the health probe and /metrics.
func NewRouter(cfg *config.Config, orders OrderAPI, log logger.Interface) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log.Named("http")))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	verifier := middleware.NewSignatureVerifier(cfg.App.AuthToken, log)

	v1 := engine.Group("/api/v1")
	{
		orderGroup := v1.Group("/order")
		orderGroup.POST("/create", verifier.Handler(), orders.Create)
		orderGroup.POST("/cancel", verifier.Handler(), orders.Cancel)
		orderGroup.GET("/detail/:trade_no", orders.Detail)
	}

	return engine
}

func requestLogger(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= 500 {
			log.Errorw("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
			)
		}
	}
}
