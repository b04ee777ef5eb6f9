package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	v1 := router.Group("/v1")
	{
		v1.POST("/ingest/market", h.IngestMarket)
		v1.POST("/ingest/screentime", h.IngestScreenTime)

		v1.GET("/market/live", h.MarketLive)
		v1.GET("/market/history/:symbol", h.MarketHistory)
		v1.GET("/market/ws", h.MarketStream)

		v1.GET("/screentime/daily", h.ScreenTimeDaily)
	}

	router.GET("/healthz", h.Health)

	return router
}

// requestID tags every request with an ID for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
