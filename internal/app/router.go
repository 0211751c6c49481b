package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/http/handlers"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/http/middleware"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
)

func wireRouter(log *logger.Logger, essayHandler *handlers.EssayHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("autocorrection"))
	router.Use(middleware.RequestLog(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-User-ID"},
	}))

	api := router.Group("/api")
	{
		api.POST("/essays", essayHandler.Submit)
		api.GET("/essays", essayHandler.List)
		api.GET("/essays/:id/status", essayHandler.Status)
		api.GET("/essays/:id/result", essayHandler.Result)
		api.POST("/essays/:id/resubmit", essayHandler.Resubmit)
		api.DELETE("/essays/:id", essayHandler.Delete)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
