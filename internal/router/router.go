package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/iris-api/internal/handlers"
	"github.com/Brownie44l1/iris-api/internal/middleware"
)

// Setup creates the gin engine with middleware and the scoring routes.
func Setup(scorer handlers.Scorer, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())

	h := handlers.NewHandler(scorer, logger)

	router.GET("/", h.Health)
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.POST("/score", h.Score)

	return router
}
