// Package api wires the HTTP surface: route groups, handlers and the
// middleware chain.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/steamlens/steamlens-go/internal/api/handlers"
	"github.com/steamlens/steamlens-go/internal/cache"
	"github.com/steamlens/steamlens-go/internal/database"
	"github.com/steamlens/steamlens-go/internal/middleware"
)

// Dependencies carries everything the routes need.
type Dependencies struct {
	DB           *database.PostgresDB
	Redis        *database.RedisClient
	Games        handlers.GameStore
	History      handlers.HistoryStore
	Analytics    handlers.AnalysisRunner
	Ingestion    handlers.IngestionRunner
	Cache        *cache.ResultCache
	AccessLogger *logrus.Logger
}

// SetupRoutes registers the middleware chain and all route groups on the
// router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("steamlens"))
	if deps.AccessLogger != nil {
		router.Use(middleware.AccessLog(deps.AccessLogger))
	}

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis)
	router.GET("/health", healthHandler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		analyticsHandler := handlers.NewAnalyticsHandler(deps.Analytics)
		analytics := v1.Group("/analytics")
		{
			analytics.POST("/did", analyticsHandler.SubmitDiD)
			analytics.POST("/survival", analyticsHandler.SubmitSurvival)
			analytics.POST("/elasticity", analyticsHandler.SubmitElasticity)
			analytics.GET("/results", analyticsHandler.ListResults)
			analytics.GET("/results/:id", analyticsHandler.GetResult)
		}

		gamesHandler := handlers.NewGamesHandler(deps.Games, deps.History)
		games := v1.Group("/games")
		{
			games.GET("", gamesHandler.ListGames)
			games.GET("/:id", gamesHandler.GetGame)
			games.GET("/:id/history", gamesHandler.GetHistory)
		}

		ingestionHandler := handlers.NewIngestionHandler(deps.Ingestion)
		ingestion := v1.Group("/ingestion")
		{
			ingestion.POST("/trigger", ingestionHandler.Trigger)
			ingestion.GET("/jobs", ingestionHandler.ListJobs)
		}

		dashboardHandler := handlers.NewDashboardHandler(deps.Games, deps.Cache)
		v1.GET("/dashboard", dashboardHandler.GetDashboard)
	}
}
