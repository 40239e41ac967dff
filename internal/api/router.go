package api

import (
	"github.com/Conceptual-Machines/magda-composer/internal/api/handlers"
	apimiddleware "github.com/Conceptual-Machines/magda-composer/internal/api/middleware"
	"github.com/Conceptual-Machines/magda-composer/internal/config"
	"github.com/Conceptual-Machines/magda-composer/internal/storage"
	"github.com/gin-gonic/gin"
)

// Deps are the live objects the HTTP surface drives
type Deps struct {
	Config   *config.Config
	Studio   *handlers.Studio
	Tools    *handlers.ToolsHandler
	Store    storage.Store
	Recorder apimiddleware.RequestRecorder
}

func SetupRouter(deps Deps, version string) *gin.Engine {
	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking(deps.Recorder))

	// CORS middleware
	router.Use(apimiddleware.CORS())

	studio := deps.Studio

	healthHandler := handlers.NewHealthHandler(deps.Config, studio)
	router.GET("/health", healthHandler.HealthCheck)

	metricsHandler := handlers.NewMetricsHandler(version, studio)
	router.GET("/api/metrics", metricsHandler.GetMetrics)

	// Tool runtime
	toolsGroup := router.Group("/api/tools")
	{
		toolsGroup.GET("", deps.Tools.ListTools)
		toolsGroup.POST("/:name", deps.Tools.InvokeTool)
	}

	runtimeHandler := handlers.NewRuntimeHandler(studio)
	rt := router.Group("/api/runtime")
	{
		rt.GET("", runtimeHandler.GetSnapshot)
		rt.GET("/stream", runtimeHandler.StreamSnapshot)
		rt.GET("/history", runtimeHandler.GetHistory)
	}

	compositionHandler := handlers.NewCompositionHandler(studio)
	comp := router.Group("/api/composition")
	{
		comp.GET("", compositionHandler.GetComposition)
		comp.DELETE("", compositionHandler.Reset)
		comp.GET("/verify", compositionHandler.Verify)
		comp.GET("/code", compositionHandler.GetCode)
		comp.POST("/code", compositionHandler.LoadCode)
	}

	agentHandler := handlers.NewAgentHandler(studio)
	agentGroup := router.Group("/api/agent")
	{
		agentGroup.POST("/start", agentHandler.StartRun)
		agentGroup.POST("/stop", agentHandler.StopRun)
		agentGroup.GET("/status", agentHandler.GetStatus)
		agentGroup.GET("/stream", agentHandler.StreamStatus)
	}

	playbackHandler := handlers.NewPlaybackHandler(studio)
	playback := router.Group("/api/playback")
	{
		playback.GET("", playbackHandler.GetState)
		playback.POST("/play", playbackHandler.Play)
		playback.POST("/stop", playbackHandler.Stop)
		playback.POST("/loop", playbackHandler.SetLoop)
		playback.POST("/mute", playbackHandler.Mute)
		playback.POST("/volume", playbackHandler.SetVolume)
		playback.GET("/stream", playbackHandler.StreamPlayhead)
	}

	if deps.Store != nil {
		runsHandler := handlers.NewRunsHandler(studio, deps.Store)
		runs := router.Group("/api/runs")
		{
			runs.POST("", runsHandler.ShareRun)
			runs.GET("", runsHandler.ListRuns)
			runs.GET("/:id", runsHandler.GetRun)
			runs.POST("/:id/restore", runsHandler.RestoreRun)
		}
	}

	exportHandler := handlers.NewExportHandler(studio)
	export := router.Group("/api/export")
	{
		export.GET("/wav", exportHandler.ExportWAV)
		export.GET("/midi", exportHandler.ExportMIDI)
	}

	return router
}
