// Package api assembles the gin router for the print server.
package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Actief-IT-Services/aits-print-server/internal/api/handlers"
	"github.com/Actief-IT-Services/aits-print-server/internal/api/middleware"
	"github.com/Actief-IT-Services/aits-print-server/internal/core"
	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
)

// NewRouter wires every route. Health and token exchange stay outside
// the auth guard; everything else under /api/v1 requires credentials
// when keys are configured.
func NewRouter(queue *core.Queue, backend printer.Backend, auth *middleware.Auth, hub *handlers.EventHub, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	jobs := handlers.NewJobHandler(queue)
	printers := handlers.NewPrinterHandler(backend)

	router.GET("/health", handlers.Health)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", auth.TokenHandler)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		protected.POST("/print", jobs.SubmitJob)
		protected.GET("/jobs", jobs.ListJobs)
		protected.GET("/jobs/:id", jobs.GetJob)
		protected.POST("/jobs/:id/cancel", jobs.CancelJob)
		protected.GET("/stats", jobs.Stats)

		protected.GET("/printers", printers.ListPrinters)
		protected.GET("/printers/:name", printers.GetPrinter)

		if hub != nil {
			protected.GET("/events", hub.ServeWS)
		}
	}

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client", c.ClientIP(),
		)
	}
}
