package api

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawblock/factory-engine/internal/batch"
	"github.com/rawblock/factory-engine/internal/config"
	"github.com/rawblock/factory-engine/internal/db"
	"github.com/rawblock/factory-engine/internal/shadow"
	"github.com/rawblock/factory-engine/internal/solver"
	"github.com/rawblock/factory-engine/pkg/models"
)

// Options wires the router to the rest of the engine. Only Solver and Hub
// are required.
type Options struct {
	Server   config.ServerConfig
	Store    *db.PostgresStore    // nil runs without persistence
	Hub      *Hub                 // websocket event fan-out
	Solver   *batch.Solver        // shared so progress covers every request
	Shadow   *shadow.ShadowRunner // nil when shadow mode is off
	Limiter  *RateLimiter         // nil disables rate limiting
	Gatherer prometheus.Gatherer  // nil disables /metrics
}

type APIHandler struct {
	dbStore *db.PostgresStore
	wsHub   *Hub
	solver  *batch.Solver
	shadow  *shadow.ShadowRunner
}

func SetupRouter(opts Options) *gin.Engine {
	r := gin.Default()

	// CORS from server.allowed_origins / ALLOWED_ORIGINS. Empty or "*"
	// answers every origin.
	anyOrigin := opts.Server.AllowsAnyOrigin()
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if anyOrigin {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if slices.Contains(opts.Server.AllowedOrigins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore: opts.Store,
		wsHub:   opts.Hub,
		solver:  opts.Solver,
		shadow:  opts.Shadow,
	}

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/progress", handler.handleProgress)
		api.GET("/stream", opts.Hub.Subscribe)
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware(opts.Server.AuthToken))
	if opts.Limiter != nil {
		protected.Use(opts.Limiter.Middleware())
	}
	{
		protected.POST("/solve", handler.handleSolve)
		protected.POST("/solve/text", handler.handleSolveText)
		protected.POST("/machine", handler.handleMachine)
		protected.GET("/runs", handler.handleGetRuns)
		protected.GET("/runs/:id", handler.handleGetRun)
		protected.POST("/shadow", handler.handleShadow)
		protected.GET("/shadow/report", handler.handleShadowReport)
	}

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "RawBlock Factory Engine v1.0",
		"capabilities": gin.H{
			"toggle_bfs":        true,
			"parity_decomposer": true,
			"search_backend":    true,
			"shadow_mode":       h.shadow != nil,
		},
		"limits": gin.H{
			"maxCounters": models.MaxCounters,
			"maxButtons":  solver.MaxButtons,
		},
		"policy":      h.solver.Policy(),
		"dbConnected": h.dbStore != nil,
		"wsClients":   h.wsHub.ClientCount(),
	})
}

// handleProgress returns the lifetime counters of the batch solver.
func (h *APIHandler) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.solver.GetProgress())
}
