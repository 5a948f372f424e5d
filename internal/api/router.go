package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/middleware"
	"github.com/quarryworks/quarry/internal/storage"
	"github.com/quarryworks/quarry/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log            *logrus.Logger
	Pool           *dbpool.Pool
	Hub            *ws.Hub
	Bus            bus.Bus
	Objects        storage.ObjectStore
	Workspaces     WorkspaceService
	Documents      DocumentService
	Config         ConfigService
	Chats          ChatService
	CORSOrigins    []string
	Version        string
	OllamaURL      string
	EmbeddingModel string
}

// Router-level limits.
const (
	maxBodySize = 10 << 20 // 10 MB
	rateLimit   = 100      // requests per second per IP
	rateBurst   = 200      // token bucket burst size
	// ingestCost is the extra token charge on routes that enqueue pipeline or
	// model work, on top of the one-token global charge.
	ingestCost = 10
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, rl *middleware.RateLimiter, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           1 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(rl.Handler())
	r.Use(middleware.PrometheusMiddleware())

	// Metrics endpoint (outside the versioned API, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(ctx context.Context, api *gin.RouterGroup, rl *middleware.RateLimiter, deps *RouterDeps) {
	log := deps.Log
	heavy := rl.Weighted(ingestCost)

	health := NewHealthHandler(deps.Pool, deps.Hub, log, deps.Version, deps.OllamaURL, deps.EmbeddingModel)
	workspaces := NewWorkspaceHandler(deps.Workspaces, deps.Documents, deps.Bus, log)
	documents := NewDocumentHandler(deps.Workspaces, deps.Documents, deps.Objects, deps.Bus, log)
	config := NewConfigHandler(deps.Config, log)
	chat := NewChatHandler(deps.Workspaces, deps.Chats, deps.Bus, log)
	stats := NewStatsHandler(deps.Pool, log)

	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	// Global default configuration.
	api.GET("/config", config.GetDefault)
	api.PUT("/config", config.UpdateDefault)

	// Workspaces.
	api.POST("/workspaces", workspaces.Create)
	api.GET("/workspaces", workspaces.List)
	api.GET("/workspaces/:id", workspaces.Get)
	api.DELETE("/workspaces/:id", workspaces.Delete)
	api.GET("/workspaces/:id/stats", workspaces.Stats)
	api.GET("/workspaces/:id/config", config.GetSnapshot)
	api.PUT("/workspaces/:id/config", config.UpdateSnapshot)

	// Documents.
	api.POST("/workspaces/:id/documents", heavy, documents.Upload)
	api.GET("/workspaces/:id/documents", documents.List)
	api.GET("/documents/:id", documents.Get)

	// Chat.
	api.POST("/workspaces/:id/sessions", chat.CreateSession)
	api.GET("/workspaces/:id/sessions", chat.ListSessions)
	api.GET("/sessions/:id/messages", chat.History)
	api.POST("/sessions/:id/messages", heavy, chat.Send)
	api.POST("/sessions/:id/cancel", chat.Cancel)
	api.DELETE("/sessions/:id", chat.DeleteSession)

	// Stats.
	api.GET("/stats", stats.GetStats)

	// Workspace event stream.
	api.GET("/workspaces/:id/ws", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins, deps.Workspaces))
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	rl := middleware.NewRateLimiter(ctx, rateLimit, rateBurst)
	setupMiddleware(r, rl, deps)
	registerRoutes(ctx, r.Group("/api/v1"), rl, deps)

	return r
}
