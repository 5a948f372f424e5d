package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/ws"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	pool           *dbpool.Pool
	hub            *ws.Hub
	log            *logrus.Logger
	httpClient     *http.Client
	version        string
	startTime      time.Time
	ollamaURL      string
	embeddingModel string
}

// NewHealthHandler creates a HealthHandler with the given dependencies.
func NewHealthHandler(pool *dbpool.Pool, hub *ws.Hub, log *logrus.Logger, version, ollamaURL, embeddingModel string) *HealthHandler {
	return &HealthHandler{
		pool:           pool,
		hub:            hub,
		log:            log,
		httpClient:     &http.Client{Timeout: 2 * time.Second},
		version:        version,
		startTime:      time.Now(),
		ollamaURL:      ollamaURL,
		embeddingModel: embeddingModel,
	}
}

// healthResponse is the JSON payload returned by the health/liveness endpoint.
type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Database      string  `json:"database"`
	Model         string  `json:"model"`
	WSClients     int     `json:"ws_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /api/v1/health.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		Database:      "connected",
		Model:         h.embeddingModel,
		WSClients:     h.hub.ClientCount(),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	// Best-effort database ping (non-fatal for liveness).
	if h.pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.pool.HealthCheck(ctx); err != nil {
			resp.Database = "disconnected"
		}
	} else {
		resp.Database = "not_configured"
	}

	c.JSON(http.StatusOK, resp)
}

// Readiness handles GET /api/v1/ready — checks DB, schema, and the model server.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := map[string]string{
		"database": "ok",
		"schema":   "ok",
		"ollama":   "ok",
	}
	status := "ready"
	statusCode := http.StatusOK

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.pool.HealthCheck(ctx); err != nil {
		h.log.WithError(err).Error("readiness: database health check failed")
		checks["database"] = "error"
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	if checks["database"] == "ok" {
		if err := h.checkSchema(ctx); err != nil {
			h.log.WithError(err).Error("readiness: schema check failed")
			checks["schema"] = "error"
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
	}

	if err := h.checkOllama(ctx); err != nil {
		h.log.WithError(err).Warn("readiness: ollama check failed")
		checks["ollama"] = "error"
		// Ollama being down degrades embedding and chat but the API can
		// still accept uploads; report the check without failing readiness.
	}

	c.JSON(statusCode, gin.H{"status": status, "checks": checks})
}

// checkSchema verifies migrations ran by probing a core table.
func (h *HealthHandler) checkSchema(ctx context.Context) error {
	var one int

	return h.pool.QueryRow(ctx, "SELECT 1 FROM default_rag_config WHERE id = 1").Scan(&one)
}

// checkOllama probes the model server's version endpoint.
func (h *HealthHandler) checkOllama(ctx context.Context) error {
	if h.ollamaURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.ollamaURL+"/api/version", nil)
	if err != nil {
		return err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck // best-effort drain before close.

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama version endpoint returned status %d", resp.StatusCode)
	}

	return nil
}
