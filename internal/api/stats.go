package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/dbpool"
)

// StatsHandler serves the instance-wide statistics endpoint.
type StatsHandler struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

// NewStatsHandler creates a StatsHandler with the given dependencies.
func NewStatsHandler(pool *dbpool.Pool, log *logrus.Logger) *StatsHandler {
	return &StatsHandler{pool: pool, log: log}
}

// statsResponse is the JSON payload returned by the stats endpoint.
type statsResponse struct {
	Workspaces     int `json:"workspaces"`
	Documents      int `json:"documents"`
	DocumentsReady int `json:"documents_ready"`
	Chunks         int `json:"chunks"`
	Embeddings     int `json:"embeddings"`
	GraphEntities  int `json:"graph_entities"`
	ChatSessions   int `json:"chat_sessions"`
	BusBacklog     int `json:"bus_backlog"`
	DeadLetters    int `json:"dead_letters"`
}

// GetStats handles GET /api/v1/stats — aggregate counts across the instance.
func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	var resp statsResponse

	// Single consolidated query keeps this endpoint one round trip.
	err := h.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM workspaces WHERE status <> 'deleted'),
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM documents WHERE status = 'ready'),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM embeddings),
			(SELECT COUNT(*) FROM graph_entities),
			(SELECT COUNT(*) FROM chat_sessions),
			(SELECT COUNT(*) FROM bus_messages),
			(SELECT COUNT(*) FROM bus_dead_letters)`,
	).Scan(
		&resp.Workspaces, &resp.Documents, &resp.DocumentsReady,
		&resp.Chunks, &resp.Embeddings, &resp.GraphEntities,
		&resp.ChatSessions, &resp.BusBacklog, &resp.DeadLetters,
	)
	if err != nil {
		h.log.WithError(err).Error("stats: consolidated query")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, resp)
}
