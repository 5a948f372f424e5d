package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/models"
)

// ConfigHandler serves the default RAG configuration and per-workspace
// snapshot endpoints.
type ConfigHandler struct {
	config ConfigService
	log    *logrus.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(config ConfigService, log *logrus.Logger) *ConfigHandler {
	return &ConfigHandler{config: config, log: log}
}

// GetDefault handles GET /api/v1/config.
func (h *ConfigHandler) GetDefault(c *gin.Context) {
	cfg, err := h.config.GetDefaultConfig(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("reading default config")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, cfg)
}

// UpdateDefault handles PUT /api/v1/config. The update only affects
// workspaces created after it; existing snapshots are frozen.
func (h *ConfigHandler) UpdateDefault(c *gin.Context) {
	var cfg models.DefaultRagConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if err := cfg.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())

		return
	}

	updated, err := h.config.UpdateDefaultConfig(c.Request.Context(), &cfg)
	if err != nil {
		h.log.WithError(err).Error("updating default config")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	h.log.WithField("version", updated.Version).Info("default rag config updated")

	c.JSON(http.StatusOK, updated)
}

// GetSnapshot handles GET /api/v1/workspaces/:id/config.
func (h *ConfigHandler) GetSnapshot(c *gin.Context) {
	workspaceID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	snap, err := h.config.GetSnapshotByWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "workspace config not found")

			return
		}

		h.log.WithError(err).Error("reading workspace config")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, snap)
}

// UpdateSnapshot handles PUT /api/v1/workspaces/:id/config. Snapshots are
// immutable, so this always answers 409: the error is part of the contract.
func (h *ConfigHandler) UpdateSnapshot(c *gin.Context) {
	if _, ok := pathUUID(c, "id"); !ok {
		return
	}

	respondError(c, http.StatusConflict, ErrCodeImmutable,
		"workspace configuration is frozen at creation; create a new workspace to change it")
}
