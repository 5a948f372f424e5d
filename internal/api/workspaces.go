// Package api provides the HTTP handlers for quarryd.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
)

// WorkspaceHandler serves workspace lifecycle endpoints.
type WorkspaceHandler struct {
	workspaces WorkspaceService
	documents  DocumentService
	bus        bus.Bus
	log        *logrus.Logger
}

// NewWorkspaceHandler creates a WorkspaceHandler.
func NewWorkspaceHandler(workspaces WorkspaceService, documents DocumentService, b bus.Bus, log *logrus.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: workspaces, documents: documents, bus: b, log: log}
}

// Create handles POST /api/v1/workspaces. The workspace is returned in
// provisioning state; the saga flips it to ready asynchronously.
func (h *WorkspaceHandler) Create(c *gin.Context) {
	var req models.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())

		return
	}

	w, snap, err := h.workspaces.CreateWorkspace(c.Request.Context(), req)
	if err != nil {
		h.log.WithError(err).Error("creating workspace")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	env := models.NewEnvelope(bus.TopicProvisionRequested)
	env.WorkspaceID = w.ID
	env.SnapshotID = snap.ID

	if err := h.bus.Publish(c.Request.Context(), bus.TopicProvisionRequested, env); err != nil {
		h.log.WithError(err).Error("publishing provision request")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	h.log.WithFields(logrus.Fields{"workspace_id": w.ID, "rag_mode": w.RagMode}).Info("workspace created")

	c.JSON(http.StatusAccepted, gin.H{"workspace": w, "config": snap})
}

// List handles GET /api/v1/workspaces.
func (h *WorkspaceHandler) List(c *gin.Context) {
	limit := parseInt(c.DefaultQuery("limit", "50"), 50)
	offset := parseOffset(c.DefaultQuery("offset", "0"))

	workspaces, err := h.workspaces.ListWorkspaces(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.WithError(err).Error("listing workspaces")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, gin.H{"workspaces": workspaces})
}

// Get handles GET /api/v1/workspaces/:id.
func (h *WorkspaceHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	w, err := h.workspaces.GetWorkspace(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrWorkspaceNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "workspace not found")

			return
		}

		h.log.WithError(err).Error("getting workspace")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, w)
}

// Delete handles DELETE /api/v1/workspaces/:id. Deletion is asynchronous and
// idempotent: repeating the call while teardown runs returns 202 again.
func (h *WorkspaceHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	err := h.workspaces.MarkDeleting(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrWorkspaceNotFound):
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "workspace not found")

			return
		case errors.Is(err, models.ErrResourceConflict):
			// Already deleting; fall through and re-publish the request so a
			// lost deletion event cannot strand the workspace.
		default:
			h.log.WithError(err).Error("marking workspace deleting")
			respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

			return
		}
	}

	env := models.NewEnvelope(bus.TopicDeletionRequested)
	env.WorkspaceID = id

	if err := h.bus.Publish(c.Request.Context(), bus.TopicDeletionRequested, env); err != nil {
		h.log.WithError(err).Error("publishing deletion request")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "deleting"})
}

// Stats handles GET /api/v1/workspaces/:id/stats.
func (h *WorkspaceHandler) Stats(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	w, err := h.workspaces.GetWorkspace(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrWorkspaceNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "workspace not found")

			return
		}

		h.log.WithError(err).Error("getting workspace")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	counts, err := h.documents.CountDocuments(c.Request.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("counting documents")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	c.JSON(http.StatusOK, gin.H{
		"workspace_id": w.ID,
		"status":       w.Status,
		"rag_mode":     w.RagMode,
		"documents":    total,
		"by_status":    counts,
	})
}
