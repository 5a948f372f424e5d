package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/storage"
)

// maxUploadSize bounds a single document upload (8 MB).
const maxUploadSize = 8 << 20

// DocumentHandler serves document upload and inspection endpoints.
type DocumentHandler struct {
	workspaces WorkspaceService
	documents  DocumentService
	objects    storage.ObjectStore
	bus        bus.Bus
	log        *logrus.Logger
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(workspaces WorkspaceService, documents DocumentService, objects storage.ObjectStore, b bus.Bus, log *logrus.Logger) *DocumentHandler {
	return &DocumentHandler{workspaces: workspaces, documents: documents, objects: objects, bus: b, log: log}
}

// Upload handles POST /api/v1/workspaces/:id/documents. The request body is
// the raw document; its Content-Type header carries the mime type. The
// document is accepted in pending state and processed asynchronously.
func (h *DocumentHandler) Upload(c *gin.Context) {
	workspaceID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	w, err := h.workspaces.GetWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, models.ErrWorkspaceNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "workspace not found")

			return
		}

		h.log.WithError(err).Error("getting workspace")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	// Uploads into a workspace that is not ready would race its own
	// provisioning or deletion saga.
	if w.Status != models.WorkspaceReady {
		respondError(c, http.StatusConflict, ErrCodeNotReady, "workspace is not ready")

		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadSize+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "reading request body")

		return
	}

	if len(data) > maxUploadSize {
		respondError(c, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "document exceeds upload limit")

		return
	}

	if len(data) == 0 {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "empty document")

		return
	}

	req := models.UploadDocumentRequest{MimeType: c.ContentType()}

	// Store bytes first so the pending row never points at a missing object.
	doc, err := h.storeAndRegister(c, w, req, data)
	if err != nil {
		h.log.WithError(err).Error("registering document")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	env := models.NewEnvelope(bus.TopicDocumentUploaded)
	env.WorkspaceID = w.ID
	env.DocumentID = doc.ID

	if err := h.bus.Publish(c.Request.Context(), bus.TopicDocumentUploaded, env); err != nil {
		h.log.WithError(err).Error("publishing document.uploaded")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	h.log.WithFields(logrus.Fields{
		"workspace_id": w.ID,
		"document_id":  doc.ID,
		"mime_type":    doc.MimeType,
		"bytes":        len(data),
	}).Info("document accepted")

	c.JSON(http.StatusAccepted, doc)
}

func (h *DocumentHandler) storeAndRegister(c *gin.Context, w *models.Workspace, req models.UploadDocumentRequest, data []byte) (*models.Document, error) {
	ctx := c.Request.Context()

	key := w.StoragePrefix() + "/" + uuid.New().String()

	uri, err := h.objects.Put(ctx, key, data)
	if err != nil {
		return nil, err
	}

	req.SourceURI = uri
	if err := req.Validate(); err != nil {
		return nil, err
	}

	doc, err := h.documents.CreateDocument(ctx, w.ID, req)
	if err != nil {
		// Best-effort cleanup of the orphaned object.
		if delErr := h.objects.Delete(ctx, uri); delErr != nil {
			h.log.WithError(delErr).Warn("failed to clean up orphaned upload")
		}

		return nil, err
	}

	return doc, nil
}

// List handles GET /api/v1/workspaces/:id/documents.
func (h *DocumentHandler) List(c *gin.Context) {
	workspaceID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit := parseInt(c.DefaultQuery("limit", "50"), 50)
	offset := parseOffset(c.DefaultQuery("offset", "0"))

	docs, err := h.documents.ListDocuments(c.Request.Context(), workspaceID, limit, offset)
	if err != nil {
		h.log.WithError(err).Error("listing documents")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Get handles GET /api/v1/documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	doc, err := h.documents.GetDocument(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "document not found")

			return
		}

		h.log.WithError(err).Error("getting document")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, doc)
}
