package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
)

// ChatHandler serves chat session and message endpoints. Responses stream
// over the workspace WebSocket; these endpoints only enqueue work and read
// history.
type ChatHandler struct {
	workspaces WorkspaceService
	chats      ChatService
	bus        bus.Bus
	log        *logrus.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(workspaces WorkspaceService, chats ChatService, b bus.Bus, log *logrus.Logger) *ChatHandler {
	return &ChatHandler{workspaces: workspaces, chats: chats, bus: b, log: log}
}

// CreateSession handles POST /api/v1/workspaces/:id/sessions.
func (h *ChatHandler) CreateSession(c *gin.Context) {
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

	if w.Status != models.WorkspaceReady {
		respondError(c, http.StatusConflict, ErrCodeNotReady, "workspace is not ready")

		return
	}

	session, err := h.chats.CreateSession(c.Request.Context(), w.ID, w.RagMode)
	if err != nil {
		h.log.WithError(err).Error("creating chat session")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusCreated, session)
}

// ListSessions handles GET /api/v1/workspaces/:id/sessions.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	workspaceID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit := parseInt(c.DefaultQuery("limit", "50"), 50)
	offset := parseOffset(c.DefaultQuery("offset", "0"))

	sessions, err := h.chats.ListSessions(c.Request.Context(), workspaceID, limit, offset)
	if err != nil {
		h.log.WithError(err).Error("listing chat sessions")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// History handles GET /api/v1/sessions/:id/messages.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit := parseInt(c.DefaultQuery("limit", "100"), 100)
	offset := parseOffset(c.DefaultQuery("offset", "0"))

	messages, err := h.chats.GetMessages(c.Request.Context(), sessionID, limit, offset)
	if err != nil {
		h.log.WithError(err).Error("listing chat messages")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Send handles POST /api/v1/sessions/:id/messages. The user turn is persisted
// synchronously; retrieval and generation run asynchronously and stream back
// over the workspace WebSocket keyed by the correlation ID.
func (h *ChatHandler) Send(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())

		return
	}

	session, err := h.chats.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "session not found")

			return
		}

		h.log.WithError(err).Error("getting chat session")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	msg, err := h.chats.AppendMessage(c.Request.Context(), &models.ChatMessage{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   req.Content,
	})
	if err != nil {
		h.log.WithError(err).Error("persisting user message")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	env := models.NewEnvelope(bus.TopicChatMessageReceived).WithPayload(gin.H{"content": req.Content})
	env.WorkspaceID = session.WorkspaceID
	env.SessionID = session.ID
	env.CorrelationID = req.CorrelationID

	if err := h.bus.Publish(c.Request.Context(), bus.TopicChatMessageReceived, env); err != nil {
		h.log.WithError(err).Error("publishing chat message")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	h.log.WithFields(logrus.Fields{
		"session_id":     session.ID,
		"correlation_id": req.CorrelationID,
	}).Info("chat message accepted")

	c.JSON(http.StatusAccepted, gin.H{
		"message":        msg,
		"correlation_id": req.CorrelationID,
	})
}

// Cancel handles POST /api/v1/sessions/:id/cancel. The correlation ID names
// the stream to stop; cancelling an unknown stream is a successful no-op.
func (h *ChatHandler) Cancel(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req struct {
		CorrelationID string `json:"correlation_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.CorrelationID == "" {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "correlation_id is required")

		return
	}

	session, err := h.chats.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "session not found")

			return
		}

		h.log.WithError(err).Error("getting chat session")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	env := models.NewEnvelope(bus.TopicChatCancelRequested)
	env.WorkspaceID = session.WorkspaceID
	env.SessionID = session.ID
	env.CorrelationID = req.CorrelationID

	if err := h.bus.Publish(c.Request.Context(), bus.TopicChatCancelRequested, env); err != nil {
		h.log.WithError(err).Error("publishing cancel request")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// DeleteSession handles DELETE /api/v1/sessions/:id.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.chats.DeleteSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "session not found")

			return
		}

		h.log.WithError(err).Error("deleting chat session")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
