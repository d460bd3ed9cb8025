package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"message-sync/internal/models"
	"message-sync/internal/socket"
	"message-sync/internal/syncer"
)

// Core is the slice of the sync facade the UI API drives.
type Core interface {
	SelectConversation(ctx context.Context, conversationID string) error
	SendText(ctx context.Context, conversationID, text string) (models.Message, error)
	SendAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (models.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	StartTyping(conversationID string)
	StopTyping(conversationID string)
	Conversations(search, facet string) []models.Conversation
	Messages(conversationID string) []models.Message
	Snapshot() models.StateSnapshot
	Healthy() bool
	ConnectionState() socket.State
}

// SyncHandler exposes the read model and the imperative commands to the UI
// layer.
type SyncHandler struct {
	core Core
}

// NewSyncHandler builds a SyncHandler.
func NewSyncHandler(core Core) *SyncHandler {
	return &SyncHandler{core: core}
}

// ListConversations returns the directory filtered by search text and type
// facet.
func (h *SyncHandler) ListConversations(c *gin.Context) {
	search := c.Query("search")
	facet := c.DefaultQuery("type", "all")
	c.JSON(http.StatusOK, gin.H{"conversations": h.core.Conversations(search, facet)})
}

// SelectConversation opens a conversation and loads its messages.
func (h *SyncHandler) SelectConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	err := h.core.SelectConversation(c.Request.Context(), conversationID)
	if errors.Is(err, syncer.ErrStale) {
		// Selection moved on while loading; nothing to surface.
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load conversation, try again"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMessages returns the ordered timeline of a conversation.
func (h *SyncHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	c.JSON(http.StatusOK, gin.H{"messages": h.core.Messages(conversationID)})
}

// PostMessage sends a text message through the optimistic pipeline.
func (h *SyncHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.core.SendText(c.Request.Context(), conversationID, req.Text)
	if err != nil {
		var sendErr *syncer.SendError
		if errors.As(err, &sendErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":         "message could not be sent",
				"restored_text": sendErr.Restored,
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "message could not be sent"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// PostAttachment uploads a file and sends it as a message.
func (h *SyncHandler) PostAttachment(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	msg, err := h.core.SendAttachment(c.Request.Context(), conversationID, fileHeader.Filename, file)
	if err != nil {
		var sendErr *syncer.SendError
		if errors.As(err, &sendErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    "attachment could not be sent",
				"filename": sendErr.Filename,
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "attachment could not be sent"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Typing forwards the local typing indicator.
func (h *SyncHandler) Typing(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		Typing bool `json:"typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Typing {
		h.core.StartTyping(conversationID)
	} else {
		h.core.StopTyping(conversationID)
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessage removes a single message.
func (h *SyncHandler) DeleteMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")

	if err := h.core.DeleteMessage(c.Request.Context(), conversationID, messageID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not delete message"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteConversation removes a conversation; the local list is already
// updated optimistically when the backend call fails.
func (h *SyncHandler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	if err := h.core.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not delete conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetState returns the full reactive read model.
func (h *SyncHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Snapshot())
}

// Healthz reports process and upstream health.
func (h *SyncHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"upstream": h.core.ConnectionState(),
		"healthy":  h.core.Healthy(),
	})
}
