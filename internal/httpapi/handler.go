// Package httpapi is the local read surface the thin UI consumes: derived
// view snapshots plus the few mutation intents (send, open, delete) that
// forward into the sync engine.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/engine"
	"chatsync/internal/supervisor"
)

// Handler serves the local UI endpoints.
type Handler struct {
	engine *engine.Synchronizer
	sup    *supervisor.Supervisor
}

// NewHandler builds a Handler.
func NewHandler(eng *engine.Synchronizer, sup *supervisor.Supervisor) *Handler {
	return &Handler{engine: eng, sup: sup}
}

// Register attaches all routes to the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/conversations", h.ListConversations)
	router.GET("/conversations/:conversation_id/messages", h.GetMessages)
	router.POST("/conversations/:conversation_id/open", h.OpenConversation)
	router.DELETE("/conversations/:conversation_id", h.DeleteConversation)
	router.POST("/messages", h.SendMessage)
	router.GET("/unread", h.UnreadTotal)
	router.GET("/presence", h.Presence)
}

// Health reports liveness and the push channel state. The app stays
// usable through the poll path while the push channel reconnects.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"push":   h.sup.State().String(),
	})
}

// ListConversations returns the derived conversation list.
func (h *Handler) ListConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": h.engine.Conversations()})
}

// GetMessages returns the ordered message list for a conversation.
func (h *Handler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	c.JSON(http.StatusOK, gin.H{"messages": h.engine.Messages(conversationID)})
}

// OpenConversation marks a conversation as focused, zeroing its unread
// count. Idempotent.
func (h *Handler) OpenConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := h.engine.MarkOpened(c.Request.Context(), conversationID); err != nil {
		// Local state is already reset; report the sync failure softly.
		c.JSON(http.StatusAccepted, gin.H{"warning": "server mark-read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_total": h.engine.UnreadTotal()})
}

// DeleteConversation removes a conversation from this user's list.
func (h *Handler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := h.engine.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": conversationID})
}

// SendMessage submits a local send intent and returns the provisional
// message handle.
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversationId" binding:"required"`
		ReceiverID     string `json:"receiverId" binding:"required"`
		Content        string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.Send(c.Request.Context(), req.ConversationID, req.ReceiverID, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

// UnreadTotal returns the global unread badge value.
func (h *Handler) UnreadTotal(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"unread_total": h.engine.UnreadTotal()})
}

// Presence lists currently online users.
func (h *Handler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.engine.OnlineUsers()})
}
