package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/services"
	"github.com/yoockh/callpilot/internal/utils"
)

type ChatHandler struct {
	chats       services.ChatService
	suggestions services.SuggestionService
}

func NewChatHandler(chats services.ChatService, suggestions services.SuggestionService) *ChatHandler {
	return &ChatHandler{chats: chats, suggestions: suggestions}
}

type PostMessageRequest struct {
	Direction  string `json:"direction"` // inbound|outbound, default inbound
	Sender     string `json:"sender"`
	Body       string `json:"body" binding:"required"`
	ExternalID string `json:"external_id"`
}

func (h *ChatHandler) PostMessage(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.PostMessage", "invalid request body", err))
		return
	}

	msg, err := h.chats.ReceiveMessage(c.Request.Context(), services.ChatMessageInput{
		ChatID:     c.Param("chat_id"),
		CompanyID:  id.CompanyID,
		Direction:  req.Direction,
		Sender:     req.Sender,
		Body:       req.Body,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) ListSuggestions(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	rows, err := h.suggestions.ListByChat(c.Request.Context(), id.CompanyID, c.Param("chat_id"), queryLimit(c, 50, 200))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}
