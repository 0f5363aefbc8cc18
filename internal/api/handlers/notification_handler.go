package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/services"
	"github.com/yoockh/callpilot/internal/utils"
)

type NotificationHandler struct {
	svc services.NotificationService
}

func NewNotificationHandler(svc services.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

type SendNotificationRequest struct {
	UserID string `json:"user_id"` // defaults to the caller
	Title  string `json:"title" binding:"required"`
	Body   string `json:"body"`
}

// Send pushes a notification to a user of the caller's company. Only admins
// may target another user, and never outside their tenant.
func (h *NotificationHandler) Send(c *gin.Context) {
	const op = "NotificationHandler.Send"

	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	if req.UserID == "" {
		req.UserID = id.UserID
	}
	if req.UserID != id.UserID && id.Role != "admin" {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return
	}

	n, err := h.svc.Send(c.Request.Context(), id.CompanyID, req.UserID, req.Title, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, n)
}
