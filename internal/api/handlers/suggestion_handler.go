package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/services"
)

type SuggestionHandler struct {
	svc services.SuggestionService
}

func NewSuggestionHandler(svc services.SuggestionService) *SuggestionHandler {
	return &SuggestionHandler{svc: svc}
}

// MarkUsed records that the operator acted on a suggestion.
func (h *SuggestionHandler) MarkUsed(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	row, err := h.svc.MarkUsed(c.Request.Context(), id.CompanyID, id.UserID, c.Param("suggestion_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}
