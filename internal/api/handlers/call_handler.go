package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/services"
)

type CallHandler struct {
	calls       services.CallService
	suggestions services.SuggestionService
	transcripts services.TranscriptService
}

func NewCallHandler(calls services.CallService, suggestions services.SuggestionService, transcripts services.TranscriptService) *CallHandler {
	return &CallHandler{calls: calls, suggestions: suggestions, transcripts: transcripts}
}

func (h *CallHandler) Get(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	call, err := h.calls.Get(c.Request.Context(), id.CompanyID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) ListSuggestions(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	rows, err := h.suggestions.ListByCall(c.Request.Context(), id.CompanyID, c.Param("call_id"), queryLimit(c, 50, 200))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

// Transcript replays a call: the buffered utterances while they live, and the
// written-back transcript once the call is completed.
func (h *CallHandler) Transcript(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	call, err := h.calls.Get(c.Request.Context(), id.CompanyID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	utterances, err := h.transcripts.ListByCall(c.Request.Context(), call.ID, int64(queryLimit(c, 500, 2000)))
	if err != nil {
		writeError(c, err)
		return
	}
	if utterances == nil {
		utterances = []models.Utterance{}
	}

	c.JSON(http.StatusOK, gin.H{
		"call_id":    call.ID,
		"status":     call.Status,
		"utterances": utterances,
		"transcript": call.Transcript,
	})
}
