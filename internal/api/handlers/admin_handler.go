package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type ProviderHealth interface {
	Providers() []string
	HealthCheck(ctx context.Context) map[string]string
}

type AdminHandler struct {
	llm     ProviderHealth
	sttName string
	streams func() int
	sockets func() int
}

// NewAdminHandler takes counters for the live gauges; nil counters report 0.
func NewAdminHandler(llm ProviderHealth, sttName string, streams, sockets func() int) *AdminHandler {
	return &AdminHandler{llm: llm, sttName: sttName, streams: streams, sockets: sockets}
}

func count(fn func() int) int {
	if fn == nil {
		return 0
	}
	return fn()
}

func (h *AdminHandler) ProvidersHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"order":          h.llm.Providers(),
		"providers":      h.llm.HealthCheck(ctx),
		"stt_provider":   h.sttName,
		"active_streams": count(h.streams),
		"sockets":        count(h.sockets),
	})
}
