package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/api/handlers"
	"github.com/yoockh/callpilot/internal/api/middleware"
)

type Deps struct {
	Auth middleware.JWTConfig

	WS           *handlers.WSHandler
	Call         *handlers.CallHandler
	Chat         *handlers.ChatHandler
	Suggestion   *handlers.SuggestionHandler
	Notification *handlers.NotificationHandler
	Admin        *handlers.AdminHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// WebSocket
	r.GET("/ws", d.WS.Notifications)
	r.GET("/media-stream", d.WS.MediaStream)

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.GET("/calls/:call_id", d.Call.Get)
	auth.GET("/calls/:call_id/suggestions", d.Call.ListSuggestions)
	auth.GET("/calls/:call_id/transcript", d.Call.Transcript)

	auth.GET("/chats/:chat_id/suggestions", d.Chat.ListSuggestions)
	auth.POST("/chats/:chat_id/messages", d.Chat.PostMessage)

	auth.POST("/suggestions/:suggestion_id/use", d.Suggestion.MarkUsed)

	auth.POST("/notifications", d.Notification.Send)

	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/providers/health", d.Admin.ProvidersHealth)
}
