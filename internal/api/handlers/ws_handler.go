package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/api/middleware"
	"github.com/yoockh/callpilot/internal/media"
	"github.com/yoockh/callpilot/internal/notify"
)

type WSHandler struct {
	hub      *notify.Hub
	gateway  *media.Gateway
	auth     middleware.JWTConfig
	hubConn  notify.ConnConfig
	media    media.ConnConfig
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

var errIdentityMismatch = errors.New("token does not match user_id/company_id")

// NewWSHandler verifies notification sockets against auth when auth.Secret
// is set; an empty secret admits the claimed identifiers as is.
func NewWSHandler(hub *notify.Hub, gateway *media.Gateway, auth middleware.JWTConfig, hubConn notify.ConnConfig, mediaConn media.ConnConfig, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		hub:     hub,
		auth:    auth,
		gateway: gateway,
		hubConn: hubConn,
		media:   mediaConn,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // TODO: restrict to the dashboard origin once it is configurable
		},
	}
}

// socketToken reads the token from the query (browsers cannot set headers on
// a websocket) or from a bearer header.
func socketToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
}

func (h *WSHandler) verify(c *gin.Context, userID, companyID string) error {
	if h.auth.Secret == "" {
		return nil
	}
	id, err := h.auth.Verify(socketToken(c))
	if err != nil {
		return err
	}
	if id.UserID != userID || id.CompanyID != companyID {
		return errIdentityMismatch
	}
	return nil
}

// Notifications admits an operator socket. user_id and company_id are
// required, and must match the token when auth is configured; otherwise the
// socket is closed before joining any room.
func (h *WSHandler) Notifications(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}

	userID, companyID := c.Query("user_id"), c.Query("company_id")
	if err := h.verify(c, userID, companyID); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"user_id":    userID,
			"company_id": companyID,
		}).Warn("notification socket rejected")
		notify.Reject(conn, err.Error())
		return
	}

	client, err := h.hub.Connect(userID, companyID)
	if err != nil {
		notify.Reject(conn, err.Error())
		return
	}
	h.hub.Serve(c.Request.Context(), conn, client, h.hubConn)
}

// MediaStream terminates the telephony vendor's audio socket.
func (h *WSHandler) MediaStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.log.WithField("ip", c.ClientIP()).Debug("media stream connected")
	h.gateway.Serve(c.Request.Context(), conn, h.media)
}
