package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callpilot/internal/logger"
)

func serveHub(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c, err := h.Connect(r.URL.Query().Get("user_id"), r.URL.Query().Get("company_id"))
		if err != nil {
			Reject(ws, err.Error())
			return
		}
		h.Serve(context.Background(), ws, c, ConnConfig{})
	}))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestServe_JoinAndReceive(t *testing.T) {
	h := NewHub(logger.Discard())
	srv := serveHub(t, h)
	defer srv.Close()

	ws := dial(t, srv, "user_id=u1&company_id=co1")
	defer ws.Close()

	req, _ := encode(EventJoinCall, RoomRequest{CallID: "call-7"})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, req))
	assert.Equal(t, EventJoined, readEnvelope(t, ws).Event)

	h.EmitToCall("call-7", EventCallTranscript, map[string]string{"text": "hello"})
	env := readEnvelope(t, ws)
	assert.Equal(t, EventCallTranscript, env.Event)
	assert.JSONEq(t, `{"text":"hello"}`, string(env.Data))
}

func TestServe_HandshakeWithoutCompanyIsClosed(t *testing.T) {
	h := NewHub(logger.Discard())
	srv := serveHub(t, h)
	defer srv.Close()

	ws := dial(t, srv, "user_id=u1")
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Equal(t, 0, h.ClientCount())
}

func TestServe_DisconnectLeavesRooms(t *testing.T) {
	h := NewHub(logger.Discard())
	srv := serveHub(t, h)
	defer srv.Close()

	ws := dial(t, srv, "user_id=u1&company_id=co1")
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		return h.ClientCount() == 0 && h.RoomSize(UserRoom("u1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
