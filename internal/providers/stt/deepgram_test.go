package stt

import (
	"context"
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

func fakeDeepgram(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		assert.Equal(t, "mulaw", r.URL.Query().Get("encoding"))
		assert.Equal(t, "8000", r.URL.Query().Get("sample_rate"))
		assert.Equal(t, "true", r.URL.Query().Get("interim_results"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":false,"start":0.5,"duration":1.0,"channel":{"alternatives":[{"transcript":"hello","confidence":0.6}]}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":true,"start":0.5,"duration":1.5,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.93}]}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`))
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func TestDeepgram_StreamsChunks(t *testing.T) {
	srv := fakeDeepgram(t)
	defer srv.Close()

	dg, err := NewDeepgram(DeepgramConfig{
		APIKey:            "dg-key",
		Endpoint:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		KeepAliveInterval: time.Hour,
		CloseTimeout:      time.Second,
	}, logger.Discard())
	require.NoError(t, err)

	sess, err := dg.NewSession(context.Background(), SessionConfig{})
	require.NoError(t, err)

	require.NoError(t, sess.Send([]byte{0xff, 0x7f, 0x00}))

	var got []Chunk
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case c, ok := <-sess.Chunks():
			require.True(t, ok, "chunks closed early")
			got = append(got, c)
		case <-timeout:
			t.Fatal("timed out waiting for chunks")
		}
	}

	assert.Equal(t, "hello", got[0].Text)
	assert.False(t, got[0].IsFinal)
	assert.Equal(t, int64(500), got[0].StartMS)
	assert.Equal(t, int64(1500), got[0].EndMS)

	assert.Equal(t, "hello there", got[1].Text)
	assert.True(t, got[1].IsFinal)
	assert.InDelta(t, 0.93, got[1].Confidence, 1e-9)
	assert.Equal(t, int64(2000), got[1].EndMS)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	select {
	case _, ok := <-sess.Chunks():
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("chunks not closed after Close")
	}

	assert.ErrorIs(t, sess.Send([]byte{1}), ErrSessionClosed)
}

func TestDeepgram_RequiresKey(t *testing.T) {
	_, err := NewDeepgram(DeepgramConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDeepgram_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	dg, err := NewDeepgram(DeepgramConfig{
		APIKey:   "bad",
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, logger.Discard())
	require.NoError(t, err)

	_, err = dg.NewSession(context.Background(), SessionConfig{})
	assert.Error(t, err)
}
