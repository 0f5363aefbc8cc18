package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type DeepgramConfig struct {
	APIKey            string
	Endpoint          string // wss://api.deepgram.com/v1/listen
	Model             string
	KeepAliveInterval time.Duration
	CloseTimeout      time.Duration
}

// Deepgram streams audio to the live transcription websocket.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	log    *logrus.Logger
}

var _ Provider = (*Deepgram)(nil)

func NewDeepgram(cfg DeepgramConfig, log *logrus.Logger) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "wss://api.deepgram.com/v1/listen"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 8 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 3 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Deepgram{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}, nil
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) Close() error { return nil }

func (d *Deepgram) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	cfg = cfg.withDefaults()

	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("language", cfg.Language)
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, _, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}

	s := &deepgramSession{
		conn:   conn,
		chunks: make(chan Chunk, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cfg:    d.cfg,
		log:    d.log,
	}
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

type deepgramSession struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards writes and closed
	cfg  DeepgramConfig
	log  *logrus.Logger

	chunks chan Chunk
	stop   chan struct{} // closed when the session is torn down
	done   chan struct{} // closed when readLoop exits

	closed    bool
	closeOnce sync.Once
}

type deepgramResult struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) Chunks() <-chan Chunk { return s.chunks }

func (s *deepgramSession) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return s.write(websocket.BinaryMessage, audio)
}

func (s *deepgramSession) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(messageType, data)
}

func (s *deepgramSession) readLoop() {
	defer close(s.done)
	defer close(s.chunks)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("deepgram stream closed")
			}
			return
		}

		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil {
			s.log.WithError(err).Warn("deepgram: undecodable message")
			continue
		}
		if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
			continue
		}
		alt := res.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		chunk := Chunk{
			Text:       alt.Transcript,
			IsFinal:    res.IsFinal,
			Confidence: alt.Confidence,
			StartMS:    int64(res.Start * 1000),
			EndMS:      int64((res.Start + res.Duration) * 1000),
		}
		select {
		case s.chunks <- chunk:
		case <-s.stop:
			return
		}
	}
}

func (s *deepgramSession) keepAlive() {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		case <-s.done:
			return
		case <-s.stop:
			return
		}
	}
}

// Close asks Deepgram to flush pending results, waits for the stream to end
// (bounded by CloseTimeout) and releases the connection.
func (s *deepgramSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		select {
		case <-s.done:
		case <-time.After(s.cfg.CloseTimeout):
		}
		close(s.stop)
		_ = s.conn.Close()
	})
	return nil
}
