// Package media terminates telephony media streams: audio goes to a
// streaming STT session, every finalized utterance becomes one suggestion
// job for the call's operator.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/providers/llm"
	"github.com/yoockh/callpilot/internal/providers/stt"
	"github.com/yoockh/callpilot/internal/services"
	"github.com/yoockh/callpilot/internal/storage"
)

// CallStore is the part of services.CallService the gateway drives.
type CallStore interface {
	ResolveForStream(ctx context.Context, externalCallID string) (*models.Call, error)
	SetStatus(ctx context.Context, call *models.Call, status models.CallStatus) error
	Complete(ctx context.Context, call *models.Call, transcript string) error
	SaveAnalysis(ctx context.Context, callID string, analysis llm.AnalysisResult) error
}

// TranscriptLog is the part of services.TranscriptService the gateway drives.
type TranscriptLog interface {
	Start(ctx context.Context, s *models.StreamSession) error
	End(ctx context.Context, streamID string, utterances int64) error
	Append(ctx context.Context, u *models.Utterance) error
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) llm.AnalysisResult
}

type Deps struct {
	Calls       CallStore
	Transcripts TranscriptLog
	Dispatcher  services.Dispatcher
	Notifier    services.Notifier
	STT         stt.Provider

	// optional
	Analyzer Analyzer
	Archiver storage.TranscriptArchiver

	Log *logrus.Logger
}

type Config struct {
	ContextWindow int
	STT           stt.SessionConfig
	DrainTimeout  time.Duration // wait for final STT chunks on stop
	StoreTimeout  time.Duration // per persistence call
	AfterTimeout  time.Duration // archive + analysis after stop
}

func (c Config) withDefaults() Config {
	if c.ContextWindow <= 0 {
		c.ContextWindow = 5
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 3 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.AfterTimeout <= 0 {
		c.AfterTimeout = 60 * time.Second
	}
	return c
}

// TranscriptEvent is pushed to the call room for every finalized utterance.
type TranscriptEvent struct {
	CallID     string  `json:"call_id"`
	StreamID   string  `json:"stream_id"`
	Seq        int64   `json:"seq"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// Gateway owns the in-memory session of every active stream. Sessions are
// lost on process restart.
type Gateway struct {
	deps Deps
	cfg  Config
	log  *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*session

	bg sync.WaitGroup
}

func NewGateway(deps Deps, cfg Config) *Gateway {
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	return &Gateway{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		log:      deps.Log,
		sessions: make(map[string]*session),
	}
}

// State reports where streamID is in NONE -> STREAMING -> ENDED. Ended
// sessions are discarded, so they read as NONE afterwards.
func (g *Gateway) State(streamID string) State {
	g.mu.Lock()
	s := g.sessions[streamID]
	g.mu.Unlock()
	if s == nil {
		return StateNone
	}
	return s.getState()
}

func (g *Gateway) ActiveStreams() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// HandleFrame applies one vendor frame. It returns the stream id the frame
// started, if any, so the caller can stop it when the socket drops.
func (g *Gateway) HandleFrame(ctx context.Context, data []byte) (started string) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		g.log.WithError(err).Warn("media: invalid frame")
		return ""
	}

	switch f.Event {
	case EventConnected:
		g.log.WithField("protocol", f.Protocol).Debug("media: vendor connected")
	case EventStart:
		if g.start(ctx, f) {
			return f.streamID()
		}
	case EventMedia:
		g.media(f)
	case EventMark:
		if f.Mark != nil {
			g.log.WithFields(logrus.Fields{"stream_id": f.StreamSid, "mark": f.Mark.Name}).Debug("media: mark")
		}
	case EventStop:
		g.Stop(ctx, f.streamID())
	default:
		g.log.WithField("event", f.Event).Debug("media: ignoring unknown event")
	}
	return ""
}

func (g *Gateway) start(ctx context.Context, f Frame) bool {
	streamID := f.streamID()
	if f.Start == nil || streamID == "" || f.Start.CallSid == "" {
		g.log.WithField("stream_id", streamID).Warn("media: start frame without stream or call id")
		return false
	}
	log := g.log.WithFields(logrus.Fields{"stream_id": streamID, "external_call_id": f.Start.CallSid})

	if g.State(streamID) != StateNone {
		log.Warn("media: duplicate start ignored")
		return false
	}

	// the stream outlives the request that carried the start frame
	sctx := context.WithoutCancel(ctx)

	rctx, cancel := context.WithTimeout(sctx, g.cfg.StoreTimeout)
	call, err := g.deps.Calls.ResolveForStream(rctx, f.Start.CallSid)
	cancel()
	if err != nil {
		log.WithError(err).Error("media: could not resolve call for stream")
		return false
	}
	log = log.WithField("call_id", call.ID)

	sttCfg := g.cfg.STT
	if enc := sttEncoding(f.Start.MediaFormat.Encoding); enc != "" {
		sttCfg.Encoding = enc
	}
	if f.Start.MediaFormat.SampleRate > 0 {
		sttCfg.SampleRate = f.Start.MediaFormat.SampleRate
	}
	sttSess, err := g.deps.STT.NewSession(sctx, sttCfg)
	if err != nil {
		log.WithError(err).Error("media: could not open STT session")
		return false
	}

	s := newSession(streamID, call, sttSess)
	g.mu.Lock()
	if _, exists := g.sessions[streamID]; exists {
		g.mu.Unlock()
		_ = sttSess.Close()
		log.Warn("media: duplicate start ignored")
		return false
	}
	g.sessions[streamID] = s
	g.mu.Unlock()

	go g.consume(s)

	wctx, cancel := context.WithTimeout(sctx, g.cfg.StoreTimeout)
	defer cancel()
	if err := g.deps.Calls.SetStatus(wctx, call, models.CallStatusInProgress); err != nil {
		log.WithError(err).Warn("media: could not mark call in progress")
	}
	if err := g.deps.Transcripts.Start(wctx, &models.StreamSession{
		StreamID:       streamID,
		CallID:         call.ID,
		CompanyID:      call.CompanyID,
		OperatorID:     call.OperatorID,
		ExternalCallID: call.ExternalCallID,
		StartedAt:      s.startedAt,
	}); err != nil {
		log.WithError(err).Warn("media: could not log stream session")
	}

	log.Info("media: stream started")
	return true
}

func (g *Gateway) media(f Frame) {
	if f.Media == nil || f.Media.Payload == "" {
		return
	}
	g.mu.Lock()
	s := g.sessions[f.StreamSid]
	g.mu.Unlock()
	if s == nil {
		return
	}

	audio, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		g.log.WithError(err).WithField("stream_id", f.StreamSid).Warn("media: payload decode failed")
		return
	}
	if err := s.stt.Send(audio); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		g.log.WithError(err).WithField("stream_id", f.StreamSid).Warn("media: STT send failed")
	}
}

func (g *Gateway) consume(s *session) {
	defer close(s.consumed)
	for chunk := range s.stt.Chunks() {
		if !chunk.IsFinal {
			continue
		}
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		g.onUtterance(s, text, chunk)
	}
}

// onUtterance never fails the stream; every step is logged and skipped on
// error.
func (g *Gateway) onUtterance(s *session, text string, chunk stt.Chunk) {
	seq, window, ok := s.appendLine(text, g.cfg.ContextWindow)
	call := s.call
	if !ok {
		// the drain window passed and the transcript is already written back
		g.log.WithFields(logrus.Fields{"stream_id": s.streamID, "call_id": call.ID}).
			Warn("media: utterance arrived after stop, dropped")
		return
	}
	log := g.log.WithFields(logrus.Fields{"stream_id": s.streamID, "call_id": call.ID, "seq": seq})

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.StoreTimeout)
	defer cancel()

	if err := g.deps.Transcripts.Append(ctx, &models.Utterance{
		StreamID:   s.streamID,
		CallID:     call.ID,
		Seq:        seq,
		Text:       text,
		Confidence: chunk.Confidence,
		StartMS:    chunk.StartMS,
		EndMS:      chunk.EndMS,
	}); err != nil {
		log.WithError(err).Warn("media: could not buffer utterance")
	}

	if g.deps.Notifier != nil {
		g.deps.Notifier.EmitToCall(call.ID, notify.EventCallTranscript, TranscriptEvent{
			CallID:     call.ID,
			StreamID:   s.streamID,
			Seq:        seq,
			Text:       text,
			Confidence: chunk.Confidence,
			IsFinal:    true,
		})
	}

	if call.OperatorID == "" {
		log.Debug("media: call has no operator, skipping suggestion")
		return
	}
	job := models.SuggestionJob{
		Channel:    models.ChannelCall,
		CompanyID:  call.CompanyID,
		OperatorID: call.OperatorID,
		CallID:     call.ID,
		StreamID:   s.streamID,
		Transcript: text,
		Context:    window,
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.deps.Dispatcher.Dispatch(ctx, job); err != nil {
		log.WithError(err).Error("media: could not dispatch suggestion")
	}
}

// Stop ends a stream. Unknown or already stopped streams are a no-op.
// In-flight suggestion jobs are left to finish.
func (g *Gateway) Stop(ctx context.Context, streamID string) {
	g.mu.Lock()
	s := g.sessions[streamID]
	g.mu.Unlock()
	if s == nil {
		return
	}
	log := g.log.WithFields(logrus.Fields{"stream_id": streamID, "call_id": s.call.ID})

	closed, err := s.finish(g.cfg.DrainTimeout)
	if !closed {
		return
	}
	if err != nil {
		log.WithError(err).Warn("media: STT session close failed")
	}

	g.mu.Lock()
	delete(g.sessions, streamID)
	g.mu.Unlock()

	transcript, utterances := s.seal()

	sctx := context.WithoutCancel(ctx)
	wctx, cancel := context.WithTimeout(sctx, g.cfg.StoreTimeout)
	defer cancel()
	if err := g.deps.Calls.Complete(wctx, s.call, transcript); err != nil {
		log.WithError(err).Error("media: could not write transcript back to call")
	}
	if err := g.deps.Transcripts.End(wctx, streamID, utterances); err != nil {
		log.WithError(err).Warn("media: could not end stream session")
	}

	if transcript != "" {
		g.bg.Add(1)
		go g.afterCall(s.call, transcript)
	}
	log.WithField("utterances", utterances).Info("media: stream stopped")
}

func (g *Gateway) afterCall(call *models.Call, transcript string) {
	defer g.bg.Done()
	log := g.log.WithField("call_id", call.ID)

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.AfterTimeout)
	defer cancel()

	if g.deps.Archiver != nil {
		path, err := g.deps.Archiver.ArchiveTranscript(ctx, call.CompanyID, call.ID, transcript)
		if err != nil {
			log.WithError(err).Warn("media: transcript archive failed")
		} else {
			log.WithField("path", path).Debug("media: transcript archived")
		}
	}

	if g.deps.Analyzer != nil {
		res := g.deps.Analyzer.Analyze(ctx, transcript)
		if err := g.deps.Calls.SaveAnalysis(ctx, call.ID, res); err != nil {
			log.WithError(err).Warn("media: could not save call analysis")
		}
	}
}

// Wait blocks until post-call work (archive, analysis) has finished.
func (g *Gateway) Wait() { g.bg.Wait() }

// Shutdown stops every active stream.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.Stop(ctx, id)
	}
	g.Wait()
}
