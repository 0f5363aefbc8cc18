package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callpilot/internal/logger"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/providers/llm"
	"github.com/yoockh/callpilot/internal/providers/stt"
	"github.com/yoockh/callpilot/internal/utils"
)

type fakeSTTSession struct {
	mu        sync.Mutex
	sent      [][]byte
	chunks    chan stt.Chunk
	closes    atomic.Int32
	closeOnce sync.Once
}

func (s *fakeSTTSession) Send(audio []byte) error {
	if s.closes.Load() > 0 {
		return stt.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, audio)
	return nil
}

func (s *fakeSTTSession) Chunks() <-chan stt.Chunk { return s.chunks }

func (s *fakeSTTSession) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.chunks) })
	return nil
}

func (s *fakeSTTSession) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

type fakeSTT struct {
	mu       sync.Mutex
	sessions []*fakeSTTSession
	configs  []stt.SessionConfig
	err      error
}

func (p *fakeSTT) Name() string { return "fake" }
func (p *fakeSTT) Close() error { return nil }

func (p *fakeSTT) NewSession(_ context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSTTSession{chunks: make(chan stt.Chunk, 32)}
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	return s, nil
}

func (p *fakeSTT) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *fakeSTT) last() *fakeSTTSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[len(p.sessions)-1]
}

type fakeCalls struct {
	mu          sync.Mutex
	calls       map[string]*models.Call // by external id
	statuses    []models.CallStatus
	transcripts []string
	analyses    []llm.AnalysisResult
}

func (f *fakeCalls) ResolveForStream(_ context.Context, ext string) (*models.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[ext]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "fake", "call not found", utils.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCalls) SetStatus(_ context.Context, _ *models.Call, status models.CallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeCalls) Complete(_ context.Context, _ *models.Call, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcript)
	return nil
}

func (f *fakeCalls) SaveAnalysis(_ context.Context, _ string, a llm.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, a)
	return nil
}

func (f *fakeCalls) completed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transcripts...)
}

type fakeTranscripts struct {
	mu         sync.Mutex
	started    []string
	ended      map[string]int64
	utterances []models.Utterance
	appendErr  error
}

func (f *fakeTranscripts) Start(_ context.Context, s *models.StreamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, s.StreamID)
	return nil
}

func (f *fakeTranscripts) End(_ context.Context, streamID string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended == nil {
		f.ended = map[string]int64{}
	}
	f.ended[streamID] = n
	return nil
}

func (f *fakeTranscripts) Append(_ context.Context, u *models.Utterance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, *u)
	return f.appendErr
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []models.SuggestionJob
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job models.SuggestionJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return d.err
}

func (d *fakeDispatcher) all() []models.SuggestionJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.SuggestionJob(nil), d.jobs...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) add(s string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, s)
}

func (n *fakeNotifier) EmitToUser(id, ev string, _ any)    { n.add("user:" + id + " " + ev) }
func (n *fakeNotifier) EmitToMember(co, id, ev string, _ any) {
	n.add("member:" + co + ":" + id + " " + ev)
}
func (n *fakeNotifier) EmitToCompany(id, ev string, _ any) { n.add("company:" + id + " " + ev) }
func (n *fakeNotifier) EmitToCall(id, ev string, _ any)    { n.add("call:" + id + " " + ev) }
func (n *fakeNotifier) EmitToChat(id, ev string, _ any)    { n.add("chat:" + id + " " + ev) }

type fakeAnalyzer struct{ calls atomic.Int32 }

func (a *fakeAnalyzer) Analyze(context.Context, string) llm.AnalysisResult {
	a.calls.Add(1)
	return llm.AnalysisResult{Analysis: llm.Analysis{Summary: "ok", Provider: "openai"}}
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchiver) ArchiveTranscript(_ context.Context, companyID, callID, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := "gs://bucket/transcripts/" + companyID + "/" + callID + ".txt"
	a.paths = append(a.paths, p)
	return p, nil
}

type fixture struct {
	gw          *Gateway
	stt         *fakeSTT
	calls       *fakeCalls
	transcripts *fakeTranscripts
	dispatcher  *fakeDispatcher
	notifier    *fakeNotifier
	analyzer    *fakeAnalyzer
	archiver    *fakeArchiver
}

func newFixture() *fixture {
	f := &fixture{
		stt: &fakeSTT{},
		calls: &fakeCalls{calls: map[string]*models.Call{
			"CA1": {ID: "call-1", CompanyID: "co1", OperatorID: "op1", ExternalCallID: "CA1"},
		}},
		transcripts: &fakeTranscripts{},
		dispatcher:  &fakeDispatcher{},
		notifier:    &fakeNotifier{},
		analyzer:    &fakeAnalyzer{},
		archiver:    &fakeArchiver{},
	}
	f.gw = NewGateway(Deps{
		Calls:       f.calls,
		Transcripts: f.transcripts,
		Dispatcher:  f.dispatcher,
		Notifier:    f.notifier,
		STT:         f.stt,
		Analyzer:    f.analyzer,
		Archiver:    f.archiver,
		Log:         logger.Discard(),
	}, Config{
		ContextWindow: 5,
		STT:           stt.SessionConfig{Language: "en-US"},
		DrainTimeout:  time.Second,
	})
	return f
}

func startFrame(streamID, callSid string) []byte {
	b, _ := json.Marshal(Frame{
		Event:     EventStart,
		StreamSid: streamID,
		Start: &StartPayload{
			StreamSid:   streamID,
			CallSid:     callSid,
			MediaFormat: MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})
	return b
}

func mediaFrame(streamID string, payload string) []byte {
	b, _ := json.Marshal(Frame{Event: EventMedia, StreamSid: streamID, Media: &MediaPayload{Track: "inbound", Payload: payload}})
	return b
}

func stopFrame(streamID string) []byte {
	b, _ := json.Marshal(Frame{Event: EventStop, StreamSid: streamID, Stop: &StopPayload{CallSid: "CA1"}})
	return b
}

func TestStartThenStopWithoutMedia(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.Equal(t, StateNone, f.gw.State("MZ1"))
	assert.Equal(t, "MZ1", f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1")))
	assert.Equal(t, StateStreaming, f.gw.State("MZ1"))

	assert.NotPanics(t, func() {
		f.gw.HandleFrame(ctx, stopFrame("MZ1"))
		f.gw.HandleFrame(ctx, stopFrame("MZ1"))
		f.gw.Stop(ctx, "MZ1")
	})
	f.gw.Wait()

	sess := f.stt.last()
	assert.Equal(t, int32(1), sess.closes.Load())
	assert.Equal(t, StateNone, f.gw.State("MZ1"))
	assert.Equal(t, 0, f.gw.ActiveStreams())

	assert.Equal(t, []string{""}, f.calls.completed())
	assert.Equal(t, []models.CallStatus{models.CallStatusInProgress}, f.calls.statuses)
	assert.Equal(t, int64(0), f.transcripts.ended["MZ1"])
	assert.Empty(t, f.dispatcher.all())
	// nothing to archive or analyse for an empty call
	assert.Equal(t, int32(0), f.analyzer.calls.Load())
	assert.Empty(t, f.archiver.paths)
}

func TestStart_ConfiguresSTTFromMediaFormat(t *testing.T) {
	f := newFixture()
	f.gw.HandleFrame(context.Background(), startFrame("MZ1", "CA1"))

	require.Len(t, f.stt.configs, 1)
	assert.Equal(t, "mulaw", f.stt.configs[0].Encoding)
	assert.Equal(t, 8000, f.stt.configs[0].SampleRate)
	assert.Equal(t, "en-US", f.stt.configs[0].Language)
	assert.Equal(t, []string{"MZ1"}, f.transcripts.started)
}

func TestMediaIsDecodedAndForwarded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1"))

	f.gw.HandleFrame(ctx, mediaFrame("MZ1", base64.StdEncoding.EncodeToString([]byte{1, 2, 3})))
	f.gw.HandleFrame(ctx, mediaFrame("MZ1", "%%%not-base64"))
	f.gw.HandleFrame(ctx, mediaFrame("MZ-unknown", base64.StdEncoding.EncodeToString([]byte{9})))
	f.gw.HandleFrame(ctx, []byte("garbage"))

	assert.Equal(t, [][]byte{{1, 2, 3}}, f.stt.last().sentFrames())
}

func TestContextWindowHoldsAtMostLastFive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1"))
	sess := f.stt.last()

	for i := 1; i <= 8; i++ {
		sess.chunks <- stt.Chunk{Text: fmt.Sprintf("partial %d", i), IsFinal: false}
		sess.chunks <- stt.Chunk{Text: fmt.Sprintf("line %d", i), IsFinal: true, Confidence: 0.9}
	}
	f.gw.Stop(ctx, "MZ1")
	f.gw.Wait()

	jobs := f.dispatcher.all()
	require.Len(t, jobs, 8)
	for i, job := range jobs {
		assert.LessOrEqual(t, len(job.Context), 5)
		assert.Equal(t, fmt.Sprintf("line %d", i+1), job.Transcript)
		assert.Equal(t, job.Transcript, job.Context[len(job.Context)-1])
		assert.Equal(t, "call-1", job.CallID)
		assert.Equal(t, "op1", job.OperatorID)
		assert.Equal(t, "MZ1", job.StreamID)
	}
	assert.Equal(t, []string{"line 4", "line 5", "line 6", "line 7", "line 8"}, jobs[7].Context)
	assert.Equal(t, []string{"line 1"}, jobs[0].Context)

	transcript := f.calls.completed()
	require.Len(t, transcript, 1)
	assert.Equal(t, 8, len(strings.Split(transcript[0], "\n")))
	assert.Equal(t, int64(8), f.transcripts.ended["MZ1"])
	assert.Len(t, f.transcripts.utterances, 8)

	assert.Equal(t, int32(1), f.analyzer.calls.Load())
	assert.Len(t, f.calls.analyses, 1)
	assert.Equal(t, []string{"gs://bucket/transcripts/co1/call-1.txt"}, f.archiver.paths)

	var transcriptEvents int
	for _, ev := range f.notifier.events {
		if ev == "call:call-1 "+notify.EventCallTranscript {
			transcriptEvents++
		}
	}
	assert.Equal(t, 8, transcriptEvents)
}

func TestUtteranceFailuresDoNotStopTheStream(t *testing.T) {
	f := newFixture()
	f.transcripts.appendErr = errors.New("mongo down")
	f.dispatcher.err = errors.New("redis down")
	ctx := context.Background()

	f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1"))
	sess := f.stt.last()
	sess.chunks <- stt.Chunk{Text: "first", IsFinal: true}
	sess.chunks <- stt.Chunk{Text: "second", IsFinal: true}

	require.Eventually(t, func() bool { return len(f.dispatcher.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateStreaming, f.gw.State("MZ1"))

	f.gw.Stop(ctx, "MZ1")
	assert.Equal(t, []string{"first\nsecond"}, f.calls.completed())
}

func TestStart_UnknownCallOrSTTFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.Empty(t, f.gw.HandleFrame(ctx, startFrame("MZ1", "CA-unknown")))
	assert.Equal(t, StateNone, f.gw.State("MZ1"))

	f.stt.err = errors.New("deepgram unreachable")
	assert.Empty(t, f.gw.HandleFrame(ctx, startFrame("MZ2", "CA1")))
	assert.Equal(t, StateNone, f.gw.State("MZ2"))

	// media and stop for streams that never started are ignored
	f.gw.HandleFrame(ctx, mediaFrame("MZ2", "AQID"))
	f.gw.HandleFrame(ctx, stopFrame("MZ2"))
	assert.Empty(t, f.calls.completed())
}

func TestDuplicateStartIsIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1"))
	assert.Empty(t, f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1")))
	assert.Len(t, f.stt.sessions, 1)
	assert.Equal(t, 1, f.gw.ActiveStreams())
}

func TestShutdownStopsEverything(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.calls.calls["CA2"] = &models.Call{ID: "call-2", CompanyID: "co1", OperatorID: "op2", ExternalCallID: "CA2"}

	f.gw.HandleFrame(ctx, startFrame("MZ1", "CA1"))
	f.gw.HandleFrame(ctx, startFrame("MZ2", "CA2"))
	f.gw.Shutdown(ctx)

	assert.Equal(t, 0, f.gw.ActiveStreams())
	for _, s := range f.stt.sessions {
		assert.Equal(t, int32(1), s.closes.Load())
	}
	assert.Len(t, f.calls.completed(), 2)
}

func TestServe_SocketDropStopsStream(t *testing.T) {
	f := newFixture()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.gw.Serve(r.Context(), ws, ConnConfig{})
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","protocol":"Call"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, startFrame("MZ1", "CA1")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, mediaFrame("MZ1", "AQID")))

	require.Eventually(t, func() bool {
		return f.gw.State("MZ1") == StateStreaming && f.stt.count() == 1 && len(f.stt.last().sentFrames()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	f.stt.last().chunks <- stt.Chunk{Text: "hello there", IsFinal: true}
	require.Eventually(t, func() bool { return len(f.dispatcher.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// drop without a stop frame
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool { return len(f.calls.completed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello there", f.calls.completed()[0])
	assert.Equal(t, int32(1), f.stt.last().closes.Load())
	assert.Equal(t, StateNone, f.gw.State("MZ1"))
}
