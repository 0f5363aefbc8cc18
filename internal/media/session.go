package media

import (
	"strings"
	"sync"
	"time"

	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/providers/stt"
)

type State int

const (
	StateNone State = iota
	StateStreaming
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	default:
		return "none"
	}
}

// session is the in-memory state of one active stream.
type session struct {
	streamID  string
	call      *models.Call
	stt       stt.Session
	startedAt time.Time

	mu     sync.Mutex
	state  State
	lines  []string
	sealed bool // set once the transcript is taken; later lines are dropped

	consumed chan struct{} // closed when the chunk consumer exits
	stopOnce sync.Once
}

func newSession(streamID string, call *models.Call, s stt.Session) *session {
	return &session{
		streamID:  streamID,
		call:      call,
		stt:       s,
		startedAt: time.Now().UTC(),
		state:     StateStreaming,
		consumed:  make(chan struct{}),
	}
}

// appendLine records a finalized utterance and returns its sequence number
// and the rolling context window (the last n lines, oldest first). It
// reports false once the session is sealed.
func (s *session) appendLine(text string, n int) (int64, []string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return 0, nil, false
	}
	s.lines = append(s.lines, text)
	start := len(s.lines) - n
	if start < 0 {
		start = 0
	}
	window := make([]string, len(s.lines)-start)
	copy(window, s.lines[start:])
	return int64(len(s.lines)), window, true
}

// seal freezes the lines and returns the transcript; appendLine refuses
// anything offered later.
func (s *session) seal() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return strings.Join(s.lines, "\n"), int64(len(s.lines))
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// finish closes the STT session exactly once and waits up to drain for the
// consumer to flush the final chunks.
func (s *session) finish(drain time.Duration) (closed bool, err error) {
	s.stopOnce.Do(func() {
		closed = true
		s.mu.Lock()
		s.state = StateEnded
		s.mu.Unlock()

		err = s.stt.Close()

		select {
		case <-s.consumed:
		case <-time.After(drain):
		}
	})
	return closed, err
}
