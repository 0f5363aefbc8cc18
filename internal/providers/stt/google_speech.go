package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type GoogleSpeech struct {
	c   *speech.Client
	log *logrus.Logger
}

var _ Provider = (*GoogleSpeech)(nil)

// NewGoogleSpeech uses credentialsFile when set, application default
// credentials otherwise.
func NewGoogleSpeech(ctx context.Context, credentialsFile string, log *logrus.Logger) (*GoogleSpeech, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &GoogleSpeech{c: c, log: log}, nil
}

func (g *GoogleSpeech) Name() string { return "google" }

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func googleEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "linear16":
		return speechpb.RecognitionConfig_LINEAR16
	default:
		return speechpb.RecognitionConfig_MULAW
	}
}

// TODO: reopen the stream before the ~5 minute streaming recognize limit so
// long calls keep transcribing.
func (g *GoogleSpeech) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	cfg = cfg.withDefaults()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := g.c.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return nil, err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   googleEncoding(cfg.Encoding),
					SampleRateHertz:            int32(cfg.SampleRate),
					LanguageCode:               cfg.Language,
					EnableAutomaticPunctuation: true,
					Model:                      "phone_call",
					UseEnhanced:                true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	s := &googleSession{
		stream: stream,
		cancel: cancel,
		chunks: make(chan Chunk, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    g.log,
	}
	go s.recvLoop()
	return s, nil
}

type googleSession struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	log    *logrus.Logger

	mu     sync.Mutex
	closed bool

	chunks    chan Chunk
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *googleSession) Chunks() <-chan Chunk { return s.chunks }

func (s *googleSession) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audio},
	})
}

func (s *googleSession) recvLoop() {
	defer close(s.done)
	defer close(s.chunks)

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).Debug("google speech stream ended")
			}
			return
		}
		for _, r := range resp.GetResults() {
			alts := r.GetAlternatives()
			if len(alts) == 0 || alts[0].GetTranscript() == "" {
				continue
			}
			var endMS int64
			if r.GetResultEndTime() != nil {
				endMS = r.GetResultEndTime().AsDuration().Milliseconds()
			}
			chunk := Chunk{
				Text:       alts[0].GetTranscript(),
				IsFinal:    r.GetIsFinal(),
				Confidence: float64(alts[0].GetConfidence()),
				EndMS:      endMS,
			}
			select {
			case s.chunks <- chunk:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *googleSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		_ = s.stream.CloseSend()
		s.mu.Unlock()

		select {
		case <-s.done:
		case <-time.After(3 * time.Second):
		}
		close(s.stop)
		s.cancel()
	})
	return nil
}
