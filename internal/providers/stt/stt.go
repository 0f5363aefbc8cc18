package stt

import (
	"context"
	"errors"
)

// Chunk is the local shape of a vendor transcript event.
type Chunk struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
}

type SessionConfig struct {
	Encoding   string // mulaw|linear16
	SampleRate int
	Language   string
}

// Session is one streaming recognition. Chunks is closed once the vendor
// stream has ended; Close is safe to call more than once.
type Session interface {
	Send(audio []byte) error
	Chunks() <-chan Chunk
	Close() error
}

type Provider interface {
	Name() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Close() error
}

var (
	ErrSessionClosed = errors.New("stt: session closed")
	ErrNotConfigured = errors.New("stt: provider not configured")
)

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Encoding == "" {
		c.Encoding = "mulaw"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	return c
}
