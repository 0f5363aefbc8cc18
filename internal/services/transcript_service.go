package services

import (
	"context"
	"time"

	"github.com/yoockh/callpilot/internal/models"
	mongorepo "github.com/yoockh/callpilot/internal/repositories/mongo"
	"github.com/yoockh/callpilot/internal/utils"
)

// TranscriptService keeps the Mongo stream log and utterance buffer. With
// no Mongo configured every write is a no-op.
type TranscriptService interface {
	Start(ctx context.Context, s *models.StreamSession) error
	End(ctx context.Context, streamID string, utterances int64) error
	Append(ctx context.Context, u *models.Utterance) error
	// ListByCall replays the buffered utterances of a call. It returns
	// nothing once the buffer TTL has passed or without Mongo.
	ListByCall(ctx context.Context, callID string, limit int64) ([]models.Utterance, error)
}

type transcriptService struct {
	sessions   mongorepo.StreamSessionRepository
	utterances mongorepo.UtteranceRepository
}

func NewTranscriptService(sessions mongorepo.StreamSessionRepository, utterances mongorepo.UtteranceRepository) TranscriptService {
	return &transcriptService{sessions: sessions, utterances: utterances}
}

func (s *transcriptService) Start(ctx context.Context, ss *models.StreamSession) error {
	const op = "TranscriptService.Start"

	if ss == nil || ss.StreamID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "stream_id is required", nil)
	}
	if s.sessions == nil {
		return nil
	}
	if err := s.sessions.Create(ctx, ss); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to log stream session", err)
	}
	return nil
}

func (s *transcriptService) End(ctx context.Context, streamID string, utterances int64) error {
	const op = "TranscriptService.End"

	if streamID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "stream_id is required", nil)
	}
	if s.sessions == nil {
		return nil
	}
	if err := s.sessions.End(ctx, streamID, time.Now().UTC(), utterances); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to end stream session", err)
	}
	return nil
}

func (s *transcriptService) Append(ctx context.Context, u *models.Utterance) error {
	const op = "TranscriptService.Append"

	if u == nil || u.StreamID == "" || u.Text == "" {
		return utils.E(utils.CodeInvalidArgument, op, "stream_id and text are required", nil)
	}
	if s.utterances == nil {
		return nil
	}
	if err := s.utterances.Insert(ctx, u); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to buffer utterance", err)
	}
	return nil
}

func (s *transcriptService) ListByCall(ctx context.Context, callID string, limit int64) ([]models.Utterance, error) {
	const op = "TranscriptService.ListByCall"

	if callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}
	if s.utterances == nil {
		return nil, nil
	}
	out, err := s.utterances.ListByCall(ctx, callID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list utterances", err)
	}
	return out, nil
}
