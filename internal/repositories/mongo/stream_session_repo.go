package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type StreamSessionRepository interface {
	Create(ctx context.Context, s *models.StreamSession) error
	GetByStreamID(ctx context.Context, streamID string) (*models.StreamSession, error)
	End(ctx context.Context, streamID string, endedAt time.Time, utterances int64) error
}

type streamSessionRepo struct {
	col *mongo.Collection
}

func NewStreamSessionRepo(db *mongo.Database) StreamSessionRepository {
	return &streamSessionRepo{col: db.Collection("stream_sessions")}
}

func (r *streamSessionRepo) Create(ctx context.Context, s *models.StreamSession) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = models.StreamStatusStreaming
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *streamSessionRepo) GetByStreamID(ctx context.Context, streamID string) (*models.StreamSession, error) {
	var s models.StreamSession
	err := r.col.FindOne(ctx, bson.M{"stream_id": streamID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *streamSessionRepo) End(ctx context.Context, streamID string, endedAt time.Time, utterances int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"stream_id": streamID},
		bson.M{"$set": bson.M{
			"status":     models.StreamStatusEnded,
			"ended_at":   endedAt.UTC(),
			"utterances": utterances,
		}},
	)
	return err
}
