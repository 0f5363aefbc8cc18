package mongo

import (
	"context"
	"time"

	"github.com/yoockh/callpilot/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// utterances stay in the buffer for a day, the TTL index removes them.
const utteranceTTL = 24 * time.Hour

type UtteranceRepository interface {
	Insert(ctx context.Context, u *models.Utterance) error
	// ListByCall returns the buffered utterances of every stream of a call in
	// spoken order.
	ListByCall(ctx context.Context, callID string, limit int64) ([]models.Utterance, error)
}

type utteranceRepo struct {
	col *mongo.Collection
}

func NewUtteranceRepo(db *mongo.Database) UtteranceRepository {
	return &utteranceRepo{col: db.Collection("utterances")}
}

func (r *utteranceRepo) Insert(ctx context.Context, u *models.Utterance) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	if u.ExpiresAt.IsZero() {
		u.ExpiresAt = u.Timestamp.Add(utteranceTTL)
	}
	_, err := r.col.InsertOne(ctx, u)
	return err
}

func (r *utteranceRepo) ListByCall(ctx context.Context, callID string, limit int64) ([]models.Utterance, error) {
	if limit <= 0 {
		limit = 500
	}

	cur, err := r.col.Find(ctx,
		bson.M{"call_id": callID},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Utterance
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
