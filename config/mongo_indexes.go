package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	db := MongoDatabase()
	if db == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	utterances := db.Collection("utterances")
	_, err := utterances.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// TTL: expire at expires_at (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		// one row per (stream, sequence)
		{
			Keys: bson.D{{Key: "stream_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().
				SetName("uniq_stream_seq").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "call_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("by_call_ts"),
		},
	})
	if err != nil {
		return err
	}

	sessions := db.Collection("stream_sessions")
	_, err = sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "stream_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_stream_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetName("by_company_started"),
		},
	})
	return err
}
