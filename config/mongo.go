package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client

// ErrMongoNotConfigured means the utterance buffer and stream log are disabled.
var ErrMongoNotConfigured = errors.New("MONGO_URI environment variable is not set")

// InitMongo connects the realtime store used for stream sessions and utterances.
func InitMongo() error {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return ErrMongoNotConfigured
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(20 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetMaxPoolSize(20).
		SetMinPoolSize(1)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	MongoClient = client
	return nil
}

// MongoDatabase returns the configured database handle (MONGO_DB, default "callpilot").
func MongoDatabase() *mongo.Database {
	if MongoClient == nil {
		return nil
	}
	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "callpilot"
	}
	return MongoClient.Database(dbName)
}
