package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StreamStatusStreaming = "streaming"
	StreamStatusEnded     = "ended"
)

// StreamSession logs one telephony media stream.
type StreamSession struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StreamID       string             `bson:"stream_id" json:"stream_id"`
	CallID         string             `bson:"call_id" json:"call_id"`
	CompanyID      string             `bson:"company_id" json:"company_id"`
	OperatorID     string             `bson:"operator_id" json:"operator_id"`
	ExternalCallID string             `bson:"external_call_id" json:"external_call_id"`
	Status         string             `bson:"status" json:"status"` // streaming|ended
	Utterances     int64              `bson:"utterances" json:"utterances"`

	StartedAt time.Time  `bson:"started_at" json:"started_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
}

// Utterance is one finalized transcript fragment kept in the realtime buffer.
type Utterance struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StreamID   string             `bson:"stream_id" json:"stream_id"`
	CallID     string             `bson:"call_id" json:"call_id"`
	Seq        int64              `bson:"seq" json:"seq"`
	Text       string             `bson:"text" json:"text"`
	Confidence float64            `bson:"confidence,omitempty" json:"confidence,omitempty"`
	StartMS    int64              `bson:"start_ms,omitempty" json:"start_ms,omitempty"`
	EndMS      int64              `bson:"end_ms,omitempty" json:"end_ms,omitempty"`
	Timestamp  time.Time          `bson:"timestamp" json:"timestamp"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
