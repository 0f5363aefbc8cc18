package models

import (
	"time"

	"gorm.io/datatypes"
)

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Call is a tenant-scoped phone call. ExternalCallID is the telephony vendor's id.
type Call struct {
	ID             string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CompanyID      string     `gorm:"column:company_id;type:text;index" json:"company_id"`
	OperatorID     string     `gorm:"column:operator_id;type:text;index" json:"operator_id"`
	ExternalCallID string     `gorm:"column:external_call_id;type:text;uniqueIndex" json:"external_call_id"`
	Direction      string     `gorm:"column:direction;type:text" json:"direction"` // inbound|outbound
	FromNumber     string     `gorm:"column:from_number;type:text" json:"from_number"`
	ToNumber       string     `gorm:"column:to_number;type:text" json:"to_number"`
	Status         CallStatus `gorm:"column:status;type:text;index" json:"status"`

	Transcript string         `gorm:"column:transcript;type:text" json:"transcript"`
	Analysis   datatypes.JSON `gorm:"column:analysis;type:jsonb" json:"analysis,omitempty"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	StartedAt       *time.Time `gorm:"column:started_at;type:timestamptz" json:"started_at,omitempty"`
	EndedAt         *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
	DurationSeconds int64      `gorm:"column:duration_seconds" json:"duration_seconds"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Call) TableName() string { return "calls" }
