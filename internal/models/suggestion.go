package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Suggestion is immutable once written, except for the used flag.
type Suggestion struct {
	ID         string  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CompanyID  string  `gorm:"column:company_id;type:text;index" json:"company_id"`
	CallID     *string `gorm:"column:call_id;type:uuid;index" json:"call_id,omitempty"`
	ChatID     *string `gorm:"column:chat_id;type:uuid;index" json:"chat_id,omitempty"`
	OperatorID string  `gorm:"column:operator_id;type:text;index" json:"operator_id"`

	Content     string  `gorm:"column:content;type:text" json:"content"`
	Confidence  float64 `gorm:"column:confidence" json:"confidence"`
	Provider    string  `gorm:"column:provider;type:text" json:"provider"`
	TriggerText string  `gorm:"column:trigger_text;type:text" json:"trigger_text"`

	ContextLines pq.StringArray `gorm:"column:context_lines;type:text[]" json:"context_lines"`

	// pgvector; nil when no embedder is configured
	TriggerEmbedding *pgvector.Vector `gorm:"column:trigger_embedding;type:vector(1536)" json:"-"`

	// provider attempts, latency
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	Used   bool       `gorm:"column:used;default:false" json:"used"`
	UsedAt *time.Time `gorm:"column:used_at;type:timestamptz" json:"used_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Suggestion) TableName() string { return "suggestions" }

const (
	ChannelCall = "call"
	ChannelChat = "chat"
)

// SuggestionJob is one unit of suggestion work: exactly one per finalized
// utterance or inbound chat message.
type SuggestionJob struct {
	Channel    string    `json:"channel"` // call|chat
	CompanyID  string    `json:"company_id"`
	OperatorID string    `json:"operator_id"`
	CallID     string    `json:"call_id,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	StreamID   string    `json:"stream_id,omitempty"`
	Transcript string    `json:"transcript"`
	Context    []string  `json:"context"`
	Preferred  string    `json:"preferred_provider,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
