package models

import "time"

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Chat is a WhatsApp conversation between a company operator and a contact.
type Chat struct {
	ID            string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CompanyID     string     `gorm:"column:company_id;type:text;index" json:"company_id"`
	OperatorID    string     `gorm:"column:operator_id;type:text;index" json:"operator_id"`
	ContactPhone  string     `gorm:"column:contact_phone;type:text;index" json:"contact_phone"`
	ContactName   string     `gorm:"column:contact_name;type:text" json:"contact_name"`
	Status        string     `gorm:"column:status;type:text" json:"status"` // open|closed
	LastMessageAt *time.Time `gorm:"column:last_message_at;type:timestamptz" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type ChatMessage struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ChatID     string    `gorm:"column:chat_id;type:uuid;index" json:"chat_id"`
	CompanyID  string    `gorm:"column:company_id;type:text;index" json:"company_id"`
	Direction  string    `gorm:"column:direction;type:text" json:"direction"`
	Sender     string    `gorm:"column:sender;type:text" json:"sender"`
	Body       string    `gorm:"column:body;type:text" json:"body"`
	ExternalID string    `gorm:"column:external_id;type:text" json:"external_id,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
