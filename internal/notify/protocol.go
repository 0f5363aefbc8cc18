package notify

import (
	"encoding/json"
	"time"
)

// Client to server events.
const (
	EventJoinCall  = "join:call"
	EventLeaveCall = "leave:call"
	EventJoinChat  = "join:chat"
	EventLeaveChat = "leave:chat"
)

// Server to client events.
const (
	EventJoined          = "joined"
	EventLeft            = "left"
	EventError           = "error"
	EventSuggestion      = "ai:suggestion"
	EventCallStatus      = "call:status"
	EventCallTranscript  = "call:transcript"
	EventWhatsAppMessage = "whatsapp:message"
	EventNotification    = "notification"
)

// Envelope is the single frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ts    int64           `json:"ts"`
}

type RoomRequest struct {
	CallID string `json:"call_id,omitempty"`
	ChatID string `json:"chat_id,omitempty"`
}

type RoomAck struct {
	Room string `json:"room"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal"
)

func UserRoom(userID string) string       { return "user:" + userID }
func CompanyRoom(companyID string) string { return "company:" + companyID }
func CallRoom(callID string) string       { return "call:" + callID }
func ChatRoom(chatID string) string       { return "chat:" + chatID }

// MemberRoom is one user inside one tenant; only sockets admitted for that
// company join it.
func MemberRoom(companyID, userID string) string {
	return "member:" + companyID + ":" + userID
}

func encode(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw, Ts: time.Now().UnixMilli()})
}
