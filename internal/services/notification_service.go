package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/utils"
)

type Notification struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Ts    time.Time `json:"ts"`
}

type NotificationService interface {
	// Send reaches userID only on sockets of companyID.
	Send(ctx context.Context, companyID, userID, title, body string) (*Notification, error)
}

type notificationService struct {
	notifier Notifier
}

func NewNotificationService(notifier Notifier) NotificationService {
	return &notificationService{notifier: notifier}
}

func (s *notificationService) Send(_ context.Context, companyID, userID, title, body string) (*Notification, error) {
	const op = "NotificationService.Send"

	if companyID == "" || userID == "" || title == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "company_id, user_id and title are required", nil)
	}

	n := &Notification{ID: uuid.NewString(), Title: title, Body: body, Ts: time.Now().UTC()}
	if s.notifier != nil {
		s.notifier.EmitToMember(companyID, userID, notify.EventNotification, n)
	}
	return n, nil
}
