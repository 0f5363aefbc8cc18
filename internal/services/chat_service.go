package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/notify"
	pgrepo "github.com/yoockh/callpilot/internal/repositories/postgres"
	"github.com/yoockh/callpilot/internal/utils"
)

type ChatMessageInput struct {
	ChatID     string
	CompanyID  string
	Direction  string // inbound|outbound
	Sender     string
	Body       string
	ExternalID string
}

type ChatService interface {
	// ReceiveMessage stores a message and, for inbound ones, requests a
	// suggestion from the last messages of the chat.
	ReceiveMessage(ctx context.Context, in ChatMessageInput) (*models.ChatMessage, error)
	CanJoinChat(ctx context.Context, companyID, chatID string) (bool, error)
}

type chatService struct {
	chats         pgrepo.ChatRepo
	notifier      Notifier
	dispatcher    Dispatcher
	contextWindow int
	log           *logrus.Logger
}

func NewChatService(chats pgrepo.ChatRepo, notifier Notifier, dispatcher Dispatcher, contextWindow int, log *logrus.Logger) ChatService {
	if contextWindow <= 0 {
		contextWindow = 5
	}
	if log == nil {
		log = logrus.New()
	}
	return &chatService{
		chats:         chats,
		notifier:      notifier,
		dispatcher:    dispatcher,
		contextWindow: contextWindow,
		log:           log,
	}
}

func (s *chatService) getChat(ctx context.Context, op, companyID, chatID string) (*models.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "chat not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get chat", err)
	}
	if chat.CompanyID != companyID {
		return nil, utils.E(utils.CodeNotFound, op, "chat not found", utils.ErrNotFound)
	}
	return chat, nil
}

func (s *chatService) ReceiveMessage(ctx context.Context, in ChatMessageInput) (*models.ChatMessage, error) {
	const op = "ChatService.ReceiveMessage"

	if in.ChatID == "" || in.CompanyID == "" || in.Body == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "chat_id, company_id, and body are required", nil)
	}
	if in.Direction == "" {
		in.Direction = models.DirectionInbound
	}
	if in.Direction != models.DirectionInbound && in.Direction != models.DirectionOutbound {
		return nil, utils.E(utils.CodeInvalidArgument, op, "direction must be inbound or outbound", nil)
	}

	chat, err := s.getChat(ctx, op, in.CompanyID, in.ChatID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		ID:         uuid.NewString(),
		ChatID:     chat.ID,
		CompanyID:  chat.CompanyID,
		Direction:  in.Direction,
		Sender:     in.Sender,
		Body:       in.Body,
		ExternalID: in.ExternalID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.chats.InsertMessage(ctx, msg); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store message", err)
	}

	if s.notifier != nil {
		s.notifier.EmitToChat(chat.ID, notify.EventWhatsAppMessage, msg)
		s.notifier.EmitToCompany(chat.CompanyID, notify.EventWhatsAppMessage, msg)
	}

	if msg.Direction == models.DirectionInbound {
		s.requestSuggestion(ctx, chat, msg)
	}
	return msg, nil
}

// requestSuggestion is best-effort; the stored message stands either way.
func (s *chatService) requestSuggestion(ctx context.Context, chat *models.Chat, msg *models.ChatMessage) {
	log := s.log.WithFields(logrus.Fields{"chat_id": chat.ID, "message_id": msg.ID})

	if s.dispatcher == nil || chat.OperatorID == "" {
		log.Debug("no operator or dispatcher, skipping chat suggestion")
		return
	}

	recent, err := s.chats.LatestMessages(ctx, chat.ID, s.contextWindow)
	if err != nil {
		log.WithError(err).Warn("failed to load chat context")
		recent = []models.ChatMessage{*msg}
	}

	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, chatLine(m))
	}
	if len(lines) > s.contextWindow {
		lines = lines[len(lines)-s.contextWindow:]
	}

	job := models.SuggestionJob{
		Channel:    models.ChannelChat,
		CompanyID:  chat.CompanyID,
		OperatorID: chat.OperatorID,
		ChatID:     chat.ID,
		Transcript: msg.Body,
		Context:    lines,
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		log.WithError(err).Error("failed to dispatch chat suggestion")
	}
}

func chatLine(m models.ChatMessage) string {
	who := m.Sender
	if who == "" {
		if m.Direction == models.DirectionOutbound {
			who = "operator"
		} else {
			who = "customer"
		}
	}
	return who + ": " + m.Body
}

func (s *chatService) CanJoinChat(ctx context.Context, companyID, chatID string) (bool, error) {
	if companyID == "" || chatID == "" {
		return false, nil
	}
	_, err := s.getChat(ctx, "ChatService.CanJoinChat", companyID, chatID)
	if err == nil {
		return true, nil
	}
	if utils.IsCode(err, utils.CodeNotFound) {
		return false, nil
	}
	return false, err
}
