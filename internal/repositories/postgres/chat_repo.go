package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/utils"
	"gorm.io/gorm"
)

type ChatRepo interface {
	GetByID(ctx context.Context, id string) (*models.Chat, error)
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	// LatestMessages returns up to n messages, oldest first.
	LatestMessages(ctx context.Context, chatID string, n int) ([]models.ChatMessage, error)
}

type chatRepo struct {
	db *gorm.DB
}

func NewChatRepo(db *gorm.DB) ChatRepo {
	return &chatRepo{db: db}
}

func (r *chatRepo) GetByID(ctx context.Context, id string) (*models.Chat, error) {
	var row models.Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *chatRepo) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).
			Where("id = ?", msg.ChatID).
			Updates(map[string]any{
				"last_message_at": msg.CreatedAt,
				"updated_at":      msg.CreatedAt,
			}).Error
	})
}

func (r *chatRepo) LatestMessages(ctx context.Context, chatID string, n int) ([]models.ChatMessage, error) {
	if n <= 0 {
		n = 5
	}
	var rows []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
