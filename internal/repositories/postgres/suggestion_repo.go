package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SuggestionRepo interface {
	Insert(ctx context.Context, s *models.Suggestion) error
	GetByID(ctx context.Context, id string) (*models.Suggestion, error)
	ListByCall(ctx context.Context, companyID, callID string, limit int) ([]models.Suggestion, error)
	ListByChat(ctx context.Context, companyID, chatID string, limit int) ([]models.Suggestion, error)
	// MarkUsed flips used once; false means nothing was updated.
	MarkUsed(ctx context.Context, id, operatorID string, at time.Time) (bool, error)
	// SimilarUsed returns the nearest previously used suggestions of a company.
	SimilarUsed(ctx context.Context, companyID string, embedding []float32, limit int) ([]models.Suggestion, error)
}

type suggestionRepo struct {
	db *gorm.DB
}

func NewSuggestionRepo(db *gorm.DB) SuggestionRepo {
	return &suggestionRepo{db: db}
}

func (r *suggestionRepo) Insert(ctx context.Context, s *models.Suggestion) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *suggestionRepo) GetByID(ctx context.Context, id string) (*models.Suggestion, error) {
	var row models.Suggestion
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *suggestionRepo) ListByCall(ctx context.Context, companyID, callID string, limit int) ([]models.Suggestion, error) {
	return r.list(ctx, "company_id = ? AND call_id = ?", companyID, callID, limit)
}

func (r *suggestionRepo) ListByChat(ctx context.Context, companyID, chatID string, limit int) ([]models.Suggestion, error) {
	return r.list(ctx, "company_id = ? AND chat_id = ?", companyID, chatID, limit)
}

func (r *suggestionRepo) list(ctx context.Context, where, companyID, id string, limit int) ([]models.Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Suggestion
	err := r.db.WithContext(ctx).
		Omit("trigger_embedding").
		Where(where, companyID, id).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *suggestionRepo) MarkUsed(ctx context.Context, id, operatorID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Suggestion{}).
		Where("id = ? AND operator_id = ? AND used = ?", id, operatorID, false).
		Updates(map[string]any{
			"used":       true,
			"used_at":    at.UTC(),
			"updated_at": at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *suggestionRepo) SimilarUsed(ctx context.Context, companyID string, embedding []float32, limit int) ([]models.Suggestion, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	var rows []models.Suggestion
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND used = ? AND trigger_embedding IS NOT NULL", companyID, true).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "trigger_embedding <-> ?", Vars: []any{pgvector.NewVector(embedding)}},
		}).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
