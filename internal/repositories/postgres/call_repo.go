package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CallRepo interface {
	GetByID(ctx context.Context, id string) (*models.Call, error)
	GetByExternalID(ctx context.Context, externalCallID string) (*models.Call, error)
	UpdateStatus(ctx context.Context, id string, status models.CallStatus, at time.Time) error
	Complete(ctx context.Context, id, transcript string, endedAt time.Time) error
	SaveAnalysis(ctx context.Context, id string, analysis datatypes.JSON) error
}

type callRepo struct {
	db *gorm.DB
}

func NewCallRepo(db *gorm.DB) CallRepo {
	return &callRepo{db: db}
}

func (r *callRepo) GetByID(ctx context.Context, id string) (*models.Call, error) {
	var row models.Call
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *callRepo) GetByExternalID(ctx context.Context, externalCallID string) (*models.Call, error) {
	var row models.Call
	err := r.db.WithContext(ctx).Where("external_call_id = ?", externalCallID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

// UpdateStatus sets started_at the first time a call goes in_progress.
func (r *callRepo) UpdateStatus(ctx context.Context, id string, status models.CallStatus, at time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": at.UTC(),
	}
	if status == models.CallStatusInProgress {
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", at.UTC())
	}

	res := r.db.WithContext(ctx).Model(&models.Call{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *callRepo) Complete(ctx context.Context, id, transcript string, endedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Call{}).Where("id = ?", id).Updates(map[string]any{
		"status":           models.CallStatusCompleted,
		"transcript":       transcript,
		"ended_at":         endedAt.UTC(),
		"duration_seconds": gorm.Expr("COALESCE(EXTRACT(EPOCH FROM (?::timestamptz - started_at))::bigint, 0)", endedAt.UTC()),
		"updated_at":       endedAt.UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *callRepo) SaveAnalysis(ctx context.Context, id string, analysis datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ?", id).
		Updates(map[string]any{"analysis": analysis, "updated_at": time.Now().UTC()}).Error
}
