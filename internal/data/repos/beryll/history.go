package beryll

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type HistoryFilter struct {
	Action string
	UserID *uuid.UUID
}

type HistoryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, h ...*types.BeryllHistory) error
	ListByServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]*types.BeryllHistory, error)
	List(ctx context.Context, tx *gorm.DB, f HistoryFilter, page pagination.Params) ([]*types.BeryllHistory, int64, error)
}

type historyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHistoryRepo(db *gorm.DB, baseLog *logger.Logger) HistoryRepo {
	return &historyRepo{db: db, log: baseLog.With("repo", "BeryllHistoryRepo")}
}

func (r *historyRepo) Create(ctx context.Context, tx *gorm.DB, h ...*types.BeryllHistory) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(h) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Omit("User").Create(h).Error
}

func (r *historyRepo) ListByServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]*types.BeryllHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.BeryllHistory
	if err := transaction.WithContext(ctx).
		Preload("User").
		Where("server_id = ?", serverID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *historyRepo) List(ctx context.Context, tx *gorm.DB, f HistoryFilter, page pagination.Params) ([]*types.BeryllHistory, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.BeryllHistory{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.BeryllHistory
	if err := q.Preload("User").
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}
