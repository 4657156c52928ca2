package warehouse

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type SupplyRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *types.Supply) (*types.Supply, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Supply, error)
	List(ctx context.Context, tx *gorm.DB, page pagination.Params) ([]*types.Supply, int64, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type supplyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSupplyRepo(db *gorm.DB, baseLog *logger.Logger) SupplyRepo {
	return &supplyRepo{db: db, log: baseLog.With("repo", "SupplyRepo")}
}

func (r *supplyRepo) Create(ctx context.Context, tx *gorm.DB, s *types.Supply) (*types.Supply, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *supplyRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Supply, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Supply](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *supplyRepo) List(ctx context.Context, tx *gorm.DB, page pagination.Params) ([]*types.Supply, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Supply{})
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.Supply
	if err := q.Order("created_at DESC").Offset(page.Offset()).Limit(page.Normalize().Limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *supplyRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Supply{}).Where("id = ?", id).Updates(updates).Error
}

func first[T any](q *gorm.DB) (*T, error) {
	var out T
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}
