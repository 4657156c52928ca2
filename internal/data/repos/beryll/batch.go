package beryll

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type KeyCount struct {
	Key   string `gorm:"column:group_key" json:"key"`
	Count int64  `json:"count"`
}

type BatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, b *types.BeryllBatch) (*types.BeryllBatch, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllBatch, error)
	List(ctx context.Context, tx *gorm.DB, status string) ([]*types.BeryllBatch, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// StatusCounts counts the batch's servers per status.
	StatusCounts(ctx context.Context, tx *gorm.DB, id uuid.UUID) ([]KeyCount, error)
}

type batchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchRepo(db *gorm.DB, baseLog *logger.Logger) BatchRepo {
	return &batchRepo{db: db, log: baseLog.With("repo", "BeryllBatchRepo")}
}

func (r *batchRepo) Create(ctx context.Context, tx *gorm.DB, b *types.BeryllBatch) (*types.BeryllBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("CreatedBy").Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

func (r *batchRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllBatch](transaction.WithContext(ctx).Preload("CreatedBy").Where("id = ?", id))
}

func (r *batchRepo) List(ctx context.Context, tx *gorm.DB, status string) ([]*types.BeryllBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.BeryllBatch{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []*types.BeryllBatch
	if err := q.Preload("CreatedBy").Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *batchRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.BeryllBatch{}).Where("id = ?", id).Updates(updates).Error
}

// Delete removes the batch and unassigns its servers.
func (r *batchRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Model(&types.BeryllServer{}).Where("batch_id = ?", id).Update("batch_id", nil).Error; err != nil {
		return err
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.BeryllBatch{}).Error
}

func (r *batchRepo) StatusCounts(ctx context.Context, tx *gorm.DB, id uuid.UUID) ([]KeyCount, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []KeyCount
	err := transaction.WithContext(ctx).Model(&types.BeryllServer{}).
		Select("status AS group_key, COUNT(*) AS count").
		Where("batch_id = ?", id).
		Group("status").
		Order("status ASC").
		Scan(&rows).Error
	return rows, err
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
