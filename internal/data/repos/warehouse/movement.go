package warehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type MovementFilter struct {
	BoxID         *uuid.UUID
	SectionID     *uuid.UUID
	Operation     string
	PerformedByID *uuid.UUID
	DateFrom      *time.Time
	DateTo        *time.Time
}

// RankingRow aggregates a user's movements over a period.
type RankingRow struct {
	UserID     uuid.UUID `json:"userId"`
	Login      string    `json:"login"`
	Name       string    `json:"name"`
	Surname    string    `json:"surname"`
	GoodQty    int64     `json:"goodQty"`
	ScrapQty   int64     `json:"scrapQty"`
	Operations int64     `json:"operations"`
}

type MovementRepo interface {
	Create(ctx context.Context, tx *gorm.DB, m ...*types.WarehouseMovement) error
	ListByBox(ctx context.Context, tx *gorm.DB, boxID uuid.UUID) ([]*types.WarehouseMovement, error)
	List(ctx context.Context, tx *gorm.DB, f MovementFilter, page pagination.Params) ([]*types.WarehouseMovement, int64, error)
	CountSince(ctx context.Context, tx *gorm.DB, since time.Time) (int64, error)
	Recent(ctx context.Context, tx *gorm.DB, n int) ([]*types.WarehouseMovement, error)
	Rankings(ctx context.Context, tx *gorm.DB, since *time.Time) ([]RankingRow, error)
}

type movementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMovementRepo(db *gorm.DB, baseLog *logger.Logger) MovementRepo {
	return &movementRepo{db: db, log: baseLog.With("repo", "MovementRepo")}
}

func (r *movementRepo) Create(ctx context.Context, tx *gorm.DB, m ...*types.WarehouseMovement) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(m) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Omit("Box", "PerformedBy", "ToSection").CreateInBatches(m, 200).Error
}

func (r *movementRepo) ListByBox(ctx context.Context, tx *gorm.DB, boxID uuid.UUID) ([]*types.WarehouseMovement, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.WarehouseMovement
	if err := transaction.WithContext(ctx).
		Preload("PerformedBy").
		Preload("ToSection").
		Where("box_id = ?", boxID).
		Order("performed_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *movementRepo) List(ctx context.Context, tx *gorm.DB, f MovementFilter, page pagination.Params) ([]*types.WarehouseMovement, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.WarehouseMovement{})
	if f.BoxID != nil {
		q = q.Where("box_id = ?", *f.BoxID)
	}
	if f.SectionID != nil {
		q = q.Where("to_section_id = ? OR from_section_id = ?", *f.SectionID, *f.SectionID)
	}
	if f.Operation != "" {
		q = q.Where("operation = ?", f.Operation)
	}
	if f.PerformedByID != nil {
		q = q.Where("performed_by_id = ?", *f.PerformedByID)
	}
	if f.DateFrom != nil {
		q = q.Where("performed_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("performed_at < ?", f.DateTo.AddDate(0, 0, 1))
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.WarehouseMovement
	if err := q.Preload("Box").
		Preload("PerformedBy").
		Preload("ToSection").
		Order("performed_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *movementRepo) CountSince(ctx context.Context, tx *gorm.DB, since time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.WarehouseMovement{}).Where("performed_at >= ?", since).Count(&n).Error
	return n, err
}

func (r *movementRepo) Recent(ctx context.Context, tx *gorm.DB, n int) ([]*types.WarehouseMovement, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.WarehouseMovement
	if err := transaction.WithContext(ctx).
		Preload("Box").
		Preload("PerformedBy").
		Order("performed_at DESC").
		Limit(n).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Rankings sums goodQty per performer; since == nil covers all time.
func (r *movementRepo) Rankings(ctx context.Context, tx *gorm.DB, since *time.Time) ([]RankingRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Table("warehouse_movements AS m").
		Select(`m.performed_by_id AS user_id, u.login AS login, u.name AS name, u.surname AS surname,
			COALESCE(SUM(m.good_qty), 0) AS good_qty, COALESCE(SUM(m.scrap_qty), 0) AS scrap_qty, COUNT(*) AS operations`).
		Joins("JOIN users AS u ON u.id = m.performed_by_id").
		Where("m.performed_by_id IS NOT NULL")
	if since != nil {
		q = q.Where("m.performed_at >= ?", *since)
	}
	var rows []RankingRow
	err := q.Group("m.performed_by_id, u.login, u.name, u.surname").
		Order("good_qty DESC, operations DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
