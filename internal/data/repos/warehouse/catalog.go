package warehouse

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, d *types.WarehouseDocument) (*types.WarehouseDocument, error)
	List(ctx context.Context, tx *gorm.DB, boxID *uuid.UUID) ([]*types.WarehouseDocument, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(ctx context.Context, tx *gorm.DB, d *types.WarehouseDocument) (*types.WarehouseDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (r *documentRepo) List(ctx context.Context, tx *gorm.DB, boxID *uuid.UUID) ([]*types.WarehouseDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.WarehouseDocument{})
	if boxID != nil {
		q = q.Where("box_id = ?", *boxID)
	}
	var rows []*types.WarehouseDocument
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type PrintHistoryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, h *types.PrintHistory) (*types.PrintHistory, error)
	List(ctx context.Context, tx *gorm.DB, page pagination.Params) ([]*types.PrintHistory, int64, error)
}

type printHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPrintHistoryRepo(db *gorm.DB, baseLog *logger.Logger) PrintHistoryRepo {
	return &printHistoryRepo{db: db, log: baseLog.With("repo", "PrintHistoryRepo")}
}

func (r *printHistoryRepo) Create(ctx context.Context, tx *gorm.DB, h *types.PrintHistory) (*types.PrintHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("CreatedBy").Create(h).Error; err != nil {
		return nil, err
	}
	return h, nil
}

func (r *printHistoryRepo) List(ctx context.Context, tx *gorm.DB, page pagination.Params) ([]*types.PrintHistory, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.PrintHistory{})
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.PrintHistory
	if err := q.Preload("CreatedBy").
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

type LabelTemplateRepo interface {
	Create(ctx context.Context, tx *gorm.DB, t *types.LabelTemplate) (*types.LabelTemplate, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.LabelTemplate, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
}

type labelTemplateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabelTemplateRepo(db *gorm.DB, baseLog *logger.Logger) LabelTemplateRepo {
	return &labelTemplateRepo{db: db, log: baseLog.With("repo", "LabelTemplateRepo")}
}

func (r *labelTemplateRepo) Create(ctx context.Context, tx *gorm.DB, t *types.LabelTemplate) (*types.LabelTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *labelTemplateRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.LabelTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.LabelTemplate
	if err := transaction.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *labelTemplateRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.LabelTemplate{})
	return res.RowsAffected, res.Error
}

// AlertRow is a limit whose ON_STOCK balance is under its minimum.
type AlertRow struct {
	ID          uuid.UUID `json:"id"`
	OriginType  string    `json:"originType"`
	OriginID    string    `json:"originId"`
	Label       string    `json:"label"`
	MinQuantity int64     `json:"minQuantity"`
	Current     int64     `json:"current"`
	Deficit     int64     `json:"deficit"`
}

type InventoryLimitRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, l *types.InventoryLimit) (*types.InventoryLimit, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.InventoryLimit, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
	Alerts(ctx context.Context, tx *gorm.DB) ([]AlertRow, error)
}

type inventoryLimitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInventoryLimitRepo(db *gorm.DB, baseLog *logger.Logger) InventoryLimitRepo {
	return &inventoryLimitRepo{db: db, log: baseLog.With("repo", "InventoryLimitRepo")}
}

func (r *inventoryLimitRepo) Upsert(ctx context.Context, tx *gorm.DB, l *types.InventoryLimit) (*types.InventoryLimit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "origin_type"}, {Name: "origin_id"}, {Name: "label"}},
		DoUpdates: clause.AssignmentColumns([]string{"min_quantity", "updated_at"}),
	}).Create(l).Error
	if err != nil {
		return nil, err
	}
	return first[types.InventoryLimit](transaction.WithContext(ctx).
		Where("origin_type = ? AND origin_id = ? AND label = ?", l.OriginType, l.OriginID, l.Label))
}

func (r *inventoryLimitRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.InventoryLimit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.InventoryLimit
	if err := transaction.WithContext(ctx).Order("label ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *inventoryLimitRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.InventoryLimit{})
	return res.RowsAffected, res.Error
}

// Alerts matches limits to ON_STOCK stock by origin and label. An empty
// originId on the limit matches boxes of any origin id.
func (r *inventoryLimitRepo) Alerts(ctx context.Context, tx *gorm.DB) ([]AlertRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []AlertRow
	err := transaction.WithContext(ctx).
		Table("inventory_limits AS l").
		Select(`l.id AS id, l.origin_type AS origin_type, l.origin_id AS origin_id, l.label AS label,
			l.min_quantity AS min_quantity, COALESCE(SUM(b.quantity), 0) AS current`).
		Joins(`LEFT JOIN warehouse_boxes AS b ON b.label = l.label AND b.origin_type = l.origin_type
			AND (l.origin_id = '' OR b.origin_id = l.origin_id) AND b.status = ?`, warehouse.BoxStatusOnStock).
		Group("l.id, l.origin_type, l.origin_id, l.label, l.min_quantity").
		Having("COALESCE(SUM(b.quantity), 0) < l.min_quantity").
		Order("l.label ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Deficit = rows[i].MinQuantity - rows[i].Current
	}
	return rows, nil
}
