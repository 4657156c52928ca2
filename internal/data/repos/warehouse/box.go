package warehouse

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type BoxFilter struct {
	Search      string
	Status      string
	SectionID   *uuid.UUID
	SupplyID    *uuid.UUID
	BatchName   string
	ProjectName string
}

// BalanceRow is one ON_STOCK group keyed by origin, label and unit.
type BalanceRow struct {
	OriginType string  `json:"originType"`
	OriginID   *string `json:"originId"`
	Label      string  `json:"label"`
	Unit       string  `json:"unit"`
	Quantity   int64   `json:"quantity"`
	Reserved   int64   `json:"reserved"`
	Boxes      int64   `json:"boxes"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type LabelStock struct {
	Label    string `json:"label"`
	Quantity int64  `json:"quantity"`
}

type BoxRepo interface {
	Create(ctx context.Context, tx *gorm.DB, boxes ...*types.WarehouseBox) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WarehouseBox, error)
	// LockByID selects the row FOR UPDATE; call it inside a transaction.
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WarehouseBox, error)
	GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.WarehouseBox, error)
	ShortCodeExists(ctx context.Context, tx *gorm.DB, code string) (bool, error)
	List(ctx context.Context, tx *gorm.DB, f BoxFilter, page pagination.Params) ([]*types.WarehouseBox, int64, error)
	ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.WarehouseBox, error)
	ListBySupply(ctx context.Context, tx *gorm.DB, supplyID uuid.UUID) ([]*types.WarehouseBox, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateMany(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, updates map[string]interface{}) (int64, error)
	ReleaseExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
	Balance(ctx context.Context, tx *gorm.DB) ([]BalanceRow, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) ([]StatusCount, error)
	TopLabels(ctx context.Context, tx *gorm.DB, n int) ([]LabelStock, error)
	CountActiveReservations(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type boxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBoxRepo(db *gorm.DB, baseLog *logger.Logger) BoxRepo {
	return &boxRepo{db: db, log: baseLog.With("repo", "BoxRepo")}
}

func (r *boxRepo) Create(ctx context.Context, tx *gorm.DB, boxes ...*types.WarehouseBox) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(boxes) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Omit("CurrentSection", "CurrentTeam", "AcceptedBy").
		CreateInBatches(boxes, 200).Error
}

func (r *boxRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WarehouseBox, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.WarehouseBox](transaction.WithContext(ctx).
		Preload("CurrentSection").
		Preload("CurrentTeam").
		Preload("AcceptedBy").
		Where("id = ?", id))
}

func (r *boxRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.WarehouseBox, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.WarehouseBox](transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *boxRepo) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.WarehouseBox, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.WarehouseBox](transaction.WithContext(ctx).
		Preload("CurrentSection").
		Preload("CurrentTeam").
		Where("qr_code = ? OR short_code = ?", code, code))
}

func (r *boxRepo) ShortCodeExists(ctx context.Context, tx *gorm.DB, code string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).Where("short_code = ?", code).Count(&n).Error
	return n > 0, err
}

func (r *boxRepo) List(ctx context.Context, tx *gorm.DB, f BoxFilter, page pagination.Params) ([]*types.WarehouseBox, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.WarehouseBox{})
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(qr_code) LIKE LOWER(?) OR LOWER(label) LIKE LOWER(?) OR LOWER(batch_name) LIKE LOWER(?) OR short_code = ?",
			like, like, like, s)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.SectionID != nil {
		q = q.Where("current_section_id = ?", *f.SectionID)
	}
	if f.SupplyID != nil {
		q = q.Where("supply_id = ?", *f.SupplyID)
	}
	if f.BatchName != "" {
		q = q.Where("batch_name = ?", f.BatchName)
	}
	if f.ProjectName != "" {
		q = q.Where("project_name = ?", f.ProjectName)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.WarehouseBox
	if err := q.Preload("CurrentSection").
		Preload("CurrentTeam").
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *boxRepo) ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.WarehouseBox, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.WarehouseBox
	if len(ids) == 0 {
		return rows, nil
	}
	if err := transaction.WithContext(ctx).
		Preload("CurrentSection").
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *boxRepo) ListBySupply(ctx context.Context, tx *gorm.DB, supplyID uuid.UUID) ([]*types.WarehouseBox, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.WarehouseBox
	if err := transaction.WithContext(ctx).
		Preload("CurrentSection").
		Where("supply_id = ?", supplyID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *boxRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.WarehouseBox{}).Where("id = ?", id).Updates(updates).Error
}

func (r *boxRepo) UpdateMany(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, updates map[string]interface{}) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).Where("id IN ?", ids).Updates(updates)
	return res.RowsAffected, res.Error
}

// ReleaseExpired clears every reservation whose expiry is at or before now.
func (r *boxRepo) ReleaseExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).
		Where("reserved_qty > 0 AND reservation_expires_at IS NOT NULL AND reservation_expires_at <= ?", now).
		Updates(ClearReservation())
	return res.RowsAffected, res.Error
}

// ClearReservation is the column set that drops a reservation.
func ClearReservation() map[string]interface{} {
	return map[string]interface{}{
		"reserved_qty":           0,
		"reserved_by_id":         nil,
		"reserved_at":            nil,
		"reservation_expires_at": nil,
	}
}

func (r *boxRepo) Balance(ctx context.Context, tx *gorm.DB) ([]BalanceRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []BalanceRow
	err := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).
		Select("origin_type, origin_id, label, unit, SUM(quantity) AS quantity, SUM(reserved_qty) AS reserved, COUNT(*) AS boxes").
		Where("status = ?", warehouse.BoxStatusOnStock).
		Group("origin_type, origin_id, label, unit").
		Order("label ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *boxRepo) CountByStatus(ctx context.Context, tx *gorm.DB) ([]StatusCount, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []StatusCount
	err := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *boxRepo) TopLabels(ctx context.Context, tx *gorm.DB, n int) ([]LabelStock, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []LabelStock
	err := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).
		Select("label, SUM(quantity) AS quantity").
		Where("status = ?", warehouse.BoxStatusOnStock).
		Group("label").
		Order("quantity DESC").
		Limit(n).
		Scan(&rows).Error
	return rows, err
}

func (r *boxRepo) CountActiveReservations(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.WarehouseBox{}).
		Where("reserved_qty > 0 AND (reservation_expires_at IS NULL OR reservation_expires_at > ?)", now).
		Count(&n).Error
	return n, err
}
