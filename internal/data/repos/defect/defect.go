package defect

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type CategoryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, c *types.DefectCategory) (*types.DefectCategory, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DefectCategory, error)
	List(ctx context.Context, tx *gorm.DB, onlyActive bool) ([]*types.DefectCategory, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CountDefects(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type categoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCategoryRepo(db *gorm.DB, baseLog *logger.Logger) CategoryRepo {
	return &categoryRepo{db: db, log: baseLog.With("repo", "DefectCategoryRepo")}
}

func (r *categoryRepo) Create(ctx context.Context, tx *gorm.DB, c *types.DefectCategory) (*types.DefectCategory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *categoryRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DefectCategory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.DefectCategory](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *categoryRepo) List(ctx context.Context, tx *gorm.DB, onlyActive bool) ([]*types.DefectCategory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.DefectCategory{})
	if onlyActive {
		q = q.Where("is_active = ?", true)
	}
	var rows []*types.DefectCategory
	if err := q.Order("code ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *categoryRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.DefectCategory{}).Where("id = ?", id).Updates(updates).Error
}

func (r *categoryRepo) CountDefects(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.BoardDefect{}).Where("category_id = ?", id).Count(&n).Error
	return n, err
}

func (r *categoryRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.DefectCategory{}).Error
}

type BoardDefectFilter struct {
	Status       string
	BoardType    string
	CategoryID   *uuid.UUID
	SerialNumber string
	DateFrom     *time.Time
	DateTo       *time.Time
}

type KeyCount struct {
	Key   string `gorm:"column:group_key" json:"key"`
	Count int64  `json:"count"`
}

type BoardDefectRepo interface {
	Create(ctx context.Context, tx *gorm.DB, d *types.BoardDefect) (*types.BoardDefect, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BoardDefect, error)
	// LockByID selects the row FOR UPDATE; call it inside a transaction.
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BoardDefect, error)
	AddRepairMinutes(ctx context.Context, tx *gorm.DB, id uuid.UUID, minutes int) error
	List(ctx context.Context, tx *gorm.DB, f BoardDefectFilter, page pagination.Params) ([]*types.BoardDefect, int64, error)
	ListForExport(ctx context.Context, tx *gorm.DB, f BoardDefectFilter, limit int) ([]*types.BoardDefect, error)
	// ListBySerial matches the serial exactly, newest first.
	ListBySerial(ctx context.Context, tx *gorm.DB, boardType, serial string) ([]*types.BoardDefect, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CountBy(ctx context.Context, tx *gorm.DB, column string) ([]KeyCount, error)
	CountByCategory(ctx context.Context, tx *gorm.DB) ([]KeyCount, error)
	AvgRepairMinutes(ctx context.Context, tx *gorm.DB) (float64, error)
	CountStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error)
}

type boardDefectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBoardDefectRepo(db *gorm.DB, baseLog *logger.Logger) BoardDefectRepo {
	return &boardDefectRepo{db: db, log: baseLog.With("repo", "BoardDefectRepo")}
}

func (r *boardDefectRepo) Create(ctx context.Context, tx *gorm.DB, d *types.BoardDefect) (*types.BoardDefect, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("Category", "DetectedBy", "Repairs").Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (r *boardDefectRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BoardDefect, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BoardDefect](transaction.WithContext(ctx).
		Preload("Category").
		Preload("DetectedBy").
		Preload("Repairs", func(db *gorm.DB) *gorm.DB { return db.Order("performed_at DESC") }).
		Preload("Repairs.PerformedBy").
		Where("id = ?", id))
}

func (r *boardDefectRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BoardDefect, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BoardDefect](transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *boardDefectRepo) AddRepairMinutes(ctx context.Context, tx *gorm.DB, id uuid.UUID, minutes int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.BoardDefect{}).
		Where("id = ?", id).
		UpdateColumn("total_repair_minutes", gorm.Expr("total_repair_minutes + ?", minutes)).Error
}

func (r *boardDefectRepo) filtered(q *gorm.DB, f BoardDefectFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BoardType != "" {
		q = q.Where("board_type = ?", f.BoardType)
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if s := strings.TrimSpace(f.SerialNumber); s != "" {
		q = q.Where("LOWER(serial_number) LIKE LOWER(?)", "%"+s+"%")
	}
	if f.DateFrom != nil {
		q = q.Where("detected_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("detected_at < ?", f.DateTo.AddDate(0, 0, 1))
	}
	return q
}

func (r *boardDefectRepo) List(ctx context.Context, tx *gorm.DB, f BoardDefectFilter, page pagination.Params) ([]*types.BoardDefect, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := r.filtered(transaction.WithContext(ctx).Model(&types.BoardDefect{}), f)
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.BoardDefect
	if err := q.Preload("Category").
		Preload("DetectedBy").
		Order("detected_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *boardDefectRepo) ListForExport(ctx context.Context, tx *gorm.DB, f BoardDefectFilter, limit int) ([]*types.BoardDefect, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.BoardDefect
	if err := r.filtered(transaction.WithContext(ctx).Model(&types.BoardDefect{}), f).
		Preload("Category").
		Preload("DetectedBy").
		Order("detected_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *boardDefectRepo) ListBySerial(ctx context.Context, tx *gorm.DB, boardType, serial string) ([]*types.BoardDefect, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.BoardDefect
	if err := transaction.WithContext(ctx).
		Preload("Category").
		Preload("DetectedBy").
		Preload("Repairs", func(db *gorm.DB) *gorm.DB { return db.Order("performed_at DESC") }).
		Where("board_type = ? AND serial_number = ?", boardType, serial).
		Order("detected_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *boardDefectRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.BoardDefect{}).Where("id = ?", id).Updates(updates).Error
}

var groupableColumns = map[string]bool{"status": true, "board_type": true}

// CountBy groups defects by status or board_type.
func (r *boardDefectRepo) CountBy(ctx context.Context, tx *gorm.DB, column string) ([]KeyCount, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if !groupableColumns[column] {
		return nil, errors.New("unsupported group column: " + column)
	}
	var rows []KeyCount
	err := transaction.WithContext(ctx).Model(&types.BoardDefect{}).
		Select(column + " AS group_key, COUNT(*) AS count").
		Group(column).
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *boardDefectRepo) CountByCategory(ctx context.Context, tx *gorm.DB) ([]KeyCount, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []KeyCount
	err := transaction.WithContext(ctx).
		Table("board_defects AS d").
		Select("COALESCE(c.code, '') AS group_key, COUNT(*) AS count").
		Joins("LEFT JOIN defect_categories AS c ON c.id = d.category_id").
		Group("c.code").
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *boardDefectRepo) AvgRepairMinutes(ctx context.Context, tx *gorm.DB) (float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var avg *float64
	err := transaction.WithContext(ctx).Model(&types.BoardDefect{}).
		Select("AVG(total_repair_minutes)").
		Where("total_repair_minutes > 0").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, err
	}
	return *avg, nil
}

func (r *boardDefectRepo) CountStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.BoardDefect{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

type RepairActionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, a *types.RepairAction) (*types.RepairAction, error)
	ListByDefect(ctx context.Context, tx *gorm.DB, defectID uuid.UUID) ([]*types.RepairAction, error)
}

type repairActionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepairActionRepo(db *gorm.DB, baseLog *logger.Logger) RepairActionRepo {
	return &repairActionRepo{db: db, log: baseLog.With("repo", "RepairActionRepo")}
}

func (r *repairActionRepo) Create(ctx context.Context, tx *gorm.DB, a *types.RepairAction) (*types.RepairAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if a.Result == "" {
		a.Result = defect.RepairPending
	}
	if err := transaction.WithContext(ctx).Omit("PerformedBy").Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repairActionRepo) ListByDefect(ctx context.Context, tx *gorm.DB, defectID uuid.UUID) ([]*types.RepairAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.RepairAction
	if err := transaction.WithContext(ctx).
		Preload("PerformedBy").
		Where("board_defect_id = ?", defectID).
		Order("performed_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
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
