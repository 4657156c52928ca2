package device

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type Filter struct {
	Kind            string
	Serial          string
	Firmware        *bool
	StandTest       *bool
	SAWFilter       *bool
	FirmwareVersion string
	CategoryID      *uuid.UUID
	// Defective restricts to rows with (true) or without (false) a category.
	Defective *bool
	PCID      *uuid.UUID
	UserID    *uuid.UUID
	DateFrom  *time.Time
	DateTo    *time.Time
}

type CategoryCount struct {
	CategoryID uuid.UUID `gorm:"column:category_id" json:"categoryId"`
	Count      int64     `json:"count"`
}

type Repo interface {
	Create(ctx context.Context, tx *gorm.DB, d *types.Device) (*types.Device, error)
	CreateBatch(ctx context.Context, tx *gorm.DB, rows []*types.Device) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Device, error)
	GetBySerial(ctx context.Context, tx *gorm.DB, kind, serial string) (*types.Device, error)
	List(ctx context.Context, tx *gorm.DB, f Filter, page pagination.Params) ([]*types.Device, int64, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteBySerial(ctx context.Context, tx *gorm.DB, kind, serial string) (int64, error)
	// DeleteNewestByCategory removes up to count serial-less rows of the
	// category, newest first.
	DeleteNewestByCategory(ctx context.Context, tx *gorm.DB, kind string, categoryID uuid.UUID, count int) (int64, error)
	CountDefectiveByCategory(ctx context.Context, tx *gorm.DB, kind string) ([]CategoryCount, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	return &repo{db: db, log: baseLog.With("repo", "DeviceRepo")}
}

func (r *repo) Create(ctx context.Context, tx *gorm.DB, d *types.Device) (*types.Device, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("Category", "Session").Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repo) CreateBatch(ctx context.Context, tx *gorm.DB, rows []*types.Device) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Omit("Category", "Session").CreateInBatches(rows, 100).Error
}

func (r *repo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Device, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Device](transaction.WithContext(ctx).
		Preload("Category").
		Preload("Session.User").
		Preload("Session.PC").
		Where("id = ?", id))
}

func (r *repo) GetBySerial(ctx context.Context, tx *gorm.DB, kind, serial string) (*types.Device, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Device](transaction.WithContext(ctx).
		Preload("Category").
		Where("kind = ? AND serial = ?", kind, serial))
}

func (r *repo) filtered(q *gorm.DB, f Filter) *gorm.DB {
	if f.Kind != "" {
		q = q.Where("devices.kind = ?", f.Kind)
	}
	if s := strings.TrimSpace(f.Serial); s != "" {
		q = q.Where("LOWER(devices.serial) LIKE LOWER(?)", "%"+s+"%")
	}
	if f.Firmware != nil {
		q = q.Where("devices.firmware = ?", *f.Firmware)
	}
	if f.StandTest != nil {
		q = q.Where("devices.stand_test = ?", *f.StandTest)
	}
	if f.SAWFilter != nil {
		q = q.Where("devices.saw_filter = ?", *f.SAWFilter)
	}
	if v := strings.TrimSpace(f.FirmwareVersion); v != "" {
		q = q.Where("devices.firmware_version = ?", v)
	}
	if f.CategoryID != nil {
		q = q.Where("devices.category_id = ?", *f.CategoryID)
	}
	if f.Defective != nil {
		if *f.Defective {
			q = q.Where("devices.category_id IS NOT NULL")
		} else {
			q = q.Where("devices.category_id IS NULL")
		}
	}
	if f.PCID != nil || f.UserID != nil {
		sessions := r.db.Model(&types.Session{}).Select("id")
		if f.PCID != nil {
			sessions = sessions.Where("pc_id = ?", *f.PCID)
		}
		if f.UserID != nil {
			sessions = sessions.Where("user_id = ?", *f.UserID)
		}
		q = q.Where("devices.session_id IN (?)", sessions)
	}
	if f.DateFrom != nil {
		q = q.Where("devices.created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("devices.created_at < ?", f.DateTo.AddDate(0, 0, 1))
	}
	return q
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, f Filter, page pagination.Params) ([]*types.Device, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := r.filtered(transaction.WithContext(ctx).Model(&types.Device{}), f)
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.Device
	if err := q.Preload("Category").
		Preload("Session.User").
		Preload("Session.PC").
		Order("devices.created_at ASC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Device{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Device{}).Error
}

func (r *repo) DeleteBySerial(ctx context.Context, tx *gorm.DB, kind, serial string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("kind = ? AND serial = ?", kind, serial).Delete(&types.Device{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteNewestByCategory(ctx context.Context, tx *gorm.DB, kind string, categoryID uuid.UUID, count int) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).Model(&types.Device{}).
		Where("kind = ? AND category_id = ? AND serial IS NULL", kind, categoryID).
		Order("created_at DESC").
		Limit(count).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).Where("id IN ?", ids).Delete(&types.Device{})
	return res.RowsAffected, res.Error
}

func (r *repo) CountDefectiveByCategory(ctx context.Context, tx *gorm.DB, kind string) ([]CategoryCount, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []CategoryCount
	err := transaction.WithContext(ctx).Model(&types.Device{}).
		Select("category_id, COUNT(*) AS count").
		Where("kind = ? AND category_id IS NOT NULL", kind).
		Group("category_id").
		Order("count DESC").
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
