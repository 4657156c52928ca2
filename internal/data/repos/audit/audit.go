package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type Filter struct {
	Action   string
	Entity   string
	UserID   *uuid.UUID
	DateFrom *time.Time
	// DateTo is inclusive of the whole day.
	DateTo *time.Time
}

type AuditLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.AuditLog) error
	List(ctx context.Context, tx *gorm.DB, f Filter, page pagination.Params) ([]*types.AuditLog, int64, error)
	ListForExport(ctx context.Context, tx *gorm.DB, f Filter, limit int) ([]*types.AuditLog, error)
}

type auditLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditLogRepo(db *gorm.DB, baseLog *logger.Logger) AuditLogRepo {
	return &auditLogRepo{db: db, log: baseLog.With("repo", "AuditLogRepo")}
}

func (r *auditLogRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.AuditLog) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Omit("User").Create(entry).Error
}

func (r *auditLogRepo) List(ctx context.Context, tx *gorm.DB, f Filter, page pagination.Params) ([]*types.AuditLog, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := applyFilter(transaction.WithContext(ctx).Model(&types.AuditLog{}), f)

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.AuditLog
	if err := q.Preload("User").
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *auditLogRepo) ListForExport(ctx context.Context, tx *gorm.DB, f Filter, limit int) ([]*types.AuditLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.AuditLog
	if err := applyFilter(transaction.WithContext(ctx).Model(&types.AuditLog{}), f).
		Preload("User").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if a := strings.TrimSpace(f.Action); a != "" {
		q = q.Where("LOWER(action) LIKE LOWER(?)", "%"+a+"%")
	}
	if e := strings.TrimSpace(f.Entity); e != "" {
		q = q.Where("entity = ?", e)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.DateFrom != nil {
		q = q.Where("created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("created_at < ?", f.DateTo.AddDate(0, 0, 1))
	}
	return q
}
