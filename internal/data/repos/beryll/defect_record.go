package beryll

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type DefectRecordFilter struct {
	Status         string
	ServerID       *uuid.UUID
	RepairPartType string
	IsRepeated     *bool
	OnlyActive     bool
	Search         string
	DateFrom       *time.Time
	DateTo         *time.Time
}

type DefectRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, d *types.BeryllDefectRecord) (*types.BeryllDefectRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllDefectRecord, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllDefectRecord, error)
	List(ctx context.Context, tx *gorm.DB, f DefectRecordFilter, page pagination.Params) ([]*types.BeryllDefectRecord, int64, error)
	ListForExport(ctx context.Context, tx *gorm.DB, f DefectRecordFilter, limit int) ([]*types.BeryllDefectRecord, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// LatestInactiveSince finds the newest RESOLVED or CLOSED record for the
	// same server and part type detected at or after since.
	LatestInactiveSince(ctx context.Context, tx *gorm.DB, serverID uuid.UUID, partType string, since time.Time) (*types.BeryllDefectRecord, error)
	TicketExists(ctx context.Context, tx *gorm.DB, ticket string) (bool, error)

	CountBy(ctx context.Context, tx *gorm.DB, column string) ([]KeyCount, error)
	CountRepeated(ctx context.Context, tx *gorm.DB) (int64, error)
	CountSLABreached(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
	AvgDowntimeMinutes(ctx context.Context, tx *gorm.DB) (float64, error)
}

type defectRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDefectRecordRepo(db *gorm.DB, baseLog *logger.Logger) DefectRecordRepo {
	return &defectRecordRepo{db: db, log: baseLog.With("repo", "DefectRecordRepo")}
}

var inactiveDefectStatuses = []string{beryll.DefectResolved, beryll.DefectClosed}

func (r *defectRecordRepo) Create(ctx context.Context, tx *gorm.DB, d *types.BeryllDefectRecord) (*types.BeryllDefectRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Omit("Server", "DetectedBy", "Diagnostician", "ResolvedBy").
		Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func (r *defectRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllDefectRecord](transaction.WithContext(ctx).
		Preload("Server").
		Preload("DetectedBy").
		Preload("Diagnostician").
		Preload("ResolvedBy").
		Where("id = ?", id))
}

func (r *defectRecordRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllDefectRecord](transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *defectRecordRepo) filtered(q *gorm.DB, f DefectRecordFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ServerID != nil {
		q = q.Where("server_id = ?", *f.ServerID)
	}
	if f.RepairPartType != "" {
		q = q.Where("repair_part_type = ?", f.RepairPartType)
	}
	if f.IsRepeated != nil {
		q = q.Where("is_repeated_defect = ?", *f.IsRepeated)
	}
	if f.OnlyActive {
		q = q.Where("status NOT IN ?", inactiveDefectStatuses)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where(`LOWER(yadro_ticket_number) LIKE LOWER(?) OR LOWER(problem_description) LIKE LOWER(?)
			OR LOWER(cluster_code) LIKE LOWER(?) OR LOWER(defect_part_serial_yadro) LIKE LOWER(?)
			OR LOWER(defect_part_serial_manuf) LIKE LOWER(?)`, like, like, like, like, like)
	}
	if f.DateFrom != nil {
		q = q.Where("detected_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("detected_at < ?", f.DateTo.AddDate(0, 0, 1))
	}
	return q
}

func (r *defectRecordRepo) List(ctx context.Context, tx *gorm.DB, f DefectRecordFilter, page pagination.Params) ([]*types.BeryllDefectRecord, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := r.filtered(transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}), f)
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.BeryllDefectRecord
	if err := q.Preload("Server").
		Preload("DetectedBy").
		Preload("Diagnostician").
		Order("detected_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *defectRecordRepo) ListForExport(ctx context.Context, tx *gorm.DB, f DefectRecordFilter, limit int) ([]*types.BeryllDefectRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.BeryllDefectRecord
	if err := r.filtered(transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}), f).
		Preload("Server").
		Preload("Diagnostician").
		Order("detected_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *defectRecordRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}).Where("id = ?", id).Updates(updates).Error
}

func (r *defectRecordRepo) LatestInactiveSince(ctx context.Context, tx *gorm.DB, serverID uuid.UUID, partType string, since time.Time) (*types.BeryllDefectRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllDefectRecord](transaction.WithContext(ctx).
		Where("server_id = ? AND repair_part_type = ? AND status IN ? AND detected_at >= ?",
			serverID, partType, inactiveDefectStatuses, since).
		Order("detected_at DESC"))
}

func (r *defectRecordRepo) TicketExists(ctx context.Context, tx *gorm.DB, ticket string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}).Where("yadro_ticket_number = ?", ticket).Count(&n).Error
	return n > 0, err
}

var defectGroupColumns = map[string]bool{"status": true, "repair_part_type": true}

func (r *defectRecordRepo) CountBy(ctx context.Context, tx *gorm.DB, column string) ([]KeyCount, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if !defectGroupColumns[column] {
		return nil, errors.New("unsupported group column: " + column)
	}
	var rows []KeyCount
	err := transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}).
		Select("COALESCE(" + column + ", '') AS group_key, COUNT(*) AS count").
		Group(column).
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *defectRecordRepo) CountRepeated(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}).Where("is_repeated_defect = ?", true).Count(&n).Error
	return n, err
}

func (r *defectRecordRepo) CountSLABreached(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}).
		Where("sla_deadline IS NOT NULL AND sla_deadline < ? AND status NOT IN ?", now, inactiveDefectStatuses).
		Count(&n).Error
	return n, err
}

func (r *defectRecordRepo) AvgDowntimeMinutes(ctx context.Context, tx *gorm.DB) (float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var avg *float64
	err := transaction.WithContext(ctx).Model(&types.BeryllDefectRecord{}).
		Select("AVG(total_downtime_minutes)").
		Where("total_downtime_minutes IS NOT NULL").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, err
	}
	return *avg, nil
}
