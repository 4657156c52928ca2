package beryll

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type ServerFilter struct {
	Status string
	// BatchID filters by batch; Unbatched selects servers with no batch.
	BatchID   *uuid.UUID
	Unbatched bool
	Search    string
	IDs       []uuid.UUID
	// DateFrom and DateTo bound created_at, both inclusive.
	DateFrom *time.Time
	DateTo   *time.Time
	// IncludeArchived is only read by ListWithComponents.
	IncludeArchived bool
}

type ServerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *types.BeryllServer) (*types.BeryllServer, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllServer, error)
	// GetDetail loads the batch, assignee, the latest historyLimit history
	// entries, components and checklist items with templates.
	GetDetail(ctx context.Context, tx *gorm.DB, id uuid.UUID, historyLimit int) (*types.BeryllServer, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllServer, error)
	GetByAPKSerial(ctx context.Context, tx *gorm.DB, serial string) (*types.BeryllServer, error)
	List(ctx context.Context, tx *gorm.DB, f ServerFilter, page pagination.Params) ([]*types.BeryllServer, int64, error)
	ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.BeryllServer, error)
	// ListWithComponents returns every matching server, oldest first, with
	// its batch and components ordered by type and slot.
	ListWithComponents(ctx context.Context, tx *gorm.DB, f ServerFilter) ([]*types.BeryllServer, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SetBatch(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, batchID *uuid.UUID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type serverRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewServerRepo(db *gorm.DB, baseLog *logger.Logger) ServerRepo {
	return &serverRepo{db: db, log: baseLog.With("repo", "BeryllServerRepo")}
}

func (r *serverRepo) Create(ctx context.Context, tx *gorm.DB, s *types.BeryllServer) (*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Omit("Batch", "AssignedTo", "Components", "Checklists", "History").
		Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *serverRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllServer](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *serverRepo) GetDetail(ctx context.Context, tx *gorm.DB, id uuid.UUID, historyLimit int) (*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	s, err := first[types.BeryllServer](transaction.WithContext(ctx).
		Preload("Batch").
		Preload("AssignedTo").
		Preload("Components", func(db *gorm.DB) *gorm.DB { return db.Order("type ASC, slot ASC") }).
		Preload("Checklists").
		Preload("Checklists.Template").
		Where("id = ?", id))
	if err != nil || s == nil {
		return s, err
	}
	// Preload cannot limit per parent, so history is loaded separately.
	var history []types.BeryllHistory
	if err := transaction.WithContext(ctx).
		Preload("User").
		Where("server_id = ?", id).
		Order("created_at DESC").
		Limit(historyLimit).
		Find(&history).Error; err != nil {
		return nil, err
	}
	s.History = history
	return s, nil
}

func (r *serverRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllServer](transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *serverRepo) GetByAPKSerial(ctx context.Context, tx *gorm.DB, serial string) (*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.BeryllServer](transaction.WithContext(ctx).
		Where("apk_serial_number = ? OR serial_number = ?", serial, serial))
}

func (r *serverRepo) List(ctx context.Context, tx *gorm.DB, f ServerFilter, page pagination.Params) ([]*types.BeryllServer, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := filterServers(transaction.WithContext(ctx).Model(&types.BeryllServer{}), f)

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.BeryllServer
	if err := q.Preload("Batch").
		Preload("AssignedTo").
		Order("updated_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *serverRepo) ListWithComponents(ctx context.Context, tx *gorm.DB, f ServerFilter) ([]*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := filterServers(transaction.WithContext(ctx).Model(&types.BeryllServer{}), f)
	if !f.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}
	var rows []*types.BeryllServer
	err := q.Preload("Batch").
		Preload("Components", func(db *gorm.DB) *gorm.DB { return db.Order("type ASC, slot ASC") }).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func filterServers(q *gorm.DB, f ServerFilter) *gorm.DB {
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Unbatched {
		q = q.Where("batch_id IS NULL")
	} else if f.BatchID != nil {
		q = q.Where("batch_id = ?", *f.BatchID)
	}
	if f.DateFrom != nil {
		q = q.Where("created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("created_at <= ?", *f.DateTo)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where(`LOWER(ip_address) LIKE LOWER(?) OR LOWER(hostname) LIKE LOWER(?)
			OR LOWER(serial_number) LIKE LOWER(?) OR LOWER(apk_serial_number) LIKE LOWER(?)
			OR LOWER(mac_address) LIKE LOWER(?)`, like, like, like, like, like)
	}
	return q
}

func (r *serverRepo) ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.BeryllServer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.BeryllServer
	if len(ids) == 0 {
		return rows, nil
	}
	if err := transaction.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *serverRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.BeryllServer{}).Where("id = ?", id).Updates(updates).Error
}

func (r *serverRepo) SetBatch(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, batchID *uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).Model(&types.BeryllServer{}).Where("id IN ?", ids).Update("batch_id", batchID)
	return res.RowsAffected, res.Error
}

// Delete removes the server with its components and checklist. History rows
// are kept and detached.
func (r *serverRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	db := transaction.WithContext(ctx)
	if err := db.Model(&types.BeryllHistory{}).Where("server_id = ?", id).Update("server_id", nil).Error; err != nil {
		return err
	}
	if err := db.Where("server_id = ?", id).Delete(&types.ServerComponent{}).Error; err != nil {
		return err
	}
	if err := db.Where("server_id = ?", id).Delete(&types.ServerChecklist{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&types.BeryllServer{}).Error
}
