package production

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/production"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type OperationTypeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, o *types.OperationType) (*types.OperationType, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.OperationType, error)
	List(ctx context.Context, tx *gorm.DB, onlyActive bool) ([]*types.OperationType, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	CountOutputs(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type operationTypeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOperationTypeRepo(db *gorm.DB, baseLog *logger.Logger) OperationTypeRepo {
	return &operationTypeRepo{db: db, log: baseLog.With("repo", "OperationTypeRepo")}
}

func (r *operationTypeRepo) Create(ctx context.Context, tx *gorm.DB, o *types.OperationType) (*types.OperationType, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

func (r *operationTypeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.OperationType, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.OperationType](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *operationTypeRepo) List(ctx context.Context, tx *gorm.DB, onlyActive bool) ([]*types.OperationType, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.OperationType{})
	if onlyActive {
		q = q.Where("is_active = ?", true)
	}
	var out []*types.OperationType
	if err := q.Order("sort_order ASC, name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *operationTypeRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.OperationType{}).Where("id = ?", id).Updates(updates).Error
}

func (r *operationTypeRepo) CountOutputs(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.ProductionOutput{}).Where("operation_type_id = ?", id).Count(&n).Error
	return n, err
}

func (r *operationTypeRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.OperationType{}).Error
}

type OutputFilter struct {
	Status          string
	UserID          *uuid.UUID
	TeamIDs         []uuid.UUID
	SectionID       *uuid.UUID
	ProjectID       *uuid.UUID
	OperationTypeID *uuid.UUID
	DateFrom        *time.Time
	DateTo          *time.Time
}

// SummaryRow aggregates outputs per user.
type SummaryRow struct {
	UserID      uuid.UUID `gorm:"column:user_id" json:"userId"`
	Claimed     int64     `gorm:"column:claimed" json:"claimed"`
	Approved    int64     `gorm:"column:approved" json:"approved"`
	Rejected    int64     `gorm:"column:rejected" json:"rejected"`
	Pending     int64     `gorm:"column:pending" json:"pending"`
	RecordCount int64     `gorm:"column:record_count" json:"records"`
}

// MatrixCell is the approved quantity of one user on one day.
type MatrixCell struct {
	UserID   uuid.UUID `gorm:"column:user_id" json:"userId"`
	Day      string    `gorm:"column:day" json:"day"`
	Approved int64     `gorm:"column:approved" json:"approved"`
}

type OutputRepo interface {
	Create(ctx context.Context, tx *gorm.DB, o *types.ProductionOutput) (*types.ProductionOutput, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionOutput, error)
	LockByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProductionOutput, error)
	List(ctx context.Context, tx *gorm.DB, f OutputFilter, page pagination.Params) ([]*types.ProductionOutput, int64, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Summary(ctx context.Context, tx *gorm.DB, f OutputFilter) ([]SummaryRow, error)
	Matrix(ctx context.Context, tx *gorm.DB, f OutputFilter) ([]MatrixCell, error)
}

type outputRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutputRepo(db *gorm.DB, baseLog *logger.Logger) OutputRepo {
	return &outputRepo{db: db, log: baseLog.With("repo", "ProductionOutputRepo")}
}

var outputRelations = []string{"User", "ApprovedBy", "Team", "Section", "Project", "OperationType"}

func (r *outputRepo) Create(ctx context.Context, tx *gorm.DB, o *types.ProductionOutput) (*types.ProductionOutput, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if o.Status == "" {
		o.Status = production.OutputPending
	}
	if err := transaction.WithContext(ctx).Omit(outputRelations...).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

func (r *outputRepo) preloaded(q *gorm.DB) *gorm.DB {
	for _, rel := range outputRelations {
		q = q.Preload(rel)
	}
	return q
}

func (r *outputRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProductionOutput, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.ProductionOutput](r.preloaded(transaction.WithContext(ctx)).Where("id = ?", id))
}

func (r *outputRepo) LockByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ProductionOutput, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ProductionOutput
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outputRepo) filtered(q *gorm.DB, f OutputFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	// A non-nil empty TeamIDs matches nothing.
	if f.TeamIDs != nil {
		if len(f.TeamIDs) == 0 {
			q = q.Where("1 = 0")
		} else {
			q = q.Where("team_id IN ?", f.TeamIDs)
		}
	}
	if f.SectionID != nil {
		q = q.Where("section_id = ?", *f.SectionID)
	}
	if f.ProjectID != nil {
		q = q.Where("project_id = ?", *f.ProjectID)
	}
	if f.OperationTypeID != nil {
		q = q.Where("operation_type_id = ?", *f.OperationTypeID)
	}
	if f.DateFrom != nil {
		q = q.Where("date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("date < ?", f.DateTo.AddDate(0, 0, 1))
	}
	return q
}

func (r *outputRepo) List(ctx context.Context, tx *gorm.DB, f OutputFilter, page pagination.Params) ([]*types.ProductionOutput, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := r.filtered(transaction.WithContext(ctx).Model(&types.ProductionOutput{}), f)
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.ProductionOutput
	if err := r.preloaded(q).
		Order("date DESC, created_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *outputRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.ProductionOutput{}).Where("id = ?", id).Updates(updates).Error
}

func (r *outputRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.ProductionOutput{}).Error
}

func (r *outputRepo) Summary(ctx context.Context, tx *gorm.DB, f OutputFilter) ([]SummaryRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []SummaryRow
	err := r.filtered(transaction.WithContext(ctx).Model(&types.ProductionOutput{}), f).
		Select(`user_id,
			SUM(claimed_qty) AS claimed,
			SUM(approved_qty) AS approved,
			SUM(rejected_qty) AS rejected,
			SUM(CASE WHEN status = ? THEN claimed_qty ELSE 0 END) AS pending,
			COUNT(*) AS record_count`, production.OutputPending).
		Group("user_id").
		Order("approved DESC").
		Scan(&rows).Error
	return rows, err
}

// Matrix sums approved quantities per user and calendar day. Pending and
// rejected rows contribute nothing.
func (r *outputRepo) Matrix(ctx context.Context, tx *gorm.DB, f OutputFilter) ([]MatrixCell, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	f.Status = ""
	var outputs []*types.ProductionOutput
	if err := r.filtered(transaction.WithContext(ctx).Model(&types.ProductionOutput{}), f).
		Where("status IN ?", []string{production.OutputApproved, production.OutputAdjusted}).
		Select("user_id", "date", "approved_qty").
		Find(&outputs).Error; err != nil {
		return nil, err
	}
	idx := map[string]int{}
	var cells []MatrixCell
	for _, o := range outputs {
		day := o.Date.Format("2006-01-02")
		key := o.UserID.String() + "|" + day
		i, ok := idx[key]
		if !ok {
			i = len(cells)
			idx[key] = i
			cells = append(cells, MatrixCell{UserID: o.UserID, Day: day})
		}
		cells[i].Approved += int64(o.ApprovedQty)
	}
	return cells, nil
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
