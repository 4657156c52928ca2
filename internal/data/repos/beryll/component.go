package beryll

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type ComponentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, c ...*types.ServerComponent) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ServerComponent, error)
	ListByServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]*types.ServerComponent, error)
	// SerialExists matches either the manufacturer or the Yadro serial.
	SerialExists(ctx context.Context, tx *gorm.DB, serial string) (bool, error)
	// MarkBySerial sets the status of the server's components carrying serial.
	MarkBySerial(ctx context.Context, tx *gorm.DB, serverID uuid.UUID, serial, status string) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
}

type componentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewComponentRepo(db *gorm.DB, baseLog *logger.Logger) ComponentRepo {
	return &componentRepo{db: db, log: baseLog.With("repo", "ComponentRepo")}
}

func (r *componentRepo) Create(ctx context.Context, tx *gorm.DB, c ...*types.ServerComponent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(c) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).CreateInBatches(c, 200).Error
}

func (r *componentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ServerComponent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.ServerComponent](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *componentRepo) ListByServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]*types.ServerComponent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.ServerComponent
	if err := transaction.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("type ASC, slot ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *componentRepo) SerialExists(ctx context.Context, tx *gorm.DB, serial string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.ServerComponent{}).
		Where("serial_number = ? OR serial_number_yadro = ?", serial, serial).
		Count(&n).Error
	return n > 0, err
}

func (r *componentRepo) MarkBySerial(ctx context.Context, tx *gorm.DB, serverID uuid.UUID, serial, status string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Model(&types.ServerComponent{}).
		Where("server_id = ? AND (serial_number = ? OR serial_number_yadro = ?)", serverID, serial, serial).
		Update("status", status)
	return res.RowsAffected, res.Error
}

func (r *componentRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.ServerComponent{})
	return res.RowsAffected, res.Error
}
