package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type PCRepo interface {
	Create(ctx context.Context, tx *gorm.DB, pc *types.PC) (*types.PC, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PC, error)
	GetByIP(ctx context.Context, tx *gorm.DB, ip string) (*types.PC, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.PC, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type pcRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPCRepo(db *gorm.DB, baseLog *logger.Logger) PCRepo {
	return &pcRepo{db: db, log: baseLog.With("repo", "PCRepo")}
}

func (r *pcRepo) Create(ctx context.Context, tx *gorm.DB, pc *types.PC) (*types.PC, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(pc).Error; err != nil {
		return nil, err
	}
	return pc, nil
}

func (r *pcRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PC, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.PC](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *pcRepo) GetByIP(ctx context.Context, tx *gorm.DB, ip string) (*types.PC, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.PC](transaction.WithContext(ctx).Where("ip = ?", ip))
}

func (r *pcRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.PC, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PC
	if err := transaction.WithContext(ctx).Order("pc_name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pcRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.PC{}).Where("id = ?", id).Updates(updates).Error
}

func (r *pcRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.PC{}).Error
}

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *types.Session) (*types.Session, error)
	CloseForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, at time.Time) (int64, error)
	CloseStartedBefore(ctx context.Context, tx *gorm.DB, cutoff, at time.Time) (int64, error)
	ListOnline(ctx context.Context, tx *gorm.DB) ([]*types.Session, error)
	// CurrentForUser returns the user's latest online session or nil.
	CurrentForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.Session, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) Create(ctx context.Context, tx *gorm.DB, s *types.Session) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) CloseForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, at time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("user_id = ? AND online = ?", userID, true).
		Updates(map[string]any{"online": false, "ended_at": at})
	return res.RowsAffected, res.Error
}

func (r *sessionRepo) CloseStartedBefore(ctx context.Context, tx *gorm.DB, cutoff, at time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("online = ? AND started_at < ?", true, cutoff).
		Updates(map[string]any{"online": false, "ended_at": at})
	return res.RowsAffected, res.Error
}

func (r *sessionRepo) ListOnline(ctx context.Context, tx *gorm.DB) ([]*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Session
	if err := transaction.WithContext(ctx).
		Preload("User").
		Preload("PC").
		Where("online = ?", true).
		Order("started_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) CurrentForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Session](transaction.WithContext(ctx).
		Where("user_id = ? AND online = ?", userID, true).
		Order("started_at DESC"))
}
