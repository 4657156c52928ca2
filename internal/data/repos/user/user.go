package user

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	domainuser "github.com/kryptonit/mes-backend/internal/domain/user"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, u *types.User) (*types.User, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error)
	GetByLogin(ctx context.Context, tx *gorm.DB, login string) (*types.User, error)
	FindByFullName(ctx context.Context, tx *gorm.DB, surname, name string) (*types.User, error)
	List(ctx context.Context, tx *gorm.DB, search string) ([]*types.User, error)
	ListUnassigned(ctx context.Context, tx *gorm.DB) ([]*types.User, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	SetTeam(ctx context.Context, tx *gorm.DB, userID uuid.UUID, teamID *uuid.UUID) error
	ClearTeam(ctx context.Context, tx *gorm.DB, teamID uuid.UUID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, u *types.User) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	if err := transaction.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (ur *userRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return first[types.User](transaction.WithContext(ctx).Where("id = ?", id))
}

func (ur *userRepo) GetByLogin(ctx context.Context, tx *gorm.DB, login string) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return first[types.User](transaction.WithContext(ctx).Where("login = ?", login))
}

func (ur *userRepo) FindByFullName(ctx context.Context, tx *gorm.DB, surname, name string) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return first[types.User](transaction.WithContext(ctx).
		Where("LOWER(surname) = LOWER(?) AND LOWER(name) = LOWER(?)", surname, name))
}

func (ur *userRepo) List(ctx context.Context, tx *gorm.DB, search string) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	q := transaction.WithContext(ctx).Model(&types.User{})
	if s := strings.TrimSpace(search); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(login) LIKE LOWER(?) OR LOWER(name) LIKE LOWER(?) OR LOWER(surname) LIKE LOWER(?)", like, like, like)
	}
	var results []*types.User
	if err := q.Order("name ASC").Order("surname ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *userRepo) ListUnassigned(ctx context.Context, tx *gorm.DB) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	var results []*types.User
	if err := transaction.WithContext(ctx).
		Where("team_id IS NULL AND role <> ?", domainuser.RoleSuperAdmin).
		Order("surname ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *userRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	if len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (ur *userRepo) SetTeam(ctx context.Context, tx *gorm.DB, userID uuid.UUID, teamID *uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("team_id", teamID).Error
}

func (ur *userRepo) ClearTeam(ctx context.Context, tx *gorm.DB, teamID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("team_id = ?", teamID).
		Update("team_id", nil)
	return res.RowsAffected, res.Error
}

func (ur *userRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.User{}).Error
}

// first returns nil, nil when no row matches.
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
