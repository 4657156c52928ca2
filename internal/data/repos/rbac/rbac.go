package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type RoleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, role *types.Role) (*types.Role, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Role, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Role, error)
	List(ctx context.Context, tx *gorm.DB, withAbilities bool) ([]*types.Role, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	AbilityCodes(ctx context.Context, tx *gorm.DB, roleName string) ([]string, error)
	ReplaceAbilities(ctx context.Context, tx *gorm.DB, roleID uuid.UUID, abilityIDs []uuid.UUID) error
	AddAbilities(ctx context.Context, tx *gorm.DB, roleID uuid.UUID, abilityIDs []uuid.UUID) error
}

type roleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRoleRepo(db *gorm.DB, baseLog *logger.Logger) RoleRepo {
	return &roleRepo{db: db, log: baseLog.With("repo", "RoleRepo")}
}

func (r *roleRepo) Create(ctx context.Context, tx *gorm.DB, role *types.Role) (*types.Role, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("Abilities").Create(role).Error; err != nil {
		return nil, err
	}
	return role, nil
}

func (r *roleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Role, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Role](transaction.WithContext(ctx).Preload("Abilities").Where("id = ?", id))
}

func (r *roleRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Role, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Role](transaction.WithContext(ctx).Where("name = ?", name))
}

func (r *roleRepo) List(ctx context.Context, tx *gorm.DB, withAbilities bool) ([]*types.Role, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx)
	if withAbilities {
		q = q.Preload("Abilities", func(db *gorm.DB) *gorm.DB { return db.Order("code ASC") })
	}
	var out []*types.Role
	if err := q.Order("priority ASC").Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *roleRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Role{}).Where("id = ?", id).Updates(updates).Error
}

func (r *roleRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Where("role_id = ?", id).Delete(&types.RoleAbility{}).Error; err != nil {
		return err
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Role{}).Error
}

// AbilityCodes resolves the ability codes granted to an active role.
func (r *roleRepo) AbilityCodes(ctx context.Context, tx *gorm.DB, roleName string) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var codes []string
	err := transaction.WithContext(ctx).
		Table("abilities").
		Select("abilities.code").
		Joins("JOIN role_abilities ON role_abilities.ability_id = abilities.id").
		Joins("JOIN roles ON roles.id = role_abilities.role_id").
		Where("roles.name = ? AND roles.is_active = ?", roleName, true).
		Order("abilities.code ASC").
		Pluck("abilities.code", &codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *roleRepo) ReplaceAbilities(ctx context.Context, tx *gorm.DB, roleID uuid.UUID, abilityIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Where("role_id = ?", roleID).Delete(&types.RoleAbility{}).Error; err != nil {
		return err
	}
	return r.AddAbilities(ctx, transaction, roleID, abilityIDs)
}

func (r *roleRepo) AddAbilities(ctx context.Context, tx *gorm.DB, roleID uuid.UUID, abilityIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(abilityIDs) == 0 {
		return nil
	}
	rows := make([]types.RoleAbility, 0, len(abilityIDs))
	for _, id := range abilityIDs {
		rows = append(rows, types.RoleAbility{RoleID: roleID, AbilityID: id})
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

type AbilityRepo interface {
	Create(ctx context.Context, tx *gorm.DB, a *types.Ability) (*types.Ability, error)
	GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.Ability, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Ability, error)
	GetByCodes(ctx context.Context, tx *gorm.DB, codes []string) ([]*types.Ability, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Ability, error)
	UpdateDescription(ctx context.Context, tx *gorm.DB, id uuid.UUID, description string) error
}

type abilityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAbilityRepo(db *gorm.DB, baseLog *logger.Logger) AbilityRepo {
	return &abilityRepo{db: db, log: baseLog.With("repo", "AbilityRepo")}
}

func (r *abilityRepo) Create(ctx context.Context, tx *gorm.DB, a *types.Ability) (*types.Ability, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *abilityRepo) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*types.Ability, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Ability](transaction.WithContext(ctx).Where("code = ?", code))
}

func (r *abilityRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Ability, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Ability
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *abilityRepo) GetByCodes(ctx context.Context, tx *gorm.DB, codes []string) ([]*types.Ability, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Ability
	if len(codes) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).Where("code IN ?", codes).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *abilityRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Ability, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Ability
	if err := transaction.WithContext(ctx).Order("code ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *abilityRepo) UpdateDescription(ctx context.Context, tx *gorm.DB, id uuid.UUID, description string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Ability{}).Where("id = ?", id).Update("description", description).Error
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
