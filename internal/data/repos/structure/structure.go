package structure

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type SectionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *types.Section) (*types.Section, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Section, error)
	ListTree(ctx context.Context, tx *gorm.DB) ([]*types.Section, error)
	SetManager(ctx context.Context, tx *gorm.DB, id uuid.UUID, managerID *uuid.UUID) error
	CountTeams(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type sectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSectionRepo(db *gorm.DB, baseLog *logger.Logger) SectionRepo {
	return &sectionRepo{db: db, log: baseLog.With("repo", "SectionRepo")}
}

func (r *sectionRepo) Create(ctx context.Context, tx *gorm.DB, s *types.Section) (*types.Section, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("Manager", "Teams").Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sectionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Section, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Section](transaction.WithContext(ctx).Where("id = ?", id))
}

// ListTree loads sections with manager, teams, team leads and members.
func (r *sectionRepo) ListTree(ctx context.Context, tx *gorm.DB) ([]*types.Section, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Section
	err := transaction.WithContext(ctx).
		Preload("Manager").
		Preload("Teams", func(db *gorm.DB) *gorm.DB { return db.Order("title ASC") }).
		Preload("Teams.Lead").
		Preload("Teams.Members", func(db *gorm.DB) *gorm.DB { return db.Order("surname ASC") }).
		Order("title ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sectionRepo) SetManager(ctx context.Context, tx *gorm.DB, id uuid.UUID, managerID *uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Section{}).Where("id = ?", id).Update("manager_id", managerID).Error
}

func (r *sectionRepo) CountTeams(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.Team{}).Where("section_id = ?", id).Count(&n).Error
	return n, err
}

func (r *sectionRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Section{}).Error
}

type TeamRepo interface {
	Create(ctx context.Context, tx *gorm.DB, t *types.Team) (*types.Team, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Team, error)
	SetLead(ctx context.Context, tx *gorm.DB, id uuid.UUID, leadID *uuid.UUID) error
	// ListManagedBy returns teams the user leads or whose section the user manages.
	ListManagedBy(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Team, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type teamRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTeamRepo(db *gorm.DB, baseLog *logger.Logger) TeamRepo {
	return &teamRepo{db: db, log: baseLog.With("repo", "TeamRepo")}
}

func (r *teamRepo) Create(ctx context.Context, tx *gorm.DB, t *types.Team) (*types.Team, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("Lead", "Members").Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *teamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Team, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Team](transaction.WithContext(ctx).Preload("Lead").Where("id = ?", id))
}

func (r *teamRepo) SetLead(ctx context.Context, tx *gorm.DB, id uuid.UUID, leadID *uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Team{}).Where("id = ?", id).Update("team_lead_id", leadID).Error
}

func (r *teamRepo) ListManagedBy(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Team, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Team
	err := transaction.WithContext(ctx).
		Where("team_lead_id = ?", userID).
		Or("section_id IN (?)", transaction.Model(&types.Section{}).Select("id").Where("manager_id = ?", userID)).
		Order("title ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *teamRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Team{}).Error
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
