package assembly

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	asm "github.com/kryptonit/mes-backend/internal/domain/assembly"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type ProjectRepo interface {
	Create(ctx context.Context, tx *gorm.DB, p *types.Project) (*types.Project, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error)
	List(ctx context.Context, tx *gorm.DB, status string) ([]*types.Project, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type projectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return &projectRepo{db: db, log: baseLog.With("repo", "ProjectRepo")}
}

func (r *projectRepo) Create(ctx context.Context, tx *gorm.DB, p *types.Project) (*types.Project, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Omit("CreatedBy").Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (r *projectRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.Project](transaction.WithContext(ctx).Preload("CreatedBy").Where("id = ?", id))
}

func (r *projectRepo) List(ctx context.Context, tx *gorm.DB, status string) ([]*types.Project, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Preload("CreatedBy")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.Project
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *projectRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.Project{}).Where("id = ?", id).Updates(updates).Error
}

func (r *projectRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Project{}).Error
}

type RecipeRepo interface {
	GetByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (*types.AssemblyRecipe, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssemblyRecipe, error)
	// Save creates or renames the project's recipe and replaces its steps.
	Save(ctx context.Context, tx *gorm.DB, rec *types.AssemblyRecipe, steps []types.RecipeStep) (*types.AssemblyRecipe, error)
}

type recipeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecipeRepo(db *gorm.DB, baseLog *logger.Logger) RecipeRepo {
	return &recipeRepo{db: db, log: baseLog.With("repo", "RecipeRepo")}
}

func orderedSteps(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }

func (r *recipeRepo) GetByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (*types.AssemblyRecipe, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.AssemblyRecipe](transaction.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Preload("Project").
		Where("project_id = ?", projectID))
}

func (r *recipeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssemblyRecipe, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.AssemblyRecipe](transaction.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Preload("Project").
		Where("id = ?", id))
}

func (r *recipeRepo) Save(ctx context.Context, tx *gorm.DB, rec *types.AssemblyRecipe, steps []types.RecipeStep) (*types.AssemblyRecipe, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx)
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
		if err := q.Omit("Project", "Steps").Create(rec).Error; err != nil {
			return nil, err
		}
	} else if err := q.Model(&types.AssemblyRecipe{}).Where("id = ?", rec.ID).Update("title", rec.Title).Error; err != nil {
		return nil, err
	}
	if err := q.Where("recipe_id = ?", rec.ID).Delete(&types.RecipeStep{}).Error; err != nil {
		return nil, err
	}
	for i := range steps {
		steps[i].ID = uuid.New()
		steps[i].RecipeID = rec.ID
	}
	if len(steps) > 0 {
		if err := q.Create(&steps).Error; err != nil {
			return nil, err
		}
	}
	rec.Steps = steps
	return rec, nil
}

type ProcessFilter struct {
	Status      string
	ProjectID   *uuid.UUID
	AssemblerID *uuid.UUID
	Search      string
}

type ProcessRepo interface {
	Create(ctx context.Context, tx *gorm.DB, p *types.AssemblyProcess) (*types.AssemblyProcess, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssemblyProcess, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssemblyProcess, error)
	// FindOpen returns the in-progress process for the box and recipe, if any.
	FindOpen(ctx context.Context, tx *gorm.DB, boxID, recipeID uuid.UUID) (*types.AssemblyProcess, error)
	List(ctx context.Context, tx *gorm.DB, f ProcessFilter, page pagination.Params) ([]*types.AssemblyProcess, int64, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	CountByRecipe(ctx context.Context, tx *gorm.DB, recipeID uuid.UUID) (int64, error)
}

type processRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessRepo(db *gorm.DB, baseLog *logger.Logger) ProcessRepo {
	return &processRepo{db: db, log: baseLog.With("repo", "AssemblyProcessRepo")}
}

func (r *processRepo) Create(ctx context.Context, tx *gorm.DB, p *types.AssemblyProcess) (*types.AssemblyProcess, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now()
	}
	if err := transaction.WithContext(ctx).Omit("Box", "Recipe", "Assembler").Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (r *processRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssemblyProcess, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.AssemblyProcess](transaction.WithContext(ctx).
		Preload("Box").
		Preload("Recipe.Steps", orderedSteps).
		Preload("Recipe.Project").
		Preload("Assembler").
		Where("id = ?", id))
}

func (r *processRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssemblyProcess, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.AssemblyProcess](transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *processRepo) FindOpen(ctx context.Context, tx *gorm.DB, boxID, recipeID uuid.UUID) (*types.AssemblyProcess, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.AssemblyProcess](transaction.WithContext(ctx).
		Where("box_id = ? AND recipe_id = ? AND status = ?", boxID, recipeID, asm.ProcessInProgress).
		Order("started_at DESC"))
}

func (r *processRepo) List(ctx context.Context, tx *gorm.DB, f ProcessFilter, page pagination.Params) ([]*types.AssemblyProcess, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.AssemblyProcess{})
	if f.Status != "" {
		q = q.Where("assembly_processes.status = ?", f.Status)
	}
	if f.ProjectID != nil {
		q = q.Where("assembly_processes.recipe_id IN (?)",
			r.db.Model(&types.AssemblyRecipe{}).Select("id").Where("project_id = ?", *f.ProjectID))
	}
	if f.AssemblerID != nil {
		q = q.Where("assembly_processes.assembler_id = ?", *f.AssemblerID)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("assembly_processes.box_id IN (?)",
			r.db.Model(&types.WarehouseBox{}).Select("id").
				Where("LOWER(qr_code) LIKE LOWER(?) OR LOWER(short_code) LIKE LOWER(?) OR LOWER(label) LIKE LOWER(?)", like, like, like))
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var rows []*types.AssemblyProcess
	if err := q.Preload("Box").
		Preload("Recipe.Steps", orderedSteps).
		Preload("Recipe.Project").
		Preload("Assembler").
		Order("assembly_processes.finished_at DESC, assembly_processes.started_at DESC").
		Offset(page.Offset()).
		Limit(page.Normalize().Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, count, nil
}

func (r *processRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.AssemblyProcess{}).Where("id = ?", id).Updates(updates).Error
}

func (r *processRepo) CountByRecipe(ctx context.Context, tx *gorm.DB, recipeID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.AssemblyProcess{}).Where("recipe_id = ?", recipeID).Count(&n).Error
	return n, err
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
