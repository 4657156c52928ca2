package beryll

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type ChecklistRepo interface {
	CreateTemplate(ctx context.Context, tx *gorm.DB, t *types.ChecklistTemplate) (*types.ChecklistTemplate, error)
	GetTemplate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChecklistTemplate, error)
	GetTemplateByTitle(ctx context.Context, tx *gorm.DB, title string) (*types.ChecklistTemplate, error)
	ListTemplates(ctx context.Context, tx *gorm.DB, onlyActive bool) ([]*types.ChecklistTemplate, error)
	UpdateTemplate(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteTemplate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	// InitForServer adds one item per template; existing items are kept.
	InitForServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID, templates []*types.ChecklistTemplate) error
	ListForServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]*types.ServerChecklist, error)
	GetItem(ctx context.Context, tx *gorm.DB, serverID, templateID uuid.UUID) (*types.ServerChecklist, error)
	UpdateItem(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// MissingRequired lists titles of active required templates the server has not completed.
	MissingRequired(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]string, error)
	CountCompleted(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (int64, error)
}

type checklistRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChecklistRepo(db *gorm.DB, baseLog *logger.Logger) ChecklistRepo {
	return &checklistRepo{db: db, log: baseLog.With("repo", "ChecklistRepo")}
}

func (r *checklistRepo) CreateTemplate(ctx context.Context, tx *gorm.DB, t *types.ChecklistTemplate) (*types.ChecklistTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	required, active := t.IsRequired, t.IsActive
	db := transaction.WithContext(ctx)
	if err := db.Create(t).Error; err != nil {
		return nil, err
	}
	// false is omitted on insert in favour of the column default.
	if !required || !active {
		if err := db.Model(t).Updates(map[string]interface{}{"is_required": required, "is_active": active}).Error; err != nil {
			return nil, err
		}
		t.IsRequired, t.IsActive = required, active
	}
	return t, nil
}

func (r *checklistRepo) GetTemplate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChecklistTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.ChecklistTemplate](transaction.WithContext(ctx).Where("id = ?", id))
}

func (r *checklistRepo) GetTemplateByTitle(ctx context.Context, tx *gorm.DB, title string) (*types.ChecklistTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.ChecklistTemplate](transaction.WithContext(ctx).Where("title = ?", title))
}

func (r *checklistRepo) ListTemplates(ctx context.Context, tx *gorm.DB, onlyActive bool) ([]*types.ChecklistTemplate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.ChecklistTemplate{})
	if onlyActive {
		q = q.Where("is_active = ?", true)
	}
	var rows []*types.ChecklistTemplate
	if err := q.Order("sort_order ASC, title ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *checklistRepo) UpdateTemplate(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.ChecklistTemplate{}).Where("id = ?", id).Updates(updates).Error
}

func (r *checklistRepo) DeleteTemplate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	db := transaction.WithContext(ctx)
	if err := db.Where("template_id = ?", id).Delete(&types.ServerChecklist{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&types.ChecklistTemplate{}).Error
}

func (r *checklistRepo) InitForServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID, templates []*types.ChecklistTemplate) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(templates) == 0 {
		return nil
	}
	items := make([]*types.ServerChecklist, 0, len(templates))
	for _, t := range templates {
		items = append(items, &types.ServerChecklist{ServerID: serverID, TemplateID: t.ID})
	}
	return transaction.WithContext(ctx).
		Omit("Template").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&items).Error
}

func (r *checklistRepo) ListForServer(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]*types.ServerChecklist, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.ServerChecklist
	if err := transaction.WithContext(ctx).
		Joins("JOIN beryll_checklist_templates AS t ON t.id = beryll_server_checklists.template_id").
		Preload("Template").
		Where("beryll_server_checklists.server_id = ?", serverID).
		Order("t.sort_order ASC, t.title ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *checklistRepo) GetItem(ctx context.Context, tx *gorm.DB, serverID, templateID uuid.UUID) (*types.ServerChecklist, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return first[types.ServerChecklist](transaction.WithContext(ctx).
		Preload("Template").
		Where("server_id = ? AND template_id = ?", serverID, templateID))
}

func (r *checklistRepo) UpdateItem(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Model(&types.ServerChecklist{}).Where("id = ?", id).Updates(updates).Error
}

func (r *checklistRepo) MissingRequired(ctx context.Context, tx *gorm.DB, serverID uuid.UUID) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var titles []string
	err := transaction.WithContext(ctx).
		Table("beryll_checklist_templates AS t").
		Select("t.title").
		Joins("LEFT JOIN beryll_server_checklists AS c ON c.template_id = t.id AND c.server_id = ?", serverID).
		Where("t.is_active = ? AND t.is_required = ?", true, true).
		Where("c.id IS NULL OR c.completed = ?", false).
		Order("t.sort_order ASC, t.title ASC").
		Pluck("t.title", &titles).Error
	if err != nil {
		return nil, err
	}
	return titles, nil
}

func (r *checklistRepo) CountCompleted(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.ServerChecklist{}).
		Where("template_id = ? AND completed = ?", templateID, true).
		Count(&n).Error
	return n, err
}
