package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

type TemplateInput struct {
	Title       *string
	Description *string
	GroupCode   *string
	SortOrder   *int
	IsRequired  *bool
	IsActive    *bool
}

// DefaultChecklistTemplates is the stage list seeded into an empty install.
var DefaultChecklistTemplates = []types.ChecklistTemplate{
	{GroupCode: beryll.GroupPreparation, SortOrder: 100, IsRequired: true, Title: "Визуальный контроль сервера", Description: "Провести визуальный контроль (механические повреждения)"},
	{GroupCode: beryll.GroupTesting, SortOrder: 200, IsRequired: true, Title: "Скрин при включении", Description: "Скриншот при включении сервера"},
	{GroupCode: beryll.GroupTesting, SortOrder: 210, IsRequired: true, Title: "Тест RAID (cachevault)", Description: "Проверить RAID контроллер и cachevault"},
	{GroupCode: beryll.GroupTesting, SortOrder: 220, IsRequired: true, Title: "Стресс тест 3 (60 мин)", Description: "Провести стресс-тестирование 60 минут"},
	{GroupCode: beryll.GroupTesting, SortOrder: 230, IsRequired: true, Title: "Тест SSD + скрин RAID", Description: "Протестировать SSD и сделать скриншот RAID"},
	{GroupCode: beryll.GroupTesting, SortOrder: 240, IsRequired: true, Title: "Тест HDD, SSD + проверка файлов", Description: "Тестирование HDD и SSD"},
	{GroupCode: beryll.GroupTesting, SortOrder: 250, IsRequired: true, Title: "Тест модулей памяти (0, 3, 6)", Description: "Тест модулей памяти + скрин"},
	{GroupCode: beryll.GroupTesting, SortOrder: 260, IsRequired: false, Title: "Тест модулей памяти (11, 12)", Description: "Выявление дефекта"},
	{GroupCode: beryll.GroupTesting, SortOrder: 270, IsRequired: true, Title: "Проверка результатов тестов", Description: "Проверить наличие результатов"},
	{GroupCode: beryll.GroupTesting, SortOrder: 280, IsRequired: true, Title: "Выгрузка файлов на общий диск", Description: "Выгрузка файлов тестирования"},
	{GroupCode: beryll.GroupTesting, SortOrder: 290, IsRequired: true, Title: "Скрин BIOS, BMC [dts, die]", Description: "Включение сервера + скрин"},
	{GroupCode: beryll.GroupTesting, SortOrder: 300, IsRequired: true, Title: "Проверка результатов тестов (ОТК)", Description: "Проверка результатов"},
	{GroupCode: beryll.GroupBurnIn, SortOrder: 400, IsRequired: true, Title: "Технологический прогон", Description: "Установка на прогон (burn-in)"},
	{GroupCode: beryll.GroupFinal, SortOrder: 500, IsRequired: true, Title: "Проверка результатов прогона (ОТК)", Description: "Проверить результаты прогона"},
}

type ChecklistService interface {
	ListTemplates(ctx context.Context, onlyActive bool) ([]*types.ChecklistTemplate, error)
	CreateTemplate(ctx context.Context, in TemplateInput) (*types.ChecklistTemplate, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, in TemplateInput) (*types.ChecklistTemplate, error)
	// DeleteTemplate removes a template that no server has completed yet and
	// deactivates it otherwise.
	DeleteTemplate(ctx context.Context, id uuid.UUID) (deactivated bool, err error)

	ServerChecklist(ctx context.Context, serverID uuid.UUID) ([]*types.ServerChecklist, error)
	SetItem(ctx context.Context, serverID, templateID uuid.UUID, completed bool, notes *string) (*types.ServerChecklist, error)

	// SeedDefaults inserts DefaultChecklistTemplates missing by title.
	SeedDefaults(ctx context.Context) (int, error)
}

type checklistService struct {
	db         *gorm.DB
	log        *logger.Logger
	checklists beryllrepo.ChecklistRepo
	servers    beryllrepo.ServerRepo
	history    beryllrepo.HistoryRepo
	publisher  realtime.Publisher
	audit      AuditService
}

func NewChecklistService(
	db *gorm.DB,
	log *logger.Logger,
	checklists beryllrepo.ChecklistRepo,
	servers beryllrepo.ServerRepo,
	history beryllrepo.HistoryRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) ChecklistService {
	return &checklistService{
		db:         db,
		log:        log.With("service", "ChecklistService"),
		checklists: checklists,
		servers:    servers,
		history:    history,
		publisher:  publisher,
		audit:      auditSvc,
	}
}

func (s *checklistService) ListTemplates(ctx context.Context, onlyActive bool) ([]*types.ChecklistTemplate, error) {
	return s.checklists.ListTemplates(ctx, nil, onlyActive)
}

func (s *checklistService) CreateTemplate(ctx context.Context, in TemplateInput) (*types.ChecklistTemplate, error) {
	title := trimPtr(in.Title)
	if title == "" {
		return nil, apierr.BadRequest("Название обязательно")
	}
	group := beryll.GroupTesting
	if in.GroupCode != nil {
		group = strings.ToUpper(strings.TrimSpace(*in.GroupCode))
		if !validGroupCode(group) {
			return nil, apierr.BadRequest("Некорректная группа: %s", group)
		}
	}
	t := &types.ChecklistTemplate{
		Title:       title,
		Description: trimPtr(in.Description),
		GroupCode:   group,
		IsRequired:  in.IsRequired == nil || *in.IsRequired,
		IsActive:    in.IsActive == nil || *in.IsActive,
	}
	if in.SortOrder != nil {
		t.SortOrder = *in.SortOrder
	}
	out, err := s.checklists.CreateTemplate(ctx, nil, t)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionChecklist,
		Entity:      "ChecklistTemplate",
		EntityID:    out.ID.String(),
		Description: fmt.Sprintf("Создан этап чек-листа %s", out.Title),
	})
	return out, nil
}

func (s *checklistService) UpdateTemplate(ctx context.Context, id uuid.UUID, in TemplateInput) (*types.ChecklistTemplate, error) {
	if _, err := s.mustTemplate(ctx, id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apierr.BadRequest("Название обязательно")
		}
		updates["title"] = title
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.GroupCode != nil {
		group := strings.ToUpper(strings.TrimSpace(*in.GroupCode))
		if !validGroupCode(group) {
			return nil, apierr.BadRequest("Некорректная группа: %s", group)
		}
		updates["group_code"] = group
	}
	if in.SortOrder != nil {
		updates["sort_order"] = *in.SortOrder
	}
	if in.IsRequired != nil {
		updates["is_required"] = *in.IsRequired
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.checklists.UpdateTemplate(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionChecklist, Entity: "ChecklistTemplate", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	return s.checklists.GetTemplate(ctx, nil, id)
}

func (s *checklistService) DeleteTemplate(ctx context.Context, id uuid.UUID) (bool, error) {
	t, err := s.mustTemplate(ctx, id)
	if err != nil {
		return false, err
	}
	var deactivated bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		used, err := s.checklists.CountCompleted(ctx, tx, id)
		if err != nil {
			return err
		}
		if used > 0 {
			deactivated = true
			return s.checklists.UpdateTemplate(ctx, tx, id, map[string]interface{}{"is_active": false})
		}
		return s.checklists.DeleteTemplate(ctx, tx, id)
	})
	if err != nil {
		return false, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionChecklist,
		Entity:      "ChecklistTemplate",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Удалён этап чек-листа %s", t.Title),
		Metadata:    map[string]any{"deactivated": deactivated},
	})
	return deactivated, nil
}

func (s *checklistService) ServerChecklist(ctx context.Context, serverID uuid.UUID) ([]*types.ServerChecklist, error) {
	return s.checklists.ListForServer(ctx, nil, serverID)
}

func (s *checklistService) SetItem(ctx context.Context, serverID, templateID uuid.UUID, completed bool, notes *string) (*types.ServerChecklist, error) {
	uid := ctxutil.UserIDPtr(ctx)
	var (
		out *types.ServerChecklist
		srv *types.BeryllServer
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if srv, err = s.servers.GetByID(ctx, tx, serverID); err != nil {
			return err
		}
		if srv == nil {
			return apierr.NotFound("Сервер не найден")
		}
		t, err := s.checklists.GetTemplate(ctx, tx, templateID)
		if err != nil {
			return err
		}
		if t == nil {
			return apierr.NotFound("Этап чек-листа не найден")
		}
		item, err := s.checklists.GetItem(ctx, tx, serverID, templateID)
		if err != nil {
			return err
		}
		if item == nil {
			if err := s.checklists.InitForServer(ctx, tx, serverID, []*types.ChecklistTemplate{t}); err != nil {
				return err
			}
			if item, err = s.checklists.GetItem(ctx, tx, serverID, templateID); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"completed":       completed,
			"completed_by_id": nil,
			"completed_at":    nil,
		}
		if completed {
			updates["completed_by_id"] = uid
			updates["completed_at"] = time.Now()
		}
		if notes != nil {
			updates["notes"] = *notes
		}
		if err := s.checklists.UpdateItem(ctx, tx, item.ID, updates); err != nil {
			return err
		}
		if completed && !item.Completed {
			h := serverHistory(srv, uid, beryll.HistoryChecklistCompleted)
			h.Comment = fmt.Sprintf("Выполнен этап: %s", t.Title)
			h.Metadata = jsonObject(map[string]any{"templateId": t.ID})
			if err := s.history.Create(ctx, tx, h); err != nil {
				return err
			}
		}
		out, err = s.checklists.GetItem(ctx, tx, serverID, templateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	publishBeryll(ctx, s.log, s.publisher, realtime.SSEEventServerUpdated, map[string]any{"id": serverID, "checklist": out})
	return out, nil
}

func (s *checklistService) SeedDefaults(ctx context.Context) (int, error) {
	created := 0
	for i := range DefaultChecklistTemplates {
		def := DefaultChecklistTemplates[i]
		existing, err := s.checklists.GetTemplateByTitle(ctx, nil, def.Title)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		def.IsActive = true
		if _, err := s.checklists.CreateTemplate(ctx, nil, &def); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		s.log.Info("seeded checklist templates", "count", created)
	}
	return created, nil
}

func (s *checklistService) mustTemplate(ctx context.Context, id uuid.UUID) (*types.ChecklistTemplate, error) {
	t, err := s.checklists.GetTemplate(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apierr.NotFound("Шаблон не найден")
	}
	return t, nil
}

func validGroupCode(g string) bool {
	switch g {
	case beryll.GroupPreparation, beryll.GroupAssembly, beryll.GroupTesting, beryll.GroupBurnIn, beryll.GroupFinal:
		return true
	}
	return false
}
