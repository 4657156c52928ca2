package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	defectrepo "github.com/kryptonit/mes-backend/internal/data/repos/defect"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

const DefectExportLimit = 10000

type CategoryInput struct {
	Code            *string
	Title           *string
	Description     *string
	Severity        *string
	ApplicableTypes []string
	IsActive        *bool
}

type BoardDefectInput struct {
	BoardType    string
	BoardID      *string
	SerialNumber string
	CategoryID   *uuid.UUID
	Description  string
	DetectedAt   *time.Time
}

type RepairInput struct {
	ActionType       string
	Description      string
	TimeSpentMinutes int
	Result           string
	PerformedAt      *time.Time
}

type DefectStatistics struct {
	ByStatus         []defectrepo.KeyCount `json:"byStatus"`
	ByCategory       []defectrepo.KeyCount `json:"byCategory"`
	ByBoardType      []defectrepo.KeyCount `json:"byBoardType"`
	AvgRepairMinutes float64               `json:"avgRepairMinutes"`
	Open             int64                 `json:"open"`
}

type DefectService interface {
	ListCategories(ctx context.Context, onlyActive bool) ([]*types.DefectCategory, error)
	CreateCategory(ctx context.Context, in CategoryInput) (*types.DefectCategory, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (*types.DefectCategory, error)
	// DeleteCategory deactivates a category that is still referenced.
	DeleteCategory(ctx context.Context, id uuid.UUID) (deactivated bool, err error)

	List(ctx context.Context, f defectrepo.BoardDefectFilter, page pagination.Params) ([]*types.BoardDefect, int64, error)
	Get(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error)
	Create(ctx context.Context, in BoardDefectInput) (*types.BoardDefect, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, status string, finalResult *string) (*types.BoardDefect, error)
	Repairs(ctx context.Context, id uuid.UUID) ([]*types.RepairAction, error)
	AddRepair(ctx context.Context, id uuid.UUID, in RepairInput) (*types.RepairAction, error)

	MarkRepaired(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error)
	Scrap(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error)
	Verify(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error)
	FalsePositive(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error)

	Statistics(ctx context.Context) (*DefectStatistics, error)
	ExportXLSX(ctx context.Context, f defectrepo.BoardDefectFilter) (*Export, error)
}

type defectService struct {
	db         *gorm.DB
	log        *logger.Logger
	categories defectrepo.CategoryRepo
	defects    defectrepo.BoardDefectRepo
	repairs    defectrepo.RepairActionRepo
	publisher  realtime.Publisher
	audit      AuditService
}

func NewDefectService(
	db *gorm.DB,
	log *logger.Logger,
	categories defectrepo.CategoryRepo,
	defects defectrepo.BoardDefectRepo,
	repairs defectrepo.RepairActionRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) DefectService {
	return &defectService{
		db:         db,
		log:        log.With("service", "DefectService"),
		categories: categories,
		defects:    defects,
		repairs:    repairs,
		publisher:  publisher,
		audit:      auditSvc,
	}
}

func (s *defectService) ListCategories(ctx context.Context, onlyActive bool) ([]*types.DefectCategory, error) {
	return s.categories.List(ctx, nil, onlyActive)
}

func (s *defectService) CreateCategory(ctx context.Context, in CategoryInput) (*types.DefectCategory, error) {
	code, title := trimPtr(in.Code), trimPtr(in.Title)
	if code == "" || title == "" {
		return nil, apierr.BadRequest("Код и название категории обязательны")
	}
	severity := defect.SeverityMajor
	if in.Severity != nil {
		severity = strings.ToUpper(strings.TrimSpace(*in.Severity))
		if !validSeverity(severity) {
			return nil, apierr.BadRequest("Некорректная критичность: %s", severity)
		}
	}
	applicable, err := jsonList(in.ApplicableTypes)
	if err != nil {
		return nil, err
	}
	c, err := s.categories.Create(ctx, nil, &types.DefectCategory{
		Code:            strings.ToUpper(code),
		Title:           title,
		Description:     trimPtr(in.Description),
		Severity:        severity,
		ApplicableTypes: applicable,
		IsActive:        true,
	})
	if err != nil {
		return nil, err
	}
	if in.IsActive != nil && !*in.IsActive {
		if err := s.categories.Update(ctx, nil, c.ID, map[string]interface{}{"is_active": false}); err != nil {
			return nil, err
		}
		c.IsActive = false
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionCategoryCreate, Entity: "DefectCategory", EntityID: c.ID.String(), Description: "Создана категория " + c.Code})
	return c, nil
}

func (s *defectService) UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (*types.DefectCategory, error) {
	if _, err := s.mustCategory(ctx, id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Code != nil {
		if code := strings.TrimSpace(*in.Code); code != "" {
			updates["code"] = strings.ToUpper(code)
		}
	}
	if in.Title != nil {
		if title := strings.TrimSpace(*in.Title); title != "" {
			updates["title"] = title
		}
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Severity != nil {
		sev := strings.ToUpper(strings.TrimSpace(*in.Severity))
		if !validSeverity(sev) {
			return nil, apierr.BadRequest("Некорректная критичность: %s", sev)
		}
		updates["severity"] = sev
	}
	if in.ApplicableTypes != nil {
		applicable, err := jsonList(in.ApplicableTypes)
		if err != nil {
			return nil, err
		}
		updates["applicable_types"] = applicable
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.categories.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionCategoryUpdate, Entity: "DefectCategory", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	return s.mustCategory(ctx, id)
}

func (s *defectService) DeleteCategory(ctx context.Context, id uuid.UUID) (bool, error) {
	c, err := s.mustCategory(ctx, id)
	if err != nil {
		return false, err
	}
	n, err := s.categories.CountDefects(ctx, nil, id)
	if err != nil {
		return false, err
	}
	deactivated := n > 0
	if deactivated {
		err = s.categories.Update(ctx, nil, id, map[string]interface{}{"is_active": false})
	} else {
		err = s.categories.Delete(ctx, nil, id)
	}
	if err != nil {
		return false, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionCategoryDelete,
		Entity:      "DefectCategory",
		EntityID:    id.String(),
		Description: "Удалена категория " + c.Code,
		Metadata:    map[string]any{"deactivated": deactivated},
	})
	return deactivated, nil
}

func (s *defectService) List(ctx context.Context, f defectrepo.BoardDefectFilter, page pagination.Params) ([]*types.BoardDefect, int64, error) {
	return s.defects.List(ctx, nil, f, page.Normalize())
}

func (s *defectService) Get(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error) {
	d, err := s.defects.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierr.NotFound("Дефект не найден")
	}
	return d, nil
}

func (s *defectService) Create(ctx context.Context, in BoardDefectInput) (*types.BoardDefect, error) {
	boardType := strings.TrimSpace(in.BoardType)
	serial := strings.TrimSpace(in.SerialNumber)
	if boardType == "" || serial == "" {
		return nil, apierr.BadRequest("Тип платы и серийный номер обязательны")
	}
	if in.CategoryID != nil {
		c, err := s.mustCategory(ctx, *in.CategoryID)
		if err != nil {
			return nil, err
		}
		if !c.IsActive {
			return nil, apierr.BadRequest("Категория неактивна")
		}
	}
	detectedAt := time.Now()
	if in.DetectedAt != nil {
		detectedAt = *in.DetectedAt
	}
	d, err := s.defects.Create(ctx, nil, &types.BoardDefect{
		BoardType:    boardType,
		BoardID:      in.BoardID,
		SerialNumber: serial,
		CategoryID:   in.CategoryID,
		Description:  strings.TrimSpace(in.Description),
		DetectedByID: ctxutil.UserIDPtr(ctx),
		DetectedAt:   detectedAt,
		Status:       defect.StatusOpen,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDefectCreate,
		Entity:      "BoardDefect",
		EntityID:    d.ID.String(),
		Description: fmt.Sprintf("Зарегистрирован дефект %s %s", boardType, serial),
	})
	s.publish(ctx, realtime.SSEEventDefectCreated, d)
	return d, nil
}

func (s *defectService) ChangeStatus(ctx context.Context, id uuid.UUID, status string, finalResult *string) (*types.BoardDefect, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !validDefectStatus(status) {
		return nil, apierr.BadRequest("Некорректный статус: %s", status)
	}
	if finalResult != nil && *finalResult != "" && !validFinalResult(*finalResult) {
		return nil, apierr.BadRequest("Некорректный итог: %s", *finalResult)
	}

	var from string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.defects.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return apierr.NotFound("Дефект не найден")
		}
		from = d.Status
		if from == status {
			return nil
		}
		if !defect.CanTransition(from, status) {
			return apierr.BadRequest("Недопустимый переход статуса: %s → %s", from, status)
		}
		updates := map[string]interface{}{"status": status}
		if finalResult != nil && *finalResult != "" {
			updates["final_result"] = *finalResult
		}
		if defect.IsClosing(status) {
			updates["closed_at"] = time.Now()
			updates["closed_by_id"] = ctxutil.UserIDPtr(ctx)
		}
		return s.defects.Update(ctx, tx, id, updates)
	})
	if err != nil {
		return nil, err
	}
	out, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if from != status {
		s.audit.Log(ctx, AuditEntry{
			Action:      audit.ActionDefectStatus,
			Entity:      "BoardDefect",
			EntityID:    id.String(),
			Description: fmt.Sprintf("Статус дефекта %s → %s", from, status),
			Metadata:    map[string]any{"from": from, "to": status, "finalResult": finalResult},
		})
		s.publish(ctx, realtime.SSEEventDefectUpdated, out)
	}
	return out, nil
}

func (s *defectService) Repairs(ctx context.Context, id uuid.UUID) ([]*types.RepairAction, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repairs.ListByDefect(ctx, nil, id)
}

func (s *defectService) AddRepair(ctx context.Context, id uuid.UUID, in RepairInput) (*types.RepairAction, error) {
	actionType := strings.ToUpper(strings.TrimSpace(in.ActionType))
	if !containsString(defect.ActionTypes, actionType) {
		return nil, apierr.BadRequest("Некорректный тип работ: %s", in.ActionType)
	}
	result := strings.ToUpper(strings.TrimSpace(in.Result))
	if result != "" && !containsString(defect.RepairResults, result) {
		return nil, apierr.BadRequest("Некорректный результат: %s", in.Result)
	}
	if in.TimeSpentMinutes < 0 {
		return nil, apierr.BadRequest("Время работ не может быть отрицательным")
	}
	performedAt := time.Now()
	if in.PerformedAt != nil {
		performedAt = *in.PerformedAt
	}

	var action *types.RepairAction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.defects.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return apierr.NotFound("Дефект не найден")
		}
		if defect.IsClosing(d.Status) {
			return apierr.BadRequest("Дефект уже закрыт")
		}
		action, err = s.repairs.Create(ctx, tx, &types.RepairAction{
			BoardDefectID:    id,
			ActionType:       actionType,
			PerformedByID:    ctxutil.UserIDPtr(ctx),
			PerformedAt:      performedAt,
			Description:      strings.TrimSpace(in.Description),
			TimeSpentMinutes: in.TimeSpentMinutes,
			Result:           result,
		})
		if err != nil {
			return err
		}
		if err := s.defects.AddRepairMinutes(ctx, tx, id, in.TimeSpentMinutes); err != nil {
			return err
		}
		if d.Status == defect.StatusOpen {
			return s.defects.Update(ctx, tx, id, map[string]interface{}{"status": defect.StatusInRepair})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDefectRepair,
		Entity:      "BoardDefect",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Ремонт %s, %d мин", actionType, in.TimeSpentMinutes),
	})
	s.publish(ctx, realtime.SSEEventDefectUpdated, map[string]any{"id": id})
	return action, nil
}

func (s *defectService) MarkRepaired(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error) {
	return s.ChangeStatus(ctx, id, defect.StatusRepaired, nil)
}

func (s *defectService) Scrap(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error) {
	r := defect.ResultScrapped
	return s.ChangeStatus(ctx, id, defect.StatusScrapped, &r)
}

func (s *defectService) Verify(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error) {
	r := defect.ResultFixed
	return s.ChangeStatus(ctx, id, defect.StatusVerified, &r)
}

func (s *defectService) FalsePositive(ctx context.Context, id uuid.UUID) (*types.BoardDefect, error) {
	r := defect.ResultFalsePositive
	return s.ChangeStatus(ctx, id, defect.StatusClosed, &r)
}

func (s *defectService) Statistics(ctx context.Context) (*DefectStatistics, error) {
	var st DefectStatistics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.ByStatus, err = s.defects.CountBy(gctx, nil, "status")
		return err
	})
	g.Go(func() (err error) {
		st.ByBoardType, err = s.defects.CountBy(gctx, nil, "board_type")
		return err
	})
	g.Go(func() (err error) {
		st.ByCategory, err = s.defects.CountByCategory(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		st.AvgRepairMinutes, err = s.defects.AvgRepairMinutes(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		st.Open, err = s.defects.CountStatus(gctx, nil, defect.StatusOpen)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *defectService) ExportXLSX(ctx context.Context, f defectrepo.BoardDefectFilter) (*Export, error) {
	rows, err := s.defects.ListForExport(ctx, nil, f, DefectExportLimit)
	if err != nil {
		return nil, err
	}
	out := make([][]any, 0, len(rows))
	for _, d := range rows {
		category := ""
		if d.Category != nil {
			category = d.Category.Code + " " + d.Category.Title
		}
		detectedBy := d.DetectedBy.FullName()
		closedAt, finalResult := "", ""
		if d.ClosedAt != nil {
			closedAt = d.ClosedAt.Local().Format(exportDateLayout)
		}
		if d.FinalResult != nil {
			finalResult = *d.FinalResult
		}
		out = append(out, []any{
			d.DetectedAt.Local().Format(exportDateLayout),
			d.BoardType,
			d.SerialNumber,
			category,
			d.Description,
			d.Status,
			finalResult,
			d.TotalRepairMinutes,
			detectedBy,
			closedAt,
		})
	}
	body, err := writeWorkbook(sheet{
		Name:   "Дефекты",
		Header: []string{"Обнаружен", "Тип платы", "Серийный номер", "Категория", "Описание", "Статус", "Итог", "Ремонт, мин", "Обнаружил", "Закрыт"},
		Rows:   out,
		Widths: map[int]float64{3: 24, 4: 30, 5: 40},
	})
	if err != nil {
		return nil, err
	}
	return &Export{
		Filename:    fmt.Sprintf("defects_%s.xlsx", time.Now().Format("2006-01-02")),
		ContentType: ContentTypeXLSX,
		Body:        body,
	}, nil
}

func (s *defectService) mustCategory(ctx context.Context, id uuid.UUID) (*types.DefectCategory, error) {
	c, err := s.categories.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apierr.NotFound("Категория не найдена")
	}
	return c, nil
}

func (s *defectService) publish(ctx context.Context, event realtime.SSEEvent, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelDefects, Event: event, Data: data}); err != nil {
		s.log.Debug("publish failed", "event", event, "error", err)
	}
}

func validSeverity(s string) bool {
	switch s {
	case defect.SeverityCritical, defect.SeverityMajor, defect.SeverityMinor:
		return true
	}
	return false
}

func validDefectStatus(s string) bool {
	return containsString(defect.Statuses, s)
}

func validFinalResult(s string) bool {
	switch s {
	case defect.ResultFixed, defect.ResultScrapped, defect.ResultReturnedToSupplier, defect.ResultFalsePositive:
		return true
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func trimPtr(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func jsonList(items []string) (datatypes.JSON, error) {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, apierr.BadRequest("Некорректный список типов")
	}
	return datatypes.JSON(raw), nil
}
