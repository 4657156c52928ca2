package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	assemblyrepo "github.com/kryptonit/mes-backend/internal/data/repos/assembly"
	productionrepo "github.com/kryptonit/mes-backend/internal/data/repos/production"
	structurerepo "github.com/kryptonit/mes-backend/internal/data/repos/structure"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/production"
	"github.com/kryptonit/mes-backend/internal/domain/rbac"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

type OperationTypeInput struct {
	Name        *string
	Code        *string
	Description *string
	Unit        *string
	NormMinutes *float64
	SectionID   *uuid.UUID
	IsActive    *bool
	SortOrder   *int
}

type OutputInput struct {
	UserID          *uuid.UUID
	Date            *time.Time
	ProjectID       *uuid.UUID
	OperationTypeID *uuid.UUID
	ClaimedQty      *int
	Comment         *string
}

type OutputSummary struct {
	User *types.User `json:"user"`
	productionrepo.SummaryRow
}

type MatrixRow struct {
	User  *types.User      `json:"user"`
	Cells map[string]int64 `json:"cells"`
	Total int64            `json:"total"`
}

type OutputMatrix struct {
	Days []string    `json:"days"`
	Rows []MatrixRow `json:"rows"`
}

type ProductionService interface {
	ListOperationTypes(ctx context.Context, onlyActive bool) ([]*types.OperationType, error)
	CreateOperationType(ctx context.Context, in OperationTypeInput) (*types.OperationType, error)
	UpdateOperationType(ctx context.Context, id uuid.UUID, in OperationTypeInput) (*types.OperationType, error)
	// DeleteOperationType deactivates a type that outputs still reference.
	DeleteOperationType(ctx context.Context, id uuid.UUID) (deactivated bool, err error)

	List(ctx context.Context, f productionrepo.OutputFilter, page pagination.Params) ([]*types.ProductionOutput, int64, error)
	Get(ctx context.Context, id uuid.UUID) (*types.ProductionOutput, error)
	Create(ctx context.Context, in OutputInput) (*types.ProductionOutput, error)
	Update(ctx context.Context, id uuid.UUID, in OutputInput) (*types.ProductionOutput, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Approve accepts pending outputs. adjustments overrides the approved
	// quantity per output; the rest of the claim is counted as rejected.
	Approve(ctx context.Context, ids []uuid.UUID, adjustments map[uuid.UUID]int) (int, error)
	Reject(ctx context.Context, ids []uuid.UUID, reason string) (int, error)

	// Pending lists outputs the caller may approve.
	Pending(ctx context.Context, page pagination.Params) ([]*types.ProductionOutput, int64, error)
	Summary(ctx context.Context, f productionrepo.OutputFilter) ([]OutputSummary, error)
	Matrix(ctx context.Context, f productionrepo.OutputFilter) (*OutputMatrix, error)
	// MyTeam summarises the teams the caller leads or manages.
	MyTeam(ctx context.Context, from, to *time.Time) ([]OutputSummary, error)
}

type productionService struct {
	db        *gorm.DB
	log       *logger.Logger
	ops       productionrepo.OperationTypeRepo
	outputs   productionrepo.OutputRepo
	users     userrepo.UserRepo
	teams     structurerepo.TeamRepo
	projects  assemblyrepo.ProjectRepo
	publisher realtime.Publisher
	audit     AuditService
}

func NewProductionService(
	db *gorm.DB,
	log *logger.Logger,
	ops productionrepo.OperationTypeRepo,
	outputs productionrepo.OutputRepo,
	users userrepo.UserRepo,
	teams structurerepo.TeamRepo,
	projects assemblyrepo.ProjectRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) ProductionService {
	return &productionService{
		db:        db,
		log:       log.With("service", "ProductionService"),
		ops:       ops,
		outputs:   outputs,
		users:     users,
		teams:     teams,
		projects:  projects,
		publisher: publisher,
		audit:     auditSvc,
	}
}

func (s *productionService) ListOperationTypes(ctx context.Context, onlyActive bool) ([]*types.OperationType, error) {
	return s.ops.List(ctx, nil, onlyActive)
}

func (s *productionService) CreateOperationType(ctx context.Context, in OperationTypeInput) (*types.OperationType, error) {
	name := trimPtr(in.Name)
	if name == "" {
		return nil, apierr.BadRequest("Название операции обязательно")
	}
	if in.NormMinutes != nil && *in.NormMinutes < 0 {
		return nil, apierr.BadRequest("Норма времени не может быть отрицательной")
	}
	o := &types.OperationType{
		ID:          uuid.New(),
		Name:        name,
		Description: trimPtr(in.Description),
		Unit:        unitOrDefault(trimPtr(in.Unit)),
		NormMinutes: in.NormMinutes,
		SectionID:   in.SectionID,
		IsActive:    true,
	}
	if code := strings.ToUpper(trimPtr(in.Code)); code != "" {
		o.Code = &code
	}
	if in.SortOrder != nil {
		o.SortOrder = *in.SortOrder
	}
	if _, err := s.ops.Create(ctx, nil, o); err != nil {
		return nil, err
	}
	if in.IsActive != nil && !*in.IsActive {
		if err := s.ops.Update(ctx, nil, o.ID, map[string]any{"is_active": false}); err != nil {
			return nil, err
		}
		o.IsActive = false
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionOperationType, Entity: "OperationType", EntityID: o.ID.String(), Description: "Создана операция " + o.Name})
	return o, nil
}

func (s *productionService) UpdateOperationType(ctx context.Context, id uuid.UUID, in OperationTypeInput) (*types.OperationType, error) {
	if _, err := s.mustOperationType(ctx, nil, id); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if n := trimPtr(in.Name); n != "" {
		updates["name"] = n
	}
	if in.Code != nil {
		if code := strings.ToUpper(strings.TrimSpace(*in.Code)); code != "" {
			updates["code"] = code
		} else {
			updates["code"] = nil
		}
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if u := trimPtr(in.Unit); u != "" {
		updates["unit"] = u
	}
	if in.NormMinutes != nil {
		if *in.NormMinutes < 0 {
			return nil, apierr.BadRequest("Норма времени не может быть отрицательной")
		}
		updates["norm_minutes"] = *in.NormMinutes
	}
	if in.SectionID != nil {
		updates["section_id"] = *in.SectionID
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if in.SortOrder != nil {
		updates["sort_order"] = *in.SortOrder
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.ops.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionOperationType, Entity: "OperationType", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	return s.mustOperationType(ctx, nil, id)
}

func (s *productionService) DeleteOperationType(ctx context.Context, id uuid.UUID) (bool, error) {
	o, err := s.mustOperationType(ctx, nil, id)
	if err != nil {
		return false, err
	}
	n, err := s.ops.CountOutputs(ctx, nil, id)
	if err != nil {
		return false, err
	}
	deactivated := n > 0
	if deactivated {
		err = s.ops.Update(ctx, nil, id, map[string]any{"is_active": false})
	} else {
		err = s.ops.Delete(ctx, nil, id)
	}
	if err != nil {
		return false, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionOperationType,
		Entity:      "OperationType",
		EntityID:    id.String(),
		Description: "Удалена операция " + o.Name,
		Metadata:    map[string]any{"deactivated": deactivated},
	})
	return deactivated, nil
}

func (s *productionService) List(ctx context.Context, f productionrepo.OutputFilter, page pagination.Params) ([]*types.ProductionOutput, int64, error) {
	return s.outputs.List(ctx, nil, f, page.Normalize())
}

func (s *productionService) Get(ctx context.Context, id uuid.UUID) (*types.ProductionOutput, error) {
	o, err := s.outputs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apierr.NotFound("Запись выработки не найдена")
	}
	return o, nil
}

func (s *productionService) Create(ctx context.Context, in OutputInput) (*types.ProductionOutput, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil, apierr.Unauthorized("Требуется авторизация")
	}
	if in.ClaimedQty == nil || *in.ClaimedQty <= 0 {
		return nil, apierr.BadRequest("Количество должно быть больше нуля")
	}
	userID := p.UserID
	if in.UserID != nil {
		userID = *in.UserID
	}
	worker, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if worker == nil {
		return nil, apierr.NotFound("Сотрудник не найден")
	}
	if userID != p.UserID {
		if err := s.requireManages(ctx, p, worker.TeamID); err != nil {
			return nil, err
		}
	}
	if err := s.checkRefs(ctx, in); err != nil {
		return nil, err
	}

	author := p.UserID
	date := startOfDay(time.Now())
	if in.Date != nil {
		date = startOfDay(*in.Date)
	}
	o := &types.ProductionOutput{
		ID:              uuid.New(),
		Date:            date,
		UserID:          userID,
		TeamID:          worker.TeamID,
		ProjectID:       in.ProjectID,
		OperationTypeID: in.OperationTypeID,
		ClaimedQty:      *in.ClaimedQty,
		Status:          production.OutputPending,
		CreatedByID:     &author,
		Comment:         trimPtr(in.Comment),
	}
	if worker.TeamID != nil {
		team, err := s.teams.GetByID(ctx, nil, *worker.TeamID)
		if err != nil {
			return nil, err
		}
		if team != nil {
			o.SectionID = &team.SectionID
		}
	}
	if _, err := s.outputs.Create(ctx, nil, o); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionOutputCreate,
		Entity:      "ProductionOutput",
		EntityID:    o.ID.String(),
		Description: fmt.Sprintf("Выработка %s: %d", worker.FullName(), o.ClaimedQty),
	})
	s.publish(ctx, o)
	return o, nil
}

func (s *productionService) Update(ctx context.Context, id uuid.UUID, in OutputInput) (*types.ProductionOutput, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireEditable(ctx, o); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, in); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.ClaimedQty != nil {
		if *in.ClaimedQty <= 0 {
			return nil, apierr.BadRequest("Количество должно быть больше нуля")
		}
		updates["claimed_qty"] = *in.ClaimedQty
	}
	if in.Date != nil {
		updates["date"] = startOfDay(*in.Date)
	}
	if in.ProjectID != nil {
		updates["project_id"] = *in.ProjectID
	}
	if in.OperationTypeID != nil {
		updates["operation_type_id"] = *in.OperationTypeID
	}
	if in.Comment != nil {
		updates["comment"] = strings.TrimSpace(*in.Comment)
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.outputs.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionOutputUpdate, Entity: "ProductionOutput", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	return s.Get(ctx, id)
}

func (s *productionService) Delete(ctx context.Context, id uuid.UUID) error {
	o, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireEditable(ctx, o); err != nil {
		return err
	}
	if err := s.outputs.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionOutputDelete, Entity: "ProductionOutput", EntityID: id.String()})
	return nil
}

func (s *productionService) Approve(ctx context.Context, ids []uuid.UUID, adjustments map[uuid.UUID]int) (int, error) {
	return s.decide(ctx, ids, func(o *types.ProductionOutput) (map[string]any, error) {
		approved := o.ClaimedQty
		if v, ok := adjustments[o.ID]; ok {
			approved = v
		}
		if approved < 0 || approved > o.ClaimedQty {
			return nil, apierr.BadRequest("Подтверждённое количество должно быть от 0 до %d", o.ClaimedQty)
		}
		status := production.OutputApproved
		if approved != o.ClaimedQty {
			status = production.OutputAdjusted
		}
		return map[string]any{
			"status":       status,
			"approved_qty": approved,
			"rejected_qty": o.ClaimedQty - approved,
		}, nil
	}, audit.ActionOutputApprove)
}

func (s *productionService) Reject(ctx context.Context, ids []uuid.UUID, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, apierr.BadRequest("Укажите причину отклонения")
	}
	return s.decide(ctx, ids, func(o *types.ProductionOutput) (map[string]any, error) {
		return map[string]any{
			"status":        production.OutputRejected,
			"approved_qty":  0,
			"rejected_qty":  o.ClaimedQty,
			"reject_reason": reason,
		}, nil
	}, audit.ActionOutputReject)
}

// decide applies a verdict to every pending output or to none of them.
func (s *productionService) decide(ctx context.Context, ids []uuid.UUID, verdict func(*types.ProductionOutput) (map[string]any, error), action string) (int, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return 0, apierr.Unauthorized("Требуется авторизация")
	}
	if len(ids) == 0 {
		return 0, apierr.BadRequest("Список записей пуст")
	}
	ids = uniqueIDs(ids)
	scope, err := s.approverScope(ctx, p)
	if err != nil {
		return 0, err
	}
	now := time.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.outputs.LockByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return apierr.NotFound("Часть записей выработки не найдена")
		}
		for _, o := range rows {
			if !o.Pending() {
				return apierr.BadRequest("Запись уже обработана")
			}
			if o.UserID == p.UserID {
				return apierr.Forbidden("Нельзя подтверждать собственную выработку")
			}
			if !scope.covers(o.TeamID) {
				return apierr.Forbidden("Нет прав на подтверждение выработки этой бригады")
			}
			updates, err := verdict(o)
			if err != nil {
				return err
			}
			updates["approved_by_id"] = p.UserID
			updates["approved_at"] = now
			if err := s.outputs.Update(ctx, tx, o.ID, updates); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      action,
		Entity:      "ProductionOutput",
		EntityID:    ids[0].String(),
		Description: fmt.Sprintf("Обработано записей выработки: %d", len(ids)),
		Metadata:    map[string]any{"ids": ids},
	})
	s.publish(ctx, map[string]any{"ids": ids, "action": action})
	return len(ids), nil
}

func (s *productionService) Pending(ctx context.Context, page pagination.Params) ([]*types.ProductionOutput, int64, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil, 0, apierr.Unauthorized("Требуется авторизация")
	}
	scope, err := s.approverScope(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	f := productionrepo.OutputFilter{Status: production.OutputPending}
	if !scope.all {
		f.TeamIDs = scope.teamIDs()
	}
	return s.outputs.List(ctx, nil, f, page.Normalize())
}

func (s *productionService) Summary(ctx context.Context, f productionrepo.OutputFilter) ([]OutputSummary, error) {
	rows, err := s.outputs.Summary(ctx, nil, f)
	if err != nil {
		return nil, err
	}
	out := make([]OutputSummary, 0, len(rows))
	for _, r := range rows {
		u, err := s.users.GetByID(ctx, nil, r.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, OutputSummary{User: u, SummaryRow: r})
	}
	return out, nil
}

func (s *productionService) Matrix(ctx context.Context, f productionrepo.OutputFilter) (*OutputMatrix, error) {
	cells, err := s.outputs.Matrix(ctx, nil, f)
	if err != nil {
		return nil, err
	}
	days := map[string]bool{}
	byUser := map[uuid.UUID]*MatrixRow{}
	var order []uuid.UUID
	for _, c := range cells {
		days[c.Day] = true
		row, ok := byUser[c.UserID]
		if !ok {
			u, err := s.users.GetByID(ctx, nil, c.UserID)
			if err != nil {
				return nil, err
			}
			row = &MatrixRow{User: u, Cells: map[string]int64{}}
			byUser[c.UserID] = row
			order = append(order, c.UserID)
		}
		row.Cells[c.Day] += c.Approved
		row.Total += c.Approved
	}
	m := &OutputMatrix{Days: make([]string, 0, len(days)), Rows: make([]MatrixRow, 0, len(order))}
	for d := range days {
		m.Days = append(m.Days, d)
	}
	sort.Strings(m.Days)
	for _, id := range order {
		m.Rows = append(m.Rows, *byUser[id])
	}
	sort.SliceStable(m.Rows, func(i, j int) bool { return m.Rows[i].Total > m.Rows[j].Total })
	return m, nil
}

func (s *productionService) MyTeam(ctx context.Context, from, to *time.Time) ([]OutputSummary, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil, apierr.Unauthorized("Требуется авторизация")
	}
	teams, err := s.teams.ListManagedBy(ctx, nil, p.UserID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(teams))
	for _, t := range teams {
		ids = append(ids, t.ID)
	}
	return s.Summary(ctx, productionrepo.OutputFilter{TeamIDs: ids, DateFrom: from, DateTo: to})
}

type approverScope struct {
	all   bool
	teams map[uuid.UUID]bool
}

func (a approverScope) covers(teamID *uuid.UUID) bool {
	if a.all {
		return true
	}
	return teamID != nil && a.teams[*teamID]
}

func (a approverScope) teamIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a.teams))
	for id := range a.teams {
		out = append(out, id)
	}
	return out
}

// approverScope: users.manage (and SUPER_ADMIN) approve everywhere, others
// only for teams they lead or whose section they manage.
func (s *productionService) approverScope(ctx context.Context, p *ctxutil.Principal) (approverScope, error) {
	if p.Can(rbac.AbilityUsersManage) {
		return approverScope{all: true}, nil
	}
	teams, err := s.teams.ListManagedBy(ctx, nil, p.UserID)
	if err != nil {
		return approverScope{}, err
	}
	scope := approverScope{teams: map[uuid.UUID]bool{}}
	for _, t := range teams {
		scope.teams[t.ID] = true
	}
	return scope, nil
}

func (s *productionService) requireManages(ctx context.Context, p *ctxutil.Principal, teamID *uuid.UUID) error {
	scope, err := s.approverScope(ctx, p)
	if err != nil {
		return err
	}
	if !scope.covers(teamID) {
		return apierr.Forbidden("Нет прав на запись выработки за другого сотрудника")
	}
	return nil
}

// requireEditable allows changes to pending records by their owner, their
// author or an approver of the team.
func (s *productionService) requireEditable(ctx context.Context, o *types.ProductionOutput) error {
	if !o.Pending() {
		return apierr.BadRequest("Изменять можно только неподтверждённые записи")
	}
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return apierr.Unauthorized("Требуется авторизация")
	}
	if o.UserID == p.UserID || (o.CreatedByID != nil && *o.CreatedByID == p.UserID) {
		return nil
	}
	return s.requireManages(ctx, p, o.TeamID)
}

func (s *productionService) checkRefs(ctx context.Context, in OutputInput) error {
	if in.OperationTypeID != nil {
		op, err := s.mustOperationType(ctx, nil, *in.OperationTypeID)
		if err != nil {
			return err
		}
		if !op.IsActive {
			return apierr.BadRequest("Операция неактивна")
		}
	}
	if in.ProjectID != nil {
		pr, err := s.projects.GetByID(ctx, nil, *in.ProjectID)
		if err != nil {
			return err
		}
		if pr == nil {
			return apierr.NotFound("Проект не найден")
		}
	}
	return nil
}

func (s *productionService) mustOperationType(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.OperationType, error) {
	o, err := s.ops.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apierr.NotFound("Операция не найдена")
	}
	return o, nil
}

func (s *productionService) publish(ctx context.Context, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelProduction, Event: realtime.SSEEventOutputUpdated, Data: data}); err != nil {
		s.log.Debug("publish failed", "error", err)
	}
}
