package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	assemblyrepo "github.com/kryptonit/mes-backend/internal/data/repos/assembly"
	structurerepo "github.com/kryptonit/mes-backend/internal/data/repos/structure"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/assembly"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

const defaultStepTitle = "Шаг без названия"

type ProjectInput struct {
	Title       *string
	Description *string
	Status      *string
}

type RecipeStepInput struct {
	Title       string
	Quantity    int
	Description string
}

type AssembledItem struct {
	Process  *types.AssemblyProcess `json:"process"`
	Total    int                    `json:"totalSteps"`
	Done     int                    `json:"doneSteps"`
	Progress int                    `json:"progress"`
}

type PassportStep struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

type Passport struct {
	ProcessID       uuid.UUID      `json:"processId"`
	Project         string         `json:"project"`
	Recipe          string         `json:"recipe"`
	QRCode          string         `json:"qrCode"`
	ShortCode       string         `json:"shortCode"`
	Status          string         `json:"status"`
	Assembler       string         `json:"assembler"`
	Structure       string         `json:"structure"`
	StartedAt       time.Time      `json:"startTime"`
	FinishedAt      *time.Time     `json:"endTime"`
	DurationMinutes *int           `json:"durationMinutes"`
	Steps           []PassportStep `json:"steps"`
	Missing         int            `json:"missingSteps"`
}

type PassportEdit struct {
	CompletedSteps []int
	AssemblerID    *uuid.UUID
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

type AssemblyService interface {
	ListProjects(ctx context.Context, status string) ([]*types.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error)
	CreateProject(ctx context.Context, in ProjectInput) (*types.Project, error)
	UpdateProject(ctx context.Context, id uuid.UUID, in ProjectInput) (*types.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error

	RecipeByProject(ctx context.Context, projectID uuid.UUID) (*types.AssemblyRecipe, error)
	// UpsertRecipe creates the project's recipe or replaces its title and steps.
	UpsertRecipe(ctx context.Context, projectID uuid.UUID, title string, steps []RecipeStepInput) (*types.AssemblyRecipe, error)

	// Start opens or resumes assembly of the product labelled qrCode.
	Start(ctx context.Context, qrCode string, projectID uuid.UUID) (*types.AssemblyProcess, error)
	Get(ctx context.Context, id uuid.UUID) (*types.AssemblyProcess, error)
	SetStep(ctx context.Context, id uuid.UUID, index int, done bool) (*types.AssemblyProcess, error)
	Finish(ctx context.Context, id uuid.UUID) (*types.AssemblyProcess, error)

	Assembled(ctx context.Context, f assemblyrepo.ProcessFilter, page pagination.Params) ([]AssembledItem, int64, error)
	Passport(ctx context.Context, id uuid.UUID) (*Passport, error)
	EditPassport(ctx context.Context, id uuid.UUID, in PassportEdit) (*Passport, error)
}

type assemblyService struct {
	db        *gorm.DB
	log       *logger.Logger
	projects  assemblyrepo.ProjectRepo
	recipes   assemblyrepo.RecipeRepo
	processes assemblyrepo.ProcessRepo
	boxes     warehouserepo.BoxRepo
	movements warehouserepo.MovementRepo
	users     userrepo.UserRepo
	sections  structurerepo.SectionRepo
	teams     structurerepo.TeamRepo
	publisher realtime.Publisher
	audit     AuditService
}

func NewAssemblyService(
	db *gorm.DB,
	log *logger.Logger,
	projects assemblyrepo.ProjectRepo,
	recipes assemblyrepo.RecipeRepo,
	processes assemblyrepo.ProcessRepo,
	boxes warehouserepo.BoxRepo,
	movements warehouserepo.MovementRepo,
	users userrepo.UserRepo,
	sections structurerepo.SectionRepo,
	teams structurerepo.TeamRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) AssemblyService {
	return &assemblyService{
		db:        db,
		log:       log.With("service", "AssemblyService"),
		projects:  projects,
		recipes:   recipes,
		processes: processes,
		boxes:     boxes,
		movements: movements,
		users:     users,
		sections:  sections,
		teams:     teams,
		publisher: publisher,
		audit:     auditSvc,
	}
}

func (s *assemblyService) ListProjects(ctx context.Context, status string) ([]*types.Project, error) {
	return s.projects.List(ctx, nil, strings.ToUpper(strings.TrimSpace(status)))
}

func (s *assemblyService) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	p, err := s.projects.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apierr.NotFound("Проект не найден")
	}
	return p, nil
}

func validProjectStatus(st string) bool {
	return st == assembly.ProjectActive || st == assembly.ProjectArchived
}

func (s *assemblyService) CreateProject(ctx context.Context, in ProjectInput) (*types.Project, error) {
	title := trimPtr(in.Title)
	if title == "" {
		return nil, apierr.BadRequest("Название проекта обязательно")
	}
	status := assembly.ProjectActive
	if in.Status != nil {
		status = strings.ToUpper(strings.TrimSpace(*in.Status))
		if !validProjectStatus(status) {
			return nil, apierr.BadRequest("Некорректный статус проекта: %s", status)
		}
	}
	p := &types.Project{
		ID:          uuid.New(),
		Title:       title,
		Description: trimPtr(in.Description),
		Status:      status,
		CreatedByID: ctxutil.UserIDPtr(ctx),
	}
	if _, err := s.projects.Create(ctx, nil, p); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionProjectCreate, Entity: "Project", EntityID: p.ID.String(), Description: "Создан проект " + p.Title})
	return p, nil
}

func (s *assemblyService) UpdateProject(ctx context.Context, id uuid.UUID, in ProjectInput) (*types.Project, error) {
	if _, err := s.GetProject(ctx, id); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if t := trimPtr(in.Title); t != "" {
		updates["title"] = t
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Status != nil {
		st := strings.ToUpper(strings.TrimSpace(*in.Status))
		if !validProjectStatus(st) {
			return nil, apierr.BadRequest("Некорректный статус проекта: %s", st)
		}
		updates["status"] = st
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.projects.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionProjectUpdate, Entity: "Project", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	return s.GetProject(ctx, id)
}

func (s *assemblyService) DeleteProject(ctx context.Context, id uuid.UUID) error {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}
	rec, err := s.recipes.GetByProject(ctx, nil, id)
	if err != nil {
		return err
	}
	if rec != nil {
		return apierr.BadRequest("У проекта есть техкарта, удаление невозможно")
	}
	if err := s.projects.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionProjectDelete, Entity: "Project", EntityID: id.String(), Description: "Удалён проект " + p.Title})
	return nil
}

func (s *assemblyService) RecipeByProject(ctx context.Context, projectID uuid.UUID) (*types.AssemblyRecipe, error) {
	rec, err := s.recipes.GetByProject(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.NotFound("Техкарта для проекта не найдена")
	}
	return rec, nil
}

func (s *assemblyService) UpsertRecipe(ctx context.Context, projectID uuid.UUID, title string, steps []RecipeStepInput) (*types.AssemblyRecipe, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = p.Title
	}
	rows := make([]types.RecipeStep, 0, len(steps))
	for i, st := range steps {
		stepTitle := strings.TrimSpace(st.Title)
		if stepTitle == "" {
			stepTitle = defaultStepTitle
		}
		qty := st.Quantity
		if qty <= 0 {
			qty = 1
		}
		rows = append(rows, types.RecipeStep{Order: i, Title: stepTitle, Quantity: qty, Description: strings.TrimSpace(st.Description)})
	}

	var rec *types.AssemblyRecipe
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.recipes.GetByProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		in := &types.AssemblyRecipe{ProjectID: projectID, Title: title}
		if cur != nil {
			in.ID = cur.ID
		}
		rec, err = s.recipes.Save(ctx, tx, in, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionRecipeUpsert,
		Entity:      "AssemblyRecipe",
		EntityID:    rec.ID.String(),
		Description: fmt.Sprintf("Техкарта %s: %d шагов", title, len(rows)),
	})
	return s.RecipeByProject(ctx, projectID)
}

func (s *assemblyService) Start(ctx context.Context, qrCode string, projectID uuid.UUID) (*types.AssemblyProcess, error) {
	qrCode = strings.TrimSpace(qrCode)
	if qrCode == "" {
		return nil, apierr.BadRequest("QR-код обязателен")
	}
	rec, err := s.RecipeByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if rec.Project != nil && rec.Project.Status == assembly.ProjectArchived {
		return nil, apierr.BadRequest("Проект в архиве")
	}
	userID := ctxutil.UserIDPtr(ctx)
	now := time.Now()

	var id uuid.UUID
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		box, err := s.boxes.GetByCode(ctx, tx, qrCode)
		if err != nil {
			return err
		}
		if box == nil {
			code, err := newShortCodeGen(s.boxes).next(ctx, tx)
			if err != nil {
				return err
			}
			originID := projectID.String()
			projectName := ""
			if rec.Project != nil {
				projectName = rec.Project.Title
			}
			box = &types.WarehouseBox{
				QRCode:       qrCode,
				ShortCode:    code,
				Label:        rec.Title,
				OriginType:   assembly.OriginProduct,
				OriginID:     &originID,
				Quantity:     1,
				Unit:         warehouse.DefaultUnit,
				ProjectName:  projectName,
				Status:       warehouse.BoxStatusInWork,
				AcceptedAt:   &now,
				AcceptedByID: userID,
			}
			if err := s.boxes.Create(ctx, tx, box); err != nil {
				return err
			}
		}
		open, err := s.processes.FindOpen(ctx, tx, box.ID, rec.ID)
		if err != nil {
			return err
		}
		if open != nil {
			id = open.ID
			return nil
		}
		p, err := s.processes.Create(ctx, tx, &types.AssemblyProcess{
			ID:             uuid.New(),
			BoxID:          box.ID,
			RecipeID:       rec.ID,
			AssemblerID:    userID,
			CompletedSteps: datatypes.JSONSlice[int]{},
			Status:         assembly.ProcessInProgress,
			StartedAt:      now,
		})
		if err != nil {
			return err
		}
		id, created = p.ID, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.audit.Log(ctx, AuditEntry{
			Action:      audit.ActionAssemblyStart,
			Entity:      "AssemblyProcess",
			EntityID:    id.String(),
			Description: fmt.Sprintf("Начата сборка %s по техкарте %s", qrCode, rec.Title),
		})
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.SSEEventAssemblyUpdated, p)
	return p, nil
}

func (s *assemblyService) Get(ctx context.Context, id uuid.UUID) (*types.AssemblyProcess, error) {
	p, err := s.processes.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apierr.NotFound("Процесс сборки не найден")
	}
	return p, nil
}

func (s *assemblyService) SetStep(ctx context.Context, id uuid.UUID, index int, done bool) (*types.AssemblyProcess, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.processes.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return apierr.NotFound("Процесс сборки не найден")
		}
		if p.Status != assembly.ProcessInProgress {
			return apierr.BadRequest("Сборка уже завершена")
		}
		rec, err := s.recipes.GetByID(ctx, tx, p.RecipeID)
		if err != nil {
			return err
		}
		if rec == nil || index < 0 || index >= len(rec.Steps) {
			return apierr.BadRequest("Некорректный номер шага: %d", index)
		}
		return s.processes.Update(ctx, tx, id, map[string]any{"completed_steps": toggleStep(p.CompletedSteps, index, done)})
	})
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.SSEEventAssemblyUpdated, p)
	return p, nil
}

// Finish closes the process, puts the product on stock and credits one good
// unit to the assembler.
func (s *assemblyService) Finish(ctx context.Context, id uuid.UUID) (*types.AssemblyProcess, error) {
	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.processes.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return apierr.NotFound("Процесс сборки не найден")
		}
		if p.Status != assembly.ProcessInProgress {
			return apierr.BadRequest("Сборка уже завершена")
		}
		rec, err := s.recipes.GetByID(ctx, tx, p.RecipeID)
		if err != nil {
			return err
		}
		if rec != nil {
			if missing := p.Missing(len(rec.Steps)); missing > 0 {
				return apierr.BadRequest("Не выполнено шагов: %d", missing)
			}
		}
		if err := s.processes.Update(ctx, tx, id, map[string]any{"status": assembly.ProcessCompleted, "finished_at": now}); err != nil {
			return err
		}
		if err := s.boxes.Update(ctx, tx, p.BoxID, map[string]interface{}{"status": warehouse.BoxStatusOnStock}); err != nil {
			return err
		}
		performer := p.AssemblerID
		if performer == nil {
			performer = ctxutil.UserIDPtr(ctx)
		}
		return s.movements.Create(ctx, tx, &types.WarehouseMovement{
			BoxID:         p.BoxID,
			Operation:     assembly.OpAssemblyFinish,
			StatusAfter:   warehouse.BoxStatusOnStock,
			GoodQty:       1,
			PerformedByID: performer,
			PerformedAt:   now,
			Comment:       "Сборка завершена",
		})
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionAssemblyFinish, Entity: "AssemblyProcess", EntityID: id.String(), Description: "Сборка завершена"})
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.SSEEventAssemblyFinished, p)
	return p, nil
}

func (s *assemblyService) Assembled(ctx context.Context, f assemblyrepo.ProcessFilter, page pagination.Params) ([]AssembledItem, int64, error) {
	if f.Status == "" {
		f.Status = assembly.ProcessCompleted
	}
	rows, count, err := s.processes.List(ctx, nil, f, page.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]AssembledItem, 0, len(rows))
	for _, p := range rows {
		total := 0
		if p.Recipe != nil {
			total = len(p.Recipe.Steps)
		}
		done := total - p.Missing(total)
		progress := 100
		if total > 0 {
			progress = done * 100 / total
		}
		out = append(out, AssembledItem{Process: p, Total: total, Done: done, Progress: progress})
	}
	return out, count, nil
}

func (s *assemblyService) Passport(ctx context.Context, id uuid.UUID) (*Passport, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pass := &Passport{
		ProcessID:  p.ID,
		Status:     p.Status,
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
	}
	if p.Box != nil {
		pass.QRCode, pass.ShortCode = p.Box.QRCode, p.Box.ShortCode
	}
	done := map[int]bool{}
	for _, i := range p.CompletedSteps {
		done[i] = true
	}
	if p.Recipe != nil {
		pass.Recipe = p.Recipe.Title
		if p.Recipe.Project != nil {
			pass.Project = p.Recipe.Project.Title
		}
		for i, st := range p.Recipe.Steps {
			pass.Steps = append(pass.Steps, PassportStep{Index: i, Title: st.Title, Quantity: st.Quantity, Description: st.Description, Done: done[i]})
		}
		pass.Missing = p.Missing(len(p.Recipe.Steps))
	}
	if p.FinishedAt != nil {
		mins := int(p.FinishedAt.Sub(p.StartedAt).Minutes())
		pass.DurationMinutes = &mins
	}
	if p.Assembler != nil {
		pass.Assembler = p.Assembler.FullName()
		pass.Structure, err = s.structureOf(ctx, p.Assembler)
		if err != nil {
			return nil, err
		}
	}
	return pass, nil
}

// structureOf renders "Section / Team" for the user, or "" without a team.
func (s *assemblyService) structureOf(ctx context.Context, u *types.User) (string, error) {
	if u.TeamID == nil {
		return "", nil
	}
	team, err := s.teams.GetByID(ctx, nil, *u.TeamID)
	if err != nil || team == nil {
		return "", err
	}
	sec, err := s.sections.GetByID(ctx, nil, team.SectionID)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return team.Title, nil
	}
	return sec.Title + " / " + team.Title, nil
}

func (s *assemblyService) EditPassport(ctx context.Context, id uuid.UUID, in PassportEdit) (*Passport, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.CompletedSteps != nil {
		total := 0
		if p.Recipe != nil {
			total = len(p.Recipe.Steps)
		}
		steps := datatypes.JSONSlice[int]{}
		for _, i := range in.CompletedSteps {
			if i < 0 || i >= total {
				return nil, apierr.BadRequest("Некорректный номер шага: %d", i)
			}
			steps = toggleStep(steps, i, true)
		}
		updates["completed_steps"] = steps
	}
	if in.AssemblerID != nil {
		u, err := s.users.GetByID(ctx, nil, *in.AssemblerID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, apierr.NotFound("Сборщик не найден")
		}
		updates["assembler_id"] = *in.AssemblerID
	}
	start, finish := p.StartedAt, p.FinishedAt
	if in.StartedAt != nil {
		start = *in.StartedAt
		updates["started_at"] = start
	}
	if in.FinishedAt != nil {
		finish = in.FinishedAt
		updates["finished_at"] = *in.FinishedAt
	}
	if finish != nil && finish.Before(start) {
		return nil, apierr.BadRequest("Время окончания раньше времени начала")
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.processes.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionPassportEdit, Entity: "AssemblyProcess", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	return s.Passport(ctx, id)
}

func (s *assemblyService) publish(ctx context.Context, event realtime.SSEEvent, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelProduction, Event: event, Data: data}); err != nil {
		s.log.Debug("publish failed", "event", event, "error", err)
	}
}

// toggleStep returns a sorted copy of steps with index added or removed.
func toggleStep(steps datatypes.JSONSlice[int], index int, done bool) datatypes.JSONSlice[int] {
	set := map[int]bool{}
	for _, i := range steps {
		set[i] = true
	}
	if done {
		set[index] = true
	} else {
		delete(set, index)
	}
	out := make(datatypes.JSONSlice[int], 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
