package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	assemblyrepo "github.com/kryptonit/mes-backend/internal/data/repos/assembly"
	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	structurerepo "github.com/kryptonit/mes-backend/internal/data/repos/structure"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/assembly"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

type assemblyFixture struct {
	db   *gorm.DB
	ctx  context.Context
	user *types.User
	svc  AssemblyService
}

func newAssemblyFixture(t *testing.T) *assemblyFixture {
	t.Helper()
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	base := context.Background()

	sec := testutil.SeedSection(t, base, db, "Сборка")
	team := testutil.SeedTeam(t, base, db, sec.ID, "Бригада 1")
	u := testutil.SeedUser(t, base, db, "assembler", "ASSEMBLER")
	require.NoError(t, db.Model(u).Update("team_id", team.ID).Error)

	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	svc := NewAssemblyService(db, log,
		assemblyrepo.NewProjectRepo(db, log),
		assemblyrepo.NewRecipeRepo(db, log),
		assemblyrepo.NewProcessRepo(db, log),
		warehouserepo.NewBoxRepo(db, log),
		warehouserepo.NewMovementRepo(db, log),
		userrepo.NewUserRepo(db, log),
		structurerepo.NewSectionRepo(db, log),
		structurerepo.NewTeamRepo(db, log),
		nil, auditSvc)
	return &assemblyFixture{
		db:   db,
		ctx:  ctxutil.WithPrincipal(base, &ctxutil.Principal{UserID: u.ID, Login: u.Login, Role: u.Role}),
		user: u,
		svc:  svc,
	}
}

func TestProjectsAndRecipes(t *testing.T) {
	f := newAssemblyFixture(t)
	ctx := f.ctx

	_, err := f.svc.CreateProject(ctx, ProjectInput{Title: strPtr("  ")})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.svc.CreateProject(ctx, ProjectInput{Title: strPtr("X"), Status: strPtr("DRAFT")})
	requireStatus(t, err, http.StatusBadRequest)

	p, err := f.svc.CreateProject(ctx, ProjectInput{Title: strPtr("Квадрокоптер")})
	require.NoError(t, err)
	require.Equal(t, assembly.ProjectActive, p.Status)

	_, err = f.svc.RecipeByProject(ctx, p.ID)
	requireStatus(t, err, http.StatusNotFound)

	rec, err := f.svc.UpsertRecipe(ctx, p.ID, "", []RecipeStepInput{{Title: "Рама"}, {Title: " ", Quantity: 4}})
	require.NoError(t, err)
	require.Equal(t, "Квадрокоптер", rec.Title, "title defaults to the project")
	require.Len(t, rec.Steps, 2)
	require.Equal(t, 1, rec.Steps[0].Quantity)
	require.Equal(t, defaultStepTitle, rec.Steps[1].Title)
	require.Equal(t, 4, rec.Steps[1].Quantity)

	rec2, err := f.svc.UpsertRecipe(ctx, p.ID, "v2", []RecipeStepInput{{Title: "Рама"}})
	require.NoError(t, err)
	require.Equal(t, rec.ID, rec2.ID, "one recipe per project")
	require.Len(t, rec2.Steps, 1)

	requireStatus(t, f.svc.DeleteProject(ctx, p.ID), http.StatusBadRequest)

	bare, err := f.svc.CreateProject(ctx, ProjectInput{Title: strPtr("Пустой")})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteProject(ctx, bare.ID))
	_, err = f.svc.GetProject(ctx, bare.ID)
	requireStatus(t, err, http.StatusNotFound)

	archived, err := f.svc.UpdateProject(ctx, p.ID, ProjectInput{Status: strPtr("archived")})
	require.NoError(t, err)
	require.Equal(t, assembly.ProjectArchived, archived.Status)
	_, err = f.svc.Start(ctx, "QR-ARCH", p.ID)
	requireStatus(t, err, http.StatusBadRequest)
}

func TestAssemblyLifecycle(t *testing.T) {
	f := newAssemblyFixture(t)
	ctx := f.ctx

	p, err := f.svc.CreateProject(ctx, ProjectInput{Title: strPtr("FPV")})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "QR-1", p.ID)
	requireStatus(t, err, http.StatusNotFound)

	_, err = f.svc.UpsertRecipe(ctx, p.ID, "FPV", []RecipeStepInput{{Title: "Рама"}, {Title: "Моторы", Quantity: 4}, {Title: "Полётник"}})
	require.NoError(t, err)

	proc, err := f.svc.Start(ctx, "QR-1", p.ID)
	require.NoError(t, err)
	require.Equal(t, assembly.ProcessInProgress, proc.Status)
	require.NotNil(t, proc.Box)
	require.Equal(t, assembly.OriginProduct, proc.Box.OriginType)
	require.Equal(t, warehouse.BoxStatusInWork, proc.Box.Status)
	require.Len(t, proc.Box.ShortCode, 6)

	again, err := f.svc.Start(ctx, "QR-1", p.ID)
	require.NoError(t, err)
	require.Equal(t, proc.ID, again.ID, "rescanning resumes the open process")

	_, err = f.svc.SetStep(ctx, proc.ID, 3, true)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.svc.SetStep(ctx, proc.ID, -1, true)
	requireStatus(t, err, http.StatusBadRequest)

	for _, i := range []int{2, 0, 0} {
		proc, err = f.svc.SetStep(ctx, proc.ID, i, true)
		require.NoError(t, err)
	}
	require.Equal(t, []int{0, 2}, []int(proc.CompletedSteps))

	_, err = f.svc.Finish(ctx, proc.ID)
	requireStatus(t, err, http.StatusBadRequest)

	proc, err = f.svc.SetStep(ctx, proc.ID, 1, true)
	require.NoError(t, err)
	proc, err = f.svc.SetStep(ctx, proc.ID, 2, false)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, []int(proc.CompletedSteps))
	_, err = f.svc.SetStep(ctx, proc.ID, 2, true)
	require.NoError(t, err)

	done, err := f.svc.Finish(ctx, proc.ID)
	require.NoError(t, err)
	require.Equal(t, assembly.ProcessCompleted, done.Status)
	require.NotNil(t, done.FinishedAt)
	require.Equal(t, warehouse.BoxStatusOnStock, done.Box.Status)

	_, err = f.svc.Finish(ctx, proc.ID)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.svc.SetStep(ctx, proc.ID, 0, false)
	requireStatus(t, err, http.StatusBadRequest)

	var mv types.WarehouseMovement
	require.NoError(t, f.db.Where("box_id = ? AND operation = ?", done.BoxID, assembly.OpAssemblyFinish).First(&mv).Error)
	require.Equal(t, 1, mv.GoodQty)
	require.Equal(t, 0, mv.DeltaQty)
	require.Equal(t, f.user.ID, *mv.PerformedByID)

	items, count, err := f.svc.Assembled(ctx, assemblyrepo.ProcessFilter{ProjectID: &p.ID}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, 100, items[0].Progress)
	require.Equal(t, 3, items[0].Total)

	next, err := f.svc.Start(ctx, "QR-1", p.ID)
	require.NoError(t, err)
	require.NotEqual(t, proc.ID, next.ID, "a finished product can be reassembled")
}

func TestPassportAndEdit(t *testing.T) {
	f := newAssemblyFixture(t)
	ctx := f.ctx

	p, err := f.svc.CreateProject(ctx, ProjectInput{Title: strPtr("Крыло")})
	require.NoError(t, err)
	_, err = f.svc.UpsertRecipe(ctx, p.ID, "Крыло", []RecipeStepInput{{Title: "Лонжерон"}, {Title: "Обшивка"}})
	require.NoError(t, err)
	proc, err := f.svc.Start(ctx, "QR-W", p.ID)
	require.NoError(t, err)
	_, err = f.svc.SetStep(ctx, proc.ID, 0, true)
	require.NoError(t, err)

	pass, err := f.svc.Passport(ctx, proc.ID)
	require.NoError(t, err)
	require.Equal(t, "Крыло", pass.Project)
	require.Equal(t, "QR-W", pass.QRCode)
	require.Equal(t, "Сборка / Бригада 1", pass.Structure)
	require.Equal(t, 1, pass.Missing)
	require.True(t, pass.Steps[0].Done)
	require.False(t, pass.Steps[1].Done)
	require.Nil(t, pass.DurationMinutes)

	_, err = f.svc.EditPassport(ctx, proc.ID, PassportEdit{CompletedSteps: []int{5}})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.svc.EditPassport(ctx, proc.ID, PassportEdit{})
	requireStatus(t, err, http.StatusBadRequest)

	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	early := start.Add(-time.Hour)
	_, err = f.svc.EditPassport(ctx, proc.ID, PassportEdit{StartedAt: &start, FinishedAt: &early})
	requireStatus(t, err, http.StatusBadRequest)

	end := start.Add(90 * time.Minute)
	pass, err = f.svc.EditPassport(ctx, proc.ID, PassportEdit{CompletedSteps: []int{1, 0, 1}, StartedAt: &start, FinishedAt: &end})
	require.NoError(t, err)
	require.Equal(t, 0, pass.Missing)
	require.NotNil(t, pass.DurationMinutes)
	require.Equal(t, 90, *pass.DurationMinutes)
}
