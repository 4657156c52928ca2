package assembly

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	asm "github.com/kryptonit/mes-backend/internal/domain/assembly"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestRecipeSaveReplacesSteps(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	projects := NewProjectRepo(db, log)
	recipes := NewRecipeRepo(db, log)

	p, err := projects.Create(ctx, tx, &types.Project{ID: uuid.New(), Title: "Drone-" + uuid.NewString()[:6], Status: asm.ProjectActive})
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}

	rec, err := recipes.Save(ctx, tx, &types.AssemblyRecipe{ProjectID: p.ID, Title: "v1"}, []types.RecipeStep{
		{Order: 2, Title: "Motors", Quantity: 4},
		{Order: 1, Title: "Frame", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := recipes.GetByProject(ctx, tx, p.ID)
	if err != nil || got == nil || len(got.Steps) != 2 || got.Steps[0].Title != "Frame" {
		t.Fatalf("GetByProject: %+v, %v", got, err)
	}

	if _, err := recipes.Save(ctx, tx, &types.AssemblyRecipe{ID: rec.ID, ProjectID: p.ID, Title: "v2"}, []types.RecipeStep{
		{Order: 1, Title: "Frame", Quantity: 1},
	}); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, err = recipes.GetByID(ctx, tx, rec.ID)
	if err != nil || got.Title != "v2" || len(got.Steps) != 1 {
		t.Fatalf("steps should be replaced: %+v, %v", got, err)
	}
	var stepRows int64
	if err := tx.Model(&types.RecipeStep{}).Where("recipe_id = ?", rec.ID).Count(&stepRows).Error; err != nil || stepRows != 1 {
		t.Fatalf("step rows = %d, %v", stepRows, err)
	}

	if _, err := recipes.Save(ctx, tx, &types.AssemblyRecipe{ProjectID: p.ID, Title: "dup"}, nil); err == nil {
		t.Fatalf("second recipe per project should fail")
	}
}

func TestProcessQueries(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	projects := NewProjectRepo(db, log)
	recipes := NewRecipeRepo(db, log)
	processes := NewProcessRepo(db, log)

	u := testutil.SeedUser(t, ctx, tx, "asm-"+uuid.NewString()[:6], "ASSEMBLER")
	p, err := projects.Create(ctx, tx, &types.Project{ID: uuid.New(), Title: "Quad-" + uuid.NewString()[:6], Status: asm.ProjectActive})
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}
	rec, err := recipes.Save(ctx, tx, &types.AssemblyRecipe{ProjectID: p.ID, Title: "Quad"}, []types.RecipeStep{{Order: 1, Title: "Frame", Quantity: 1}})
	if err != nil {
		t.Fatalf("Save recipe: %v", err)
	}
	box := testutil.SeedBox(t, ctx, tx, "Quad product", 1)

	proc, err := processes.Create(ctx, tx, &types.AssemblyProcess{ID: uuid.New(), BoxID: box.ID, RecipeID: rec.ID, AssemblerID: &u.ID, Status: asm.ProcessInProgress})
	if err != nil {
		t.Fatalf("Create process: %v", err)
	}
	open, err := processes.FindOpen(ctx, tx, box.ID, rec.ID)
	if err != nil || open == nil || open.ID != proc.ID {
		t.Fatalf("FindOpen: %+v, %v", open, err)
	}

	if err := processes.Update(ctx, tx, proc.ID, map[string]any{"completed_steps": datatypes.JSONSlice[int]{0}, "status": asm.ProcessCompleted}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	open, err = processes.FindOpen(ctx, tx, box.ID, rec.ID)
	if err != nil || open != nil {
		t.Fatalf("completed process must not be open: %+v, %v", open, err)
	}

	full, err := processes.GetByID(ctx, tx, proc.ID)
	if err != nil || full.Recipe == nil || full.Recipe.Project == nil || full.Box == nil || len(full.CompletedSteps) != 1 {
		t.Fatalf("GetByID: %+v, %v", full, err)
	}

	page := pagination.Params{Page: 1, Limit: 10}
	_, count, err := processes.List(ctx, tx, ProcessFilter{Status: asm.ProcessCompleted, ProjectID: &p.ID}, page)
	if err != nil || count != 1 {
		t.Fatalf("List by project: %d, %v", count, err)
	}
	_, count, err = processes.List(ctx, tx, ProcessFilter{ProjectID: &p.ID, Search: box.ShortCode}, page)
	if err != nil || count != 1 {
		t.Fatalf("List by short code: %d, %v", count, err)
	}
	_, count, err = processes.List(ctx, tx, ProcessFilter{ProjectID: &p.ID, Search: "no-such-box"}, page)
	if err != nil || count != 0 {
		t.Fatalf("List by unknown search: %d, %v", count, err)
	}
	n, err := processes.CountByRecipe(ctx, tx, rec.ID)
	if err != nil || n != 1 {
		t.Fatalf("CountByRecipe = %d, %v", n, err)
	}
}
