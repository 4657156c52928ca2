package structure

import (
	"context"
	"testing"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
)

func TestSectionTree(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	sections := NewSectionRepo(db, log)
	teams := NewTeamRepo(db, log)

	boss := testutil.SeedUser(t, ctx, tx, "chief", "PRODUCTION_CHIEF")
	lead := testutil.SeedUser(t, ctx, tx, "lead", "ASSEMBLER")

	sec, err := sections.Create(ctx, tx, &types.Section{Title: "Assembly"})
	if err != nil {
		t.Fatalf("Create section: %v", err)
	}
	if err := sections.SetManager(ctx, tx, sec.ID, &boss.ID); err != nil {
		t.Fatalf("SetManager: %v", err)
	}
	team, err := teams.Create(ctx, tx, &types.Team{Title: "Line A", SectionID: sec.ID})
	if err != nil {
		t.Fatalf("Create team: %v", err)
	}
	if err := teams.SetLead(ctx, tx, team.ID, &lead.ID); err != nil {
		t.Fatalf("SetLead: %v", err)
	}
	if err := tx.Model(&types.User{}).Where("id = ?", lead.ID).Update("team_id", team.ID).Error; err != nil {
		t.Fatalf("assign member: %v", err)
	}

	tree, err := sections.ListTree(ctx, tx)
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	var got *types.Section
	for _, s := range tree {
		if s.ID == sec.ID {
			got = s
		}
	}
	if got == nil || got.Manager == nil || got.Manager.Login != "chief" {
		t.Fatalf("expected section with manager, got %+v", got)
	}
	if len(got.Teams) != 1 || got.Teams[0].Lead == nil || len(got.Teams[0].Members) != 1 {
		t.Fatalf("unexpected team tree: %+v", got.Teams)
	}

	n, err := sections.CountTeams(ctx, tx, sec.ID)
	if err != nil || n != 1 {
		t.Fatalf("CountTeams = %d, %v", n, err)
	}
}
