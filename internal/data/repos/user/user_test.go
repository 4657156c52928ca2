package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
)

func TestUserRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewUserRepo(db, testutil.Logger(t))

	u, err := repo.Create(ctx, tx, &types.User{Login: "sidorov", Name: "Petr", Surname: "Sidorov"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}
	got, err := repo.GetByID(ctx, tx, u.ID)
	if err != nil || got == nil || got.Role != "ASSEMBLER" {
		t.Fatalf("expected default role ASSEMBLER, got %+v err=%v", got, err)
	}

	byLogin, err := repo.GetByLogin(ctx, tx, "sidorov")
	if err != nil || byLogin == nil || byLogin.ID != u.ID {
		t.Fatalf("GetByLogin: %+v err=%v", byLogin, err)
	}
	missing, err := repo.GetByLogin(ctx, tx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("GetByLogin(missing) = %+v, %v", missing, err)
	}

	byName, err := repo.FindByFullName(ctx, tx, "sidorov", "PETR")
	if err != nil || byName == nil || byName.ID != u.ID {
		t.Fatalf("FindByFullName: %+v err=%v", byName, err)
	}

	testutil.SeedUser(t, ctx, tx, "root", "SUPER_ADMIN")
	unassigned, err := repo.ListUnassigned(ctx, tx)
	if err != nil {
		t.Fatalf("ListUnassigned: %v", err)
	}
	for _, x := range unassigned {
		if x.Role == "SUPER_ADMIN" {
			t.Fatalf("super admin must not be listed as unassigned")
		}
	}

	sec := testutil.SeedSection(t, ctx, tx, "SMT")
	team := testutil.SeedTeam(t, ctx, tx, sec.ID, "Line 1")
	if err := repo.SetTeam(ctx, tx, u.ID, &team.ID); err != nil {
		t.Fatalf("SetTeam: %v", err)
	}
	n, err := repo.ClearTeam(ctx, tx, team.ID)
	if err != nil || n != 1 {
		t.Fatalf("ClearTeam = %d, %v", n, err)
	}

	found, err := repo.List(ctx, tx, "sido")
	if err != nil || len(found) != 1 {
		t.Fatalf("List(search) = %d rows, err=%v", len(found), err)
	}
}

func TestSessionRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewSessionRepo(db, testutil.Logger(t))
	u := testutil.SeedUser(t, ctx, tx, "operator1", "ASSEMBLER")

	old := time.Now().Add(-13 * time.Hour)
	if _, err := repo.Create(ctx, tx, &types.Session{UserID: u.ID, Online: true, StartedAt: old}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, tx, &types.Session{UserID: u.ID, Online: true, StartedAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	online, err := repo.ListOnline(ctx, tx)
	if err != nil || len(online) != 2 {
		t.Fatalf("ListOnline = %d, %v", len(online), err)
	}
	if online[0].User == nil || online[0].User.Login != "operator1" {
		t.Fatalf("expected preloaded user")
	}

	n, err := repo.CloseStartedBefore(ctx, tx, time.Now().Add(-12*time.Hour), time.Now())
	if err != nil || n != 1 {
		t.Fatalf("CloseStartedBefore = %d, %v", n, err)
	}
	n, err = repo.CloseForUser(ctx, tx, u.ID, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("CloseForUser = %d, %v", n, err)
	}
}
