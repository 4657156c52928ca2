package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
)

func TestRoleAbilities(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	roles := NewRoleRepo(db, testutil.Logger(t))
	abilities := NewAbilityRepo(db, testutil.Logger(t))

	view, err := abilities.Create(ctx, tx, &types.Ability{Code: "warehouse.view"})
	if err != nil {
		t.Fatalf("Create ability: %v", err)
	}
	manage, err := abilities.Create(ctx, tx, &types.Ability{Code: "warehouse.manage"})
	if err != nil {
		t.Fatalf("Create ability: %v", err)
	}

	role, err := roles.Create(ctx, tx, &types.Role{Name: "WAREHOUSE_MASTER", Priority: 40, IsActive: true, IsSystem: true})
	if err != nil {
		t.Fatalf("Create role: %v", err)
	}

	if err := roles.AddAbilities(ctx, tx, role.ID, []uuid.UUID{view.ID}); err != nil {
		t.Fatalf("AddAbilities: %v", err)
	}
	// Adding the same pair again is a no-op.
	if err := roles.AddAbilities(ctx, tx, role.ID, []uuid.UUID{view.ID, manage.ID}); err != nil {
		t.Fatalf("AddAbilities (repeat): %v", err)
	}

	codes, err := roles.AbilityCodes(ctx, tx, "WAREHOUSE_MASTER")
	if err != nil {
		t.Fatalf("AbilityCodes: %v", err)
	}
	if len(codes) != 2 || codes[0] != "warehouse.manage" || codes[1] != "warehouse.view" {
		t.Fatalf("AbilityCodes = %v", codes)
	}

	if err := roles.ReplaceAbilities(ctx, tx, role.ID, []uuid.UUID{manage.ID}); err != nil {
		t.Fatalf("ReplaceAbilities: %v", err)
	}
	got, err := roles.GetByID(ctx, tx, role.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Abilities) != 1 || got.Abilities[0].Code != "warehouse.manage" {
		t.Fatalf("abilities after replace = %+v", got.Abilities)
	}

	list, err := roles.List(ctx, tx, true)
	if err != nil || len(list) == 0 {
		t.Fatalf("List: %d, %v", len(list), err)
	}

	if err := roles.Delete(ctx, tx, role.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	codes, err = roles.AbilityCodes(ctx, tx, "WAREHOUSE_MASTER")
	if err != nil || len(codes) != 0 {
		t.Fatalf("AbilityCodes after delete = %v, %v", codes, err)
	}
}
