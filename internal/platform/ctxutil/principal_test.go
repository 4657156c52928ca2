package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestPrincipalCan(t *testing.T) {
	admin := &Principal{Role: "ASSEMBLER", Roles: []string{"SUPER_ADMIN"}}
	if !admin.Can("anything.at.all") {
		t.Fatalf("super admin listed in roles should bypass ability checks")
	}

	wm := &Principal{Role: "WAREHOUSE_MASTER", Abilities: []string{"warehouse.view", "labels.print"}}
	if !wm.Can("labels.print") {
		t.Fatalf("expected labels.print")
	}
	if wm.Can("warehouse.manage") {
		t.Fatalf("unexpected warehouse.manage")
	}

	var nilP *Principal
	if nilP.Can("warehouse.view") {
		t.Fatalf("nil principal must not pass")
	}
}

func TestPrincipalRoundTrip(t *testing.T) {
	if GetPrincipal(context.Background()) != nil {
		t.Fatalf("expected no principal")
	}
	if UserIDPtr(context.Background()) != nil {
		t.Fatalf("expected nil user id")
	}
	id := uuid.New()
	ctx := WithPrincipal(context.Background(), &Principal{UserID: id, Login: "petrov"})
	if got := UserIDPtr(ctx); got == nil || *got != id {
		t.Fatalf("UserIDPtr = %v, want %v", got, id)
	}
}
