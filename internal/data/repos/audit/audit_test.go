package audit

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestAuditLogRepoFilters(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewAuditLogRepo(db, testutil.Logger(t))
	u := testutil.SeedUser(t, ctx, tx, "auditor", "SUPER_ADMIN")

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	entries := []*types.AuditLog{
		{UserID: &u.ID, Action: "BOX_CREATE", Entity: "WarehouseBox", EntityID: "1", Metadata: datatypes.JSON(`{}`), CreatedAt: day.Add(9 * time.Hour)},
		{UserID: &u.ID, Action: "BOX_BATCH_CREATE", Entity: "WarehouseBox", EntityID: "2", Metadata: datatypes.JSON(`{}`), CreatedAt: day.Add(23 * time.Hour)},
		{Action: "TEAM_CREATE", Entity: "Team", EntityID: "3", Metadata: datatypes.JSON(`{}`), CreatedAt: day.AddDate(0, 0, 1).Add(time.Hour)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, tx, e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	rows, count, err := repo.List(ctx, tx, Filter{Action: "box"}, pagination.Params{Page: 1, Limit: 50})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 2 || len(rows) != 2 {
		t.Fatalf("action filter: count=%d rows=%d", count, len(rows))
	}
	if rows[0].Action != "BOX_BATCH_CREATE" {
		t.Fatalf("expected newest first, got %s", rows[0].Action)
	}
	if rows[0].User == nil || rows[0].User.Login != "auditor" {
		t.Fatalf("expected preloaded user")
	}

	// dateTo covers the full day, excluding the next morning.
	_, count, err = repo.List(ctx, tx, Filter{DateFrom: &day, DateTo: &day}, pagination.Params{Page: 1, Limit: 50})
	if err != nil || count != 2 {
		t.Fatalf("date filter: count=%d err=%v", count, err)
	}

	_, count, err = repo.List(ctx, tx, Filter{UserID: &u.ID, Entity: "WarehouseBox"}, pagination.Params{Page: 1, Limit: 1})
	if err != nil || count != 2 {
		t.Fatalf("user filter: count=%d err=%v", count, err)
	}

	exported, err := repo.ListForExport(ctx, tx, Filter{}, 2)
	if err != nil || len(exported) != 2 {
		t.Fatalf("ListForExport: %d, %v", len(exported), err)
	}
}
