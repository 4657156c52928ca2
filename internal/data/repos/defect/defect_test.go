package defect

import (
	"context"
	"testing"
	"time"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestBoardDefectQueries(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	categories := NewCategoryRepo(db, log)
	defects := NewBoardDefectRepo(db, log)
	repairs := NewRepairActionRepo(db, log)

	cat, err := categories.Create(ctx, tx, &types.DefectCategory{Code: "SOLDER_BRIDGE", Title: "Solder bridge", Severity: defect.SeverityMajor, IsActive: true})
	if err != nil {
		t.Fatalf("Create category: %v", err)
	}

	now := time.Now()
	bmc, err := defects.Create(ctx, tx, &types.BoardDefect{
		BoardType: "BMC", SerialNumber: "BMC-0001", CategoryID: &cat.ID, DetectedAt: now, Status: defect.StatusOpen,
	})
	if err != nil {
		t.Fatalf("Create defect: %v", err)
	}
	if _, err := defects.Create(ctx, tx, &types.BoardDefect{
		BoardType: "RAID", SerialNumber: "RD-77", DetectedAt: now.Add(-48 * time.Hour), Status: defect.StatusInRepair,
	}); err != nil {
		t.Fatalf("Create defect: %v", err)
	}

	if _, err := repairs.Create(ctx, tx, &types.RepairAction{BoardDefectID: bmc.ID, ActionType: "SOLDER", PerformedAt: now, TimeSpentMinutes: 30}); err != nil {
		t.Fatalf("Create repair: %v", err)
	}
	if err := defects.Update(ctx, tx, bmc.ID, map[string]interface{}{"total_repair_minutes": 30}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := defects.GetByID(ctx, tx, bmc.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Category == nil || got.Category.Code != "SOLDER_BRIDGE" || len(got.Repairs) != 1 || got.Repairs[0].Result != defect.RepairPending {
		t.Fatalf("unexpected defect: %+v", got)
	}

	_, count, err := defects.List(ctx, tx, BoardDefectFilter{SerialNumber: "bmc"}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("serial filter: %d, %v", count, err)
	}
	from := now.Add(-time.Hour)
	_, count, err = defects.List(ctx, tx, BoardDefectFilter{DateFrom: &from}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("date filter: %d, %v", count, err)
	}

	byStatus, err := defects.CountBy(ctx, tx, "status")
	if err != nil || len(byStatus) != 2 {
		t.Fatalf("CountBy(status): %+v, %v", byStatus, err)
	}
	if _, err := defects.CountBy(ctx, tx, "description"); err == nil {
		t.Fatalf("CountBy should reject arbitrary columns")
	}
	byCat, err := defects.CountByCategory(ctx, tx)
	if err != nil || len(byCat) != 2 {
		t.Fatalf("CountByCategory: %+v, %v", byCat, err)
	}
	avg, err := defects.AvgRepairMinutes(ctx, tx)
	if err != nil || avg != 30 {
		t.Fatalf("AvgRepairMinutes = %v, %v", avg, err)
	}

	n, err := categories.CountDefects(ctx, tx, cat.ID)
	if err != nil || n != 1 {
		t.Fatalf("CountDefects = %d, %v", n, err)
	}
}
