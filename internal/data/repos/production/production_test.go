package production

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/production"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestOutputAggregates(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	ops := NewOperationTypeRepo(db, log)
	outputs := NewOutputRepo(db, log)

	sec := testutil.SeedSection(t, ctx, tx, "Sec-"+uuid.NewString()[:6])
	team := testutil.SeedTeam(t, ctx, tx, sec.ID, "Team A")
	worker := testutil.SeedUser(t, ctx, tx, "w-"+uuid.NewString()[:6], "ASSEMBLER")
	op, err := ops.Create(ctx, tx, &types.OperationType{ID: uuid.New(), Name: "Soldering", Unit: "шт", IsActive: true})
	if err != nil {
		t.Fatalf("Create op: %v", err)
	}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mk := func(d time.Time, claimed, approved int, status string) *types.ProductionOutput {
		o, err := outputs.Create(ctx, tx, &types.ProductionOutput{
			ID: uuid.New(), Date: d, UserID: worker.ID, TeamID: &team.ID, SectionID: &sec.ID,
			OperationTypeID: &op.ID, ClaimedQty: claimed, ApprovedQty: approved, RejectedQty: claimed - approved, Status: status,
		})
		if err != nil {
			t.Fatalf("Create output: %v", err)
		}
		return o
	}
	mk(day, 10, 10, production.OutputApproved)
	mk(day, 5, 3, production.OutputAdjusted)
	mk(day.AddDate(0, 0, 1), 7, 0, production.OutputPending)

	from, to := day, day.AddDate(0, 0, 1)
	summary, err := outputs.Summary(ctx, tx, OutputFilter{UserID: &worker.ID, DateFrom: &from, DateTo: &to})
	if err != nil || len(summary) != 1 {
		t.Fatalf("Summary: %+v, %v", summary, err)
	}
	s := summary[0]
	if s.Claimed != 22 || s.Approved != 13 || s.Rejected != 2 || s.Pending != 7 || s.RecordCount != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}

	cells, err := outputs.Matrix(ctx, tx, OutputFilter{UserID: &worker.ID})
	if err != nil || len(cells) != 1 || cells[0].Day != "2026-03-02" || cells[0].Approved != 13 {
		t.Fatalf("Matrix: %+v, %v", cells, err)
	}

	page := pagination.Params{Page: 1, Limit: 10}
	_, count, err := outputs.List(ctx, tx, OutputFilter{TeamIDs: []uuid.UUID{team.ID}, Status: production.OutputPending}, page)
	if err != nil || count != 1 {
		t.Fatalf("List by team: %d, %v", count, err)
	}
	_, count, err = outputs.List(ctx, tx, OutputFilter{TeamIDs: []uuid.UUID{}}, page)
	if err != nil || count != 0 {
		t.Fatalf("empty team scope should match nothing: %d, %v", count, err)
	}

	n, err := ops.CountOutputs(ctx, tx, op.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountOutputs = %d, %v", n, err)
	}
}
