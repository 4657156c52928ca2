package beryll

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestServerListAndBatch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	servers := NewServerRepo(db, log)
	batches := NewBatchRepo(db, log)

	a := testutil.SeedServer(t, ctx, tx, "101")
	b := testutil.SeedServer(t, ctx, tx, "102")

	batch, err := batches.Create(ctx, tx, &types.BeryllBatch{Title: "Delivery 7", Status: beryll.BatchActive})
	if err != nil {
		t.Fatalf("Create batch: %v", err)
	}
	n, err := servers.SetBatch(ctx, tx, []uuid.UUID{a.ID}, &batch.ID)
	if err != nil || n != 1 {
		t.Fatalf("SetBatch: %d, %v", n, err)
	}

	_, count, err := servers.List(ctx, tx, ServerFilter{BatchID: &batch.ID}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("batch filter: %d, %v", count, err)
	}
	rows, _, err := servers.List(ctx, tx, ServerFilter{Unbatched: true, Search: "10.0.0.102"}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || len(rows) != 1 || rows[0].ID != b.ID {
		t.Fatalf("unbatched search: %+v, %v", rows, err)
	}

	counts, err := batches.StatusCounts(ctx, tx, batch.ID)
	if err != nil || len(counts) != 1 || counts[0].Key != beryll.ServerNew || counts[0].Count != 1 {
		t.Fatalf("StatusCounts: %+v, %v", counts, err)
	}

	got, err := servers.GetByAPKSerial(ctx, tx, "102")
	if err != nil || got == nil || got.ID != b.ID {
		t.Fatalf("GetByAPKSerial: %+v, %v", got, err)
	}
}

func TestServerListWithComponents(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	servers := NewServerRepo(db, testutil.Logger(t))

	a := testutil.SeedServer(t, ctx, tx, "201")
	b := testutil.SeedServer(t, ctx, tx, "202")
	for _, c := range []types.ServerComponent{
		{ServerID: a.ID, Type: "RAM", Slot: "B1"},
		{ServerID: a.ID, Type: "HDD", Slot: "0"},
		{ServerID: a.ID, Type: "RAM", Slot: "A1"},
	} {
		c := c
		c.ID = uuid.New()
		if err := tx.Create(&c).Error; err != nil {
			t.Fatalf("seed component: %v", err)
		}
	}
	now := time.Now()
	if err := servers.Update(ctx, tx, b.ID, map[string]interface{}{"archived_at": now}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	rows, err := servers.ListWithComponents(ctx, tx, ServerFilter{IDs: []uuid.UUID{a.ID, b.ID}})
	if err != nil || len(rows) != 1 || rows[0].ID != a.ID {
		t.Fatalf("archived servers are skipped: %+v, %v", rows, err)
	}
	comps := rows[0].Components
	if len(comps) != 3 || comps[0].Type != "HDD" || comps[1].Slot != "A1" || comps[2].Slot != "B1" {
		t.Fatalf("component order: %+v", comps)
	}

	rows, err = servers.ListWithComponents(ctx, tx, ServerFilter{IDs: []uuid.UUID{a.ID, b.ID}, IncludeArchived: true})
	if err != nil || len(rows) != 2 {
		t.Fatalf("IncludeArchived: %d, %v", len(rows), err)
	}
	future := now.Add(time.Hour)
	rows, err = servers.ListWithComponents(ctx, tx, ServerFilter{IDs: []uuid.UUID{a.ID}, DateFrom: &future})
	if err != nil || len(rows) != 0 {
		t.Fatalf("DateFrom: %d, %v", len(rows), err)
	}
}

func TestChecklistMissingRequired(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	checklists := NewChecklistRepo(db, testutil.Logger(t))

	server := testutil.SeedServer(t, ctx, tx, "201")
	required := testutil.SeedChecklistTemplate(t, ctx, tx, "Memory test", true)
	optional := testutil.SeedChecklistTemplate(t, ctx, tx, "Photo", false)

	templates, err := checklists.ListTemplates(ctx, tx, true)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if err := checklists.InitForServer(ctx, tx, server.ID, templates); err != nil {
		t.Fatalf("InitForServer: %v", err)
	}
	// Initialising twice keeps a single item per template.
	if err := checklists.InitForServer(ctx, tx, server.ID, templates); err != nil {
		t.Fatalf("InitForServer (repeat): %v", err)
	}
	items, err := checklists.ListForServer(ctx, tx, server.ID)
	if err != nil || len(items) != len(templates) {
		t.Fatalf("ListForServer: %d items, %v", len(items), err)
	}

	missing, err := checklists.MissingRequired(ctx, tx, server.ID)
	if err != nil {
		t.Fatalf("MissingRequired: %v", err)
	}
	if !contains(missing, required.Title) || contains(missing, optional.Title) {
		t.Fatalf("missing = %v", missing)
	}

	item, err := checklists.GetItem(ctx, tx, server.ID, required.ID)
	if err != nil || item == nil {
		t.Fatalf("GetItem: %v", err)
	}
	if err := checklists.UpdateItem(ctx, tx, item.ID, map[string]interface{}{"completed": true}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	missing, err = checklists.MissingRequired(ctx, tx, server.ID)
	if err != nil || contains(missing, required.Title) {
		t.Fatalf("missing after completion = %v, %v", missing, err)
	}
}

func TestDefectRecordQueries(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	records := NewDefectRecordRepo(db, log)
	components := NewComponentRepo(db, log)

	server := testutil.SeedServer(t, ctx, tx, "301")
	now := time.Now()
	ram := beryll.PartRAM
	ticket := "INC-42"
	past := now.Add(-time.Hour)

	old, err := records.Create(ctx, tx, &types.BeryllDefectRecord{
		ServerID: server.ID, RepairPartType: &ram, Status: beryll.DefectResolved, Priority: beryll.PriorityMedium,
		DetectedAt: now.Add(-10 * 24 * time.Hour), YadroTicketNumber: &ticket,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := records.Create(ctx, tx, &types.BeryllDefectRecord{
		ServerID: server.ID, RepairPartType: &ram, Status: beryll.DefectDiagnosing, Priority: beryll.PriorityHigh,
		DetectedAt: now, SLADeadline: &past, IsRepeatedDefect: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	prev, err := records.LatestInactiveSince(ctx, tx, server.ID, ram, now.AddDate(0, 0, -30))
	if err != nil || prev == nil || prev.ID != old.ID {
		t.Fatalf("LatestInactiveSince: %+v, %v", prev, err)
	}
	none, err := records.LatestInactiveSince(ctx, tx, server.ID, ram, now.AddDate(0, 0, -5))
	if err != nil || none != nil {
		t.Fatalf("LatestInactiveSince outside window: %+v, %v", none, err)
	}

	_, count, err := records.List(ctx, tx, DefectRecordFilter{ServerID: &server.ID, OnlyActive: true}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("OnlyActive: %d, %v", count, err)
	}
	_, count, err = records.List(ctx, tx, DefectRecordFilter{ServerID: &server.ID, Search: "inc-4"}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("search: %d, %v", count, err)
	}

	exists, err := records.TicketExists(ctx, tx, ticket)
	if err != nil || !exists {
		t.Fatalf("TicketExists: %v, %v", exists, err)
	}
	breached, err := records.CountSLABreached(ctx, tx, now)
	if err != nil || breached < 1 {
		t.Fatalf("CountSLABreached: %d, %v", breached, err)
	}

	serial := "DIMM-SN-1"
	if err := components.Create(ctx, tx, &types.ServerComponent{ServerID: server.ID, Type: "RAM", Slot: "DIMM_1", SerialNumberYadro: &serial, Status: beryll.ComponentOK}); err != nil {
		t.Fatalf("Create component: %v", err)
	}
	marked, err := components.MarkBySerial(ctx, tx, server.ID, serial, beryll.ComponentCritical)
	if err != nil || marked != 1 {
		t.Fatalf("MarkBySerial: %d, %v", marked, err)
	}
	found, err := components.SerialExists(ctx, tx, serial)
	if err != nil || !found {
		t.Fatalf("SerialExists: %v, %v", found, err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
