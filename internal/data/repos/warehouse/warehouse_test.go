package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestBoxListAndLookup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewBoxRepo(db, testutil.Logger(t))

	a := testutil.SeedBox(t, ctx, tx, "Resistor 10k", 100)
	b := testutil.SeedBox(t, ctx, tx, "Capacitor 1uF", 50)
	if err := repo.Update(ctx, tx, b.ID, map[string]interface{}{"batch_name": "RESISTOR-lot", "status": warehouse.BoxStatusInWork}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rows, count, err := repo.List(ctx, tx, BoxFilter{Search: "resistor"}, pagination.Params{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if count != 2 || len(rows) != 2 {
		t.Fatalf("search should match label and batchName, got %d", count)
	}

	_, count, err = repo.List(ctx, tx, BoxFilter{Search: a.ShortCode}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count < 1 {
		t.Fatalf("shortCode search: %d, %v", count, err)
	}

	_, count, err = repo.List(ctx, tx, BoxFilter{Status: warehouse.BoxStatusInWork}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("status filter: %d, %v", count, err)
	}

	got, err := repo.GetByCode(ctx, tx, a.QRCode)
	if err != nil || got == nil || got.ID != a.ID {
		t.Fatalf("GetByCode(qr): %+v, %v", got, err)
	}
	got, err = repo.GetByCode(ctx, tx, a.ShortCode)
	if err != nil || got == nil || got.ID != a.ID {
		t.Fatalf("GetByCode(short): %+v, %v", got, err)
	}
	missing, err := repo.GetByCode(ctx, tx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetByCode(missing): %+v, %v", missing, err)
	}

	exists, err := repo.ShortCodeExists(ctx, tx, a.ShortCode)
	if err != nil || !exists {
		t.Fatalf("ShortCodeExists: %v, %v", exists, err)
	}

	n, err := repo.UpdateMany(ctx, tx, []uuid.UUID{a.ID, b.ID}, map[string]interface{}{"project_name": "Beryll"})
	if err != nil || n != 2 {
		t.Fatalf("UpdateMany: %d, %v", n, err)
	}
	list, err := repo.ListByIDs(ctx, tx, []uuid.UUID{a.ID, b.ID})
	if err != nil || len(list) != 2 || list[0].ProjectName != "Beryll" {
		t.Fatalf("ListByIDs: %+v, %v", list, err)
	}
}

func TestBoxReservationsAndBalance(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewBoxRepo(db, testutil.Logger(t))
	u := testutil.SeedUser(t, ctx, tx, "keeper", "WAREHOUSE_MASTER")

	now := time.Now()
	expired := testutil.SeedBox(t, ctx, tx, "Balance item", 10)
	active := testutil.SeedBox(t, ctx, tx, "Balance item", 5)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	if err := repo.Update(ctx, tx, expired.ID, map[string]interface{}{
		"reserved_qty": 3, "reserved_by_id": u.ID, "reserved_at": past, "reservation_expires_at": past,
	}); err != nil {
		t.Fatalf("reserve expired: %v", err)
	}
	if err := repo.Update(ctx, tx, active.ID, map[string]interface{}{
		"reserved_qty": 2, "reserved_by_id": u.ID, "reserved_at": now, "reservation_expires_at": future,
	}); err != nil {
		t.Fatalf("reserve active: %v", err)
	}

	locked, err := repo.LockByID(ctx, tx, active.ID)
	if err != nil || locked == nil || !locked.ReservationActive(now) {
		t.Fatalf("LockByID: %+v, %v", locked, err)
	}

	released, err := repo.ReleaseExpired(ctx, tx, now)
	if err != nil {
		t.Fatalf("ReleaseExpired: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	after, _ := repo.GetByID(ctx, tx, expired.ID)
	if after.ReservedQty != 0 || after.ReservedByID != nil || after.ReservationExpiresAt != nil {
		t.Fatalf("expired reservation not cleared: %+v", after)
	}

	n, err := repo.CountActiveReservations(ctx, tx, now)
	if err != nil || n != 1 {
		t.Fatalf("CountActiveReservations = %d, %v", n, err)
	}

	balance, err := repo.Balance(ctx, tx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	var row *BalanceRow
	for i := range balance {
		if balance[i].Label == "Balance item" {
			row = &balance[i]
		}
	}
	if row == nil || row.Quantity != 15 || row.Reserved != 2 || row.Boxes != 2 {
		t.Fatalf("balance row = %+v", row)
	}
}

func TestMovementsAndRankings(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	log := testutil.Logger(t)
	movements := NewMovementRepo(db, log)

	u := testutil.SeedUser(t, ctx, tx, "mover", "ASSEMBLER")
	box := testutil.SeedBox(t, ctx, tx, "Board", 10)
	now := time.Now()
	err := movements.Create(ctx, tx,
		&types.WarehouseMovement{BoxID: box.ID, Operation: warehouse.OpReceive, DeltaQty: 10, PerformedByID: &u.ID, PerformedAt: now.Add(-2 * time.Hour)},
		&types.WarehouseMovement{BoxID: box.ID, Operation: warehouse.OpMove, GoodQty: 7, ScrapQty: 1, PerformedByID: &u.ID, PerformedAt: now.Add(-time.Hour)},
	)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	byBox, err := movements.ListByBox(ctx, tx, box.ID)
	if err != nil || len(byBox) != 2 || byBox[0].Operation != warehouse.OpMove {
		t.Fatalf("ListByBox: %+v, %v", byBox, err)
	}

	_, count, err := movements.List(ctx, tx, MovementFilter{Operation: warehouse.OpMove, PerformedByID: &u.ID}, pagination.Params{Page: 1, Limit: 10})
	if err != nil || count != 1 {
		t.Fatalf("List: %d, %v", count, err)
	}

	since := now.Add(-3 * time.Hour)
	ranks, err := movements.Rankings(ctx, tx, &since)
	if err != nil {
		t.Fatalf("Rankings: %v", err)
	}
	var mine *RankingRow
	for i := range ranks {
		if ranks[i].UserID == u.ID {
			mine = &ranks[i]
		}
	}
	if mine == nil || mine.GoodQty != 7 || mine.ScrapQty != 1 || mine.Operations != 2 {
		t.Fatalf("ranking = %+v", mine)
	}
}

func TestInventoryLimitAlerts(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	limits := NewInventoryLimitRepo(db, testutil.Logger(t))

	testutil.SeedBox(t, ctx, tx, "Thermal paste", 3)

	l, err := limits.Upsert(ctx, tx, &types.InventoryLimit{OriginType: "COMPONENT", Label: "Thermal paste", MinQuantity: 5})
	if err != nil || l == nil {
		t.Fatalf("Upsert: %+v, %v", l, err)
	}
	again, err := limits.Upsert(ctx, tx, &types.InventoryLimit{OriginType: "COMPONENT", Label: "Thermal paste", MinQuantity: 8})
	if err != nil || again.ID != l.ID || again.MinQuantity != 8 {
		t.Fatalf("Upsert should update in place: %+v, %v", again, err)
	}

	alerts, err := limits.Alerts(ctx, tx)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	var found *AlertRow
	for i := range alerts {
		if alerts[i].ID == l.ID {
			found = &alerts[i]
		}
	}
	if found == nil || found.Current != 3 || found.Deficit != 5 {
		t.Fatalf("alert = %+v", found)
	}
}
