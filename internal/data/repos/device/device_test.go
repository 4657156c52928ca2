package device

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/domain/device"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

func TestDeviceQueries(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, ctx, tx, "flasher-"+uuid.NewString()[:6], "FIRMWARE_OPERATOR")
	pc := &types.PC{ID: uuid.New(), IP: "10.9." + uuid.NewString()[:4], PCName: "stand-1"}
	if err := tx.Create(pc).Error; err != nil {
		t.Fatalf("seed pc: %v", err)
	}
	sess := &types.Session{ID: uuid.New(), UserID: u.ID, PCID: &pc.ID, Online: true, StartedAt: time.Now()}
	if err := tx.Create(sess).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	cat := &types.DefectCategory{ID: uuid.New(), Code: "NO_LINK_" + uuid.NewString()[:4], Title: "No link", Severity: defect.SeverityMajor, IsActive: true}
	if err := tx.Create(cat).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}

	serial := "FC-" + uuid.NewString()[:8]
	flashed, err := repo.Create(ctx, tx, &types.Device{ID: uuid.New(), Kind: device.KindFC, Serial: &serial, Firmware: true, FirmwareVersion: "4.5.1", SessionID: &sess.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, tx, &types.Device{ID: uuid.New(), Kind: device.KindFC, Serial: &serial}); err == nil {
		t.Fatalf("duplicate serial within a kind should fail")
	}
	if _, err := repo.Create(ctx, tx, &types.Device{ID: uuid.New(), Kind: device.KindELRS915, Serial: &serial}); err != nil {
		t.Fatalf("same serial in another kind: %v", err)
	}

	bulk := make([]*types.Device, 0, 3)
	for i := 0; i < 3; i++ {
		bulk = append(bulk, &types.Device{ID: uuid.New(), Kind: device.KindFC, CategoryID: &cat.ID, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)})
	}
	if err := repo.CreateBatch(ctx, tx, bulk); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	got, err := repo.GetBySerial(ctx, tx, device.KindFC, serial)
	if err != nil || got == nil || got.ID != flashed.ID {
		t.Fatalf("GetBySerial: %+v, %v", got, err)
	}
	full, err := repo.GetByID(ctx, tx, flashed.ID)
	if err != nil || full.Session == nil || full.Session.PC == nil || full.Session.User == nil {
		t.Fatalf("GetByID preloads: %+v, %v", full, err)
	}

	page := pagination.Params{Page: 1, Limit: 50}
	yes := true
	rows, count, err := repo.List(ctx, tx, Filter{Kind: device.KindFC, Firmware: &yes}, page)
	if err != nil || count != 1 || rows[0].ID != flashed.ID {
		t.Fatalf("firmware filter: %d, %v", count, err)
	}
	_, count, err = repo.List(ctx, tx, Filter{Kind: device.KindFC, PCID: &pc.ID}, page)
	if err != nil || count != 1 {
		t.Fatalf("pc filter: %d, %v", count, err)
	}
	_, count, err = repo.List(ctx, tx, Filter{Kind: device.KindFC, UserID: &u.ID, Serial: serial[3:7]}, page)
	if err != nil || count != 1 {
		t.Fatalf("user+serial filter: %d, %v", count, err)
	}
	_, count, err = repo.List(ctx, tx, Filter{Kind: device.KindFC, Defective: &yes}, page)
	if err != nil || count != 3 {
		t.Fatalf("defective filter: %d, %v", count, err)
	}

	counts, err := repo.CountDefectiveByCategory(ctx, tx, device.KindFC)
	if err != nil || len(counts) != 1 || counts[0].Count != 3 {
		t.Fatalf("CountDefectiveByCategory: %+v, %v", counts, err)
	}

	n, err := repo.DeleteNewestByCategory(ctx, tx, device.KindFC, cat.ID, 2)
	if err != nil || n != 2 {
		t.Fatalf("DeleteNewestByCategory = %d, %v", n, err)
	}
	left, err := repo.GetByID(ctx, tx, bulk[0].ID)
	if err != nil || left == nil {
		t.Fatalf("oldest bulk row should survive: %v", err)
	}

	n, err = repo.DeleteBySerial(ctx, tx, device.KindFC, serial)
	if err != nil || n != 1 {
		t.Fatalf("DeleteBySerial = %d, %v", n, err)
	}
	other, err := repo.GetBySerial(ctx, tx, device.KindELRS915, serial)
	if err != nil || other == nil {
		t.Fatalf("other kind must stay: %v", err)
	}
}
