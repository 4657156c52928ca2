package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

func TestReservationLifecycle(t *testing.T) {
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	base := context.Background()
	u := testutil.SeedUser(t, base, db, "storekeeper", "WAREHOUSE")
	ctx := ctxutil.WithPrincipal(base, &ctxutil.Principal{UserID: u.ID, Login: u.Login})

	boxes := warehouserepo.NewBoxRepo(db, log)
	movements := warehouserepo.NewMovementRepo(db, log)
	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	svc := NewReservationService(db, log, boxes, movements, nil, nil, auditSvc, time.Minute).(*reservationService)

	now := time.Now()
	svc.now = func() time.Time { return now }
	box := testutil.SeedBox(t, ctx, db, "Кабель", 10)

	_, err := svc.Reserve(ctx, box.ID, 0, nil)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.Reserve(ctx, box.ID, 11, nil)
	requireStatus(t, err, http.StatusBadRequest)

	got, err := svc.Reserve(ctx, box.ID, 4, nil)
	require.NoError(t, err)
	require.Equal(t, 4, got.ReservedQty)
	require.NotNil(t, got.ReservationExpiresAt)
	require.WithinDuration(t, now.Add(time.Minute), *got.ReservationExpiresAt, time.Second)

	_, err = svc.Reserve(ctx, box.ID, 1, nil)
	requireStatus(t, err, http.StatusConflict)

	// An expired hold no longer blocks a new reservation.
	now = now.Add(2 * time.Minute)
	got, err = svc.Reserve(ctx, box.ID, 6, nil)
	require.NoError(t, err)
	require.Equal(t, 6, got.ReservedQty)

	got, err = svc.Confirm(ctx, box.ID, intPtr(2))
	require.NoError(t, err)
	require.Equal(t, 8, got.Quantity)
	require.Equal(t, 4, got.ReservedQty)

	_, err = svc.Confirm(ctx, box.ID, intPtr(5))
	requireStatus(t, err, http.StatusBadRequest)

	// Explicit zero or negative quantities are rejected, only nil consumes everything.
	_, err = svc.Confirm(ctx, box.ID, intPtr(0))
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.Confirm(ctx, box.ID, intPtr(-3))
	requireStatus(t, err, http.StatusBadRequest)
	got, err = boxes.GetByID(ctx, nil, box.ID)
	require.NoError(t, err)
	require.Equal(t, 8, got.Quantity)
	require.Equal(t, 4, got.ReservedQty)

	got, err = svc.Confirm(ctx, box.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 4, got.Quantity)
	require.Zero(t, got.ReservedQty)
	require.Nil(t, got.ReservationExpiresAt)

	_, err = svc.Confirm(ctx, box.ID, intPtr(1))
	requireStatus(t, err, http.StatusBadRequest)

	moves, _, err := movements.List(ctx, nil, warehouserepo.MovementFilter{BoxID: &box.ID}, pagination.Params{Page: 1, Limit: 50})
	require.NoError(t, err)
	var consumed int
	for _, m := range moves {
		if m.Operation == warehouse.OpConsume {
			consumed -= m.DeltaQty
		}
	}
	require.Equal(t, 6, consumed)

	_, err = svc.Reserve(ctx, uuid.New(), 1, nil)
	requireStatus(t, err, http.StatusNotFound)
}

func TestConfirmRejectsLapsedOrUncoveredReservations(t *testing.T) {
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	boxes := warehouserepo.NewBoxRepo(db, log)
	movements := warehouserepo.NewMovementRepo(db, log)
	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	svc := NewReservationService(db, log, boxes, movements, nil, nil, auditSvc, time.Minute).(*reservationService)
	now := time.Now()
	svc.now = func() time.Time { return now }

	lapsed := testutil.SeedBox(t, ctx, db, "A", 5)
	_, err := svc.Reserve(ctx, lapsed.ID, 3, nil)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = svc.Confirm(ctx, lapsed.ID, nil)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.Confirm(ctx, lapsed.ID, intPtr(1))
	requireStatus(t, err, http.StatusBadRequest)
	got, err := boxes.GetByID(ctx, nil, lapsed.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.Quantity)

	// Stock dropped below the hold behind the reservation's back.
	short := testutil.SeedBox(t, ctx, db, "B", 5)
	_, err = svc.Reserve(ctx, short.ID, 4, nil)
	require.NoError(t, err)
	require.NoError(t, boxes.Update(ctx, nil, short.ID, map[string]interface{}{"quantity": 1}))
	_, err = svc.Confirm(ctx, short.ID, nil)
	requireStatus(t, err, http.StatusBadRequest)
	got, err = boxes.GetByID(ctx, nil, short.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Quantity)
	require.Equal(t, 4, got.ReservedQty)

	moves, _, err := movements.List(ctx, nil, warehouserepo.MovementFilter{}, pagination.Params{Page: 1, Limit: 50})
	require.NoError(t, err)
	for _, m := range moves {
		require.NotEqual(t, warehouse.OpConsume, m.Operation)
	}
}

func TestMoveGuardsAndBatchAtomicity(t *testing.T) {
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	boxes := warehouserepo.NewBoxRepo(db, log)
	movements := warehouserepo.NewMovementRepo(db, log)
	documents := warehouserepo.NewDocumentRepo(db, log)
	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	svc := NewMovementService(db, log, boxes, movements, documents, nil, auditSvc)

	box := testutil.SeedBox(t, ctx, db, "Плата", 10)

	_, err := svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: warehouse.OpIssue, DeltaQty: -11})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: warehouse.OpScrap, ScrapQty: -1})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: "TELEPORT"})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.Move(ctx, MovementInput{BoxID: uuid.New(), Operation: warehouse.OpMove})
	requireStatus(t, err, http.StatusNotFound)

	// Scrap comes off the box on top of the delta.
	res, err := svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: warehouse.OpScrap, DeltaQty: -1, ScrapQty: 2})
	require.NoError(t, err)
	require.Equal(t, 7, res.Box.Quantity)
	require.Equal(t, 2, res.Movement.ScrapQty)

	// An active reservation is a floor, a lapsed one is not.
	future := time.Now().Add(time.Hour)
	require.NoError(t, boxes.Update(ctx, nil, box.ID, map[string]interface{}{"reserved_qty": 5, "reservation_expires_at": future}))
	_, err = svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: warehouse.OpIssue, DeltaQty: -3})
	requireStatus(t, err, http.StatusBadRequest)
	res, err = svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: warehouse.OpIssue, DeltaQty: -2})
	require.NoError(t, err)
	require.Equal(t, 5, res.Box.Quantity)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, boxes.Update(ctx, nil, box.ID, map[string]interface{}{"reservation_expires_at": past}))
	res, err = svc.Move(ctx, MovementInput{BoxID: box.ID, Operation: warehouse.OpIssue, DeltaQty: -4})
	require.NoError(t, err)
	require.Equal(t, 1, res.Box.Quantity)
	require.NoError(t, boxes.Update(ctx, nil, box.ID, map[string]interface{}{"reserved_qty": 0, "reservation_expires_at": nil}))

	before, _, err := movements.List(ctx, nil, warehouserepo.MovementFilter{}, pagination.Params{Page: 1, Limit: 100})
	require.NoError(t, err)

	// The second item overdraws, so nothing from the batch may stick.
	other := testutil.SeedBox(t, ctx, db, "Корпус", 3)
	_, err = svc.MoveBatch(ctx, "НАК-1", []MovementInput{
		{BoxID: other.ID, Operation: warehouse.OpIssue, DeltaQty: -1},
		{BoxID: box.ID, Operation: warehouse.OpIssue, DeltaQty: -5},
	})
	requireStatus(t, err, http.StatusBadRequest)

	got, err := boxes.GetByID(ctx, nil, other.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Quantity)
	got, err = boxes.GetByID(ctx, nil, box.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Quantity)
	after, _, err := movements.List(ctx, nil, warehouserepo.MovementFilter{}, pagination.Params{Page: 1, Limit: 100})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	docs, err := documents.List(ctx, nil, nil)
	require.NoError(t, err)
	require.Empty(t, docs)

	out, err := svc.MoveBatch(ctx, "НАК-2", []MovementInput{
		{BoxID: other.ID, Operation: warehouse.OpIssue, DeltaQty: -1},
		{BoxID: box.ID, Operation: warehouse.OpIssue, DeltaQty: -1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.Count)
	require.NotNil(t, out.Document)
	after, _, err = movements.List(ctx, nil, warehouserepo.MovementFilter{}, pagination.Params{Page: 1, Limit: 100})
	require.NoError(t, err)
	require.Len(t, after, len(before)+2)
	var linked int
	for _, m := range after {
		if m.DocumentID != nil && *m.DocumentID == out.Document.ID {
			linked++
		}
	}
	require.Equal(t, 2, linked)
}

func TestReleaseExpiredReservations(t *testing.T) {
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	boxes := warehouserepo.NewBoxRepo(db, log)
	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	svc := NewReservationService(db, log, boxes, warehouserepo.NewMovementRepo(db, log), nil, nil, auditSvc, 0)

	stale := testutil.SeedBox(t, ctx, db, "A", 5)
	fresh := testutil.SeedBox(t, ctx, db, "B", 5)
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)
	require.NoError(t, boxes.Update(ctx, nil, stale.ID, map[string]interface{}{"reserved_qty": 2, "reservation_expires_at": past}))
	require.NoError(t, boxes.Update(ctx, nil, fresh.ID, map[string]interface{}{"reserved_qty": 3, "reservation_expires_at": future}))

	n, err := svc.ReleaseExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := boxes.GetByID(ctx, nil, stale.ID)
	require.NoError(t, err)
	require.Zero(t, got.ReservedQty)
	got, err = boxes.GetByID(ctx, nil, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.ReservedQty)

	released, err := svc.Release(ctx, fresh.ID)
	require.NoError(t, err)
	require.Zero(t, released.ReservedQty)
}

func TestCreateBatchIssuesUniqueCodes(t *testing.T) {
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	svc := NewBoxService(db, log, warehouserepo.NewBoxRepo(db, log), warehouserepo.NewMovementRepo(db, log),
		warehouserepo.NewDocumentRepo(db, log), nil, auditSvc)

	_, err := svc.CreateBatch(ctx, BoxBatchInput{Count: 2})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.CreateBatch(ctx, BoxBatchInput{Count: MaxBatchBoxes + 1, Label: "x"})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = svc.CreateBatch(ctx, BoxBatchInput{Count: 1, Label: "x", Status: "LOST"})
	requireStatus(t, err, http.StatusBadRequest)

	boxes, err := svc.CreateBatch(ctx, BoxBatchInput{Count: 25, Label: "Плата КР-1", ItemsPerBox: 4})
	require.NoError(t, err)
	require.Len(t, boxes, 25)

	shorts, qrs := map[string]bool{}, map[string]bool{}
	for i, b := range boxes {
		require.Len(t, b.ShortCode, 6)
		require.True(t, strings.HasPrefix(b.QRCode, "BOX-"), b.QRCode)
		require.Contains(t, b.QRCode, fmt.Sprintf("-%03d-", i+1))
		require.Equal(t, 4, b.Quantity)
		require.Equal(t, warehouse.BoxStatusOnStock, b.Status)
		shorts[b.ShortCode] = true
		qrs[b.QRCode] = true
	}
	require.Len(t, shorts, 25)
	require.Len(t, qrs, 25)

	found, err := svc.GetByCode(ctx, boxes[3].ShortCode)
	require.NoError(t, err)
	require.Equal(t, boxes[3].ID, found.ID)
}

func TestNextSpecialCode(t *testing.T) {
	cases := []struct {
		code string
		step int
		want string
	}{
		{"0099", 1, "0100"},
		{"0001", 5, "0006"},
		{"999", 1, "1000"},
		{"00000000000000000001", 1, "00000000000000000002"},
		{"99999999999999999999", 1, "100000000000000000000"},
		{"46012345678901234567", 2, "46012345678901234569"},
		{"KIT-7", 1, "KIT-7"},
		{"", 3, ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, nextSpecialCode(tc.code, tc.step), "code %q step %d", tc.code, tc.step)
	}
}

func TestBoxesCSVQuotesEveryField(t *testing.T) {
	id := uuid.New()
	out := string(boxesCSV([]*types.WarehouseBox{{
		ID:             id,
		ShortCode:      "123456",
		Label:          `Плата "А"; ревизия 2`,
		Quantity:       3,
		Unit:           "шт",
		QRCode:         "KRYPTO-ABC",
		CurrentSection: &types.Section{Title: "Склад"},
	}}))

	require.True(t, strings.HasPrefix(out, "\ufeff"))
	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\ufeff"), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, strings.Join(boxCSVHeader, ";"), lines[0])
	require.Equal(t, `"`+id.String()+`";"123456";"Плата ""А""; ревизия 2";"3";"шт";"Склад";"KRYPTO-ABC"`, lines[1])
}

func intPtr(v int) *int { return &v }
