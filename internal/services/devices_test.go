package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	defectrepo "github.com/kryptonit/mes-backend/internal/data/repos/defect"
	devicerepo "github.com/kryptonit/mes-backend/internal/data/repos/device"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/domain/device"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

type deviceFixture struct {
	db      *gorm.DB
	ctx     context.Context
	session *types.Session
	cat     *types.DefectCategory
	defects DefectService
	devices DeviceService
}

func newDeviceFixture(t *testing.T) *deviceFixture {
	t.Helper()
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	base := context.Background()

	u := testutil.SeedUser(t, base, db, "flasher", "FIRMWARE_OPERATOR")
	sess := &types.Session{ID: uuid.New(), UserID: u.ID, Online: true, StartedAt: time.Now()}
	require.NoError(t, db.Create(sess).Error)
	cat := &types.DefectCategory{ID: uuid.New(), Code: "NO_LINK", Title: "Нет связи", Severity: defect.SeverityMajor, IsActive: true}
	require.NoError(t, db.Create(cat).Error)

	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	categories := defectrepo.NewCategoryRepo(db, log)
	boardDefects := defectrepo.NewBoardDefectRepo(db, log)
	defectSvc := NewDefectService(db, log, categories, boardDefects, defectrepo.NewRepairActionRepo(db, log), nil, auditSvc)

	return &deviceFixture{
		db:      db,
		ctx:     ctxutil.WithPrincipal(base, &ctxutil.Principal{UserID: u.ID, Login: u.Login, Role: u.Role}),
		session: sess,
		cat:     cat,
		defects: defectSvc,
		devices: NewDeviceService(db, log, devicerepo.NewRepo(db, log), categories, boardDefects, userrepo.NewSessionRepo(db, log), defectSvc, nil, auditSvc),
	}
}

func boolPtr(v bool) *bool { return &v }

func TestDeviceCRUDAndKinds(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := f.ctx

	_, err := f.devices.Create(ctx, "toaster", DeviceInput{Serial: strPtr("X")})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.devices.Create(ctx, "fc", DeviceInput{})
	requireStatus(t, err, http.StatusBadRequest)

	fc, err := f.devices.Create(ctx, "fc", DeviceInput{Serial: strPtr(" FC-001 "), Firmware: boolPtr(true), FirmwareVersion: strPtr("4.5.1")})
	require.NoError(t, err)
	require.Equal(t, device.KindFC, fc.Kind)
	require.Equal(t, "FC-001", *fc.Serial)
	require.NotNil(t, fc.SessionID, "session defaults to the caller's online session")
	require.Equal(t, f.session.ID, *fc.SessionID)

	_, err = f.devices.Create(ctx, "FC", DeviceInput{Serial: strPtr("FC-001")})
	requireStatus(t, err, http.StatusConflict)
	_, err = f.devices.Create(ctx, "elrs-915", DeviceInput{Serial: strPtr("FC-001")})
	require.NoError(t, err, "serials are unique per kind only")

	_, err = f.devices.Get(ctx, "ELRS_2_4", fc.ID)
	requireStatus(t, err, http.StatusNotFound)

	updated, err := f.devices.Update(ctx, "FC", fc.ID, DeviceInput{SAWFilter: boolPtr(true), CategoryID: &f.cat.ID})
	require.NoError(t, err)
	require.True(t, *updated.SAWFilter)
	require.True(t, updated.Defective())

	updated, err = f.devices.Update(ctx, "FC", fc.ID, DeviceInput{ClearCategory: true})
	require.NoError(t, err)
	require.False(t, updated.Defective())

	_, err = f.devices.Update(ctx, "FC", fc.ID, DeviceInput{})
	requireStatus(t, err, http.StatusBadRequest)

	rows, count, err := f.devices.List(ctx, "fc", devicerepo.Filter{Firmware: boolPtr(true)}, pagination.Params{Page: 1, Limit: 20})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, fc.ID, rows[0].ID)

	got, err := f.devices.GetBySerial(ctx, "fc", "FC-001")
	require.NoError(t, err)
	require.Equal(t, fc.ID, got.ID)

	require.NoError(t, f.devices.DeleteBySerial(ctx, "fc", "FC-001"))
	requireStatus(t, f.devices.DeleteBySerial(ctx, "fc", "FC-001"), http.StatusNotFound)
	_, err = f.devices.GetBySerial(ctx, "elrs915", "FC-001")
	require.NoError(t, err)
}

func TestDefectiveBulkCounts(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := f.ctx

	_, err := f.devices.AddDefective(ctx, "CORAL_B", f.cat.ID, 0)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.devices.AddDefective(ctx, "CORAL_B", f.cat.ID, MaxDefectiveBatch+1)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.devices.AddDefective(ctx, "CORAL_B", uuid.New(), 1)
	requireStatus(t, err, http.StatusNotFound)

	n, err := f.devices.AddDefective(ctx, "CORAL_B", f.cat.ID, 5)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	summary, err := f.devices.DefectiveSummary(ctx, "coralb")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.EqualValues(t, 5, summary[0].Count)
	require.Equal(t, "NO_LINK", summary[0].Category.Code)

	removed, err := f.devices.RemoveDefective(ctx, "CORAL_B", f.cat.ID, 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)

	removed, err = f.devices.RemoveDefective(ctx, "CORAL_B", f.cat.ID, 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed, "removal stops at what exists")

	_, err = f.devices.RemoveDefective(ctx, "CORAL_B", f.cat.ID, 1)
	requireStatus(t, err, http.StatusNotFound)
}

func TestStandTestUpsert(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := f.ctx

	res, err := f.devices.RecordStandTest(ctx, "ELRS_2_4", StandTestInput{Serial: "E24-1", Passed: false, CategoryID: &f.cat.ID})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.False(t, res.Device.Firmware, "a unit first seen failing is not flashed")
	require.False(t, *res.Device.StandTest)
	require.True(t, res.Device.Defective())

	res, err = f.devices.RecordStandTest(ctx, "ELRS_2_4", StandTestInput{Serial: "E24-1", Passed: true, FirmwareVersion: "3.4.0"})
	require.NoError(t, err)
	require.False(t, res.Created)
	require.True(t, res.Device.Firmware)
	require.True(t, *res.Device.StandTest)
	require.False(t, res.Device.Defective(), "passing clears the category")
	require.Equal(t, "3.4.0", res.Device.FirmwareVersion)

	res, err = f.devices.RecordStandTest(ctx, "ELRS_2_4", StandTestInput{Serial: "E24-1", Passed: false})
	require.NoError(t, err)
	require.True(t, res.Device.Firmware, "a known unit keeps its firmware flag on failure")
	require.False(t, *res.Device.StandTest)

	_, err = f.devices.RecordStandTest(ctx, "ELRS_2_4", StandTestInput{Passed: true})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestDeviceDefectLinkage(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := f.ctx

	d, err := f.devices.Create(ctx, "FC", DeviceInput{Serial: strPtr("FC-77"), CategoryID: &f.cat.ID})
	require.NoError(t, err)

	defects, err := f.devices.Defects(ctx, "FC", d.ID)
	require.NoError(t, err)
	require.Empty(t, defects)

	opened, err := f.devices.OpenDefect(ctx, "FC", d.ID, nil, "не прошивается")
	require.NoError(t, err)
	require.Equal(t, device.KindFC, opened.BoardType)
	require.Equal(t, "FC-77", opened.SerialNumber)
	require.NotNil(t, opened.CategoryID)
	require.Equal(t, f.cat.ID, *opened.CategoryID, "category defaults to the device's")

	// Same serial on another board type must not leak in.
	_, err = f.defects.Create(ctx, BoardDefectInput{BoardType: "MB", SerialNumber: "FC-77"})
	require.NoError(t, err)

	defects, err = f.devices.Defects(ctx, "FC", d.ID)
	require.NoError(t, err)
	require.Len(t, defects, 1)
	require.Equal(t, opened.ID, defects[0].ID)

	n, err := f.devices.AddDefective(ctx, "FC", f.cat.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	rows, _, err := f.devices.List(ctx, "FC", devicerepo.Filter{Defective: boolPtr(true)}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	for _, r := range rows {
		if r.Serial == nil {
			_, err = f.devices.OpenDefect(ctx, "FC", r.ID, nil, "")
			requireStatus(t, err, http.StatusBadRequest)
		}
	}
}
