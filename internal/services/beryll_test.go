package services

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

type beryllFixture struct {
	db         *gorm.DB
	user       *types.User
	ctx        context.Context
	servers    ServerService
	batches    BatchService
	checklists ChecklistService
	defects    DefectRecordService
	imports    ImportService
	passports  PassportExportService
}

func newBeryllFixture(t *testing.T) *beryllFixture {
	t.Helper()
	db := testutil.FreshDB(t)
	log := testutil.Logger(t)
	base := context.Background()

	u := testutil.SeedUser(t, base, db, "engineer", "ENGINEER")
	ctx := ctxutil.WithPrincipal(base, &ctxutil.Principal{UserID: u.ID, Login: u.Login, Role: u.Role})

	auditSvc := NewAuditService(db, log, auditrepo.NewAuditLogRepo(db, log), nil, nil)
	serverRepo := beryllrepo.NewServerRepo(db, log)
	batchRepo := beryllrepo.NewBatchRepo(db, log)
	historyRepo := beryllrepo.NewHistoryRepo(db, log)
	checklistRepo := beryllrepo.NewChecklistRepo(db, log)
	componentRepo := beryllrepo.NewComponentRepo(db, log)
	recordRepo := beryllrepo.NewDefectRecordRepo(db, log)

	return &beryllFixture{
		db:         db,
		user:       u,
		ctx:        ctx,
		servers:    NewServerService(db, log, serverRepo, batchRepo, historyRepo, checklistRepo, componentRepo, nil, auditSvc),
		batches:    NewBatchService(db, log, batchRepo, serverRepo, historyRepo, nil, auditSvc),
		checklists: NewChecklistService(db, log, checklistRepo, serverRepo, historyRepo, nil, auditSvc),
		defects:    NewDefectRecordService(db, log, recordRepo, serverRepo, componentRepo, historyRepo, nil, auditSvc),
		imports:    NewImportService(db, log, serverRepo, componentRepo, recordRepo, historyRepo, userrepo.NewUserRepo(db, log), auditSvc),
		passports:  NewPassportExportService(log, serverRepo, batchRepo, auditSvc),
	}
}

func (f *beryllFixture) asUser(t *testing.T, login string) context.Context {
	t.Helper()
	u := testutil.SeedUser(t, context.Background(), f.db, login, "ENGINEER")
	return ctxutil.WithPrincipal(context.Background(), &ctxutil.Principal{UserID: u.ID, Login: u.Login, Role: u.Role})
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, status, apierr.StatusOf(err), "unexpected error: %v", err)
}

func TestServerLifecycleEnforcesChecklist(t *testing.T) {
	f := newBeryllFixture(t)
	tpl := testutil.SeedChecklistTemplate(t, f.ctx, f.db, "Burn-in 24h", true)

	srv, err := f.servers.Create(f.ctx, ServerInput{APKSerialNumber: "APK-1", IPAddress: "10.1.1.1"})
	require.NoError(t, err)
	require.Equal(t, beryll.ServerNew, srv.Status)

	_, err = f.servers.Create(f.ctx, ServerInput{APKSerialNumber: "APK-1"})
	requireStatus(t, err, http.StatusConflict)

	taken, err := f.servers.Take(f.ctx, srv.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.ServerInWork, taken.Status)
	require.NotNil(t, taken.AssignedToID)
	require.Equal(t, f.user.ID, *taken.AssignedToID)

	other := f.asUser(t, "other")
	_, err = f.servers.Take(other, srv.ID)
	requireStatus(t, err, http.StatusConflict)
	_, err = f.servers.Release(other, srv.ID)
	requireStatus(t, err, http.StatusForbidden)

	items, err := f.checklists.ServerChecklist(f.ctx, srv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = f.servers.SetStatus(f.ctx, srv.ID, beryll.ServerDone, nil)
	requireStatus(t, err, http.StatusBadRequest)
	require.Contains(t, err.Error(), "Burn-in 24h")

	_, err = f.servers.Archive(f.ctx, srv.ID)
	requireStatus(t, err, http.StatusBadRequest)

	_, err = f.checklists.SetItem(f.ctx, srv.ID, tpl.ID, true, nil)
	require.NoError(t, err)

	done, err := f.servers.SetStatus(f.ctx, srv.ID, beryll.ServerDone, nil)
	require.NoError(t, err)
	require.Equal(t, beryll.ServerDone, done.Status)
	require.NotNil(t, done.CompletedAt)

	archived, err := f.servers.Archive(f.ctx, srv.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.ServerArchived, archived.Status)

	history, err := f.servers.History(f.ctx, srv.ID)
	require.NoError(t, err)
	actions := map[string]int{}
	for _, h := range history {
		actions[h.Action]++
	}
	require.Equal(t, 1, actions[beryll.HistoryCreated])
	require.Equal(t, 1, actions[beryll.HistoryTaken])
	require.Equal(t, 1, actions[beryll.HistoryChecklistCompleted])
	require.Equal(t, 1, actions[beryll.HistoryArchived])
}

func TestReleaseByOwnerResetsServer(t *testing.T) {
	f := newBeryllFixture(t)
	srv, err := f.servers.Create(f.ctx, ServerInput{Hostname: "node-7"})
	require.NoError(t, err)

	_, err = f.servers.Take(f.ctx, srv.ID)
	require.NoError(t, err)
	released, err := f.servers.Release(f.ctx, srv.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.ServerNew, released.Status)
	require.Nil(t, released.AssignedToID)
}

func TestBatchAssignAndUnassign(t *testing.T) {
	f := newBeryllFixture(t)
	title := "Поставка 12"
	b, err := f.batches.Create(f.ctx, BatchInput{Title: &title})
	require.NoError(t, err)

	s1 := testutil.SeedServer(t, f.ctx, f.db, "11")
	s2 := testutil.SeedServer(t, f.ctx, f.db, "12")
	s3 := testutil.SeedServer(t, f.ctx, f.db, "13")

	n, err := f.batches.Assign(f.ctx, b.ID, []uuid.UUID{s1.ID, s2.ID})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	detail, err := f.batches.Get(f.ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, detail.Total)
	require.EqualValues(t, 2, detail.Stats[beryll.ServerNew])

	n, err = f.batches.Unassign(f.ctx, b.ID, []uuid.UUID{s1.ID, s3.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = f.batches.Assign(f.ctx, b.ID, nil)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.batches.Assign(f.ctx, uuid.New(), []uuid.UUID{s1.ID})
	requireStatus(t, err, http.StatusNotFound)
}

func TestDefectRecordWorkflow(t *testing.T) {
	f := newBeryllFixture(t)
	srv := testutil.SeedServer(t, f.ctx, f.db, "21")

	rec, err := f.defects.Create(f.ctx, DefectRecordInput{
		ServerID:           srv.ID,
		YadroTicketNumber:  "YT-100",
		ProblemDescription: "Не проходит POST",
		RepairPartType:     beryll.PartRAM,
		Priority:           beryll.PriorityCritical,
	})
	require.NoError(t, err)
	require.Equal(t, beryll.DefectNew, rec.Status)
	require.False(t, rec.IsRepeatedDefect)
	require.NotNil(t, rec.SLADeadline)
	want := rec.DetectedAt.Add(time.Duration(beryll.SLAHours[beryll.PriorityCritical]) * time.Hour)
	require.WithinDuration(t, want, *rec.SLADeadline, time.Second)

	got, err := f.servers.Get(f.ctx, srv.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.ServerDefect, got.Status)

	_, err = f.defects.Create(f.ctx, DefectRecordInput{ServerID: srv.ID, YadroTicketNumber: "YT-100"})
	requireStatus(t, err, http.StatusConflict)

	_, err = f.defects.Close(f.ctx, rec.ID)
	requireStatus(t, err, http.StatusBadRequest)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, "invalid_transition", ae.Code)

	rec, err = f.defects.StartDiagnosis(f.ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.DefectDiagnosing, rec.Status)
	require.NotNil(t, rec.DiagnosticianID)

	rec, err = f.defects.StartRepair(f.ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.DefectRepairing, rec.Status)

	_, err = f.defects.Resolve(f.ctx, rec.ID, "  ", nil)
	requireStatus(t, err, http.StatusBadRequest)

	notes := "заменена планка"
	rec, err = f.defects.Resolve(f.ctx, rec.ID, "Замена DIMM", &notes)
	require.NoError(t, err)
	require.Equal(t, beryll.DefectResolved, rec.Status)
	require.NotNil(t, rec.ResolvedAt)
	require.NotNil(t, rec.TotalDowntimeMinutes)
	require.Contains(t, rec.Notes, "[Закрытие]: заменена планка")

	got, err = f.servers.Get(f.ctx, srv.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.ServerDone, got.Status)

	rec, err = f.defects.Close(f.ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.DefectClosed, rec.Status)

	actions, err := f.defects.Actions(f.ctx, rec.ID)
	require.NoError(t, err)
	require.Empty(t, actions)

	history, err := f.servers.History(f.ctx, srv.ID)
	require.NoError(t, err)
	var defectSteps int
	for _, h := range history {
		if h.Action == beryll.HistoryDefectUpdated {
			defectSteps++
		}
	}
	require.Equal(t, 4, defectSteps)
}

func TestDefectRecordMarksRepeat(t *testing.T) {
	f := newBeryllFixture(t)
	srv := testutil.SeedServer(t, f.ctx, f.db, "31")

	first, err := f.defects.Create(f.ctx, DefectRecordInput{ServerID: srv.ID, RepairPartType: beryll.PartHDD})
	require.NoError(t, err)
	_, err = f.defects.ChangeStatus(f.ctx, first.ID, beryll.DefectDiagnosing, "")
	require.NoError(t, err)
	_, err = f.defects.ChangeStatus(f.ctx, first.ID, beryll.DefectRepairing, "")
	require.NoError(t, err)
	_, err = f.defects.ChangeStatus(f.ctx, first.ID, beryll.DefectResolved, "готово")
	require.NoError(t, err)

	other, err := f.defects.Create(f.ctx, DefectRecordInput{ServerID: srv.ID, RepairPartType: beryll.PartPSU})
	require.NoError(t, err)
	require.False(t, other.IsRepeatedDefect)

	second, err := f.defects.Create(f.ctx, DefectRecordInput{ServerID: srv.ID, RepairPartType: beryll.PartHDD})
	require.NoError(t, err)
	require.True(t, second.IsRepeatedDefect)
	require.NotNil(t, second.PreviousDefectID)
	require.Equal(t, first.ID, *second.PreviousDefectID)

	stats, err := f.defects.Stats(f.ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Repeated)

	_, err = f.defects.Create(f.ctx, DefectRecordInput{ServerID: srv.ID, Priority: "URGENT"})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestSendToYadroRequiresTicket(t *testing.T) {
	f := newBeryllFixture(t)
	srv := testutil.SeedServer(t, f.ctx, f.db, "51")

	rec, err := f.defects.Create(f.ctx, DefectRecordInput{ServerID: srv.ID})
	require.NoError(t, err)
	rec, err = f.defects.ChangeStatus(f.ctx, rec.ID, beryll.DefectDiagnosing, "")
	require.NoError(t, err)

	_, err = f.defects.SendToYadro(f.ctx, rec.ID, "")
	requireStatus(t, err, http.StatusBadRequest)

	rec, err = f.defects.SendToYadro(f.ctx, rec.ID, "YT-7")
	require.NoError(t, err)
	require.Equal(t, beryll.DefectSentToYadro, rec.Status)
	require.NotNil(t, rec.SentToYadroAt)
	require.Equal(t, "YT-7", *rec.YadroTicketNumber)

	rec, err = f.defects.ReturnFromYadro(f.ctx, rec.ID, YadroReturnInput{})
	require.NoError(t, err)
	require.Equal(t, beryll.DefectReturned, rec.Status)
	require.NotNil(t, rec.ReturnedFromYadroAt)

	_, err = f.defects.ChangeStatus(f.ctx, rec.ID, beryll.DefectSubstituteIssued, "")
	requireStatus(t, err, http.StatusBadRequest)
}

func TestIssueSubstituteRequiresFreeDoneServer(t *testing.T) {
	f := newBeryllFixture(t)
	broken := testutil.SeedServer(t, f.ctx, f.db, "41")
	spare := testutil.SeedServer(t, f.ctx, f.db, "42")

	rec, err := f.defects.Create(f.ctx, DefectRecordInput{ServerID: broken.ID})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&types.BeryllDefectRecord{}).Where("id = ?", rec.ID).
		Update("status", beryll.DefectInYadroRepair).Error)

	_, err = f.defects.IssueSubstitute(f.ctx, rec.ID, broken.ID)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.defects.IssueSubstitute(f.ctx, rec.ID, spare.ID)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.defects.IssueSubstitute(f.ctx, rec.ID, uuid.New())
	requireStatus(t, err, http.StatusNotFound)

	require.NoError(t, f.db.Model(&types.BeryllServer{}).Where("id = ?", spare.ID).
		Update("status", beryll.ServerDone).Error)
	rec, err = f.defects.IssueSubstitute(f.ctx, rec.ID, spare.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.DefectSubstituteIssued, rec.Status)
	require.NotNil(t, rec.SubstituteServerID)
	require.Equal(t, spare.ID, *rec.SubstituteServerID)

	rec, err = f.defects.ReturnSubstitute(f.ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, beryll.DefectRepairing, rec.Status)
	require.Nil(t, rec.SubstituteServerID)
}

func buildWorkbook(t *testing.T, rows ...[]interface{}) *bytes.Reader {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, wb.SetSheetRow(sheet, cell, &r))
	}
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func componentRow(apk string, cells map[int]string) []interface{} {
	row := make([]interface{}, componentPSU2+2)
	row[0] = apk
	for i, v := range cells {
		row[i] = v
	}
	return row
}

func TestImportComponents(t *testing.T) {
	f := newBeryllFixture(t)
	header := []interface{}{"Сервер"}
	row := componentRow("APK-500", map[int]string{
		componentHDDFrom:     "HDD-A",
		componentRAMFrom:     "RAM-A",
		componentPSU1:        "PSU-Y",
		componentPSU1 + 1:    "PSU-M",
		componentSSDFrom + 3: "SSD-D",
	})

	res, err := f.imports.ImportComponents(f.ctx, buildWorkbook(t, header, header, row), ImportOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, []ImportedServer{{Serial: "APK-500", Action: "created"}}, res.Servers)
	require.Len(t, res.Components, 4)

	slots := map[string]string{}
	for _, c := range res.Components {
		slots[c.Slot] = c.Serial
	}
	require.Equal(t, "HDD-A", slots["HDD_1"])
	require.Equal(t, "RAM-A", slots["DIMM_1"])
	require.Equal(t, "SSD-D", slots["SSD_4"])
	require.Equal(t, "PSU-Y", slots["PSU_1"])

	list, _, err := f.servers.List(f.ctx, beryllrepo.ServerFilter{Search: "APK-500"}, pagination.Params{Page: 1, Limit: 50})
	require.NoError(t, err)
	require.Len(t, list, 1)
	comps, err := f.servers.Components(f.ctx, list[0].ID)
	require.NoError(t, err)
	require.Len(t, comps, 4)

	again, err := f.imports.ImportComponents(f.ctx, buildWorkbook(t, header, header, row), ImportOptions{SkipExisting: true})
	require.NoError(t, err)
	require.Equal(t, "exists", again.Servers[0].Action)
	require.Empty(t, again.Components)
	require.Len(t, again.Skipped, 4)

	dry, err := f.imports.ImportComponents(f.ctx, buildWorkbook(t, header, header, componentRow("APK-501", map[int]string{componentHDDFrom: "HDD-Z"})), ImportOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Len(t, dry.Components, 1)
	list, _, err = f.servers.List(f.ctx, beryllrepo.ServerFilter{Search: "APK-501"}, pagination.Params{Page: 1, Limit: 50})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestImportDefects(t *testing.T) {
	f := newBeryllFixture(t)
	testutil.SeedServer(t, f.ctx, f.db, "61")
	serial := "61"

	wb := buildWorkbook(t,
		[]interface{}{"№ заявки", "S/N сервера", "Кластер", "Дата", "Описание проблемы", "Тип детали", "Статус", "Диагностик"},
		[]interface{}{"T-1", serial, "CL-1", "45306", "Не стартует", "Оперативная память", "В ремонте", "Ivanov Ivan"},
		[]interface{}{"T-1", serial, "CL-1", "45306", "Дубль", "HDD", "Новый", ""},
		[]interface{}{"T-2", "NOPE", "CL-1", "15.01.2024", "Нет сервера", "", "", ""},
		[]interface{}{"", "", "CL-9"},
	)
	res, err := f.imports.ImportDefects(f.ctx, wb, ImportOptions{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Len(t, res.Skipped, 2)
	require.Len(t, res.Errors, 1)
	require.Equal(t, beryll.DefectRepairing, res.Records[0].Status)
	require.NotNil(t, res.Records[0].ID)

	rec, err := f.defects.Get(f.ctx, *res.Records[0].ID)
	require.NoError(t, err)
	require.NotNil(t, rec.RepairPartType)
	require.Equal(t, beryll.PartRAM, *rec.RepairPartType)
	require.Equal(t, "2024-01-15", rec.DetectedAt.UTC().Format("2006-01-02"))
	require.NotNil(t, rec.DiagnosticianID)
}

func TestKeywordMappingOrder(t *testing.T) {
	require.Equal(t, beryll.PartSSD, mapKeyword("SSD диск", partTypeKeywords, ""))
	require.Equal(t, beryll.PartHDD, mapKeyword("Жёсткий диск", partTypeKeywords, ""))
	require.Equal(t, beryll.PartPSU, mapKeyword("Блок питания", partTypeKeywords, ""))
	require.Equal(t, "", mapKeyword("кабель", partTypeKeywords, ""))
	require.Equal(t, beryll.DefectNew, mapKeyword("", defectStatusKeywords, beryll.DefectNew))
	require.Equal(t, beryll.DefectResolved, mapKeyword("Решён", defectStatusKeywords, beryll.DefectNew))
}

func TestParseSheetDate(t *testing.T) {
	d, err := parseSheetDate("45306.5")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), d)

	d, err = parseSheetDate("2024-02-03")
	require.NoError(t, err)
	require.Equal(t, 3, d.Day())

	_, err = parseSheetDate("вчера")
	require.Error(t, err)
}
