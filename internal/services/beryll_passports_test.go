package services

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	"github.com/kryptonit/mes-backend/internal/data/repos/testutil"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
)

func seedComponents(t *testing.T, f *beryllFixture, server *types.BeryllServer, typ string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		serial := fmt.Sprintf("%s-%s-%d", deref(server.APKSerialNumber), typ, i)
		require.NoError(t, f.db.Create(&types.ServerComponent{
			ID:                uuid.New(),
			ServerID:          server.ID,
			Type:              typ,
			Slot:              fmt.Sprintf("%02d", i),
			SerialNumberYadro: &serial,
			Status:            beryll.ComponentOK,
		}).Error)
	}
}

func TestPassportCompleteness(t *testing.T) {
	full := map[string][]types.ServerComponent{}
	for _, slot := range passportLayout {
		full[slot.Label] = make([]types.ServerComponent, slot.Expected+1)
	}
	require.Equal(t, 100, completeness(full), "surplus does not exceed 100")
	require.Empty(t, missingSlots(full))

	grouped := groupComponents([]types.ServerComponent{{Type: "SSD"}, {Type: "nvme"}, {Type: "GPU"}, {Type: "RAM"}})
	require.Len(t, grouped["SSD"], 2, "SSD and NVMe share a slot")
	require.Len(t, grouped["RAM"], 1)
	require.Equal(t, 9, completeness(grouped))
	require.Contains(t, missingSlots(grouped), "SSD (2/4)")
}

func TestPassportExports(t *testing.T) {
	f := newBeryllFixture(t)
	ctx := f.ctx

	a := testutil.SeedServer(t, ctx, f.db, "31")
	b := testutil.SeedServer(t, ctx, f.db, "32")
	for typ, n := range map[string]int{"HDD": 12, "RAM": 12, "PSU": 2, "SSD": 2, "NVME": 2, "MOTHERBOARD": 1, "BMC": 1, "NIC": 1, "RAID": 1} {
		seedComponents(t, f, a, typ, n)
	}
	seedComponents(t, f, b, "RAM", 3)

	title := "Поставка 3"
	batch, err := f.batches.Create(ctx, BatchInput{Title: &title})
	require.NoError(t, err)
	_, err = f.batches.Assign(ctx, batch.ID, []uuid.UUID{a.ID})
	require.NoError(t, err)

	_, err = f.passports.ExportSelected(ctx, nil)
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.passports.Export(ctx, beryllrepo.ServerFilter{Status: "BOGUS"})
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.passports.ExportServer(ctx, uuid.New())
	requireStatus(t, err, http.StatusNotFound)
	_, err = f.passports.ExportBatch(ctx, "batch-7")
	requireStatus(t, err, http.StatusBadRequest)
	_, err = f.passports.ExportBatch(ctx, uuid.NewString())
	requireStatus(t, err, http.StatusNotFound)

	out, err := f.passports.ExportBatch(ctx, "null")
	require.NoError(t, err)
	require.Equal(t, ContentTypeXLSX, out.ContentType)
	wb, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer wb.Close()
	v, err := wb.GetCellValue("Состав серверов", "B2")
	require.NoError(t, err)
	require.Equal(t, "32", v, "only servers outside any batch")
	v, err = wb.GetCellValue("Состав серверов", "B3")
	require.NoError(t, err)
	require.Empty(t, v)
	v, err = wb.GetCellValue("Комплектность", "J2")
	require.NoError(t, err)
	require.Equal(t, "9", v)

	out, err = f.passports.ExportBatch(ctx, batch.ID.String())
	require.NoError(t, err)
	wb2, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer wb2.Close()
	v, err = wb2.GetCellValue("Состав серверов", "H2")
	require.NoError(t, err)
	require.Equal(t, "31-HDD-0", v, "first HDD slot follows the fixed columns")

	st, err := f.passports.Stats(ctx, beryllrepo.ServerFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, st.TotalServers)
	require.Equal(t, 37, st.TotalComponents)
	require.Equal(t, 15, st.ByComponentType["RAM"])
	require.Equal(t, 1, st.ByBatch["Без партии"])
	require.Equal(t, 1, st.ByBatch[title])
	require.Equal(t, 2, st.ByStatus[beryll.ServerNew])
	require.Len(t, st.MissingComponents, 1)
	require.Equal(t, b.ID, st.MissingComponents[0].ServerID)

	prev, err := f.passports.Preview(ctx, beryllrepo.ServerFilter{}, 1)
	require.NoError(t, err)
	require.Equal(t, 2, prev.Total)
	require.Equal(t, 1, prev.Showing)
	require.Equal(t, a.ID, prev.Items[0].ID)
	require.Equal(t, 100, prev.Items[0].Completeness)
	require.Equal(t, 4, prev.Items[0].Components["ssd"])
}
