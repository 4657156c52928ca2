package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const (
	DefaultPassportPreview = 10
	MaxPassportPreview     = 100
)

// passportSlot is one column group of the passport sheet. Types are counted
// together against Expected.
type passportSlot struct {
	Label    string
	Types    []string
	Expected int
}

var passportLayout = []passportSlot{
	{Label: "HDD", Types: []string{"HDD"}, Expected: 12},
	{Label: "Материнская плата", Types: []string{"MOTHERBOARD"}, Expected: 1},
	{Label: "Блок питания", Types: []string{"PSU"}, Expected: 2},
	{Label: "SSD", Types: []string{"SSD", "NVME"}, Expected: 4},
	{Label: "BMC", Types: []string{"BMC"}, Expected: 1},
	{Label: "RAM", Types: []string{"RAM"}, Expected: 12},
	{Label: "RAID", Types: []string{"RAID"}, Expected: 1},
	{Label: "NIC", Types: []string{"NIC"}, Expected: 1},
}

type PassportGap struct {
	ServerID        uuid.UUID `json:"serverId"`
	APKSerialNumber string    `json:"apkSerialNumber"`
	Missing         []string  `json:"missing"`
}

type PassportStats struct {
	TotalServers      int            `json:"totalServers"`
	TotalComponents   int            `json:"totalComponents"`
	ByComponentType   map[string]int `json:"byComponentType"`
	ByBatch           map[string]int `json:"byBatch"`
	ByStatus          map[string]int `json:"byStatus"`
	MissingComponents []PassportGap  `json:"missingComponents"`
}

type PassportPreviewItem struct {
	ID              uuid.UUID      `json:"id"`
	APKSerialNumber string         `json:"apkSerialNumber"`
	SerialNumber    string         `json:"serialNumber"`
	Status          string         `json:"status"`
	Batch           string         `json:"batch"`
	CreatedAt       time.Time      `json:"createdAt"`
	Components      map[string]int `json:"components"`
	Completeness    int            `json:"completeness"`
}

type PassportPreview struct {
	Total   int                   `json:"total"`
	Showing int                   `json:"showing"`
	Items   []PassportPreviewItem `json:"items"`
}

// PassportExportService renders consolidated server passports: one row per
// server with component serials laid out by slot.
type PassportExportService interface {
	Export(ctx context.Context, f beryllrepo.ServerFilter) (*Export, error)
	ExportServer(ctx context.Context, id uuid.UUID) (*Export, error)
	ExportSelected(ctx context.Context, ids []uuid.UUID) (*Export, error)
	// ExportBatch takes a batch id, or "null" for servers outside any batch.
	ExportBatch(ctx context.Context, batchRef string) (*Export, error)
	Stats(ctx context.Context, f beryllrepo.ServerFilter) (*PassportStats, error)
	Preview(ctx context.Context, f beryllrepo.ServerFilter, limit int) (*PassportPreview, error)
}

type passportExportService struct {
	log     *logger.Logger
	servers beryllrepo.ServerRepo
	batches beryllrepo.BatchRepo
	audit   AuditService
	now     func() time.Time
}

func NewPassportExportService(log *logger.Logger, servers beryllrepo.ServerRepo, batches beryllrepo.BatchRepo, auditSvc AuditService) PassportExportService {
	return &passportExportService{
		log:     log.With("service", "PassportExportService"),
		servers: servers,
		batches: batches,
		audit:   auditSvc,
		now:     time.Now,
	}
}

func (s *passportExportService) load(ctx context.Context, f beryllrepo.ServerFilter) ([]*types.BeryllServer, error) {
	if f.Status != "" && !containsString(beryll.ServerStatuses, f.Status) {
		return nil, apierr.BadRequest("Некорректный статус сервера: %s", f.Status)
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return nil, apierr.BadRequest("Дата окончания раньше даты начала")
	}
	return s.servers.ListWithComponents(ctx, nil, f)
}

func (s *passportExportService) Export(ctx context.Context, f beryllrepo.ServerFilter) (*Export, error) {
	name := "server_passports_" + s.now().Format("2006-01-02")
	if f.Status != "" {
		name += "_" + f.Status
	}
	return s.render(ctx, f, name)
}

func (s *passportExportService) ExportServer(ctx context.Context, id uuid.UUID) (*Export, error) {
	return s.render(ctx, beryllrepo.ServerFilter{IDs: []uuid.UUID{id}, IncludeArchived: true},
		fmt.Sprintf("server_passport_%s_%s", id, s.now().Format("2006-01-02")))
}

func (s *passportExportService) ExportSelected(ctx context.Context, ids []uuid.UUID) (*Export, error) {
	if len(ids) == 0 {
		return nil, apierr.BadRequest("Не выбраны серверы")
	}
	return s.render(ctx, beryllrepo.ServerFilter{IDs: ids, IncludeArchived: true},
		fmt.Sprintf("server_passports_selected_%d_%s", len(ids), s.now().Format("2006-01-02")))
}

func (s *passportExportService) ExportBatch(ctx context.Context, batchRef string) (*Export, error) {
	batchRef = strings.TrimSpace(batchRef)
	if batchRef == "null" {
		return s.render(ctx, beryllrepo.ServerFilter{Unbatched: true}, "server_passports_unbatched_"+s.now().Format("2006-01-02"))
	}
	id, err := uuid.Parse(batchRef)
	if err != nil {
		return nil, apierr.BadRequest("Некорректный ID партии")
	}
	b, err := s.batches.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierr.NotFound("Партия не найдена")
	}
	return s.render(ctx, beryllrepo.ServerFilter{BatchID: &id},
		fmt.Sprintf("server_passports_%s_%s", safeFilename(b.Title), s.now().Format("2006-01-02")))
}

func (s *passportExportService) render(ctx context.Context, f beryllrepo.ServerFilter, name string) (*Export, error) {
	servers, err := s.load(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, apierr.NotFound("Не найдено серверов для экспорта")
	}
	body, err := writeWorkbook(passportSheet(servers), completenessSheet(servers))
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionPassportExport,
		Entity:      "BeryllServer",
		Description: fmt.Sprintf("Выгрузка паспортов: %d серверов", len(servers)),
		Metadata:    map[string]any{"count": len(servers), "file": name},
	})
	return &Export{Filename: name + ".xlsx", ContentType: ContentTypeXLSX, Body: body}, nil
}

func (s *passportExportService) Stats(ctx context.Context, f beryllrepo.ServerFilter) (*PassportStats, error) {
	servers, err := s.load(ctx, f)
	if err != nil {
		return nil, err
	}
	st := &PassportStats{
		TotalServers:      len(servers),
		ByComponentType:   map[string]int{},
		ByBatch:           map[string]int{},
		ByStatus:          map[string]int{},
		MissingComponents: []PassportGap{},
	}
	for _, srv := range servers {
		st.TotalComponents += len(srv.Components)
		for _, c := range srv.Components {
			t := c.Type
			if t == "" {
				t = "OTHER"
			}
			st.ByComponentType[t]++
		}
		st.ByBatch[batchTitle(srv)]++
		st.ByStatus[srv.Status]++
		if missing := missingSlots(groupComponents(srv.Components)); len(missing) > 0 {
			st.MissingComponents = append(st.MissingComponents, PassportGap{
				ServerID:        srv.ID,
				APKSerialNumber: deref(srv.APKSerialNumber),
				Missing:         missing,
			})
		}
	}
	return st, nil
}

func (s *passportExportService) Preview(ctx context.Context, f beryllrepo.ServerFilter, limit int) (*PassportPreview, error) {
	if limit <= 0 {
		limit = DefaultPassportPreview
	}
	if limit > MaxPassportPreview {
		limit = MaxPassportPreview
	}
	servers, err := s.load(ctx, f)
	if err != nil {
		return nil, err
	}
	shown := servers
	if len(shown) > limit {
		shown = shown[:limit]
	}
	out := &PassportPreview{Total: len(servers), Showing: len(shown), Items: make([]PassportPreviewItem, 0, len(shown))}
	for _, srv := range shown {
		grouped := groupComponents(srv.Components)
		counts := map[string]int{"total": len(srv.Components)}
		for _, slot := range passportLayout {
			counts[strings.ToLower(slot.Types[0])] = len(grouped[slot.Label])
		}
		out.Items = append(out.Items, PassportPreviewItem{
			ID:              srv.ID,
			APKSerialNumber: deref(srv.APKSerialNumber),
			SerialNumber:    deref(srv.SerialNumber),
			Status:          srv.Status,
			Batch:           batchTitle(srv),
			CreatedAt:       srv.CreatedAt,
			Components:      counts,
			Completeness:    completeness(grouped),
		})
	}
	return out, nil
}

// groupComponents buckets components by passport slot label. Types outside
// the layout are dropped.
func groupComponents(comps []types.ServerComponent) map[string][]types.ServerComponent {
	byType := map[string]string{}
	for _, slot := range passportLayout {
		for _, t := range slot.Types {
			byType[t] = slot.Label
		}
	}
	out := map[string][]types.ServerComponent{}
	for _, c := range comps {
		if label, ok := byType[strings.ToUpper(c.Type)]; ok {
			out[label] = append(out[label], c)
		}
	}
	return out
}

// completeness is the share of expected slots that are filled, in percent.
// Surplus components in one slot do not make up for another.
func completeness(grouped map[string][]types.ServerComponent) int {
	expected, filled := 0, 0
	for _, slot := range passportLayout {
		expected += slot.Expected
		filled += min(len(grouped[slot.Label]), slot.Expected)
	}
	return int(math.Round(float64(filled) / float64(expected) * 100))
}

func missingSlots(grouped map[string][]types.ServerComponent) []string {
	var out []string
	for _, slot := range passportLayout {
		if n := len(grouped[slot.Label]); n < slot.Expected {
			out = append(out, fmt.Sprintf("%s (%d/%d)", slot.Label, n, slot.Expected))
		}
	}
	return out
}

func passportSheet(servers []*types.BeryllServer) sheet {
	header := []string{"№", "Серийный № сервера", "S/N производителя", "Hostname", "Партия", "Статус", "Дата входного контроля"}
	for _, slot := range passportLayout {
		for i := 1; i <= slot.Expected; i++ {
			if slot.Expected == 1 {
				header = append(header, slot.Label)
			} else {
				header = append(header, fmt.Sprintf("%s %d", slot.Label, i))
			}
		}
	}
	rows := make([][]any, 0, len(servers))
	for n, srv := range servers {
		grouped := groupComponents(srv.Components)
		row := []any{
			n + 1,
			deref(srv.APKSerialNumber),
			deref(srv.SerialNumber),
			deref(srv.Hostname),
			batchTitle(srv),
			srv.Status,
			srv.CreatedAt.Local().Format("02.01.2006"),
		}
		for _, slot := range passportLayout {
			comps := grouped[slot.Label]
			for i := 0; i < slot.Expected; i++ {
				if i < len(comps) {
					row = append(row, componentSerials(comps[i]))
				} else {
					row = append(row, "")
				}
			}
		}
		rows = append(rows, row)
	}
	return sheet{Name: "Состав серверов", Header: header, Rows: rows, Widths: map[int]float64{2: 20, 3: 20, 7: 14}}
}

func completenessSheet(servers []*types.BeryllServer) sheet {
	header := []string{"Серийный № сервера"}
	for _, slot := range passportLayout {
		header = append(header, slot.Label)
	}
	header = append(header, "Комплектность, %", "Не хватает")
	rows := make([][]any, 0, len(servers))
	for _, srv := range servers {
		grouped := groupComponents(srv.Components)
		row := []any{deref(srv.APKSerialNumber)}
		for _, slot := range passportLayout {
			row = append(row, fmt.Sprintf("%d/%d", len(grouped[slot.Label]), slot.Expected))
		}
		row = append(row, completeness(grouped), strings.Join(missingSlots(grouped), ", "))
		rows = append(rows, row)
	}
	return sheet{Name: "Комплектность", Header: header, Rows: rows, Widths: map[int]float64{1: 20, len(header): 40}}
}

// componentSerials prefers the Yadro serial and appends the vendor one.
func componentSerials(c types.ServerComponent) string {
	y, m := deref(c.SerialNumberYadro), deref(c.SerialNumber)
	switch {
	case y != "" && m != "" && y != m:
		return y + " / " + m
	case y != "":
		return y
	default:
		return m
	}
}

func batchTitle(srv *types.BeryllServer) string {
	if srv.Batch == nil {
		return "Без партии"
	}
	return srv.Batch.Title
}
