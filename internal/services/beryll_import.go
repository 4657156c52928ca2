package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

// Component sheet layout: two header rows, then one server per row.
const (
	componentFirstRow = 2
	componentHDDFrom  = 1
	componentRAMFrom  = 13
	componentSSDFrom  = 25
	componentPSU1     = 29
	componentPSU2     = 31
)

type ImportOptions struct {
	DryRun       bool
	SkipExisting bool
}

type ImportIssue struct {
	Row    int    `json:"row,omitempty"`
	Server string `json:"server,omitempty"`
	Serial string `json:"serial,omitempty"`
	Reason string `json:"reason"`
}

type ImportedServer struct {
	Serial string `json:"serial"`
	Action string `json:"action"`
}

type ImportedComponent struct {
	Server string `json:"server"`
	Type   string `json:"type"`
	Slot   string `json:"slot"`
	Serial string `json:"serial"`
}

type ComponentImportResult struct {
	DryRun     bool                `json:"dryRun"`
	Servers    []ImportedServer    `json:"servers"`
	Components []ImportedComponent `json:"components"`
	Errors     []ImportIssue       `json:"errors"`
	Skipped    []ImportIssue       `json:"skipped"`
}

type ImportedDefect struct {
	ID     *uuid.UUID `json:"id,omitempty"`
	Ticket string     `json:"ticketNumber"`
	Server string     `json:"server"`
	Status string     `json:"status"`
}

type DefectImportResult struct {
	DryRun  bool             `json:"dryRun"`
	Records []ImportedDefect `json:"records"`
	Errors  []ImportIssue    `json:"errors"`
	Skipped []ImportIssue    `json:"skipped"`
}

type ImportService interface {
	ImportComponents(ctx context.Context, r io.Reader, opts ImportOptions) (*ComponentImportResult, error)
	ImportDefects(ctx context.Context, r io.Reader, opts ImportOptions) (*DefectImportResult, error)
}

type importService struct {
	db         *gorm.DB
	log        *logger.Logger
	servers    beryllrepo.ServerRepo
	components beryllrepo.ComponentRepo
	records    beryllrepo.DefectRecordRepo
	history    beryllrepo.HistoryRepo
	users      userrepo.UserRepo
	audit      AuditService
}

func NewImportService(
	db *gorm.DB,
	log *logger.Logger,
	servers beryllrepo.ServerRepo,
	components beryllrepo.ComponentRepo,
	records beryllrepo.DefectRecordRepo,
	history beryllrepo.HistoryRepo,
	users userrepo.UserRepo,
	auditSvc AuditService,
) ImportService {
	return &importService{
		db:         db,
		log:        log.With("service", "ImportService"),
		servers:    servers,
		components: components,
		records:    records,
		history:    history,
		users:      users,
		audit:      auditSvc,
	}
}

func (s *importService) ImportComponents(ctx context.Context, r io.Reader, opts ImportOptions) (*ComponentImportResult, error) {
	rows, err := readFirstSheet(r)
	if err != nil {
		return nil, err
	}
	res := &ComponentImportResult{
		DryRun:     opts.DryRun,
		Servers:    []ImportedServer{},
		Components: []ImportedComponent{},
		Errors:     []ImportIssue{},
		Skipped:    []ImportIssue{},
	}
	uid := ctxutil.UserIDPtr(ctx)

	for i := componentFirstRow; i < len(rows); i++ {
		row := rows[i]
		serial := cellAt(row, 0)
		if serial == "" {
			continue
		}
		comps := componentsFromRow(row)

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			srv, err := s.servers.GetByAPKSerial(ctx, tx, serial)
			if err != nil {
				return err
			}
			action := "exists"
			if srv == nil {
				action = "created"
				if !opts.DryRun {
					srv = &types.BeryllServer{APKSerialNumber: &serial, Status: beryll.ServerNew, PingStatus: beryll.PingUnknown}
					if _, err := s.servers.Create(ctx, tx, srv); err != nil {
						return err
					}
					h := serverHistory(srv, uid, beryll.HistoryCreated)
					h.Comment = "Создан при импорте состава"
					if err := s.history.Create(ctx, tx, h); err != nil {
						return err
					}
				}
			}

			var added []*types.ServerComponent
			var imported []ImportedComponent
			var skipped []ImportIssue
			for _, c := range comps {
				key := deref(c.SerialNumberYadro)
				if key == "" {
					key = deref(c.SerialNumber)
				}
				exists, err := s.components.SerialExists(ctx, tx, key)
				if err != nil {
					return err
				}
				if exists && opts.SkipExisting {
					skipped = append(skipped, ImportIssue{Row: i + 1, Server: serial, Serial: key, Reason: "duplicate"})
					continue
				}
				imported = append(imported, ImportedComponent{Server: serial, Type: c.Type, Slot: c.Slot, Serial: key})
				if srv != nil {
					c.ServerID = srv.ID
					added = append(added, c)
				}
			}

			if !opts.DryRun && len(added) > 0 {
				if err := s.components.Create(ctx, tx, added...); err != nil {
					return err
				}
				h := serverHistory(srv, uid, beryll.HistoryComponentsImported)
				h.Comment = fmt.Sprintf("Импортировано компонентов: %d", len(added))
				h.Metadata = jsonObject(map[string]any{"count": len(added)})
				if err := s.history.Create(ctx, tx, h); err != nil {
					return err
				}
			}
			res.Servers = append(res.Servers, ImportedServer{Serial: serial, Action: action})
			res.Components = append(res.Components, imported...)
			res.Skipped = append(res.Skipped, skipped...)
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Errors = append(res.Errors, ImportIssue{Row: i + 1, Server: serial, Reason: err.Error()})
		}
	}

	s.log.Info("components import finished",
		"dry_run", opts.DryRun,
		"servers", len(res.Servers),
		"components", len(res.Components),
		"errors", len(res.Errors),
		"skipped", len(res.Skipped),
	)
	if !opts.DryRun {
		s.audit.Log(ctx, AuditEntry{
			Action:      audit.ActionBeryllImport,
			Entity:      "ServerComponent",
			Description: fmt.Sprintf("Импорт состава серверов: %d серверов, %d компонентов", len(res.Servers), len(res.Components)),
			Metadata:    map[string]any{"errors": len(res.Errors), "skipped": len(res.Skipped)},
		})
	}
	return res, nil
}

// componentsFromRow reads the fixed slot columns of the component sheet.
func componentsFromRow(row []string) []*types.ServerComponent {
	now := time.Now()
	var out []*types.ServerComponent
	add := func(typ, slot, yadro, manuf string) {
		if yadro == "" && manuf == "" {
			return
		}
		out = append(out, &types.ServerComponent{
			Type:              typ,
			Slot:              slot,
			SerialNumberYadro: optString(yadro),
			SerialNumber:      optString(manuf),
			Status:            beryll.ComponentOK,
			InstalledAt:       &now,
		})
	}
	for j := 0; j < 12; j++ {
		add("HDD", fmt.Sprintf("HDD_%d", j+1), cellAt(row, componentHDDFrom+j), "")
	}
	for j := 0; j < 12; j++ {
		add("RAM", fmt.Sprintf("DIMM_%d", j+1), cellAt(row, componentRAMFrom+j), "")
	}
	for j := 0; j < 4; j++ {
		add("SSD", fmt.Sprintf("SSD_%d", j+1), cellAt(row, componentSSDFrom+j), "")
	}
	add("PSU", "PSU_1", cellAt(row, componentPSU1), cellAt(row, componentPSU1+1))
	add("PSU", "PSU_2", cellAt(row, componentPSU2), cellAt(row, componentPSU2+1))
	return out
}

type columnKeywords struct {
	key   string
	terms []string
}

var defectSheetColumns = []columnKeywords{
	{"ticket", []string{"№ заявки", "заявка", "ticket"}},
	{"server", []string{"s/n сервер", "серийный", "server"}},
	{"cluster", []string{"кластер", "cluster"}},
	{"date", []string{"дата", "date"}},
	{"description", []string{"описание", "проблема", "description"}},
	{"partType", []string{"тип детали", "деталь", "part"}},
	{"defectSerial", []string{"s/n браковой", "браковая"}},
	{"replacementSerial", []string{"s/n замена", "замена"}},
	{"status", []string{"статус", "status"}},
	{"diagnostician", []string{"диагностик", "исполнитель"}},
}

type keywordMapping struct {
	keyword string
	value   string
}

// Matched in order; the first keyword contained in the cell wins.
var partTypeKeywords = []keywordMapping{
	{"мп", beryll.PartMotherboard},
	{"материнская", beryll.PartMotherboard},
	{"motherboard", beryll.PartMotherboard},
	{"оперативная", beryll.PartRAM},
	{"ram", beryll.PartRAM},
	{"память", beryll.PartRAM},
	{"dimm", beryll.PartRAM},
	{"ssd", beryll.PartSSD},
	{"твердотельный", beryll.PartSSD},
	{"nvme", beryll.PartSSD},
	{"hdd", beryll.PartHDD},
	{"жёсткий", beryll.PartHDD},
	{"жесткий", beryll.PartHDD},
	{"диск", beryll.PartHDD},
	{"бп", beryll.PartPSU},
	{"блок питания", beryll.PartPSU},
	{"psu", beryll.PartPSU},
	{"вентилятор", beryll.PartFan},
	{"fan", beryll.PartFan},
	{"кулер", beryll.PartFan},
	{"сеть", beryll.PartNIC},
	{"сетевая", beryll.PartNIC},
	{"nic", beryll.PartNIC},
	{"ethernet", beryll.PartNIC},
	{"raid", beryll.PartRAID},
	{"контроллер", beryll.PartRAID},
	{"bmc", beryll.PartBMC},
	{"backplane", beryll.PartBackplane},
	{"процессор", beryll.PartCPU},
	{"cpu", beryll.PartCPU},
}

var defectStatusKeywords = []keywordMapping{
	{"новый", beryll.DefectNew},
	{"new", beryll.DefectNew},
	{"диагностика", beryll.DefectDiagnosing},
	{"diagnosing", beryll.DefectDiagnosing},
	{"ожидание", beryll.DefectWaitingParts},
	{"waiting", beryll.DefectWaitingParts},
	{"ремонт", beryll.DefectRepairing},
	{"repair", beryll.DefectRepairing},
	{"отправлен", beryll.DefectSentToYadro},
	{"ядро", beryll.DefectSentToYadro},
	{"возврат", beryll.DefectReturned},
	{"returned", beryll.DefectReturned},
	{"решён", beryll.DefectResolved},
	{"решен", beryll.DefectResolved},
	{"resolved", beryll.DefectResolved},
	{"закрыт", beryll.DefectClosed},
	{"closed", beryll.DefectClosed},
}

func (s *importService) ImportDefects(ctx context.Context, r io.Reader, opts ImportOptions) (*DefectImportResult, error) {
	rows, err := readFirstSheet(r)
	if err != nil {
		return nil, err
	}
	res := &DefectImportResult{
		DryRun:  opts.DryRun,
		Records: []ImportedDefect{},
		Errors:  []ImportIssue{},
		Skipped: []ImportIssue{},
	}
	if len(rows) == 0 {
		return res, nil
	}
	cols := findColumns(rows[0], defectSheetColumns)
	people := map[string]*uuid.UUID{}
	seen := map[string]bool{}

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if rowEmpty(row) {
			continue
		}
		line := i + 1
		get := func(key string) string {
			idx, ok := cols[key]
			if !ok {
				return ""
			}
			return cellAt(row, idx)
		}

		serial := get("server")
		if serial == "" {
			res.Skipped = append(res.Skipped, ImportIssue{Row: line, Reason: "no server serial"})
			continue
		}
		srv, err := s.servers.GetByAPKSerial(ctx, nil, serial)
		if err != nil {
			return nil, err
		}
		if srv == nil {
			res.Errors = append(res.Errors, ImportIssue{Row: line, Server: serial, Reason: "server not found"})
			continue
		}
		ticket := get("ticket")
		if ticket != "" {
			exists, err := s.records.TicketExists(ctx, nil, ticket)
			if err != nil {
				return nil, err
			}
			if exists || seen[ticket] {
				res.Skipped = append(res.Skipped, ImportIssue{Row: line, Server: serial, Serial: ticket, Reason: "duplicate ticket"})
				continue
			}
			seen[ticket] = true
		}

		detectedAt := time.Now()
		if raw := get("date"); raw != "" {
			t, err := parseSheetDate(raw)
			if err != nil {
				res.Errors = append(res.Errors, ImportIssue{Row: line, Server: serial, Reason: err.Error()})
				continue
			}
			detectedAt = t
		}

		status := mapKeyword(get("status"), defectStatusKeywords, beryll.DefectNew)
		partType := mapKeyword(get("partType"), partTypeKeywords, "")
		diagnostician, err := s.lookupUser(ctx, people, get("diagnostician"))
		if err != nil {
			return nil, err
		}

		rec := &types.BeryllDefectRecord{
			ServerID:                   srv.ID,
			YadroTicketNumber:          optString(ticket),
			ClusterCode:                get("cluster"),
			ProblemDescription:         get("description"),
			DetectedAt:                 detectedAt,
			DiagnosticianID:            diagnostician,
			RepairPartType:             optString(partType),
			DefectPartSerialYadro:      optString(get("defectSerial")),
			ReplacementPartSerialYadro: optString(get("replacementSerial")),
			Status:                     status,
			Priority:                   beryll.PriorityMedium,
		}
		item := ImportedDefect{Ticket: ticket, Server: serial, Status: status}
		if !opts.DryRun {
			if _, err := s.records.Create(ctx, nil, rec); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				res.Errors = append(res.Errors, ImportIssue{Row: line, Server: serial, Reason: err.Error()})
				continue
			}
			id := rec.ID
			item.ID = &id
		}
		res.Records = append(res.Records, item)
	}

	s.log.Info("defects import finished",
		"dry_run", opts.DryRun,
		"records", len(res.Records),
		"errors", len(res.Errors),
		"skipped", len(res.Skipped),
	)
	if !opts.DryRun {
		s.audit.Log(ctx, AuditEntry{
			Action:      audit.ActionBeryllImport,
			Entity:      "BeryllDefectRecord",
			Description: fmt.Sprintf("Импорт записей о браке: %d", len(res.Records)),
			Metadata:    map[string]any{"errors": len(res.Errors), "skipped": len(res.Skipped)},
		})
	}
	return res, nil
}

// lookupUser matches a login first, then "Surname Name".
func (s *importService) lookupUser(ctx context.Context, cache map[string]*uuid.UUID, name string) (*uuid.UUID, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, nil
	}
	if id, ok := cache[name]; ok {
		return id, nil
	}
	u, err := s.users.GetByLogin(ctx, nil, name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if parts := strings.Fields(name); len(parts) >= 2 {
			if u, err = s.users.FindByFullName(ctx, nil, parts[0], parts[1]); err != nil {
				return nil, err
			}
		}
	}
	var id *uuid.UUID
	if u != nil {
		id = &u.ID
	}
	cache[name] = id
	return id, nil
}

func readFirstSheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apierr.BadRequest("Не удалось прочитать файл Excel: %v", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apierr.BadRequest("В файле нет листов")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apierr.BadRequest("Не удалось прочитать лист %s: %v", sheets[0], err)
	}
	return rows, nil
}

// findColumns maps each key to the first header cell containing one of its terms.
func findColumns(header []string, specs []columnKeywords) map[string]int {
	out := make(map[string]int, len(specs))
	for _, spec := range specs {
	headers:
		for i, h := range header {
			h = strings.ToLower(strings.TrimSpace(h))
			for _, term := range spec.terms {
				if strings.Contains(h, term) {
					out[spec.key] = i
					break headers
				}
			}
		}
	}
	return out
}

func mapKeyword(raw string, table []keywordMapping, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return fallback
	}
	for _, m := range table {
		if strings.Contains(v, m.keyword) {
			return m.value
		}
	}
	return fallback
}

var sheetDateLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
}

// parseSheetDate accepts an Excel serial day number or a formatted date.
func parseSheetDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return excelSerialToTime(n), nil
	}
	for _, layout := range sheetDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized date: " + raw)
}

var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

func excelSerialToTime(days float64) time.Time {
	return excelEpoch.Add(time.Duration(days * float64(24*time.Hour)))
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
