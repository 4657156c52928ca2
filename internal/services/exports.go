package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"

	exportDateLayout = "02.01.2006 15:04"
)

var boxCSVHeader = []string{"ID", "ShortCode", "Label", "Quantity", "Unit", "Section", "QRCode"}

// Export is a rendered file ready to be sent as an attachment.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

type ExportService interface {
	BoxesCSV(ctx context.Context, ids []uuid.UUID) (*Export, error)
	BoxesXLSX(ctx context.Context, ids []uuid.UUID) (*Export, error)
	SupplyCSV(ctx context.Context, supplyID uuid.UUID) (*Export, error)
	AuditXLSX(ctx context.Context, f auditrepo.Filter) (*Export, error)
}

type exportService struct {
	log      *logger.Logger
	boxes    warehouserepo.BoxRepo
	supplies warehouserepo.SupplyRepo
	audit    AuditService
}

func NewExportService(log *logger.Logger, boxes warehouserepo.BoxRepo, supplies warehouserepo.SupplyRepo, auditSvc AuditService) ExportService {
	return &exportService{
		log:      log.With("service", "ExportService"),
		boxes:    boxes,
		supplies: supplies,
		audit:    auditSvc,
	}
}

func (s *exportService) selectedBoxes(ctx context.Context, ids []uuid.UUID) ([]*types.WarehouseBox, error) {
	if len(ids) == 0 {
		return nil, apierr.BadRequest("Не переданы ID коробок")
	}
	boxes, err := s.boxes.ListByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		return nil, apierr.BadRequest("Коробки не найдены")
	}
	return boxes, nil
}

func (s *exportService) BoxesCSV(ctx context.Context, ids []uuid.UUID) (*Export, error) {
	boxes, err := s.selectedBoxes(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &Export{Filename: "labels.csv", ContentType: ContentTypeCSV, Body: boxesCSV(boxes)}, nil
}

func (s *exportService) BoxesXLSX(ctx context.Context, ids []uuid.UUID) (*Export, error) {
	boxes, err := s.selectedBoxes(ctx, ids)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(boxes))
	for _, b := range boxes {
		rows = append(rows, []any{b.ID.String(), b.ShortCode, b.Label, b.Quantity, b.Unit, sectionTitle(b), b.QRCode})
	}
	body, err := writeWorkbook(sheet{Name: "Коробки", Header: boxCSVHeader, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &Export{Filename: "boxes.xlsx", ContentType: ContentTypeXLSX, Body: body}, nil
}

func (s *exportService) SupplyCSV(ctx context.Context, supplyID uuid.UUID) (*Export, error) {
	supply, err := s.supplies.GetByID(ctx, nil, supplyID)
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return nil, apierr.NotFound("Поставка не найдена")
	}
	boxes, err := s.boxes.ListBySupply(ctx, nil, supplyID)
	if err != nil {
		return nil, err
	}
	name := supply.DocNumber
	if name == "" {
		name = supply.ID.String()
	}
	return &Export{
		Filename:    fmt.Sprintf("supply_%s.csv", safeFilename(name)),
		ContentType: ContentTypeCSV,
		Body:        boxesCSV(boxes),
	}, nil
}

func (s *exportService) AuditXLSX(ctx context.Context, f auditrepo.Filter) (*Export, error) {
	logs, err := s.audit.ListForExport(ctx, f)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(logs))
	for _, l := range logs {
		who := ""
		if l.User != nil {
			who = strings.TrimSpace(l.User.Surname + " " + l.User.Name + " (" + l.User.Login + ")")
		}
		rows = append(rows, []any{
			l.CreatedAt.Local().Format(exportDateLayout),
			who,
			l.Action,
			l.Entity,
			l.EntityID,
			l.Description,
			metadataString(l.Metadata, "ip"),
		})
	}
	body, err := writeWorkbook(sheet{
		Name:   "Журнал",
		Header: []string{"Дата", "Пользователь", "Действие", "Сущность", "ID", "Описание", "IP"},
		Rows:   rows,
	})
	if err != nil {
		return nil, err
	}
	return &Export{
		Filename:    fmt.Sprintf("audit_%s.xlsx", time.Now().Format("2006-01-02")),
		ContentType: ContentTypeXLSX,
		Body:        body,
	}, nil
}

// boxesCSV writes a BOM, a ';'-separated header and one quoted row per box.
func boxesCSV(boxes []*types.WarehouseBox) []byte {
	var b strings.Builder
	b.WriteString("\ufeff")
	b.WriteString(strings.Join(boxCSVHeader, ";"))
	b.WriteByte('\n')
	for _, box := range boxes {
		fields := []string{
			box.ID.String(),
			box.ShortCode,
			box.Label,
			fmt.Sprint(box.Quantity),
			box.Unit,
			sectionTitle(box),
			box.QRCode,
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func sectionTitle(b *types.WarehouseBox) string {
	if b.CurrentSection == nil {
		return ""
	}
	return b.CurrentSection.Title
}

func metadataString(raw []byte, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func safeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

type sheet struct {
	Name   string
	Header []string
	Rows   [][]any
	Widths map[int]float64
}

// writeWorkbook renders sheets in order; the first replaces the default Sheet1.
func writeWorkbook(sheets ...sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return nil, err
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return nil, err
		}
		sw, err := f.NewStreamWriter(sh.Name)
		if err != nil {
			return nil, err
		}
		for col, w := range sh.Widths {
			if err := sw.SetColWidth(col, col, w); err != nil {
				return nil, err
			}
		}
		header := make([]any, len(sh.Header))
		for j, h := range sh.Header {
			header[j] = excelize.Cell{StyleID: headerStyle, Value: h}
		}
		if err := sw.SetRow("A1", header); err != nil {
			return nil, err
		}
		for r, row := range sh.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return nil, err
			}
			if err := sw.SetRow(cell, row); err != nil {
				return nil, err
			}
		}
		if err := sw.Flush(); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
