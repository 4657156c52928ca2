package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const (
	TemplateVideoKit = "VIDEO_KIT"
	TemplateSimple   = "SIMPLE"
	TemplateCustom   = "CUSTOM"

	MaxSpecialLabels = 1000

	boxLabelWidthMM  = 58.0
	boxLabelHeightMM = 40.0

	specialDefaultWidthMM  = 105.0
	specialDefaultHeightMM = 60.0

	fontRegular = "goregular"
	fontBold    = "gobold"
)

// LayoutElement is one positioned item of a custom label, in millimetres.
// Text may reference {{code}}, {{productName}}, {{quantity}}, {{unit}} and {{info}}.
type LayoutElement struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	FontSize float64 `json:"fontSize"`
	Bold     bool    `json:"bold"`
	Align    string  `json:"align"`
	Text     string  `json:"text"`
}

type SpecialPrintInput struct {
	Template     string
	LabelName    string
	Code         string
	PrintCount   int
	ProductName  string
	Quantity     string
	Unit         string
	WidthMM      float64
	HeightMM     float64
	Rotate       bool
	CustomLayout []LayoutElement
}

type LabelTemplateInput struct {
	Name     string
	WidthMM  float64
	HeightMM float64
	Layout   []LayoutElement
}

type specialLabel struct {
	Code        string
	ProductName string
	Quantity    string
	Unit        string
	Info        string
}

type LabelService interface {
	BoxLabelsPDF(ctx context.Context, ids []uuid.UUID) ([]byte, error)
	BoxLabelPNG(ctx context.Context, id uuid.UUID) ([]byte, error)
	PrintSpecial(ctx context.Context, in SpecialPrintInput) ([]byte, *types.PrintHistory, error)
	History(ctx context.Context, page pagination.Params) ([]*types.PrintHistory, int64, error)
	ListTemplates(ctx context.Context) ([]*types.LabelTemplate, error)
	CreateTemplate(ctx context.Context, in LabelTemplateInput) (*types.LabelTemplate, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
}

type labelService struct {
	db        *gorm.DB
	log       *logger.Logger
	boxes     warehouserepo.BoxRepo
	history   warehouserepo.PrintHistoryRepo
	templates warehouserepo.LabelTemplateRepo
	audit     AuditService
}

func NewLabelService(
	db *gorm.DB,
	log *logger.Logger,
	boxes warehouserepo.BoxRepo,
	history warehouserepo.PrintHistoryRepo,
	templates warehouserepo.LabelTemplateRepo,
	auditSvc AuditService,
) LabelService {
	return &labelService{
		db:        db,
		log:       log.With("service", "LabelService"),
		boxes:     boxes,
		history:   history,
		templates: templates,
		audit:     auditSvc,
	}
}

func (s *labelService) BoxLabelsPDF(ctx context.Context, ids []uuid.UUID) ([]byte, error) {
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

	pdf := newLabelPDF(boxLabelWidthMM, boxLabelHeightMM, false)
	for i, b := range boxes {
		pdf.AddPage()
		if err := placeQR(pdf, fmt.Sprintf("box-%d", i), b.QRCode, 2, 2, 26); err != nil {
			return nil, err
		}
		pdf.SetFont(fontBold, "", 9)
		pdf.SetXY(30, 3)
		pdf.MultiCell(26, 4, b.Label, "", "L", false)

		pdf.SetFont(fontBold, "", 14)
		pdf.SetXY(30, 18)
		pdf.CellFormat(26, 6, b.ShortCode, "", 0, "L", false, 0, "")

		pdf.SetFont(fontRegular, "", 9)
		pdf.SetXY(30, 25)
		pdf.CellFormat(26, 4, fmt.Sprintf("%d %s", b.Quantity, b.Unit), "", 0, "L", false, 0, "")
		if b.BatchName != "" {
			pdf.SetXY(30, 30)
			pdf.CellFormat(26, 4, b.BatchName, "", 0, "L", false, 0, "")
		}

		pdf.SetFont(fontRegular, "", 6)
		pdf.SetXY(2, 30)
		pdf.CellFormat(54, 3, b.QRCode, "", 0, "L", false, 0, "")
	}
	return outputPDF(pdf)
}

// BoxLabelPNG renders a label preview at 10 px per mm.
func (s *labelService) BoxLabelPNG(ctx context.Context, id uuid.UUID) ([]byte, error) {
	box, err := s.boxes.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, apierr.NotFound("Коробка не найдена")
	}

	const scale = 10
	w, h := int(boxLabelWidthMM*scale), int(boxLabelHeightMM*scale)
	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()

	qr, err := qrcode.New(box.QRCode, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	qr.DisableBorder = true
	dc.DrawImage(qr.Image(26*scale), 2*scale, 2*scale)

	dc.SetColor(color.Black)
	face, err := goFontFace(28)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)
	dc.DrawStringWrapped(box.Label, 30*scale, 3*scale, 0, 0, 26*scale, 1.2, gg.AlignLeft)

	big, err := goFontFace(52)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(big)
	dc.DrawString(box.ShortCode, 30*scale, 24*scale)

	face, _ = goFontFace(30)
	dc.SetFontFace(face)
	dc.DrawString(fmt.Sprintf("%d %s", box.Quantity, box.Unit), 30*scale, 29*scale)
	if box.BatchName != "" {
		dc.DrawString(box.BatchName, 30*scale, 34*scale)
	}
	small, _ := goFontFace(18)
	dc.SetFontFace(small)
	dc.DrawString(box.QRCode, 2*scale, 37*scale)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *labelService) PrintSpecial(ctx context.Context, in SpecialPrintInput) ([]byte, *types.PrintHistory, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, nil, apierr.BadRequest("Не указан код")
	}
	count := in.PrintCount
	if count <= 0 {
		count = 1
	}
	if count > MaxSpecialLabels {
		return nil, nil, apierr.BadRequest("Слишком много этикеток: максимум %d", MaxSpecialLabels)
	}
	template := strings.ToUpper(strings.TrimSpace(in.Template))
	switch template {
	case TemplateVideoKit:
	case TemplateCustom:
		if len(in.CustomLayout) == 0 {
			return nil, nil, apierr.BadRequest("Для шаблона CUSTOM нужен макет")
		}
	default:
		template = TemplateSimple
	}
	width, height := in.WidthMM, in.HeightMM
	if width <= 0 {
		width = specialDefaultWidthMM
	}
	if height <= 0 {
		height = specialDefaultHeightMM
	}

	labels := make([]specialLabel, 0, count)
	for i := 0; i < count; i++ {
		c := nextSpecialCode(code, i)
		labels = append(labels, specialLabel{
			Code:        c,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			Unit:        in.Unit,
			Info:        fmt.Sprintf("%s - %s %s (ID: %s)", in.ProductName, in.Quantity, in.Unit, c),
		})
	}

	pdf := newLabelPDF(width, height, in.Rotate)
	for i, l := range labels {
		pdf.AddPage()
		pw, ph := pdf.GetPageSize()
		var err error
		switch template {
		case TemplateVideoKit:
			err = drawVideoKitLabel(pdf, i, l, pw, ph)
		case TemplateCustom:
			err = drawCustomLabel(pdf, i, l, in.CustomLayout)
		default:
			err = drawSimpleLabel(pdf, i, l, pw, ph)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	out, err := outputPDF(pdf)
	if err != nil {
		return nil, nil, err
	}

	labelName := strings.TrimSpace(in.LabelName)
	if labelName == "" {
		labelName = "Этикетка"
	}
	params := map[string]any{
		"productName": in.ProductName,
		"quantity":    in.Quantity,
		"unit":        in.Unit,
		"widthMm":     width,
		"heightMm":    height,
		"rotate":      in.Rotate,
	}
	if template == TemplateCustom {
		params["customLayout"] = in.CustomLayout
	}
	raw, _ := json.Marshal(params)
	h, err := s.history.Create(ctx, nil, &types.PrintHistory{
		Template:    template,
		LabelName:   labelName,
		StartCode:   labels[0].Code,
		EndCode:     labels[len(labels)-1].Code,
		Quantity:    count,
		Params:      datatypes.JSON(raw),
		CreatedByID: ctxutil.UserIDPtr(ctx),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		// history is best effort
		s.log.Warn("print history write failed", "error", err)
	}

	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionLabelPrint,
		Entity:      "PrintHistory",
		EntityID:    historyID(h),
		Description: fmt.Sprintf("Печать %d этикеток %s (%s..%s)", count, template, labels[0].Code, labels[len(labels)-1].Code),
		Metadata:    map[string]any{"template": template, "count": count},
	})
	return out, h, nil
}

func historyID(h *types.PrintHistory) string {
	if h == nil {
		return ""
	}
	return h.ID.String()
}

func (s *labelService) History(ctx context.Context, page pagination.Params) ([]*types.PrintHistory, int64, error) {
	return s.history.List(ctx, nil, page.Normalize())
}

func (s *labelService) ListTemplates(ctx context.Context) ([]*types.LabelTemplate, error) {
	return s.templates.List(ctx, nil)
}

func (s *labelService) CreateTemplate(ctx context.Context, in LabelTemplateInput) (*types.LabelTemplate, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.WidthMM <= 0 || in.HeightMM <= 0 || in.Layout == nil {
		return nil, apierr.BadRequest("Некорректные данные шаблона")
	}
	raw, err := json.Marshal(in.Layout)
	if err != nil {
		return nil, apierr.BadRequest("Некорректные данные шаблона")
	}
	t, err := s.templates.Create(ctx, nil, &types.LabelTemplate{
		Name:        name,
		WidthMM:     in.WidthMM,
		HeightMM:    in.HeightMM,
		Layout:      datatypes.JSON(raw),
		CreatedByID: ctxutil.UserIDPtr(ctx),
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionTemplateCreate, Entity: "LabelTemplate", EntityID: t.ID.String(), Description: "Создан шаблон " + name})
	return t, nil
}

func (s *labelService) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	n, err := s.templates.Delete(ctx, nil, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("Шаблон не найден")
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionTemplateDelete, Entity: "LabelTemplate", EntityID: id.String()})
	return nil
}

func newLabelPDF(widthMM, heightMM float64, rotate bool) *fpdf.Fpdf {
	orientation := "P"
	if rotate {
		orientation = "L"
	}
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: widthMM, Ht: heightMM},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddUTF8FontFromBytes(fontRegular, "", goregular.TTF)
	pdf.AddUTF8FontFromBytes(fontBold, "", gobold.TTF)
	return pdf
}

func outputPDF(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apierr.Internal(fmt.Errorf("render pdf: %w", err))
	}
	return buf.Bytes(), nil
}

func placeQR(pdf *fpdf.Fpdf, name, content string, x, y, size float64) error {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("qr %q: %w", content, err)
	}
	opt := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(png))
	pdf.ImageOptions(name, x, y, size, size, false, opt, 0, "")
	return pdf.Error()
}

func drawSimpleLabel(pdf *fpdf.Fpdf, i int, l specialLabel, w, h float64) error {
	qr := minF(h-10, w/2-4)
	if err := placeQR(pdf, "simple-"+strconv.Itoa(i), l.Info, 3, 3, qr); err != nil {
		return err
	}
	x := qr + 6
	pdf.SetFont(fontBold, "", 12)
	pdf.SetXY(x, 4)
	pdf.MultiCell(w-x-3, 5, l.ProductName, "", "L", false)
	pdf.SetFont(fontRegular, "", 10)
	pdf.SetXY(x, h/2)
	pdf.CellFormat(w-x-3, 5, strings.TrimSpace(l.Quantity+" "+l.Unit), "", 0, "L", false, 0, "")
	pdf.SetFont(fontBold, "", 16)
	pdf.SetXY(3, h-7)
	pdf.CellFormat(w-6, 6, l.Code, "", 0, "L", false, 0, "")
	return pdf.Error()
}

func drawVideoKitLabel(pdf *fpdf.Fpdf, i int, l specialLabel, w, h float64) error {
	pdf.SetFont(fontBold, "", 11)
	pdf.SetXY(3, 2)
	pdf.CellFormat(w-6, 6, l.ProductName, "", 0, "C", false, 0, "")

	qr := minF(h-18, w/2-6)
	if err := placeQR(pdf, "vk-code-"+strconv.Itoa(i), l.Code, 4, 9, qr); err != nil {
		return err
	}
	if err := placeQR(pdf, "vk-info-"+strconv.Itoa(i), l.Info, w-qr-4, 9, qr); err != nil {
		return err
	}
	pdf.SetFont(fontBold, "", 14)
	pdf.SetXY(4, 10+qr)
	pdf.CellFormat(qr, 6, l.Code, "", 0, "C", false, 0, "")
	pdf.SetFont(fontRegular, "", 8)
	pdf.SetXY(w-qr-4, 10+qr)
	pdf.CellFormat(qr, 6, strings.TrimSpace(l.Quantity+" "+l.Unit), "", 0, "C", false, 0, "")
	return pdf.Error()
}

func drawCustomLabel(pdf *fpdf.Fpdf, i int, l specialLabel, layout []LayoutElement) error {
	for j, el := range layout {
		text := expandLabelText(el.Text, l)
		switch strings.ToLower(el.Type) {
		case "qr":
			size := el.Width
			if size <= 0 {
				size = 20
			}
			content := text
			if content == "" {
				content = l.Code
			}
			if err := placeQR(pdf, fmt.Sprintf("custom-%d-%d", i, j), content, el.X, el.Y, size); err != nil {
				return err
			}
		case "line":
			pdf.Line(el.X, el.Y, el.X+el.Width, el.Y+el.Height)
		case "rect":
			pdf.Rect(el.X, el.Y, el.Width, el.Height, "D")
		default:
			family := fontRegular
			if el.Bold {
				family = fontBold
			}
			size := el.FontSize
			if size <= 0 {
				size = 10
			}
			pdf.SetFont(family, "", size)
			align := "L"
			switch strings.ToLower(el.Align) {
			case "center":
				align = "C"
			case "right":
				align = "R"
			}
			pdf.SetXY(el.X, el.Y)
			if el.Width > 0 {
				pdf.MultiCell(el.Width, size*0.4, text, "", align, false)
			} else {
				pdf.Text(el.X, el.Y+size*0.35, text)
			}
		}
	}
	return pdf.Error()
}

var labelPlaceholders = []string{"{{code}}", "{{productName}}", "{{quantity}}", "{{unit}}", "{{info}}"}

func expandLabelText(text string, l specialLabel) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	values := []string{l.Code, l.ProductName, l.Quantity, l.Unit, l.Info}
	pairs := make([]string, 0, len(values)*2)
	for i, p := range labelPlaceholders {
		pairs = append(pairs, p, values[i])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
