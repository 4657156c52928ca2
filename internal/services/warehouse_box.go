package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

const MaxBatchBoxes = 1000

type BoxInput struct {
	SupplyID    *uuid.UUID
	SectionID   *uuid.UUID
	Label       string
	OriginType  string
	OriginID    *string
	Quantity    int
	Unit        string
	KitNumber   string
	ProjectName string
	BatchName   string
	Comment     string
}

type BoxBatchInput struct {
	Count            int
	Label            string
	ProjectName      string
	BatchName        string
	OriginType       string
	OriginID         *string
	ItemsPerBox      int
	Unit             string
	Status           string
	SupplyID         *uuid.UUID
	CurrentSectionID *uuid.UUID
	CurrentTeamID    *uuid.UUID
	Notes            string
}

type BoxDetail struct {
	Box       *types.WarehouseBox        `json:"box"`
	Movements []*types.WarehouseMovement `json:"movements"`
	Documents []*types.WarehouseDocument `json:"documents"`
}

type BoxService interface {
	Create(ctx context.Context, in BoxInput) (*types.WarehouseBox, error)
	CreateBatch(ctx context.Context, in BoxBatchInput) ([]*types.WarehouseBox, error)
	UpdateBatch(ctx context.Context, ids []uuid.UUID, updates map[string]any) (int64, error)
	List(ctx context.Context, f warehouserepo.BoxFilter, page pagination.Params) ([]*types.WarehouseBox, int64, error)
	GetByCode(ctx context.Context, code string) (*types.WarehouseBox, error)
	Get(ctx context.Context, id uuid.UUID) (*types.WarehouseBox, error)
	Detail(ctx context.Context, id uuid.UUID) (*BoxDetail, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*types.WarehouseBox, error)
	Balance(ctx context.Context) ([]warehouserepo.BalanceRow, error)
}

type boxService struct {
	db        *gorm.DB
	log       *logger.Logger
	boxes     warehouserepo.BoxRepo
	movements warehouserepo.MovementRepo
	documents warehouserepo.DocumentRepo
	publisher realtime.Publisher
	audit     AuditService
}

func NewBoxService(
	db *gorm.DB,
	log *logger.Logger,
	boxes warehouserepo.BoxRepo,
	movements warehouserepo.MovementRepo,
	documents warehouserepo.DocumentRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) BoxService {
	return &boxService{
		db:        db,
		log:       log.With("service", "BoxService"),
		boxes:     boxes,
		movements: movements,
		documents: documents,
		publisher: publisher,
		audit:     auditSvc,
	}
}

func (s *boxService) Create(ctx context.Context, in BoxInput) (*types.WarehouseBox, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return nil, apierr.BadRequest("Наименование обязательно")
	}
	if in.Quantity < 0 {
		return nil, apierr.BadRequest("Количество не может быть отрицательным")
	}
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	now := time.Now()
	userID := ctxutil.UserIDPtr(ctx)

	box := &types.WarehouseBox{
		SupplyID:         in.SupplyID,
		QRCode:           singleBoxQR(now),
		Label:            label,
		OriginType:       strings.TrimSpace(in.OriginType),
		OriginID:         in.OriginID,
		Quantity:         qty,
		Unit:             unitOrDefault(in.Unit),
		KitNumber:        strings.TrimSpace(in.KitNumber),
		ProjectName:      strings.TrimSpace(in.ProjectName),
		BatchName:        strings.TrimSpace(in.BatchName),
		Status:           warehouse.BoxStatusOnStock,
		Notes:            strings.TrimSpace(in.Comment),
		CurrentSectionID: in.SectionID,
		AcceptedAt:       &now,
		AcceptedByID:     userID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := newShortCodeGen(s.boxes).next(ctx, tx)
		if err != nil {
			return err
		}
		box.ShortCode = code
		if err := s.boxes.Create(ctx, tx, box); err != nil {
			return err
		}
		return s.movements.Create(ctx, tx, receiveMovement(box, userID, now))
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBoxCreate,
		Entity:      "WarehouseBox",
		EntityID:    box.ID.String(),
		Description: fmt.Sprintf("Принята коробка %s (%d %s)", box.Label, box.Quantity, box.Unit),
		Metadata:    map[string]any{"qrCode": box.QRCode, "shortCode": box.ShortCode},
	})
	s.publish(ctx, realtime.SSEEventBoxCreated, box)
	return box, nil
}

func (s *boxService) CreateBatch(ctx context.Context, in BoxBatchInput) ([]*types.WarehouseBox, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return nil, apierr.BadRequest("Не указано наименование (label)")
	}
	if in.Count < 1 || in.Count > MaxBatchBoxes {
		return nil, apierr.BadRequest("Количество коробок должно быть от 1 до %d", MaxBatchBoxes)
	}
	perBox := in.ItemsPerBox
	if perBox <= 0 {
		perBox = 1
	}
	status := in.Status
	if status == "" {
		status = warehouse.BoxStatusOnStock
	}
	if !validBoxStatus(status) {
		return nil, apierr.BadRequest("Некорректный статус: %s", status)
	}
	originType := strings.TrimSpace(in.OriginType)
	if originType == "" {
		originType = "OTHER"
	}

	now := time.Now()
	userID := ctxutil.UserIDPtr(ctx)
	boxes := make([]*types.WarehouseBox, 0, in.Count)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gen := newShortCodeGen(s.boxes)
		for i := 0; i < in.Count; i++ {
			code, err := gen.next(ctx, tx)
			if err != nil {
				return err
			}
			boxes = append(boxes, &types.WarehouseBox{
				ID:               uuid.New(),
				SupplyID:         in.SupplyID,
				QRCode:           batchBoxQR(now, i+1),
				ShortCode:        code,
				Label:            label,
				OriginType:       originType,
				OriginID:         in.OriginID,
				Quantity:         perBox,
				Unit:             unitOrDefault(in.Unit),
				ProjectName:      strings.TrimSpace(in.ProjectName),
				BatchName:        strings.TrimSpace(in.BatchName),
				Status:           status,
				Notes:            strings.TrimSpace(in.Notes),
				CurrentSectionID: in.CurrentSectionID,
				CurrentTeamID:    in.CurrentTeamID,
				AcceptedAt:       &now,
				AcceptedByID:     userID,
			})
		}
		if err := s.boxes.Create(ctx, tx, boxes...); err != nil {
			return err
		}
		moves := make([]*types.WarehouseMovement, 0, len(boxes))
		for _, b := range boxes {
			moves = append(moves, receiveMovement(b, userID, now))
		}
		return s.movements.Create(ctx, tx, moves...)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBoxBatchCreate,
		Entity:      "WarehouseBox",
		EntityID:    boxes[0].ID.String(),
		Description: fmt.Sprintf("Создана партия из %d коробок: %s", len(boxes), label),
		Metadata:    map[string]any{"count": len(boxes), "batchName": in.BatchName, "projectName": in.ProjectName},
	})
	s.publish(ctx, realtime.SSEEventBoxCreated, map[string]any{"count": len(boxes), "label": label})
	return boxes, nil
}

// batchUpdateColumns maps the accepted request keys to their columns.
var batchUpdateColumns = map[string]string{
	"label":       "label",
	"quantity":    "quantity",
	"unit":        "unit",
	"status":      "status",
	"batchName":   "batch_name",
	"projectName": "project_name",
	"notes":       "notes",
}

func (s *boxService) UpdateBatch(ctx context.Context, ids []uuid.UUID, updates map[string]any) (int64, error) {
	if len(ids) == 0 {
		return 0, apierr.BadRequest("Не выбраны коробки")
	}
	cols := make(map[string]interface{}, len(updates))
	for key, raw := range updates {
		col, ok := batchUpdateColumns[key]
		if !ok || isEmptyValue(raw) {
			continue
		}
		switch key {
		case "quantity":
			n, err := toInt(raw)
			if err != nil || n < 0 {
				return 0, apierr.BadRequest("Некорректное количество")
			}
			cols[col] = n
		case "status":
			st := fmt.Sprint(raw)
			if !validBoxStatus(st) {
				return 0, apierr.BadRequest("Некорректный статус: %s", st)
			}
			cols[col] = st
		default:
			cols[col] = strings.TrimSpace(fmt.Sprint(raw))
		}
	}
	if len(cols) == 0 {
		return 0, apierr.BadRequest("Нет данных для обновления")
	}

	n, err := s.boxes.UpdateMany(ctx, nil, ids, cols)
	if err != nil {
		return 0, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBoxBatchUpdate,
		Entity:      "WarehouseBox",
		EntityID:    ids[0].String(),
		Description: fmt.Sprintf("Массовое обновление %d коробок", n),
		Metadata:    map[string]any{"ids": ids, "updates": cols},
	})
	s.publish(ctx, realtime.SSEEventBoxUpdated, map[string]any{"ids": ids})
	return n, nil
}

func (s *boxService) List(ctx context.Context, f warehouserepo.BoxFilter, page pagination.Params) ([]*types.WarehouseBox, int64, error) {
	return s.boxes.List(ctx, nil, f, page.Normalize())
}

func (s *boxService) GetByCode(ctx context.Context, code string) (*types.WarehouseBox, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apierr.BadRequest("Не указан код коробки")
	}
	box, err := s.boxes.GetByCode(ctx, nil, code)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, apierr.NotFound("Коробка не найдена")
	}
	return box, nil
}

func (s *boxService) Get(ctx context.Context, id uuid.UUID) (*types.WarehouseBox, error) {
	box, err := s.boxes.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, apierr.NotFound("Коробка не найдена")
	}
	return box, nil
}

func (s *boxService) Detail(ctx context.Context, id uuid.UUID) (*BoxDetail, error) {
	box, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	moves, err := s.movements.ListByBox(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.documents.List(ctx, nil, &id)
	if err != nil {
		return nil, err
	}
	return &BoxDetail{Box: box, Movements: moves, Documents: docs}, nil
}

func (s *boxService) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*types.WarehouseBox, error) {
	return s.boxes.ListByIDs(ctx, nil, ids)
}

func (s *boxService) Balance(ctx context.Context) ([]warehouserepo.BalanceRow, error) {
	return s.boxes.Balance(ctx, nil)
}

func (s *boxService) publish(ctx context.Context, event realtime.SSEEvent, data any) {
	publishWarehouse(ctx, s.log, s.publisher, event, data)
}

func publishWarehouse(ctx context.Context, log *logger.Logger, p realtime.Publisher, event realtime.SSEEvent, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelWarehouse, Event: event, Data: data}); err != nil {
		log.Debug("publish failed", "event", event, "error", err)
	}
}

func receiveMovement(b *types.WarehouseBox, userID *uuid.UUID, at time.Time) *types.WarehouseMovement {
	return &types.WarehouseMovement{
		BoxID:         b.ID,
		ToSectionID:   b.CurrentSectionID,
		ToTeamID:      b.CurrentTeamID,
		Operation:     warehouse.OpReceive,
		StatusAfter:   b.Status,
		DeltaQty:      b.Quantity,
		PerformedByID: userID,
		PerformedAt:   at,
		Comment:       "Приёмка",
	}
}

func unitOrDefault(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return warehouse.DefaultUnit
	}
	return u
}

func validBoxStatus(st string) bool {
	for _, s := range warehouse.BoxStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("unsupported number %T", v)
}
