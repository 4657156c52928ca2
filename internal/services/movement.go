package services

import (
	"context"
	"fmt"
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

type MovementInput struct {
	BoxID       uuid.UUID
	Operation   string
	ToSectionID *uuid.UUID
	ToTeamID    *uuid.UUID
	StatusAfter string
	DeltaQty    int
	GoodQty     int
	ScrapQty    int
	Comment     string
}

type MovementResult struct {
	Box      *types.WarehouseBox      `json:"box"`
	Movement *types.WarehouseMovement `json:"movement"`
}

type MovementBatchResult struct {
	Message  string                   `json:"message"`
	Count    int                      `json:"count"`
	Document *types.WarehouseDocument `json:"document"`
}

type MovementService interface {
	Move(ctx context.Context, in MovementInput) (*MovementResult, error)
	MoveBatch(ctx context.Context, docNumber string, items []MovementInput) (*MovementBatchResult, error)
	List(ctx context.Context, f warehouserepo.MovementFilter, page pagination.Params) ([]*types.WarehouseMovement, int64, error)
}

type movementService struct {
	db        *gorm.DB
	log       *logger.Logger
	boxes     warehouserepo.BoxRepo
	movements warehouserepo.MovementRepo
	documents warehouserepo.DocumentRepo
	publisher realtime.Publisher
	audit     AuditService
}

func NewMovementService(
	db *gorm.DB,
	log *logger.Logger,
	boxes warehouserepo.BoxRepo,
	movements warehouserepo.MovementRepo,
	documents warehouserepo.DocumentRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) MovementService {
	return &movementService{
		db:        db,
		log:       log.With("service", "MovementService"),
		boxes:     boxes,
		movements: movements,
		documents: documents,
		publisher: publisher,
		audit:     auditSvc,
	}
}

func (s *movementService) Move(ctx context.Context, in MovementInput) (*MovementResult, error) {
	if err := validateMovement(in); err != nil {
		return nil, err
	}
	var res MovementResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.apply(ctx, tx, in, nil, time.Now())
		if err != nil {
			return err
		}
		res.Movement = m
		res.Box, err = s.boxes.GetByID(ctx, tx, in.BoxID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionMovement,
		Entity:      "WarehouseBox",
		EntityID:    in.BoxID.String(),
		Description: fmt.Sprintf("Операция %s над коробкой %s", in.Operation, res.Box.Label),
		Metadata:    map[string]any{"operation": in.Operation, "deltaQty": in.DeltaQty, "goodQty": in.GoodQty, "scrapQty": in.ScrapQty},
	})
	publishWarehouse(ctx, s.log, s.publisher, realtime.SSEEventBoxMoved, res)
	return &res, nil
}

func (s *movementService) MoveBatch(ctx context.Context, docNumber string, items []MovementInput) (*MovementBatchResult, error) {
	if len(items) == 0 {
		return nil, apierr.BadRequest("Список операций пуст")
	}
	for _, it := range items {
		if err := validateMovement(it); err != nil {
			return nil, err
		}
	}
	docNumber = strings.TrimSpace(docNumber)
	now := time.Now()

	var doc *types.WarehouseDocument
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var docID *uuid.UUID
		if docNumber != "" {
			d, err := s.documents.Create(ctx, tx, &types.WarehouseDocument{
				Number:      docNumber,
				Type:        warehouse.DocumentTypeMovement,
				Date:        now,
				CreatedByID: ctxutil.UserIDPtr(ctx),
			})
			if err != nil {
				return err
			}
			doc, docID = d, &d.ID
		}
		for _, it := range items {
			if _, err := s.apply(ctx, tx, it, docID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"count": len(items)}
	if doc != nil {
		meta["documentId"] = doc.ID
		meta["docNumber"] = doc.Number
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionMovementBatch,
		Entity:      "WarehouseMovement",
		EntityID:    items[0].BoxID.String(),
		Description: fmt.Sprintf("Пакетное перемещение: %d операций", len(items)),
		Metadata:    meta,
	})
	publishWarehouse(ctx, s.log, s.publisher, realtime.SSEEventBoxMoved, meta)
	return &MovementBatchResult{Message: "Операции успешно выполнены", Count: len(items), Document: doc}, nil
}

func (s *movementService) List(ctx context.Context, f warehouserepo.MovementFilter, page pagination.Params) ([]*types.WarehouseMovement, int64, error) {
	return s.movements.List(ctx, nil, f, page.Normalize())
}

// apply locks the box, moves it and records the movement. Scrap reduces the
// box quantity on top of deltaQty.
func (s *movementService) apply(ctx context.Context, tx *gorm.DB, in MovementInput, docID *uuid.UUID, at time.Time) (*types.WarehouseMovement, error) {
	box, err := s.boxes.LockByID(ctx, tx, in.BoxID)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, apierr.NotFound("Коробка не найдена")
	}

	newQty := box.Quantity + in.DeltaQty - in.ScrapQty
	if newQty < 0 {
		return nil, apierr.BadRequest("Недостаточно количества в коробке %s", box.ShortCode)
	}
	if newQty < box.ReservedQty && box.ReservationActive(at) {
		return nil, apierr.BadRequest("Количество не может быть меньше зарезервированного")
	}

	status := box.Status
	if in.StatusAfter != "" {
		status = in.StatusAfter
	}
	updates := map[string]interface{}{
		"quantity": newQty,
		"status":   status,
	}
	if in.ToSectionID != nil {
		updates["current_section_id"] = *in.ToSectionID
	}
	if in.ToTeamID != nil {
		updates["current_team_id"] = *in.ToTeamID
	}
	if err := s.boxes.Update(ctx, tx, box.ID, updates); err != nil {
		return nil, err
	}

	m := &types.WarehouseMovement{
		BoxID:         box.ID,
		DocumentID:    docID,
		FromSectionID: box.CurrentSectionID,
		FromTeamID:    box.CurrentTeamID,
		ToSectionID:   in.ToSectionID,
		ToTeamID:      in.ToTeamID,
		Operation:     in.Operation,
		StatusAfter:   status,
		DeltaQty:      in.DeltaQty,
		GoodQty:       in.GoodQty,
		ScrapQty:      in.ScrapQty,
		PerformedByID: ctxutil.UserIDPtr(ctx),
		PerformedAt:   at,
		Comment:       strings.TrimSpace(in.Comment),
	}
	if err := s.movements.Create(ctx, tx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func validateMovement(in MovementInput) error {
	if in.BoxID == uuid.Nil {
		return apierr.BadRequest("Не указан boxId")
	}
	if !validOperation(in.Operation) {
		return apierr.BadRequest("Некорректная операция: %s", in.Operation)
	}
	if in.StatusAfter != "" && !validBoxStatus(in.StatusAfter) {
		return apierr.BadRequest("Некорректный статус: %s", in.StatusAfter)
	}
	if in.GoodQty < 0 || in.ScrapQty < 0 {
		return apierr.BadRequest("Количество не может быть отрицательным")
	}
	return nil
}

func validOperation(op string) bool {
	for _, o := range warehouse.Operations {
		if o == op {
			return true
		}
	}
	return false
}
