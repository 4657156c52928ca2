package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

const DefaultReservationTTL = 15 * time.Minute

type ReservationService interface {
	Reserve(ctx context.Context, boxID uuid.UUID, qty int, expiresAt *time.Time) (*types.WarehouseBox, error)
	Release(ctx context.Context, boxID uuid.UUID) (*types.WarehouseBox, error)
	// Confirm consumes qty of an active reservation; nil qty consumes all of it.
	Confirm(ctx context.Context, boxID uuid.UUID, qty *int) (*types.WarehouseBox, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

type reservationService struct {
	db        *gorm.DB
	log       *logger.Logger
	boxes     warehouserepo.BoxRepo
	movements warehouserepo.MovementRepo
	publisher realtime.Publisher
	metrics   *observability.Metrics
	audit     AuditService
	ttl       time.Duration
	now       func() time.Time
}

func NewReservationService(
	db *gorm.DB,
	log *logger.Logger,
	boxes warehouserepo.BoxRepo,
	movements warehouserepo.MovementRepo,
	publisher realtime.Publisher,
	metrics *observability.Metrics,
	auditSvc AuditService,
	ttl time.Duration,
) ReservationService {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &reservationService{
		db:        db,
		log:       log.With("service", "ReservationService"),
		boxes:     boxes,
		movements: movements,
		publisher: publisher,
		metrics:   metrics,
		audit:     auditSvc,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *reservationService) Reserve(ctx context.Context, boxID uuid.UUID, qty int, expiresAt *time.Time) (*types.WarehouseBox, error) {
	if qty <= 0 {
		return nil, apierr.BadRequest("Некорректное количество для резерва")
	}
	now := s.now()
	expiry := now.Add(s.ttl)
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return nil, apierr.BadRequest("Срок резерва уже истёк")
		}
		expiry = *expiresAt
	}
	userID := ctxutil.UserIDPtr(ctx)

	var out *types.WarehouseBox
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		box, err := s.lock(ctx, tx, boxID)
		if err != nil {
			return err
		}
		if box.ReservedQty > 0 {
			if box.ReservationActive(now) {
				return apierr.Conflict("Коробка уже зарезервирована")
			}
			if err := s.boxes.Update(ctx, tx, boxID, warehouserepo.ClearReservation()); err != nil {
				return err
			}
			box.ReservedQty = 0
		}
		if qty > box.Available() {
			return apierr.BadRequest("Недостаточно доступного количества")
		}
		if err := s.boxes.Update(ctx, tx, boxID, map[string]interface{}{
			"reserved_qty":           qty,
			"reserved_by_id":         userID,
			"reserved_at":            now,
			"reservation_expires_at": expiry,
		}); err != nil {
			return err
		}
		out, err = s.boxes.GetByID(ctx, tx, boxID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBoxReserve,
		Entity:      "WarehouseBox",
		EntityID:    boxID.String(),
		Description: fmt.Sprintf("Резерв %d %s до %s", qty, out.Unit, expiry.Format(time.RFC3339)),
		Metadata:    map[string]any{"qty": qty, "expiresAt": expiry},
	})
	publishWarehouse(ctx, s.log, s.publisher, realtime.SSEEventBoxReserved, out)
	return out, nil
}

func (s *reservationService) Release(ctx context.Context, boxID uuid.UUID) (*types.WarehouseBox, error) {
	var (
		out  *types.WarehouseBox
		held int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		box, err := s.lock(ctx, tx, boxID)
		if err != nil {
			return err
		}
		held = box.ReservedQty
		if held > 0 || box.ReservedByID != nil || box.ReservationExpiresAt != nil {
			if err := s.boxes.Update(ctx, tx, boxID, warehouserepo.ClearReservation()); err != nil {
				return err
			}
		}
		out, err = s.boxes.GetByID(ctx, tx, boxID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if held > 0 {
		s.metrics.AddReservationsReleased("manual", 1)
		s.audit.Log(ctx, AuditEntry{
			Action:      audit.ActionBoxRelease,
			Entity:      "WarehouseBox",
			EntityID:    boxID.String(),
			Description: fmt.Sprintf("Снят резерв %d %s", held, out.Unit),
		})
		publishWarehouse(ctx, s.log, s.publisher, realtime.SSEEventBoxReleased, out)
	}
	return out, nil
}

func (s *reservationService) Confirm(ctx context.Context, boxID uuid.UUID, qty *int) (*types.WarehouseBox, error) {
	if qty != nil && *qty <= 0 {
		return nil, apierr.BadRequest("Некорректное количество для подтверждения")
	}
	now := s.now()
	userID := ctxutil.UserIDPtr(ctx)

	var (
		out      *types.WarehouseBox
		consumed int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		box, err := s.lock(ctx, tx, boxID)
		if err != nil {
			return err
		}
		if box.ReservedQty <= 0 {
			return apierr.BadRequest("Резерв отсутствует")
		}
		// A lapsed hold no longer protects stock, so it cannot be consumed.
		if !box.ReservationActive(now) {
			return apierr.BadRequest("Срок резерва истёк")
		}
		consumed = box.ReservedQty
		if qty != nil {
			consumed = *qty
		}
		if consumed > box.ReservedQty {
			return apierr.BadRequest("Подтверждаемое количество превышает резерв")
		}
		if box.Quantity-consumed < 0 {
			return apierr.BadRequest("Недостаточно количества для подтверждения")
		}

		remaining := box.ReservedQty - consumed
		updates := map[string]interface{}{
			"quantity":     box.Quantity - consumed,
			"reserved_qty": remaining,
		}
		if remaining == 0 {
			updates = warehouserepo.ClearReservation()
			updates["quantity"] = box.Quantity - consumed
		}
		if err := s.boxes.Update(ctx, tx, boxID, updates); err != nil {
			return err
		}
		if err := s.movements.Create(ctx, tx, &types.WarehouseMovement{
			BoxID:         boxID,
			FromSectionID: box.CurrentSectionID,
			FromTeamID:    box.CurrentTeamID,
			Operation:     warehouse.OpConsume,
			StatusAfter:   box.Status,
			DeltaQty:      -consumed,
			PerformedByID: userID,
			PerformedAt:   now,
			Comment:       "Списание по резерву",
		}); err != nil {
			return err
		}
		out, err = s.boxes.GetByID(ctx, tx, boxID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBoxConfirm,
		Entity:      "WarehouseBox",
		EntityID:    boxID.String(),
		Description: fmt.Sprintf("Подтверждено списание %d %s", consumed, out.Unit),
		Metadata:    map[string]any{"qty": consumed},
	})
	publishWarehouse(ctx, s.log, s.publisher, realtime.SSEEventBoxConsumed, out)
	return out, nil
}

func (s *reservationService) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.boxes.ReleaseExpired(ctx, nil, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired reservations released", "count", n)
		s.metrics.AddReservationsReleased("expired", n)
		publishWarehouse(ctx, s.log, s.publisher, realtime.SSEEventReservationsExpired, map[string]any{"count": n})
	}
	return n, nil
}

func (s *reservationService) lock(ctx context.Context, tx *gorm.DB, boxID uuid.UUID) (*types.WarehouseBox, error) {
	box, err := s.boxes.LockByID(ctx, tx, boxID)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, apierr.NotFound("Коробка не найдена")
	}
	return box, nil
}
