package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

type BatchInput struct {
	Title         *string
	Supplier      *string
	DeliveryDate  *time.Time
	Status        *string
	ExpectedCount *int
	Notes         *string
}

type BatchDetail struct {
	*types.BeryllBatch
	Stats map[string]int64 `json:"stats"`
	Total int64            `json:"totalCount"`
}

type BatchService interface {
	List(ctx context.Context, status string) ([]*types.BeryllBatch, error)
	Get(ctx context.Context, id uuid.UUID) (*BatchDetail, error)
	Create(ctx context.Context, in BatchInput) (*types.BeryllBatch, error)
	Update(ctx context.Context, id uuid.UUID, in BatchInput) (*types.BeryllBatch, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Assign(ctx context.Context, id uuid.UUID, serverIDs []uuid.UUID) (int64, error)
	Unassign(ctx context.Context, id uuid.UUID, serverIDs []uuid.UUID) (int64, error)
}

type batchService struct {
	db        *gorm.DB
	log       *logger.Logger
	batches   beryllrepo.BatchRepo
	servers   beryllrepo.ServerRepo
	history   beryllrepo.HistoryRepo
	publisher realtime.Publisher
	audit     AuditService
}

func NewBatchService(
	db *gorm.DB,
	log *logger.Logger,
	batches beryllrepo.BatchRepo,
	servers beryllrepo.ServerRepo,
	history beryllrepo.HistoryRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) BatchService {
	return &batchService{
		db:        db,
		log:       log.With("service", "BatchService"),
		batches:   batches,
		servers:   servers,
		history:   history,
		publisher: publisher,
		audit:     auditSvc,
	}
}

func (s *batchService) List(ctx context.Context, status string) ([]*types.BeryllBatch, error) {
	return s.batches.List(ctx, nil, strings.ToUpper(strings.TrimSpace(status)))
}

func (s *batchService) Get(ctx context.Context, id uuid.UUID) (*BatchDetail, error) {
	b, err := s.mustBatch(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.batches.StatusCounts(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	out := &BatchDetail{BeryllBatch: b, Stats: make(map[string]int64, len(counts))}
	for _, c := range counts {
		out.Stats[c.Key] = c.Count
		out.Total += c.Count
	}
	return out, nil
}

func (s *batchService) Create(ctx context.Context, in BatchInput) (*types.BeryllBatch, error) {
	title := trimPtr(in.Title)
	if title == "" {
		return nil, apierr.BadRequest("Название партии обязательно")
	}
	if in.ExpectedCount != nil && *in.ExpectedCount < 0 {
		return nil, apierr.BadRequest("Ожидаемое количество не может быть отрицательным")
	}
	b, err := s.batches.Create(ctx, nil, &types.BeryllBatch{
		Title:         title,
		Supplier:      trimPtr(in.Supplier),
		DeliveryDate:  in.DeliveryDate,
		Status:        beryll.BatchActive,
		ExpectedCount: in.ExpectedCount,
		Notes:         trimPtr(in.Notes),
		CreatedByID:   ctxutil.UserIDPtr(ctx),
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllBatch,
		Entity:      "BeryllBatch",
		EntityID:    b.ID.String(),
		Description: fmt.Sprintf("Создана партия %s", b.Title),
	})
	return b, nil
}

func (s *batchService) Update(ctx context.Context, id uuid.UUID, in BatchInput) (*types.BeryllBatch, error) {
	if _, err := s.mustBatch(ctx, nil, id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apierr.BadRequest("Название партии обязательно")
		}
		updates["title"] = title
	}
	if in.Supplier != nil {
		updates["supplier"] = strings.TrimSpace(*in.Supplier)
	}
	if in.DeliveryDate != nil {
		updates["delivery_date"] = *in.DeliveryDate
	}
	if in.ExpectedCount != nil {
		updates["expected_count"] = *in.ExpectedCount
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if in.Status != nil {
		st := strings.ToUpper(strings.TrimSpace(*in.Status))
		switch st {
		case beryll.BatchActive, beryll.BatchCancelled:
			updates["completed_at"] = nil
		case beryll.BatchCompleted:
			updates["completed_at"] = time.Now()
		default:
			return nil, apierr.BadRequest("Некорректный статус партии: %s", st)
		}
		updates["status"] = st
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("Нет данных для обновления")
	}
	if err := s.batches.Update(ctx, nil, id, updates); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:   audit.ActionBeryllBatch,
		Entity:   "BeryllBatch",
		EntityID: id.String(),
		Metadata: map[string]any{"updates": updates},
	})
	return s.batches.GetByID(ctx, nil, id)
}

func (s *batchService) Delete(ctx context.Context, id uuid.UUID) error {
	b, err := s.mustBatch(ctx, nil, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.batches.Delete(ctx, tx, id)
	}); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllBatch,
		Entity:      "BeryllBatch",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Удалена партия %s", b.Title),
	})
	return nil
}

func (s *batchService) Assign(ctx context.Context, id uuid.UUID, serverIDs []uuid.UUID) (int64, error) {
	return s.setBatch(ctx, id, serverIDs, true)
}

func (s *batchService) Unassign(ctx context.Context, id uuid.UUID, serverIDs []uuid.UUID) (int64, error) {
	return s.setBatch(ctx, id, serverIDs, false)
}

func (s *batchService) setBatch(ctx context.Context, id uuid.UUID, serverIDs []uuid.UUID, assign bool) (int64, error) {
	if len(serverIDs) == 0 {
		return 0, apierr.BadRequest("Укажите ID серверов")
	}
	uid := ctxutil.UserIDPtr(ctx)
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.mustBatch(ctx, tx, id)
		if err != nil {
			return err
		}
		servers, err := s.servers.ListByIDs(ctx, tx, serverIDs)
		if err != nil {
			return err
		}
		picked := servers[:0]
		for _, srv := range servers {
			// unassign only detaches servers that belong to this batch
			if !assign && (srv.BatchID == nil || *srv.BatchID != id) {
				continue
			}
			picked = append(picked, srv)
		}
		if len(picked) == 0 {
			return nil
		}

		var target *uuid.UUID
		action, comment := beryll.HistoryBatchRemoved, fmt.Sprintf("Отвязан от партии: %s", b.Title)
		if assign {
			target = &id
			action, comment = beryll.HistoryBatchAssigned, fmt.Sprintf("Привязан к партии: %s", b.Title)
		}
		ids := make([]uuid.UUID, 0, len(picked))
		entries := make([]*types.BeryllHistory, 0, len(picked))
		meta := jsonObject(map[string]any{"batchId": id, "batchTitle": b.Title})
		for _, srv := range picked {
			ids = append(ids, srv.ID)
			h := serverHistory(srv, uid, action)
			h.Comment = comment
			h.Metadata = meta
			entries = append(entries, h)
		}
		if n, err = s.servers.SetBatch(ctx, tx, ids, target); err != nil {
			return err
		}
		return s.history.Create(ctx, tx, entries...)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		publishBeryll(ctx, s.log, s.publisher, realtime.SSEEventServerUpdated, map[string]any{"batchId": id, "count": n})
		s.audit.Log(ctx, AuditEntry{
			Action:   audit.ActionBeryllBatch,
			Entity:   "BeryllBatch",
			EntityID: id.String(),
			Metadata: map[string]any{"assign": assign, "count": n},
		})
	}
	return n, nil
}

func (s *batchService) mustBatch(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllBatch, error) {
	b, err := s.batches.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierr.NotFound("Партия не найдена")
	}
	return b, nil
}
