package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
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
	"github.com/kryptonit/mes-backend/internal/platform/storage"
)

type SupplyInput struct {
	DocNumber    string
	Supplier     string
	Status       string
	Comment      string
	ExpectedDate *time.Time
}

type LimitInput struct {
	OriginType  string
	OriginID    string
	Label       string
	MinQuantity int
}

type DocumentInput struct {
	BoxID   *uuid.UUID
	Number  string
	Type    string
	Date    *time.Time
	Comment string
}

// DocumentFile is an optional scan attached to a document.
type DocumentFile struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// WarehouseCatalogService covers supplies, stock limits and documents.
type WarehouseCatalogService interface {
	CreateSupply(ctx context.Context, in SupplyInput) (*types.Supply, error)
	ListSupplies(ctx context.Context, page pagination.Params) ([]*types.Supply, int64, error)

	ListLimits(ctx context.Context) ([]*types.InventoryLimit, error)
	UpsertLimit(ctx context.Context, in LimitInput) (*types.InventoryLimit, error)
	DeleteLimit(ctx context.Context, id uuid.UUID) error
	Alerts(ctx context.Context) ([]warehouserepo.AlertRow, error)

	ListDocuments(ctx context.Context, boxID *uuid.UUID) ([]*types.WarehouseDocument, error)
	CreateDocument(ctx context.Context, in DocumentInput, file *DocumentFile) (*types.WarehouseDocument, error)
}

type warehouseCatalogService struct {
	db        *gorm.DB
	log       *logger.Logger
	supplies  warehouserepo.SupplyRepo
	limits    warehouserepo.InventoryLimitRepo
	documents warehouserepo.DocumentRepo
	boxes     warehouserepo.BoxRepo
	store     storage.ObjectStore
	audit     AuditService
}

func NewWarehouseCatalogService(
	db *gorm.DB,
	log *logger.Logger,
	supplies warehouserepo.SupplyRepo,
	limits warehouserepo.InventoryLimitRepo,
	documents warehouserepo.DocumentRepo,
	boxes warehouserepo.BoxRepo,
	store storage.ObjectStore,
	auditSvc AuditService,
) WarehouseCatalogService {
	return &warehouseCatalogService{
		db:        db,
		log:       log.With("service", "WarehouseCatalogService"),
		supplies:  supplies,
		limits:    limits,
		documents: documents,
		boxes:     boxes,
		store:     store,
		audit:     auditSvc,
	}
}

func (s *warehouseCatalogService) CreateSupply(ctx context.Context, in SupplyInput) (*types.Supply, error) {
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = warehouse.SupplyStatusNew
	}
	switch status {
	case warehouse.SupplyStatusNew, warehouse.SupplyStatusReceived, warehouse.SupplyStatusClosed:
	default:
		return nil, apierr.BadRequest("Некорректный статус поставки: %s", status)
	}
	sup := &types.Supply{
		DocNumber:    strings.TrimSpace(in.DocNumber),
		Supplier:     strings.TrimSpace(in.Supplier),
		Status:       status,
		Comment:      strings.TrimSpace(in.Comment),
		ExpectedDate: in.ExpectedDate,
	}
	if status == warehouse.SupplyStatusReceived {
		now := time.Now()
		sup.ReceivedAt = &now
	}
	out, err := s.supplies.Create(ctx, nil, sup)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionSupplyCreate,
		Entity:      "Supply",
		EntityID:    out.ID.String(),
		Description: fmt.Sprintf("Создана поставка %s от %s", out.DocNumber, out.Supplier),
	})
	return out, nil
}

func (s *warehouseCatalogService) ListSupplies(ctx context.Context, page pagination.Params) ([]*types.Supply, int64, error) {
	return s.supplies.List(ctx, nil, page.Normalize())
}

func (s *warehouseCatalogService) ListLimits(ctx context.Context) ([]*types.InventoryLimit, error) {
	return s.limits.List(ctx, nil)
}

func (s *warehouseCatalogService) UpsertLimit(ctx context.Context, in LimitInput) (*types.InventoryLimit, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return nil, apierr.BadRequest("Не указано наименование")
	}
	if in.MinQuantity < 0 {
		return nil, apierr.BadRequest("Минимальный остаток не может быть отрицательным")
	}
	l, err := s.limits.Upsert(ctx, nil, &types.InventoryLimit{
		OriginType:  strings.TrimSpace(in.OriginType),
		OriginID:    strings.TrimSpace(in.OriginID),
		Label:       label,
		MinQuantity: in.MinQuantity,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionLimitUpsert,
		Entity:      "InventoryLimit",
		EntityID:    l.ID.String(),
		Description: fmt.Sprintf("Минимальный остаток %s: %d", label, in.MinQuantity),
	})
	return l, nil
}

func (s *warehouseCatalogService) DeleteLimit(ctx context.Context, id uuid.UUID) error {
	n, err := s.limits.Delete(ctx, nil, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("Лимит не найден")
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionLimitDelete, Entity: "InventoryLimit", EntityID: id.String()})
	return nil
}

func (s *warehouseCatalogService) Alerts(ctx context.Context) ([]warehouserepo.AlertRow, error) {
	rows, err := s.limits.Alerts(ctx, nil)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []warehouserepo.AlertRow{}
	}
	return rows, nil
}

func (s *warehouseCatalogService) ListDocuments(ctx context.Context, boxID *uuid.UUID) ([]*types.WarehouseDocument, error) {
	return s.documents.List(ctx, nil, boxID)
}

func (s *warehouseCatalogService) CreateDocument(ctx context.Context, in DocumentInput, file *DocumentFile) (*types.WarehouseDocument, error) {
	if in.BoxID != nil {
		box, err := s.boxes.GetByID(ctx, nil, *in.BoxID)
		if err != nil {
			return nil, err
		}
		if box == nil {
			return nil, apierr.NotFound("Коробка не найдена")
		}
	}
	doc := &types.WarehouseDocument{
		ID:          uuid.New(),
		BoxID:       in.BoxID,
		Number:      strings.TrimSpace(in.Number),
		Type:        strings.TrimSpace(in.Type),
		Comment:     strings.TrimSpace(in.Comment),
		Date:        time.Now(),
		CreatedByID: ctxutil.UserIDPtr(ctx),
	}
	if in.Date != nil {
		doc.Date = *in.Date
	}

	var key string
	if file != nil && file.Body != nil {
		if s.store == nil {
			return nil, apierr.New(http.StatusServiceUnavailable, "storage_unavailable", errors.New("Хранилище файлов не настроено"))
		}
		key = fmt.Sprintf("%s/%s%s", doc.ID, time.Now().Format("20060102150405"), strings.ToLower(path.Ext(file.Name)))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		if err := s.store.Put(ctx, storage.CategoryDocument, key, file.Body, ct); err != nil {
			return nil, fmt.Errorf("store document: %w", err)
		}
		doc.FileURL = s.store.PublicURL(storage.CategoryDocument, key)
	}

	out, err := s.documents.Create(ctx, nil, doc)
	if err != nil {
		if key != "" {
			if derr := s.store.Delete(ctx, storage.CategoryDocument, key); derr != nil {
				s.log.Warn("orphaned document object", "key", key, "error", derr)
			}
		}
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDocumentCreate,
		Entity:      "WarehouseDocument",
		EntityID:    out.ID.String(),
		Description: fmt.Sprintf("Добавлен документ %s", out.Number),
		Metadata:    map[string]any{"fileUrl": out.FileURL},
	})
	return out, nil
}
