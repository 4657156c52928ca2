package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

// AuditExportLimit caps the rows written to an audit spreadsheet.
const AuditExportLimit = 10000

type AuditEntry struct {
	UserID      *uuid.UUID
	Action      string
	Entity      string
	EntityID    string
	Description string
	Metadata    map[string]any
}

type AuditService interface {
	// Log records an entry after the fact. It never fails the caller.
	Log(ctx context.Context, e AuditEntry)
	List(ctx context.Context, f auditrepo.Filter, page pagination.Params) ([]*types.AuditLog, int64, error)
	ListForExport(ctx context.Context, f auditrepo.Filter) ([]*types.AuditLog, error)
}

type auditService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      auditrepo.AuditLogRepo
	publisher realtime.Publisher
	metrics   *observability.Metrics
}

func NewAuditService(db *gorm.DB, log *logger.Logger, repo auditrepo.AuditLogRepo, publisher realtime.Publisher, metrics *observability.Metrics) AuditService {
	return &auditService{
		db:        db,
		log:       log.With("service", "AuditService"),
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
	}
}

func (s *auditService) Log(ctx context.Context, e AuditEntry) {
	ctx = ctxutil.Default(ctx)
	userID := e.UserID
	if userID == nil {
		userID = ctxutil.UserIDPtr(ctx)
	}

	meta := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if cd := ctxutil.GetClientData(ctx); cd != nil {
		if cd.IP != "" {
			meta["ip"] = firstForwarded(cd.IP)
		}
		if cd.UserAgent != "" {
			meta["userAgent"] = cd.UserAgent
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte(`{}`)
	}

	entry := &types.AuditLog{
		UserID:      userID,
		Action:      e.Action,
		Entity:      e.Entity,
		EntityID:    e.EntityID,
		Description: e.Description,
		Metadata:    datatypes.JSON(raw),
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, nil, entry); err != nil {
		s.log.Warn("audit write failed", "action", e.Action, "entity", e.Entity, "entity_id", e.EntityID, "error", err)
		s.metrics.IncAuditWriteFailure()
		return
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, realtime.SSEMessage{
			Channel: realtime.ChannelAudit,
			Event:   realtime.SSEEventAuditLogged,
			Data:    entry,
		}); err != nil {
			s.log.Debug("audit publish failed", "error", err)
		}
	}
}

func (s *auditService) List(ctx context.Context, f auditrepo.Filter, page pagination.Params) ([]*types.AuditLog, int64, error) {
	return s.repo.List(ctx, nil, f, page.Normalize())
}

func (s *auditService) ListForExport(ctx context.Context, f auditrepo.Filter) ([]*types.AuditLog, error) {
	return s.repo.ListForExport(ctx, nil, f, AuditExportLimit)
}

// firstForwarded returns the first hop of an X-Forwarded-For style value.
func firstForwarded(ip string) string {
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = ip[:i]
	}
	return strings.TrimSpace(ip)
}
