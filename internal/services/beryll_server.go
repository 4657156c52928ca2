package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

const serverDetailHistory = 50

type ServerInput struct {
	IPAddress       string
	MACAddress      string
	Hostname        string
	SerialNumber    string
	APKSerialNumber string
	BMCAddress      string
	BatchID         *uuid.UUID
	Notes           string
}

type ComponentInput struct {
	Type              string
	Slot              string
	Manufacturer      string
	Model             string
	SerialNumber      string
	SerialNumberYadro string
	Status            string
}

type ServerService interface {
	List(ctx context.Context, f beryllrepo.ServerFilter, page pagination.Params) ([]*types.BeryllServer, int64, error)
	Get(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error)
	Create(ctx context.Context, in ServerInput) (*types.BeryllServer, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Archive(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error)

	Take(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error)
	Release(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, notes *string) (*types.BeryllServer, error)
	SetNotes(ctx context.Context, id uuid.UUID, notes string) (*types.BeryllServer, error)
	SetSerial(ctx context.Context, id uuid.UUID, apkSerial string) (*types.BeryllServer, error)

	History(ctx context.Context, id uuid.UUID) ([]*types.BeryllHistory, error)
	GlobalHistory(ctx context.Context, f beryllrepo.HistoryFilter, page pagination.Params) ([]*types.BeryllHistory, int64, error)

	Components(ctx context.Context, id uuid.UUID) ([]*types.ServerComponent, error)
	AddComponent(ctx context.Context, id uuid.UUID, in ComponentInput) (*types.ServerComponent, error)
	DeleteComponent(ctx context.Context, componentID uuid.UUID) error
}

type serverService struct {
	db         *gorm.DB
	log        *logger.Logger
	servers    beryllrepo.ServerRepo
	batches    beryllrepo.BatchRepo
	history    beryllrepo.HistoryRepo
	checklists beryllrepo.ChecklistRepo
	components beryllrepo.ComponentRepo
	publisher  realtime.Publisher
	audit      AuditService
	now        func() time.Time
}

func NewServerService(
	db *gorm.DB,
	log *logger.Logger,
	servers beryllrepo.ServerRepo,
	batches beryllrepo.BatchRepo,
	history beryllrepo.HistoryRepo,
	checklists beryllrepo.ChecklistRepo,
	components beryllrepo.ComponentRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) ServerService {
	return &serverService{
		db:         db,
		log:        log.With("service", "ServerService"),
		servers:    servers,
		batches:    batches,
		history:    history,
		checklists: checklists,
		components: components,
		publisher:  publisher,
		audit:      auditSvc,
		now:        time.Now,
	}
}

func (s *serverService) List(ctx context.Context, f beryllrepo.ServerFilter, page pagination.Params) ([]*types.BeryllServer, int64, error) {
	if f.Status != "" && !containsString(beryll.ServerStatuses, f.Status) {
		return nil, 0, apierr.BadRequest("Некорректный статус сервера: %s", f.Status)
	}
	return s.servers.List(ctx, nil, f, page.Normalize())
}

func (s *serverService) Get(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error) {
	srv, err := s.servers.GetDetail(ctx, nil, id, serverDetailHistory)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, apierr.NotFound("Сервер не найден")
	}
	return srv, nil
}

func (s *serverService) Create(ctx context.Context, in ServerInput) (*types.BeryllServer, error) {
	srv := &types.BeryllServer{
		IPAddress:       optString(in.IPAddress),
		MACAddress:      optString(in.MACAddress),
		Hostname:        optString(in.Hostname),
		SerialNumber:    optString(in.SerialNumber),
		APKSerialNumber: optString(in.APKSerialNumber),
		BMCAddress:      optString(in.BMCAddress),
		BatchID:         in.BatchID,
		Status:          beryll.ServerNew,
		PingStatus:      beryll.PingUnknown,
		Notes:           strings.TrimSpace(in.Notes),
	}
	if srv.IPAddress == nil && srv.Hostname == nil && srv.APKSerialNumber == nil && srv.SerialNumber == nil {
		return nil, apierr.BadRequest("Укажите IP, hostname или серийный номер")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if srv.APKSerialNumber != nil {
			if err := s.ensureSerialFree(ctx, tx, *srv.APKSerialNumber, uuid.Nil); err != nil {
				return err
			}
		}
		if srv.BatchID != nil {
			b, err := s.batches.GetByID(ctx, tx, *srv.BatchID)
			if err != nil {
				return err
			}
			if b == nil {
				return apierr.NotFound("Партия не найдена")
			}
		}
		if _, err := s.servers.Create(ctx, tx, srv); err != nil {
			return err
		}
		h := serverHistory(srv, ctxutil.UserIDPtr(ctx), beryll.HistoryCreated)
		h.ToStatus = &srv.Status
		return s.history.Create(ctx, tx, h)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllServer,
		Entity:      "BeryllServer",
		EntityID:    srv.ID.String(),
		Description: fmt.Sprintf("Добавлен сервер %s", srv.DisplayName()),
	})
	s.publish(ctx, srv)
	return srv, nil
}

func (s *serverService) Delete(ctx context.Context, id uuid.UUID) error {
	var srv *types.BeryllServer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if srv, err = s.lock(ctx, tx, id); err != nil {
			return err
		}
		if err := s.servers.Delete(ctx, tx, id); err != nil {
			return err
		}
		h := serverHistory(srv, ctxutil.UserIDPtr(ctx), beryll.HistoryDeleted)
		h.ServerID = nil
		h.Comment = fmt.Sprintf("Удалён сервер %s", srv.DisplayName())
		return s.history.Create(ctx, tx, h)
	})
	if err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllServer,
		Entity:      "BeryllServer",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Удалён сервер %s", srv.DisplayName()),
	})
	publishBeryll(ctx, s.log, s.publisher, realtime.SSEEventServerUpdated, map[string]any{"id": id, "deleted": true})
	return nil
}

func (s *serverService) Archive(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error) {
	now := s.now()
	uid := ctxutil.UserIDPtr(ctx)
	out, err := s.transition(ctx, id, func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error) {
		if srv.Status != beryll.ServerDone {
			return nil, nil, apierr.BadRequest("Архивировать можно только сервер в статусе DONE")
		}
		h := statusHistory(srv, uid, beryll.HistoryArchived, beryll.ServerArchived)
		return h, map[string]interface{}{
			"status":         beryll.ServerArchived,
			"archived_at":    now,
			"archived_by_id": uid,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllServer,
		Entity:      "BeryllServer",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Сервер %s перенесён в архив", out.DisplayName()),
	})
	return out, nil
}

func (s *serverService) Take(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	now := s.now()
	return s.transition(ctx, id, func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error) {
		if srv.AssignedToID != nil && srv.Status == beryll.ServerInWork {
			return nil, nil, apierr.Conflict("Сервер уже взят в работу")
		}
		if srv.Status == beryll.ServerArchived {
			return nil, nil, apierr.BadRequest("Сервер в архиве")
		}
		templates, err := s.checklists.ListTemplates(ctx, tx, true)
		if err != nil {
			return nil, nil, err
		}
		if err := s.checklists.InitForServer(ctx, tx, srv.ID, templates); err != nil {
			return nil, nil, err
		}
		return statusHistory(srv, &p.UserID, beryll.HistoryTaken, beryll.ServerInWork), map[string]interface{}{
			"status":         beryll.ServerInWork,
			"assigned_to_id": p.UserID,
			"assigned_at":    now,
		}, nil
	})
}

func (s *serverService) Release(ctx context.Context, id uuid.UUID) (*types.BeryllServer, error) {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	now := s.now()
	return s.transition(ctx, id, func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error) {
		owner := srv.AssignedToID != nil && *srv.AssignedToID == p.UserID
		if !owner && !p.IsSuperAdmin() {
			return nil, nil, apierr.Forbidden("Нет прав для освобождения этого сервера")
		}
		h := statusHistory(srv, &p.UserID, beryll.HistoryReleased, beryll.ServerNew)
		h.DurationMinutes = minutesSince(srv.AssignedAt, now)
		return h, map[string]interface{}{
			"status":         beryll.ServerNew,
			"assigned_to_id": nil,
			"assigned_at":    nil,
		}, nil
	})
}

func (s *serverService) SetStatus(ctx context.Context, id uuid.UUID, status string, notes *string) (*types.BeryllServer, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !containsString(beryll.ServerStatuses, status) {
		return nil, apierr.BadRequest("Некорректный статус сервера: %s", status)
	}
	if status == beryll.ServerArchived {
		return nil, apierr.BadRequest("Для архивации используйте отдельную операцию")
	}
	now := s.now()
	uid := ctxutil.UserIDPtr(ctx)
	return s.transition(ctx, id, func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error) {
		updates := map[string]interface{}{"status": status}
		h := statusHistory(srv, uid, beryll.HistoryStatusChanged, status)
		if notes != nil {
			updates["notes"] = *notes
			h.Comment = *notes
		}
		if status == beryll.ServerDone {
			missing, err := s.checklists.MissingRequired(ctx, tx, srv.ID)
			if err != nil {
				return nil, nil, err
			}
			if len(missing) > 0 {
				return nil, nil, apierr.BadRequest("Не выполнены обязательные пункты чек-листа: %s", strings.Join(missing, ", "))
			}
			updates["completed_at"] = now
			h.DurationMinutes = minutesSince(srv.AssignedAt, now)
		}
		return h, updates, nil
	})
}

func (s *serverService) SetNotes(ctx context.Context, id uuid.UUID, notes string) (*types.BeryllServer, error) {
	uid := ctxutil.UserIDPtr(ctx)
	return s.transition(ctx, id, func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error) {
		h := serverHistory(srv, uid, beryll.HistoryNoteAdded)
		h.Comment = notes
		return h, map[string]interface{}{"notes": notes}, nil
	})
}

func (s *serverService) SetSerial(ctx context.Context, id uuid.UUID, apkSerial string) (*types.BeryllServer, error) {
	apkSerial = strings.TrimSpace(apkSerial)
	if apkSerial == "" {
		return nil, apierr.BadRequest("Серийный номер обязателен")
	}
	uid := ctxutil.UserIDPtr(ctx)
	return s.transition(ctx, id, func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error) {
		if err := s.ensureSerialFree(ctx, tx, apkSerial, srv.ID); err != nil {
			return nil, nil, err
		}
		h := serverHistory(srv, uid, beryll.HistorySerialAssigned)
		h.Comment = fmt.Sprintf("Присвоен серийный номер %s", apkSerial)
		h.Metadata = jsonObject(map[string]any{"previous": srv.APKSerialNumber, "apkSerialNumber": apkSerial})
		return h, map[string]interface{}{"apk_serial_number": apkSerial}, nil
	})
}

func (s *serverService) History(ctx context.Context, id uuid.UUID) ([]*types.BeryllHistory, error) {
	if _, err := s.mustServer(ctx, nil, id); err != nil {
		return nil, err
	}
	return s.history.ListByServer(ctx, nil, id)
}

func (s *serverService) GlobalHistory(ctx context.Context, f beryllrepo.HistoryFilter, page pagination.Params) ([]*types.BeryllHistory, int64, error) {
	return s.history.List(ctx, nil, f, page.Normalize())
}

func (s *serverService) Components(ctx context.Context, id uuid.UUID) ([]*types.ServerComponent, error) {
	if _, err := s.mustServer(ctx, nil, id); err != nil {
		return nil, err
	}
	return s.components.ListByServer(ctx, nil, id)
}

func (s *serverService) AddComponent(ctx context.Context, id uuid.UUID, in ComponentInput) (*types.ServerComponent, error) {
	srv, err := s.mustServer(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	typ := strings.ToUpper(strings.TrimSpace(in.Type))
	if !containsString(beryll.ComponentTypes, typ) {
		return nil, apierr.BadRequest("Некорректный тип компонента: %s", in.Type)
	}
	status := strings.ToUpper(strings.TrimSpace(in.Status))
	if status == "" {
		status = beryll.ComponentOK
	}
	if !validComponentStatus(status) {
		return nil, apierr.BadRequest("Некорректный статус компонента: %s", in.Status)
	}
	now := s.now()
	c := &types.ServerComponent{
		ServerID:          srv.ID,
		Type:              typ,
		Slot:              strings.TrimSpace(in.Slot),
		Manufacturer:      strings.TrimSpace(in.Manufacturer),
		Model:             strings.TrimSpace(in.Model),
		SerialNumber:      optString(in.SerialNumber),
		SerialNumberYadro: optString(in.SerialNumberYadro),
		Status:            status,
		InstalledAt:       &now,
	}
	if err := s.components.Create(ctx, nil, c); err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllServer,
		Entity:      "ServerComponent",
		EntityID:    c.ID.String(),
		Description: fmt.Sprintf("Добавлен компонент %s %s в сервер %s", c.Type, c.Slot, srv.DisplayName()),
	})
	return c, nil
}

func (s *serverService) DeleteComponent(ctx context.Context, componentID uuid.UUID) error {
	n, err := s.components.Delete(ctx, nil, componentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("Компонент не найден")
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionBeryllServer, Entity: "ServerComponent", EntityID: componentID.String()})
	return nil
}

// mutateFn inspects the locked server and returns the history entry and the
// column updates to apply.
type mutateFn func(tx *gorm.DB, srv *types.BeryllServer) (*types.BeryllHistory, map[string]interface{}, error)

func (s *serverService) transition(ctx context.Context, id uuid.UUID, fn mutateFn) (*types.BeryllServer, error) {
	var out *types.BeryllServer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		srv, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		h, updates, err := fn(tx, srv)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := s.servers.Update(ctx, tx, id, updates); err != nil {
				return err
			}
		}
		if h != nil {
			if err := s.history.Create(ctx, tx, h); err != nil {
				return err
			}
		}
		out, err = s.servers.GetByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, out)
	return out, nil
}

func (s *serverService) ensureSerialFree(ctx context.Context, tx *gorm.DB, serial string, self uuid.UUID) error {
	other, err := s.servers.GetByAPKSerial(ctx, tx, serial)
	if err != nil {
		return err
	}
	if other != nil && other.ID != self {
		return apierr.Conflict("Серийный номер %s уже присвоен серверу %s", serial, other.DisplayName())
	}
	return nil
}

func (s *serverService) lock(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllServer, error) {
	srv, err := s.servers.LockByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, apierr.NotFound("Сервер не найден")
	}
	return srv, nil
}

func (s *serverService) mustServer(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.BeryllServer, error) {
	srv, err := s.servers.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, apierr.NotFound("Сервер не найден")
	}
	return srv, nil
}

func (s *serverService) publish(ctx context.Context, srv *types.BeryllServer) {
	publishBeryll(ctx, s.log, s.publisher, realtime.SSEEventServerUpdated, srv)
}

func publishBeryll(ctx context.Context, log *logger.Logger, p realtime.Publisher, event realtime.SSEEvent, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelBeryll, Event: event, Data: data}); err != nil {
		log.Debug("publish failed", "event", event, "error", err)
	}
}

// serverHistory snapshots the server address so the entry stays readable
// after the server is deleted.
func serverHistory(srv *types.BeryllServer, userID *uuid.UUID, action string) *types.BeryllHistory {
	id := srv.ID
	return &types.BeryllHistory{
		ServerID:       &id,
		ServerIP:       srv.IPAddress,
		ServerHostname: srv.Hostname,
		UserID:         userID,
		Action:         action,
	}
}

func statusHistory(srv *types.BeryllServer, userID *uuid.UUID, action, to string) *types.BeryllHistory {
	h := serverHistory(srv, userID, action)
	from := srv.Status
	h.FromStatus = &from
	h.ToStatus = &to
	return h
}

func minutesSince(t *time.Time, now time.Time) *int {
	if t == nil {
		return nil
	}
	m := int(now.Sub(*t).Minutes())
	return &m
}

func jsonObject(m map[string]any) datatypes.JSON {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validComponentStatus(st string) bool {
	switch st {
	case beryll.ComponentOK, beryll.ComponentWarning, beryll.ComponentCritical,
		beryll.ComponentUnknown, beryll.ComponentNotPresent, beryll.ComponentReplaced:
		return true
	}
	return false
}
