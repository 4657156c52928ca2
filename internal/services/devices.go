package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	defectrepo "github.com/kryptonit/mes-backend/internal/data/repos/defect"
	devicerepo "github.com/kryptonit/mes-backend/internal/data/repos/device"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/device"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

// MaxDefectiveBatch caps one bulk add or removal of serial-less defective units.
const MaxDefectiveBatch = 500

type DeviceInput struct {
	Serial          *string
	Firmware        *bool
	FirmwareVersion *string
	StandTest       *bool
	SAWFilter       *bool
	CategoryID      *uuid.UUID
	ClearCategory   bool
	SessionID       *uuid.UUID
	Comment         *string
}

type StandTestInput struct {
	Serial          string
	Passed          bool
	CategoryID      *uuid.UUID
	FirmwareVersion string
	Comment         string
}

type StandTestResult struct {
	Device  *types.Device `json:"device"`
	Created bool          `json:"created"`
}

type DefectiveCount struct {
	Category *types.DefectCategory `json:"category"`
	Count    int64                 `json:"count"`
}

type DeviceService interface {
	List(ctx context.Context, kind string, f devicerepo.Filter, page pagination.Params) ([]*types.Device, int64, error)
	Get(ctx context.Context, kind string, id uuid.UUID) (*types.Device, error)
	GetBySerial(ctx context.Context, kind, serial string) (*types.Device, error)
	Create(ctx context.Context, kind string, in DeviceInput) (*types.Device, error)
	Update(ctx context.Context, kind string, id uuid.UUID, in DeviceInput) (*types.Device, error)
	Delete(ctx context.Context, kind string, id uuid.UUID) error
	DeleteBySerial(ctx context.Context, kind, serial string) error

	// AddDefective records count serial-less units rejected with the category.
	AddDefective(ctx context.Context, kind string, categoryID uuid.UUID, count int) (int, error)
	RemoveDefective(ctx context.Context, kind string, categoryID uuid.UUID, count int) (int64, error)
	DefectiveSummary(ctx context.Context, kind string) ([]DefectiveCount, error)

	// RecordStandTest upserts the unit by serial with the stand verdict.
	RecordStandTest(ctx context.Context, kind string, in StandTestInput) (*StandTestResult, error)

	Defects(ctx context.Context, kind string, id uuid.UUID) ([]*types.BoardDefect, error)
	OpenDefect(ctx context.Context, kind string, id uuid.UUID, categoryID *uuid.UUID, description string) (*types.BoardDefect, error)
}

type deviceService struct {
	db         *gorm.DB
	log        *logger.Logger
	devices    devicerepo.Repo
	categories defectrepo.CategoryRepo
	defects    defectrepo.BoardDefectRepo
	sessions   userrepo.SessionRepo
	defectSvc  DefectService
	publisher  realtime.Publisher
	audit      AuditService
}

func NewDeviceService(
	db *gorm.DB,
	log *logger.Logger,
	devices devicerepo.Repo,
	categories defectrepo.CategoryRepo,
	defects defectrepo.BoardDefectRepo,
	sessions userrepo.SessionRepo,
	defectSvc DefectService,
	publisher realtime.Publisher,
	auditSvc AuditService,
) DeviceService {
	return &deviceService{
		db:         db,
		log:        log.With("service", "DeviceService"),
		devices:    devices,
		categories: categories,
		defects:    defects,
		sessions:   sessions,
		defectSvc:  defectSvc,
		publisher:  publisher,
		audit:      auditSvc,
	}
}

func parseDeviceKind(raw string) (string, error) {
	kind, ok := device.ParseKind(raw)
	if !ok {
		return "", apierr.BadRequest("Неизвестный тип устройства: %s", raw)
	}
	return kind, nil
}

func (s *deviceService) List(ctx context.Context, kind string, f devicerepo.Filter, page pagination.Params) ([]*types.Device, int64, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, 0, err
	}
	f.Kind = k
	return s.devices.List(ctx, nil, f, page.Normalize())
}

func (s *deviceService) Get(ctx context.Context, kind string, id uuid.UUID) (*types.Device, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	return s.mustDevice(ctx, nil, k, id)
}

func (s *deviceService) GetBySerial(ctx context.Context, kind, serial string) (*types.Device, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	d, err := s.devices.GetBySerial(ctx, nil, k, strings.TrimSpace(serial))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierr.NotFound("Устройство %s не найдено", serial)
	}
	return d, nil
}

func (s *deviceService) Create(ctx context.Context, kind string, in DeviceInput) (*types.Device, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	serial := trimPtr(in.Serial)
	if serial == "" {
		return nil, apierr.BadRequest("Серийный номер обязателен")
	}
	if in.CategoryID != nil {
		if err := s.requireCategory(ctx, *in.CategoryID); err != nil {
			return nil, err
		}
	}
	d := &types.Device{
		ID:              uuid.New(),
		Kind:            k,
		Serial:          &serial,
		FirmwareVersion: trimPtr(in.FirmwareVersion),
		StandTest:       in.StandTest,
		SAWFilter:       in.SAWFilter,
		CategoryID:      in.CategoryID,
		Comment:         trimPtr(in.Comment),
	}
	if in.Firmware != nil {
		d.Firmware = *in.Firmware
	}
	d.SessionID, err = s.sessionFor(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.devices.GetBySerial(ctx, tx, k, serial)
		if err != nil {
			return err
		}
		if existing != nil {
			return apierr.Conflict("Устройство с серийным номером %s уже существует", serial)
		}
		_, err = s.devices.Create(ctx, tx, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDeviceCreate,
		Entity:      "Device",
		EntityID:    d.ID.String(),
		Description: fmt.Sprintf("Добавлено устройство %s %s", k, serial),
	})
	s.publish(ctx, d)
	return d, nil
}

func (s *deviceService) Update(ctx context.Context, kind string, id uuid.UUID, in DeviceInput) (*types.Device, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Firmware != nil {
		updates["firmware"] = *in.Firmware
	}
	if in.FirmwareVersion != nil {
		updates["firmware_version"] = strings.TrimSpace(*in.FirmwareVersion)
	}
	if in.StandTest != nil {
		updates["stand_test"] = *in.StandTest
	}
	if in.SAWFilter != nil {
		updates["saw_filter"] = *in.SAWFilter
	}
	if in.Comment != nil {
		updates["comment"] = strings.TrimSpace(*in.Comment)
	}
	if in.SessionID != nil {
		updates["session_id"] = *in.SessionID
	}
	switch {
	case in.ClearCategory:
		updates["category_id"] = nil
	case in.CategoryID != nil:
		if err := s.requireCategory(ctx, *in.CategoryID); err != nil {
			return nil, err
		}
		updates["category_id"] = *in.CategoryID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.mustDevice(ctx, tx, k, id)
		if err != nil {
			return err
		}
		if in.Serial != nil {
			serial := strings.TrimSpace(*in.Serial)
			if serial == "" {
				return apierr.BadRequest("Серийный номер не может быть пустым")
			}
			if cur.Serial == nil || *cur.Serial != serial {
				other, err := s.devices.GetBySerial(ctx, tx, k, serial)
				if err != nil {
					return err
				}
				if other != nil {
					return apierr.Conflict("Устройство с серийным номером %s уже существует", serial)
				}
				updates["serial"] = serial
			}
		}
		if len(updates) == 0 {
			return apierr.BadRequest("Нет данных для обновления")
		}
		return s.devices.Update(ctx, tx, id, updates)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{Action: audit.ActionDeviceUpdate, Entity: "Device", EntityID: id.String(), Metadata: map[string]any{"updates": updates}})
	d, err := s.mustDevice(ctx, nil, k, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, d)
	return d, nil
}

func (s *deviceService) Delete(ctx context.Context, kind string, id uuid.UUID) error {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return err
	}
	d, err := s.mustDevice(ctx, nil, k, id)
	if err != nil {
		return err
	}
	if err := s.devices.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDeviceDelete,
		Entity:      "Device",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Удалено устройство %s %s", k, deref(d.Serial)),
	})
	return nil
}

func (s *deviceService) DeleteBySerial(ctx context.Context, kind, serial string) error {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return err
	}
	serial = strings.TrimSpace(serial)
	n, err := s.devices.DeleteBySerial(ctx, nil, k, serial)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("Устройство %s не найдено", serial)
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDeviceDelete,
		Entity:      "Device",
		EntityID:    serial,
		Description: fmt.Sprintf("Удалено устройство %s %s", k, serial),
	})
	return nil
}

func (s *deviceService) AddDefective(ctx context.Context, kind string, categoryID uuid.UUID, count int) (int, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return 0, err
	}
	if count < 1 || count > MaxDefectiveBatch {
		return 0, apierr.BadRequest("Количество должно быть от 1 до %d", MaxDefectiveBatch)
	}
	if err := s.requireCategory(ctx, categoryID); err != nil {
		return 0, err
	}
	sessionID, err := s.sessionFor(ctx, nil)
	if err != nil {
		return 0, err
	}
	rows := make([]*types.Device, 0, count)
	for i := 0; i < count; i++ {
		cat := categoryID
		rows = append(rows, &types.Device{ID: uuid.New(), Kind: k, CategoryID: &cat, SessionID: sessionID})
	}
	if err := s.devices.CreateBatch(ctx, nil, rows); err != nil {
		return 0, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDeviceBulk,
		Entity:      "Device",
		EntityID:    categoryID.String(),
		Description: fmt.Sprintf("Добавлено %d бракованных %s", count, k),
		Metadata:    map[string]any{"kind": k, "count": count, "categoryId": categoryID},
	})
	s.publish(ctx, map[string]any{"kind": k, "added": count})
	return count, nil
}

func (s *deviceService) RemoveDefective(ctx context.Context, kind string, categoryID uuid.UUID, count int) (int64, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return 0, err
	}
	if count < 1 || count > MaxDefectiveBatch {
		return 0, apierr.BadRequest("Количество должно быть от 1 до %d", MaxDefectiveBatch)
	}
	var removed int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = s.devices.DeleteNewestByCategory(ctx, tx, k, categoryID, count)
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, apierr.NotFound("Нет бракованных устройств этой категории")
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionDeviceBulk,
		Entity:      "Device",
		EntityID:    categoryID.String(),
		Description: fmt.Sprintf("Удалено %d бракованных %s", removed, k),
		Metadata:    map[string]any{"kind": k, "count": removed, "categoryId": categoryID},
	})
	s.publish(ctx, map[string]any{"kind": k, "removed": removed})
	return removed, nil
}

func (s *deviceService) DefectiveSummary(ctx context.Context, kind string) ([]DefectiveCount, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	counts, err := s.devices.CountDefectiveByCategory(ctx, nil, k)
	if err != nil {
		return nil, err
	}
	out := make([]DefectiveCount, 0, len(counts))
	for _, c := range counts {
		cat, err := s.categories.GetByID(ctx, nil, c.CategoryID)
		if err != nil {
			return nil, err
		}
		out = append(out, DefectiveCount{Category: cat, Count: c.Count})
	}
	return out, nil
}

// RecordStandTest keeps the firmware flag of a known unit on failure; a unit
// first seen on the stand with a failure is recorded as not flashed.
func (s *deviceService) RecordStandTest(ctx context.Context, kind string, in StandTestInput) (*StandTestResult, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	serial := strings.TrimSpace(in.Serial)
	if serial == "" {
		return nil, apierr.BadRequest("Серийный номер обязателен")
	}
	if !in.Passed && in.CategoryID != nil {
		if err := s.requireCategory(ctx, *in.CategoryID); err != nil {
			return nil, err
		}
	}
	sessionID, err := s.sessionFor(ctx, nil)
	if err != nil {
		return nil, err
	}

	res := &StandTestResult{}
	var id uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.devices.GetBySerial(ctx, tx, k, serial)
		if err != nil {
			return err
		}
		if cur == nil {
			d := &types.Device{
				ID:              uuid.New(),
				Kind:            k,
				Serial:          &serial,
				Firmware:        in.Passed,
				FirmwareVersion: strings.TrimSpace(in.FirmwareVersion),
				StandTest:       &in.Passed,
				SessionID:       sessionID,
				Comment:         strings.TrimSpace(in.Comment),
			}
			if !in.Passed {
				d.CategoryID = in.CategoryID
			}
			if _, err := s.devices.Create(ctx, tx, d); err != nil {
				return err
			}
			id, res.Created = d.ID, true
			return nil
		}

		updates := map[string]any{"stand_test": in.Passed}
		if in.Passed {
			updates["firmware"] = true
			updates["category_id"] = nil
		} else if in.CategoryID != nil {
			updates["category_id"] = *in.CategoryID
		}
		if v := strings.TrimSpace(in.FirmwareVersion); v != "" {
			updates["firmware_version"] = v
		}
		if c := strings.TrimSpace(in.Comment); c != "" {
			updates["comment"] = c
		}
		if sessionID != nil {
			updates["session_id"] = *sessionID
		}
		id = cur.ID
		return s.devices.Update(ctx, tx, cur.ID, updates)
	})
	if err != nil {
		return nil, err
	}

	verdict := "пройден"
	if !in.Passed {
		verdict = "не пройден"
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionStandTest,
		Entity:      "Device",
		EntityID:    id.String(),
		Description: fmt.Sprintf("Стенд %s %s: %s", k, serial, verdict),
		Metadata:    map[string]any{"passed": in.Passed, "created": res.Created},
	})
	res.Device, err = s.devices.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, res.Device)
	return res, nil
}

func (s *deviceService) Defects(ctx context.Context, kind string, id uuid.UUID) ([]*types.BoardDefect, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	d, err := s.mustDevice(ctx, nil, k, id)
	if err != nil {
		return nil, err
	}
	if d.Serial == nil {
		return []*types.BoardDefect{}, nil
	}
	return s.defects.ListBySerial(ctx, nil, k, *d.Serial)
}

func (s *deviceService) OpenDefect(ctx context.Context, kind string, id uuid.UUID, categoryID *uuid.UUID, description string) (*types.BoardDefect, error) {
	k, err := parseDeviceKind(kind)
	if err != nil {
		return nil, err
	}
	d, err := s.mustDevice(ctx, nil, k, id)
	if err != nil {
		return nil, err
	}
	if d.Serial == nil {
		return nil, apierr.BadRequest("У устройства нет серийного номера")
	}
	if categoryID == nil {
		categoryID = d.CategoryID
	}
	boardID := d.ID.String()
	return s.defectSvc.Create(ctx, BoardDefectInput{
		BoardType:    k,
		BoardID:      &boardID,
		SerialNumber: *d.Serial,
		CategoryID:   categoryID,
		Description:  description,
	})
}

func (s *deviceService) mustDevice(ctx context.Context, tx *gorm.DB, kind string, id uuid.UUID) (*types.Device, error) {
	d, err := s.devices.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Kind != kind {
		return nil, apierr.NotFound("Устройство не найдено")
	}
	return d, nil
}

func (s *deviceService) requireCategory(ctx context.Context, id uuid.UUID) error {
	c, err := s.categories.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if c == nil {
		return apierr.NotFound("Категория не найдена")
	}
	if !c.IsActive {
		return apierr.BadRequest("Категория неактивна")
	}
	return nil
}

// sessionFor falls back to the caller's current online session.
func (s *deviceService) sessionFor(ctx context.Context, explicit *uuid.UUID) (*uuid.UUID, error) {
	if explicit != nil {
		return explicit, nil
	}
	userID := ctxutil.UserIDPtr(ctx)
	if userID == nil {
		return nil, nil
	}
	sess, err := s.sessions.CurrentForUser(ctx, nil, *userID)
	if err != nil || sess == nil {
		return nil, err
	}
	return &sess.ID, nil
}

func (s *deviceService) publish(ctx context.Context, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, realtime.SSEMessage{Channel: realtime.ChannelDevices, Event: realtime.SSEEventDeviceUpdated, Data: data}); err != nil {
		s.log.Debug("publish failed", "error", err)
	}
}
