package services

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
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

// RepeatWindow is how far back a resolved record of the same part type marks
// a new one as repeated.
const RepeatWindow = 30 * 24 * time.Hour

type DefectRecordInput struct {
	ServerID              uuid.UUID
	YadroTicketNumber     string
	HasSPISI              bool
	ClusterCode           string
	ProblemDescription    string
	RepairPartType        string
	DefectPartSerialYadro string
	DefectPartSerialManuf string
	Priority              string
	Notes                 string
}

type DiagnosisInput struct {
	RepairPartType *string
	RepairDetails  *string
	Notes          *string
}

type YadroReturnInput struct {
	ReplacementSerialYadro *string
	ReplacementSerialManuf *string
	Resolution             *string
}

type DefectRecordStats struct {
	ByStatus           []beryllrepo.KeyCount `json:"byStatus"`
	ByPartType         []beryllrepo.KeyCount `json:"byType"`
	Repeated           int64                 `json:"repeatedCount"`
	SLABreached        int64                 `json:"slaBreachedCount"`
	AvgDowntimeMinutes int64                 `json:"avgRepairTimeMinutes"`
	AvgDowntimeHours   int64                 `json:"avgRepairTimeHours"`
}

type DefectRecordService interface {
	List(ctx context.Context, f beryllrepo.DefectRecordFilter, page pagination.Params) ([]*types.BeryllDefectRecord, int64, error)
	Get(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error)
	Actions(ctx context.Context, id uuid.UUID) ([]beryll.Action, error)
	Create(ctx context.Context, in DefectRecordInput) (*types.BeryllDefectRecord, error)

	StartDiagnosis(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error)
	CompleteDiagnosis(ctx context.Context, id uuid.UUID, in DiagnosisInput) (*types.BeryllDefectRecord, error)
	StartRepair(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error)
	SendToYadro(ctx context.Context, id uuid.UUID, ticketNumber string) (*types.BeryllDefectRecord, error)
	ReturnFromYadro(ctx context.Context, id uuid.UUID, in YadroReturnInput) (*types.BeryllDefectRecord, error)
	IssueSubstitute(ctx context.Context, id, substituteServerID uuid.UUID) (*types.BeryllDefectRecord, error)
	ReturnSubstitute(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution string, notes *string) (*types.BeryllDefectRecord, error)
	Close(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, status, comment string) (*types.BeryllDefectRecord, error)

	Stats(ctx context.Context) (*DefectRecordStats, error)
	PartTypes() []beryll.PartType
	Statuses() []beryll.StatusLabel
	ExportXLSX(ctx context.Context, f beryllrepo.DefectRecordFilter) (*Export, error)
}

type defectRecordService struct {
	db         *gorm.DB
	log        *logger.Logger
	records    beryllrepo.DefectRecordRepo
	servers    beryllrepo.ServerRepo
	components beryllrepo.ComponentRepo
	history    beryllrepo.HistoryRepo
	publisher  realtime.Publisher
	audit      AuditService
	now        func() time.Time
}

func NewDefectRecordService(
	db *gorm.DB,
	log *logger.Logger,
	records beryllrepo.DefectRecordRepo,
	servers beryllrepo.ServerRepo,
	components beryllrepo.ComponentRepo,
	history beryllrepo.HistoryRepo,
	publisher realtime.Publisher,
	auditSvc AuditService,
) DefectRecordService {
	return &defectRecordService{
		db:         db,
		log:        log.With("service", "DefectRecordService"),
		records:    records,
		servers:    servers,
		components: components,
		history:    history,
		publisher:  publisher,
		audit:      auditSvc,
		now:        time.Now,
	}
}

func (s *defectRecordService) List(ctx context.Context, f beryllrepo.DefectRecordFilter, page pagination.Params) ([]*types.BeryllDefectRecord, int64, error) {
	return s.records.List(ctx, nil, f, page.Normalize())
}

func (s *defectRecordService) Get(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	d, err := s.records.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierr.NotFound("Запись не найдена")
	}
	return d, nil
}

func (s *defectRecordService) Actions(ctx context.Context, id uuid.UUID) ([]beryll.Action, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return beryll.AvailableActions(d.Status), nil
}

func (s *defectRecordService) Create(ctx context.Context, in DefectRecordInput) (*types.BeryllDefectRecord, error) {
	priority := strings.ToUpper(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = beryll.PriorityMedium
	}
	hours, ok := beryll.SLAHours[priority]
	if !ok {
		return nil, apierr.BadRequest("Некорректный приоритет: %s", in.Priority)
	}
	partType := strings.ToUpper(strings.TrimSpace(in.RepairPartType))
	if partType != "" && !beryll.IsPartType(partType) {
		return nil, apierr.BadRequest("Некорректный тип детали: %s", in.RepairPartType)
	}

	now := s.now()
	uid := ctxutil.UserIDPtr(ctx)
	deadline := now.Add(time.Duration(hours) * time.Hour)
	rec := &types.BeryllDefectRecord{
		ServerID:              in.ServerID,
		YadroTicketNumber:     optString(in.YadroTicketNumber),
		HasSPISI:              in.HasSPISI,
		ClusterCode:           strings.TrimSpace(in.ClusterCode),
		ProblemDescription:    strings.TrimSpace(in.ProblemDescription),
		DetectedAt:            now,
		DetectedByID:          uid,
		RepairPartType:        optString(partType),
		DefectPartSerialYadro: optString(in.DefectPartSerialYadro),
		DefectPartSerialManuf: optString(in.DefectPartSerialManuf),
		Status:                beryll.DefectNew,
		Priority:              priority,
		SLADeadline:           &deadline,
		Notes:                 strings.TrimSpace(in.Notes),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		srv, err := s.servers.LockByID(ctx, tx, in.ServerID)
		if err != nil {
			return err
		}
		if srv == nil {
			return apierr.NotFound("Сервер не найден")
		}
		if rec.YadroTicketNumber != nil {
			exists, err := s.records.TicketExists(ctx, tx, *rec.YadroTicketNumber)
			if err != nil {
				return err
			}
			if exists {
				return apierr.Conflict("Заявка %s уже зарегистрирована", *rec.YadroTicketNumber)
			}
		}
		if partType != "" {
			prev, err := s.records.LatestInactiveSince(ctx, tx, srv.ID, partType, now.Add(-RepeatWindow))
			if err != nil {
				return err
			}
			if prev != nil {
				rec.IsRepeatedDefect = true
				rec.PreviousDefectID = &prev.ID
				rec.RepeatedDefectReason = fmt.Sprintf("Повторный брак после записи от %s", prev.DetectedAt.Local().Format(exportDateLayout))
			}
		}
		if _, err := s.records.Create(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.servers.Update(ctx, tx, srv.ID, map[string]interface{}{"status": beryll.ServerDefect}); err != nil {
			return err
		}
		for _, serial := range []*string{rec.DefectPartSerialYadro, rec.DefectPartSerialManuf} {
			if serial == nil {
				continue
			}
			if _, err := s.components.MarkBySerial(ctx, tx, srv.ID, *serial, beryll.ComponentCritical); err != nil {
				return err
			}
		}
		h := statusHistory(srv, uid, beryll.HistoryStatusChanged, beryll.ServerDefect)
		h.Comment = fmt.Sprintf("Зафиксирован брак. Тип: %s", partTypeLabel(partType))
		h.Metadata = jsonObject(map[string]any{"defectRecordId": rec.ID, "repeated": rec.IsRepeatedDefect})
		return s.history.Create(ctx, tx, h)
	})
	if err != nil {
		return nil, err
	}

	out, err := s.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, AuditEntry{
		Action:      audit.ActionBeryllDefect,
		Entity:      "BeryllDefectRecord",
		EntityID:    out.ID.String(),
		Description: fmt.Sprintf("Зафиксирован брак сервера %s", serverName(out.Server)),
		Metadata:    map[string]any{"priority": priority, "repeated": out.IsRepeatedDefect},
	})
	s.publish(ctx, realtime.SSEEventDefectCreated, out)
	return out, nil
}

func (s *defectRecordService) StartDiagnosis(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	uid := ctxutil.UserIDPtr(ctx)
	return s.step(ctx, id, "start_diagnosis", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		updates["diagnostician_id"] = uid
		return "Начата диагностика", nil
	})
}

func (s *defectRecordService) CompleteDiagnosis(ctx context.Context, id uuid.UUID, in DiagnosisInput) (*types.BeryllDefectRecord, error) {
	return s.step(ctx, id, "complete_diagnosis", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		partType := ""
		if d.RepairPartType != nil {
			partType = *d.RepairPartType
		}
		if v := trimPtr(in.RepairPartType); v != "" {
			v = strings.ToUpper(v)
			if !beryll.IsPartType(v) {
				return "", apierr.BadRequest("Некорректный тип детали: %s", v)
			}
			partType = v
			updates["repair_part_type"] = v
		}
		if v := trimPtr(in.RepairDetails); v != "" {
			updates["repair_details"] = v
		}
		if v := trimPtr(in.Notes); v != "" {
			updates["notes"] = appendNote(d.Notes, "Диагностика", v)
		}
		return fmt.Sprintf("Диагностика завершена. Определён тип: %s", partTypeLabel(partType)), nil
	})
}

func (s *defectRecordService) StartRepair(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	return s.step(ctx, id, "start_repair", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		return "Начат ремонт", nil
	})
}

func (s *defectRecordService) SendToYadro(ctx context.Context, id uuid.UUID, ticketNumber string) (*types.BeryllDefectRecord, error) {
	ticketNumber = strings.TrimSpace(ticketNumber)
	now := s.now()
	return s.step(ctx, id, "send_to_yadro", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		if ticketNumber == "" && d.YadroTicketNumber != nil {
			ticketNumber = *d.YadroTicketNumber
		}
		if ticketNumber == "" {
			return "", apierr.BadRequest("Укажите номер заявки Ядро")
		}
		if d.YadroTicketNumber == nil || *d.YadroTicketNumber != ticketNumber {
			exists, err := s.records.TicketExists(ctx, tx, ticketNumber)
			if err != nil {
				return "", err
			}
			if exists {
				return "", apierr.Conflict("Заявка %s уже зарегистрирована", ticketNumber)
			}
		}
		updates["yadro_ticket_number"] = ticketNumber
		updates["sent_to_yadro_at"] = now
		return fmt.Sprintf("Отправлено на ремонт в Ядро. Заявка: %s", ticketNumber), nil
	})
}

func (s *defectRecordService) ReturnFromYadro(ctx context.Context, id uuid.UUID, in YadroReturnInput) (*types.BeryllDefectRecord, error) {
	now := s.now()
	return s.step(ctx, id, "return_from_yadro", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		updates["returned_from_yadro_at"] = now
		if v := trimPtr(in.ReplacementSerialYadro); v != "" {
			updates["replacement_part_serial_yadro"] = v
		}
		if v := trimPtr(in.ReplacementSerialManuf); v != "" {
			updates["replacement_part_serial_manuf"] = v
		}
		resolution := trimPtr(in.Resolution)
		if resolution != "" {
			updates["resolution"] = resolution
		} else {
			resolution = "Не указана"
		}
		return fmt.Sprintf("Возвращено из Ядро. Резолюция: %s", resolution), nil
	})
}

func (s *defectRecordService) IssueSubstitute(ctx context.Context, id, substituteServerID uuid.UUID) (*types.BeryllDefectRecord, error) {
	uid := ctxutil.UserIDPtr(ctx)
	return s.step(ctx, id, "issue_substitute", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		if substituteServerID == d.ServerID {
			return "", apierr.BadRequest("Подменный сервер должен отличаться от бракованного")
		}
		sub, err := s.servers.LockByID(ctx, tx, substituteServerID)
		if err != nil {
			return "", err
		}
		if sub == nil {
			return "", apierr.NotFound("Подменный сервер не найден")
		}
		if sub.Status != beryll.ServerDone || sub.AssignedToID != nil {
			return "", apierr.BadRequest("Подменный сервер должен быть в статусе DONE и не назначен")
		}
		updates["substitute_server_id"] = sub.ID
		h := serverHistory(sub, uid, beryll.HistoryNoteAdded)
		h.Comment = "Выдан как подменный сервер"
		h.Metadata = jsonObject(map[string]any{"defectRecordId": d.ID})
		if err := s.history.Create(ctx, tx, h); err != nil {
			return "", err
		}
		return fmt.Sprintf("Выдан подменный сервер: %s", sub.DisplayName()), nil
	})
}

func (s *defectRecordService) ReturnSubstitute(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	return s.step(ctx, id, "return_substitute", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		if d.SubstituteServerID == nil {
			return "", apierr.BadRequest("Подменный сервер не был выдан")
		}
		updates["substitute_server_id"] = nil
		return "Подменный сервер возвращён", nil
	})
}

func (s *defectRecordService) Resolve(ctx context.Context, id uuid.UUID, resolution string, notes *string) (*types.BeryllDefectRecord, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, apierr.BadRequest("Укажите резолюцию")
	}
	now := s.now()
	uid := ctxutil.UserIDPtr(ctx)
	return s.step(ctx, id, "resolve", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		downtime := int(now.Sub(d.DetectedAt).Minutes())
		updates["resolved_at"] = now
		updates["resolved_by_id"] = uid
		updates["resolution"] = resolution
		updates["total_downtime_minutes"] = downtime
		if v := trimPtr(notes); v != "" {
			updates["notes"] = appendNote(d.Notes, "Закрытие", v)
		}
		if d.SubstituteServerID != nil {
			updates["substitute_server_id"] = nil
		}

		srv, err := s.servers.LockByID(ctx, tx, d.ServerID)
		if err != nil {
			return "", err
		}
		if srv != nil && srv.Status != beryll.ServerDone {
			if err := s.servers.Update(ctx, tx, srv.ID, map[string]interface{}{"status": beryll.ServerDone}); err != nil {
				return "", err
			}
			h := statusHistory(srv, uid, beryll.HistoryStatusChanged, beryll.ServerDone)
			h.Comment = "Брак устранён"
			h.Metadata = jsonObject(map[string]any{"defectRecordId": d.ID})
			if err := s.history.Create(ctx, tx, h); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("Запись закрыта. Резолюция: %s. Время простоя: %d мин.", resolution, downtime), nil
	})
}

func (s *defectRecordService) Close(ctx context.Context, id uuid.UUID) (*types.BeryllDefectRecord, error) {
	return s.step(ctx, id, "close", func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		return "Запись закрыта", nil
	})
}

func (s *defectRecordService) ChangeStatus(ctx context.Context, id uuid.UUID, status, comment string) (*types.BeryllDefectRecord, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !beryll.IsDefectStatus(status) {
		return nil, apierr.BadRequest("Некорректный статус: %s", status)
	}
	comment = strings.TrimSpace(comment)
	return s.apply(ctx, id, "set_status", func(d *types.BeryllDefectRecord) (string, error) {
		return status, nil
	}, func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error) {
		msg := fmt.Sprintf("Статус изменён: %s → %s", d.Status, status)
		if comment != "" {
			msg += ". " + comment
		}
		return msg, nil
	})
}

func (s *defectRecordService) Stats(ctx context.Context) (*DefectRecordStats, error) {
	var (
		out DefectRecordStats
		avg float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.ByStatus, err = s.records.CountBy(gctx, nil, "status")
		return err
	})
	g.Go(func() (err error) {
		out.ByPartType, err = s.records.CountBy(gctx, nil, "repair_part_type")
		return err
	})
	g.Go(func() (err error) {
		out.Repeated, err = s.records.CountRepeated(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		out.SLABreached, err = s.records.CountSLABreached(gctx, nil, s.now())
		return err
	})
	g.Go(func() (err error) {
		avg, err = s.records.AvgDowntimeMinutes(gctx, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out.AvgDowntimeMinutes = int64(math.Round(avg))
	out.AvgDowntimeHours = int64(math.Round(avg / 60))
	return &out, nil
}

func (s *defectRecordService) PartTypes() []beryll.PartType {
	out := make([]beryll.PartType, len(beryll.PartTypes))
	copy(out, beryll.PartTypes)
	return out
}

func (s *defectRecordService) Statuses() []beryll.StatusLabel {
	out := make([]beryll.StatusLabel, len(beryll.DefectStatuses))
	copy(out, beryll.DefectStatuses)
	return out
}

func (s *defectRecordService) ExportXLSX(ctx context.Context, f beryllrepo.DefectRecordFilter) (*Export, error) {
	rows, err := s.records.ListForExport(ctx, nil, f, DefectExportLimit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	data := make([][]any, 0, len(rows))
	for _, d := range rows {
		diag := d.Diagnostician.FullName()
		sla := ""
		if d.SLADeadline != nil {
			sla = d.SLADeadline.Local().Format(exportDateLayout)
		}
		repeated, breached := "", ""
		if d.IsRepeatedDefect {
			repeated = "Да"
		}
		if d.SLABreached(now) {
			breached = "Да"
		}
		var downtime any = ""
		if d.TotalDowntimeMinutes != nil {
			downtime = *d.TotalDowntimeMinutes
		}
		data = append(data, []any{
			d.DetectedAt.Local().Format(exportDateLayout),
			serverName(d.Server),
			deref(d.YadroTicketNumber),
			d.ClusterCode,
			partTypeLabel(deref(d.RepairPartType)),
			d.ProblemDescription,
			deref(d.DefectPartSerialYadro),
			deref(d.ReplacementPartSerialYadro),
			statusLabel(d.Status),
			d.Priority,
			sla,
			breached,
			diag,
			repeated,
			downtime,
			d.Resolution,
		})
	}
	body, err := writeWorkbook(sheet{
		Name: "Брак серверов",
		Header: []string{
			"Дата", "Сервер", "Заявка Ядро", "Кластер", "Тип детали", "Описание",
			"S/N браковой", "S/N замены", "Статус", "Приоритет", "SLA", "SLA нарушен",
			"Диагност", "Повторный", "Простой, мин", "Резолюция",
		},
		Rows:   data,
		Widths: map[int]float64{1: 18, 2: 20, 3: 16, 6: 50, 7: 22, 8: 22, 9: 22, 13: 24, 16: 40},
	})
	if err != nil {
		return nil, err
	}
	return &Export{
		Filename:    fmt.Sprintf("beryll_defects_%s.xlsx", now.Format("2006-01-02")),
		ContentType: ContentTypeXLSX,
		Body:        body,
	}, nil
}

// stepFn adds column updates for the locked record and returns the history comment.
type stepFn func(tx *gorm.DB, d *types.BeryllDefectRecord, updates map[string]interface{}) (string, error)

// step runs a named workflow action; its target status comes from the
// transition table for the record's current status.
func (s *defectRecordService) step(ctx context.Context, id uuid.UUID, action string, fn stepFn) (*types.BeryllDefectRecord, error) {
	return s.apply(ctx, id, action, func(d *types.BeryllDefectRecord) (string, error) {
		for _, a := range beryll.AvailableActions(d.Status) {
			if a.Action == action {
				return a.To, nil
			}
		}
		return "", apierr.New(http.StatusBadRequest, "invalid_transition",
			fmt.Errorf("Действие %s недоступно в статусе %s", action, d.Status))
	}, fn)
}

func (s *defectRecordService) apply(ctx context.Context, id uuid.UUID, action string, target func(*types.BeryllDefectRecord) (string, error), fn stepFn) (*types.BeryllDefectRecord, error) {
	uid := ctxutil.UserIDPtr(ctx)
	var from, to string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.records.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return apierr.NotFound("Запись не найдена")
		}
		from = d.Status
		if to, err = target(d); err != nil {
			return err
		}
		if err := beryll.AssertTransition(from, to); err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if to != from {
			updates["status"] = to
		}
		comment, err := fn(tx, d, updates)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.records.Update(ctx, tx, id, updates); err != nil {
			return err
		}

		srv, err := s.servers.GetByID(ctx, tx, d.ServerID)
		if err != nil {
			return err
		}
		h := &types.BeryllHistory{ServerID: &d.ServerID, UserID: uid, Action: beryll.HistoryDefectUpdated}
		if srv != nil {
			h = serverHistory(srv, uid, beryll.HistoryDefectUpdated)
		}
		h.FromStatus, h.ToStatus = &from, &to
		h.Comment = comment
		h.Metadata = jsonObject(map[string]any{"defectRecordId": d.ID, "action": action})
		return s.history.Create(ctx, tx, h)
	})
	if err != nil {
		return nil, err
	}
	out, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if from != to {
		s.audit.Log(ctx, AuditEntry{
			Action:      audit.ActionBeryllDefect,
			Entity:      "BeryllDefectRecord",
			EntityID:    id.String(),
			Description: fmt.Sprintf("Брак сервера %s: %s → %s", serverName(out.Server), statusLabel(from), statusLabel(to)),
			Metadata:    map[string]any{"action": action, "from": from, "to": to},
		})
	}
	s.publish(ctx, realtime.SSEEventDefectUpdated, out)
	return out, nil
}

func (s *defectRecordService) publish(ctx context.Context, event realtime.SSEEvent, rec *types.BeryllDefectRecord) {
	publishBeryll(ctx, s.log, s.publisher, event, rec)
}

func appendNote(existing, tag, note string) string {
	entry := fmt.Sprintf("[%s]: %s", tag, note)
	if strings.TrimSpace(existing) == "" {
		return entry
	}
	return existing + "\n\n" + entry
}

func partTypeLabel(v string) string {
	if v == "" {
		return "Не указан"
	}
	for _, pt := range beryll.PartTypes {
		if pt.Value == v {
			return pt.Label
		}
	}
	return v
}

func statusLabel(v string) string {
	for _, st := range beryll.DefectStatuses {
		if st.Value == v {
			return st.Label
		}
	}
	return v
}

func serverName(srv *types.BeryllServer) string {
	if srv == nil {
		return ""
	}
	return srv.DisplayName()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
