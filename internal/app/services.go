package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
	"github.com/kryptonit/mes-backend/internal/realtime"
	"github.com/kryptonit/mes-backend/internal/realtime/bus"
	"github.com/kryptonit/mes-backend/internal/services"
)

type Services struct {
	Audit     services.AuditService
	Abilities services.AbilityCache
	Auth      services.AuthService
	RBAC      services.RBACService
	Avatar    services.AvatarService
	User      services.UserService
	Structure services.StructureService

	Box          services.BoxService
	Movement     services.MovementService
	Reservation  services.ReservationService
	Catalog      services.WarehouseCatalogService
	Export       services.ExportService
	Label        services.LabelService
	Analytics    services.AnalyticsService
	BoardDefect  services.DefectService
	Server       services.ServerService
	Batch        services.BatchService
	Checklist    services.ChecklistService
	DefectRecord services.DefectRecordService
	Import       services.ImportService
	Passports    services.PassportExportService

	Device     services.DeviceService
	Assembly   services.AssemblyService
	Production services.ProductionService
}

// wireServices builds every service. publisher may be nil, in which case no
// realtime events are emitted.
func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	repos Repos,
	store storage.ObjectStore,
	publisher realtime.Publisher,
	eventBus bus.Bus,
	metrics *observability.Metrics,
) (Services, error) {
	log.Info("Wiring services...")

	auditSvc := services.NewAuditService(db, log, repos.Audit, publisher, metrics)
	abilities := services.NewAbilityCache(log, repos.Role, bus.RedisClient(eventBus), cfg.AbilityCacheTTL)

	authSvc, err := services.NewAuthService(db, log, cfg.Auth(), repos.User, repos.Session, repos.PC, abilities, auditSvc)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}
	avatarSvc, err := services.NewAvatarService(log, store)
	if err != nil {
		return Services{}, fmt.Errorf("init avatar service: %w", err)
	}
	boardDefects := services.NewDefectService(db, log, repos.DefectCategory, repos.BoardDefect, repos.RepairAction, publisher, auditSvc)

	return Services{
		Audit:     auditSvc,
		Abilities: abilities,
		Auth:      authSvc,
		RBAC:      services.NewRBACService(db, log, repos.Role, repos.Ability, abilities, auditSvc),
		Avatar:    avatarSvc,
		User:      services.NewUserService(db, log, repos.User, repos.PC, repos.Session, avatarSvc, auditSvc),
		Structure: services.NewStructureService(db, log, repos.Section, repos.Team, repos.User, auditSvc),

		Box:         services.NewBoxService(db, log, repos.Box, repos.Movement, repos.Document, publisher, auditSvc),
		Movement:    services.NewMovementService(db, log, repos.Box, repos.Movement, repos.Document, publisher, auditSvc),
		Reservation: services.NewReservationService(db, log, repos.Box, repos.Movement, publisher, metrics, auditSvc, cfg.ReservationTTL),
		Catalog:     services.NewWarehouseCatalogService(db, log, repos.Supply, repos.Limit, repos.Document, repos.Box, store, auditSvc),
		Export:      services.NewExportService(log, repos.Box, repos.Supply, auditSvc),
		Label:       services.NewLabelService(db, log, repos.Box, repos.PrintHistory, repos.LabelTemplate, auditSvc),
		Analytics:   services.NewAnalyticsService(log, repos.Box, repos.Movement),

		BoardDefect: boardDefects,

		Server:       services.NewServerService(db, log, repos.Server, repos.Batch, repos.History, repos.Checklist, repos.Component, publisher, auditSvc),
		Batch:        services.NewBatchService(db, log, repos.Batch, repos.Server, repos.History, publisher, auditSvc),
		Checklist:    services.NewChecklistService(db, log, repos.Checklist, repos.Server, repos.History, publisher, auditSvc),
		DefectRecord: services.NewDefectRecordService(db, log, repos.DefectRecord, repos.Server, repos.Component, repos.History, publisher, auditSvc),
		Import:       services.NewImportService(db, log, repos.Server, repos.Component, repos.DefectRecord, repos.History, repos.User, auditSvc),
		Passports:    services.NewPassportExportService(log, repos.Server, repos.Batch, auditSvc),

		Device:     services.NewDeviceService(db, log, repos.Device, repos.DefectCategory, repos.BoardDefect, repos.Session, boardDefects, publisher, auditSvc),
		Assembly:   services.NewAssemblyService(db, log, repos.Project, repos.Recipe, repos.Assembly, repos.Box, repos.Movement, repos.User, repos.Section, repos.Team, publisher, auditSvc),
		Production: services.NewProductionService(db, log, repos.OperationType, repos.Output, repos.User, repos.Team, repos.Project, publisher, auditSvc),
	}, nil
}
