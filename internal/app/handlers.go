package app

import (
	"gorm.io/gorm"

	httpH "github.com/kryptonit/mes-backend/internal/http/handlers"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/realtime"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Auth       *httpH.AuthHandler
	User       *httpH.UserHandler
	RBAC       *httpH.RBACHandler
	Structure  *httpH.StructureHandler
	Audit      *httpH.AuditHandler
	Warehouse  *httpH.WarehouseHandler
	Defect     *httpH.DefectHandler
	Beryll     *httpH.BeryllHandler
	Device     *httpH.DeviceHandler
	Assembly   *httpH.AssemblyHandler
	Production *httpH.ProductionHandler
	Realtime   *httpH.RealtimeHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, services Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(db),
		Auth:      httpH.NewAuthHandler(services.Auth),
		User:      httpH.NewUserHandler(services.User),
		RBAC:      httpH.NewRBACHandler(services.RBAC),
		Structure: httpH.NewStructureHandler(services.Structure),
		Audit:     httpH.NewAuditHandler(services.Audit, services.Export),
		Warehouse: httpH.NewWarehouseHandler(httpH.WarehouseDeps{
			Boxes:        services.Box,
			Movements:    services.Movement,
			Reservations: services.Reservation,
			Catalog:      services.Catalog,
			Exports:      services.Export,
			Labels:       services.Label,
			Analytics:    services.Analytics,
		}),
		Defect: httpH.NewDefectHandler(services.BoardDefect),
		Beryll: httpH.NewBeryllHandler(httpH.BeryllDeps{
			Servers:    services.Server,
			Batches:    services.Batch,
			Checklists: services.Checklist,
			Records:    services.DefectRecord,
			Imports:    services.Import,
			Passports:  services.Passports,
		}),
		Device:     httpH.NewDeviceHandler(services.Device),
		Assembly:   httpH.NewAssemblyHandler(services.Assembly),
		Production: httpH.NewProductionHandler(services.Production),
		Realtime:   httpH.NewRealtimeHandler(log, hub),
	}
}
