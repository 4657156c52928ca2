package app

import (
	mhttp "github.com/kryptonit/mes-backend/internal/http"
	httpMW "github.com/kryptonit/mes-backend/internal/http/middleware"
	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const serviceName = "mes-backend"

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, filesDir string, handlers Handlers, middleware Middleware) mhttp.RouterConfig {
	rc := mhttp.RouterConfig{
		Log:         log,
		Metrics:     metrics,
		CORSOrigins: cfg.CORSOrigins,
		FilesDir:    filesDir,

		AuthMiddleware: middleware.Auth,

		HealthHandler:     handlers.Health,
		AuthHandler:       handlers.Auth,
		UserHandler:       handlers.User,
		RBACHandler:       handlers.RBAC,
		StructureHandler:  handlers.Structure,
		AuditHandler:      handlers.Audit,
		WarehouseHandler:  handlers.Warehouse,
		DefectHandler:     handlers.Defect,
		BeryllHandler:     handlers.Beryll,
		DeviceHandler:     handlers.Device,
		AssemblyHandler:   handlers.Assembly,
		ProductionHandler: handlers.Production,
		RealtimeHandler:   handlers.Realtime,
	}
	if cfg.OtelEnabled {
		rc.ServiceName = serviceName
	}
	return rc
}
