package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/kryptonit/mes-backend/internal/domain/rbac"
	httpH "github.com/kryptonit/mes-backend/internal/http/handlers"
	httpMW "github.com/kryptonit/mes-backend/internal/http/middleware"
	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	// ServiceName enables otelgin spans when set.
	ServiceName string
	// FilesDir is served at /files when object storage is local.
	FilesDir string

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler     *httpH.HealthHandler
	AuthHandler       *httpH.AuthHandler
	UserHandler       *httpH.UserHandler
	RBACHandler       *httpH.RBACHandler
	StructureHandler  *httpH.StructureHandler
	AuditHandler      *httpH.AuditHandler
	WarehouseHandler  *httpH.WarehouseHandler
	DefectHandler     *httpH.DefectHandler
	BeryllHandler     *httpH.BeryllHandler
	DeviceHandler     *httpH.DeviceHandler
	AssemblyHandler   *httpH.AssemblyHandler
	ProductionHandler *httpH.ProductionHandler
	RealtimeHandler   *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	registerValidatorTagNames()

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachClientContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}
	if cfg.FilesDir != "" {
		r.Static("/files", cfg.FilesDir)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/users/registration", cfg.AuthHandler.Register)
			api.POST("/users/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}
	can := httpMW.RequireAbility

	// Auth (protected)
	if cfg.AuthHandler != nil {
		protected.GET("/users/auth", cfg.AuthHandler.Check)
		protected.POST("/users/logout", cfg.AuthHandler.Logout)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		protected.GET("/events/stream", cfg.RealtimeHandler.Stream)
	}

	// Users, PCs, sessions
	if h := cfg.UserHandler; h != nil {
		protected.GET("/users", h.List)
		protected.GET("/users/:id", h.Get)
		protected.PUT("/users/:id", h.Update)
		protected.PATCH("/users/:id/img", h.UploadAvatar)
		protected.POST("/users/:id/avatar/generate", h.GenerateAvatar)
		protected.DELETE("/users/:id", can(rbac.AbilityUsersManage), h.Delete)

		protected.GET("/pcs", h.ListPCs)
		protected.POST("/pcs", can(rbac.AbilityUsersManage), h.CreatePC)
		protected.PUT("/pcs/:id", can(rbac.AbilityUsersManage), h.UpdatePC)
		protected.DELETE("/pcs/:id", can(rbac.AbilityUsersManage), h.DeletePC)

		protected.GET("/sessions/online", h.OnlineSessions)
	}

	// RBAC
	if h := cfg.RBACHandler; h != nil {
		g := protected.Group("/rbac", can(rbac.AbilityRBACManage))
		g.GET("/roles", h.ListRoles)
		g.GET("/abilities", h.ListAbilities)
		g.PUT("/roles/:id/abilities", h.SetRoleAbilities)

		protected.GET("/roles", can(rbac.AbilityRolesView), h.ListRoles)
		protected.POST("/roles", can(rbac.AbilityRolesManage), h.CreateRole)
		protected.PUT("/roles/:id", can(rbac.AbilityRolesManage), h.UpdateRole)
		protected.DELETE("/roles/:id", can(rbac.AbilityRolesManage), h.DeleteRole)
	}

	// Production structure
	if h := cfg.StructureHandler; h != nil {
		g := protected.Group("/structure")
		g.GET("", h.Tree)
		g.GET("/unassigned", h.Unassigned)
		m := g.Group("", can(rbac.AbilityUsersManage))
		m.POST("/sections", h.CreateSection)
		m.PUT("/sections/:id/manager", h.AssignManager)
		m.DELETE("/sections/:id", h.DeleteSection)
		m.POST("/teams", h.CreateTeam)
		m.PUT("/teams/:id/lead", h.AssignLead)
		m.POST("/teams/:id/members", h.AddMember)
		m.DELETE("/teams/:id/members/:userId", h.RemoveMember)
		m.DELETE("/teams/:id", h.DeleteTeam)
	}

	// Audit
	if h := cfg.AuditHandler; h != nil {
		g := protected.Group("/audit", can(rbac.AbilityRBACManage))
		g.GET("", h.List)
		g.GET("/export.xlsx", h.Export)
	}

	// Warehouse
	if h := cfg.WarehouseHandler; h != nil {
		g := protected.Group("/warehouse")
		view := can(rbac.AbilityWarehouseView)
		manage := can(rbac.AbilityWarehouseManage)
		printing := can(rbac.AbilityLabelsPrint)
		analytics := can(rbac.AbilityAnalyticsView)

		g.GET("/supplies", view, h.ListSupplies)
		g.POST("/supplies", manage, h.CreateSupply)
		g.GET("/supplies/:id/export-csv", view, h.ExportSupplyCSV)

		g.GET("/boxes", view, h.ListBoxes)
		g.POST("/boxes", manage, h.CreateBox)
		g.POST("/boxes/batch", manage, h.CreateBoxBatch)
		g.PUT("/boxes/batch", manage, h.UpdateBoxBatch)
		g.GET("/boxes/by-qr/:qr", view, h.BoxByCode)
		g.GET("/boxes/:id", view, h.BoxDetail)
		g.GET("/boxes/:id/label.png", view, h.BoxLabelPNG)
		g.POST("/boxes/export", view, h.ExportBoxesCSV)
		g.POST("/boxes/export.xlsx", view, h.ExportBoxesXLSX)
		g.POST("/boxes/print-pdf", printing, h.PrintBoxLabels)
		g.POST("/boxes/print-special", printing, h.PrintSpecial)
		g.POST("/boxes/:id/reserve", manage, h.Reserve)
		g.POST("/boxes/:id/release", manage, h.Release)
		g.POST("/boxes/:id/confirm", manage, h.Confirm)

		g.GET("/movements", view, h.ListMovements)
		g.POST("/movements", manage, h.Move)
		g.POST("/movements/batch", manage, h.MoveBatch)

		g.GET("/balance", view, h.Balance)
		g.GET("/analytics/dashboard", analytics, h.Dashboard)
		g.GET("/rankings", analytics, h.Rankings)

		g.GET("/limits", view, h.ListLimits)
		g.PUT("/limits", manage, h.UpsertLimit)
		g.DELETE("/limits/:id", manage, h.DeleteLimit)
		g.GET("/alerts", view, h.Alerts)

		g.GET("/documents", view, h.ListDocuments)
		g.POST("/documents", manage, h.CreateDocument)

		g.GET("/print-history", view, h.PrintHistory)
		g.GET("/label-templates", view, h.ListLabelTemplates)
		g.POST("/label-templates", printing, h.CreateLabelTemplate)
		g.DELETE("/label-templates/:id", printing, h.DeleteLabelTemplate)
	}

	// Board defects
	if h := cfg.DefectHandler; h != nil {
		g := protected.Group("/defects")
		manage := can(rbac.AbilityDefectManage)

		g.GET("/categories", h.ListCategories)
		g.POST("/categories", manage, h.CreateCategory)
		g.PUT("/categories/:id", manage, h.UpdateCategory)
		g.DELETE("/categories/:id", manage, h.DeleteCategory)

		g.GET("", h.List)
		g.GET("/statistics", h.Statistics)
		g.GET("/reference", h.Reference)
		g.GET("/export.xlsx", manage, h.Export)
		g.GET("/:id", h.Get)
		g.POST("", can(rbac.AbilityDefectCreate), h.Create)
		g.PATCH("/:id/status", can(rbac.AbilityDefectUpdate), h.ChangeStatus)
		g.GET("/:id/repairs", h.Repairs)
		g.POST("/:id/repairs", can(rbac.AbilityDefectRepair), h.AddRepair)
		g.POST("/:id/repaired", can(rbac.AbilityDefectRepair), h.MarkRepaired)
		g.POST("/:id/scrap", can(rbac.AbilityDefectScrap), h.Scrap)
		g.POST("/:id/verify", can(rbac.AbilityDefectVerify), h.Verify)
		g.POST("/:id/false-positive", can(rbac.AbilityDefectVerify), h.FalsePositive)
	}

	// Beryll
	if h := cfg.BeryllHandler; h != nil {
		g := protected.Group("/beryll")
		view := can(rbac.AbilityBeryllView)
		work := can(rbac.AbilityBeryllWork)
		manage := can(rbac.AbilityBeryllManage)

		g.GET("/reference", view, h.Reference)

		g.GET("/batches", view, h.ListBatches)
		g.GET("/batches/:id", view, h.GetBatch)
		g.POST("/batches", manage, h.CreateBatch)
		g.PUT("/batches/:id", manage, h.UpdateBatch)
		g.DELETE("/batches/:id", manage, h.DeleteBatch)
		g.POST("/batches/:id/assign", manage, h.AssignToBatch)
		g.POST("/batches/:id/unassign", manage, h.UnassignFromBatch)

		g.GET("/servers", view, h.ListServers)
		g.GET("/servers/:id", view, h.GetServer)
		g.POST("/servers", manage, h.CreateServer)
		g.DELETE("/servers/:id", manage, h.DeleteServer)
		g.POST("/servers/:id/archive", manage, h.Archive)
		g.POST("/servers/:id/take", work, h.Take)
		g.POST("/servers/:id/release", work, h.Release)
		g.PUT("/servers/:id/status", work, h.SetStatus)
		g.PUT("/servers/:id/notes", work, h.SetNotes)
		g.PUT("/servers/:id/serial", work, h.SetSerial)
		g.GET("/servers/:id/history", view, h.ServerHistory)
		g.GET("/history", view, h.GlobalHistory)

		g.GET("/servers/:id/components", view, h.Components)
		g.POST("/servers/:id/components", manage, h.AddComponent)
		g.DELETE("/components/:id", manage, h.DeleteComponent)

		g.GET("/servers/:id/checklist", view, h.ServerChecklist)
		g.PUT("/servers/:id/checklist/:templateId", work, h.SetChecklistItem)
		g.GET("/checklist-templates", view, h.ListTemplates)
		g.POST("/checklist-templates", manage, h.CreateTemplate)
		g.PUT("/checklist-templates/:id", manage, h.UpdateTemplate)
		g.DELETE("/checklist-templates/:id", manage, h.DeleteTemplate)

		d := g.Group("/defect-records")
		d.GET("", view, h.ListDefectRecords)
		d.GET("/stats", view, h.DefectRecordStats)
		d.GET("/part-types", view, h.PartTypes)
		d.GET("/statuses", view, h.DefectStatuses)
		d.GET("/export.xlsx", view, h.ExportDefectRecords)
		d.GET("/:id", view, h.GetDefectRecord)
		d.GET("/:id/actions", view, h.DefectRecordActions)
		d.POST("", work, h.CreateDefectRecord)
		d.POST("/:id/start-diagnosis", work, h.StartDiagnosis)
		d.POST("/:id/complete-diagnosis", work, h.CompleteDiagnosis)
		d.POST("/:id/start-repair", work, h.StartRepair)
		d.POST("/:id/send-to-yadro", work, h.SendToYadro)
		d.POST("/:id/return-from-yadro", work, h.ReturnFromYadro)
		d.POST("/:id/issue-substitute", work, h.IssueSubstitute)
		d.POST("/:id/return-substitute", work, h.ReturnSubstitute)
		d.POST("/:id/resolve", work, h.Resolve)
		d.POST("/:id/close", work, h.CloseDefectRecord)
		d.PUT("/:id/status", work, h.ChangeDefectRecordStatus)

		g.POST("/import/components", manage, h.ImportComponents)
		g.POST("/import/defects", manage, h.ImportDefects)

		e := g.Group("/export/passports", view)
		e.POST("", h.ExportPassports)
		e.GET("/stats", h.PassportStats)
		e.GET("/preview", h.PassportPreview)
		e.GET("/single/:id", h.ExportServerPassport)
		e.POST("/selected", h.ExportSelectedPassports)
		e.GET("/batch/:batchId", h.ExportBatchPassports)
	}

	// Devices: FC, ELRS 915, ELRS 2.4, Coral B
	if h := cfg.DeviceHandler; h != nil {
		g := protected.Group("/devices/:kind")
		view := can(rbac.AbilityDevicesView)
		flash := can(rbac.AbilityFirmwareFlash)
		manage := can(rbac.AbilityDefectManage)

		g.GET("/items", view, h.List)
		g.GET("/items/:id", view, h.Get)
		g.POST("/items", flash, h.Create)
		g.PUT("/items/:id", manage, h.Update)
		g.DELETE("/items/:id", manage, h.Delete)
		g.GET("/items/:id/defects", view, h.Defects)
		g.POST("/items/:id/defects", can(rbac.AbilityDefectCreate), h.OpenDefect)
		g.GET("/serial/:serial", view, h.GetBySerial)
		g.DELETE("/serial/:serial", manage, h.DeleteBySerial)
		g.POST("/stand-test", flash, h.StandTest)
		g.POST("/bulk-defects", flash, h.AddDefective)
		g.POST("/bulk-defects/delete", manage, h.RemoveDefective)
		g.GET("/summary", view, h.Summary)
	}

	// Assembly
	if h := cfg.AssemblyHandler; h != nil {
		g := protected.Group("/assembly")
		recipes := can(rbac.AbilityRecipeManage)
		execute := can(rbac.AbilityAssemblyExecute)
		read := httpMW.RequireAnyAbility(rbac.AbilityDevicesView, rbac.AbilityAssemblyExecute, rbac.AbilityRecipeManage)

		g.GET("/projects", read, h.ListProjects)
		g.GET("/projects/:id", read, h.GetProject)
		g.POST("/projects", recipes, h.CreateProject)
		g.PUT("/projects/:id", recipes, h.UpdateProject)
		g.DELETE("/projects/:id", recipes, h.DeleteProject)
		g.GET("/projects/:id/recipe", read, h.Recipe)
		g.PUT("/projects/:id/recipe", recipes, h.SaveRecipe)

		g.POST("/processes/start", execute, h.Start)
		g.GET("/processes/:id", read, h.Get)
		g.PUT("/processes/:id/step", execute, h.SetStep)
		g.POST("/processes/:id/finish", execute, h.Finish)
		g.GET("/processes/:id/passport", read, h.Passport)
		g.PUT("/processes/:id/passport", recipes, h.EditPassport)
		g.GET("/assembled", read, h.Assembled)
	}

	// Production output. Approval scope is enforced per team by the service.
	if h := cfg.ProductionHandler; h != nil {
		g := protected.Group("/production")
		recipes := can(rbac.AbilityRecipeManage)
		analytics := can(rbac.AbilityAnalyticsView)

		g.GET("/operation-types", h.ListOperationTypes)
		g.POST("/operation-types", recipes, h.CreateOperationType)
		g.PUT("/operation-types/:id", recipes, h.UpdateOperationType)
		g.DELETE("/operation-types/:id", recipes, h.DeleteOperationType)

		g.GET("/outputs", h.List)
		g.GET("/outputs/pending", h.Pending)
		g.POST("/outputs/approve", h.Approve)
		g.POST("/outputs/reject", h.Reject)
		g.GET("/outputs/:id", h.Get)
		g.POST("/outputs", h.Create)
		g.PUT("/outputs/:id", h.Update)
		g.DELETE("/outputs/:id", h.Delete)

		g.GET("/summary", analytics, h.Summary)
		g.GET("/matrix", analytics, h.Matrix)
		g.GET("/my-team", h.MyTeam)
	}

	return r
}
