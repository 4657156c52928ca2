package app

import (
	"gorm.io/gorm"

	assemblyrepo "github.com/kryptonit/mes-backend/internal/data/repos/assembly"
	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	defectrepo "github.com/kryptonit/mes-backend/internal/data/repos/defect"
	devicerepo "github.com/kryptonit/mes-backend/internal/data/repos/device"
	productionrepo "github.com/kryptonit/mes-backend/internal/data/repos/production"
	rbacrepo "github.com/kryptonit/mes-backend/internal/data/repos/rbac"
	structurerepo "github.com/kryptonit/mes-backend/internal/data/repos/structure"
	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type Repos struct {
	User    userrepo.UserRepo
	PC      userrepo.PCRepo
	Session userrepo.SessionRepo

	Role    rbacrepo.RoleRepo
	Ability rbacrepo.AbilityRepo

	Section structurerepo.SectionRepo
	Team    structurerepo.TeamRepo

	Audit auditrepo.AuditLogRepo

	Box           warehouserepo.BoxRepo
	Movement      warehouserepo.MovementRepo
	Supply        warehouserepo.SupplyRepo
	Document      warehouserepo.DocumentRepo
	PrintHistory  warehouserepo.PrintHistoryRepo
	LabelTemplate warehouserepo.LabelTemplateRepo
	Limit         warehouserepo.InventoryLimitRepo

	DefectCategory defectrepo.CategoryRepo
	BoardDefect    defectrepo.BoardDefectRepo
	RepairAction   defectrepo.RepairActionRepo

	Server       beryllrepo.ServerRepo
	Batch        beryllrepo.BatchRepo
	History      beryllrepo.HistoryRepo
	Checklist    beryllrepo.ChecklistRepo
	Component    beryllrepo.ComponentRepo
	DefectRecord beryllrepo.DefectRecordRepo

	Device devicerepo.Repo

	Project  assemblyrepo.ProjectRepo
	Recipe   assemblyrepo.RecipeRepo
	Assembly assemblyrepo.ProcessRepo

	OperationType productionrepo.OperationTypeRepo
	Output        productionrepo.OutputRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:    userrepo.NewUserRepo(db, log),
		PC:      userrepo.NewPCRepo(db, log),
		Session: userrepo.NewSessionRepo(db, log),

		Role:    rbacrepo.NewRoleRepo(db, log),
		Ability: rbacrepo.NewAbilityRepo(db, log),

		Section: structurerepo.NewSectionRepo(db, log),
		Team:    structurerepo.NewTeamRepo(db, log),

		Audit: auditrepo.NewAuditLogRepo(db, log),

		Box:           warehouserepo.NewBoxRepo(db, log),
		Movement:      warehouserepo.NewMovementRepo(db, log),
		Supply:        warehouserepo.NewSupplyRepo(db, log),
		Document:      warehouserepo.NewDocumentRepo(db, log),
		PrintHistory:  warehouserepo.NewPrintHistoryRepo(db, log),
		LabelTemplate: warehouserepo.NewLabelTemplateRepo(db, log),
		Limit:         warehouserepo.NewInventoryLimitRepo(db, log),

		DefectCategory: defectrepo.NewCategoryRepo(db, log),
		BoardDefect:    defectrepo.NewBoardDefectRepo(db, log),
		RepairAction:   defectrepo.NewRepairActionRepo(db, log),

		Server:       beryllrepo.NewServerRepo(db, log),
		Batch:        beryllrepo.NewBatchRepo(db, log),
		History:      beryllrepo.NewHistoryRepo(db, log),
		Checklist:    beryllrepo.NewChecklistRepo(db, log),
		Component:    beryllrepo.NewComponentRepo(db, log),
		DefectRecord: beryllrepo.NewDefectRecordRepo(db, log),

		Device: devicerepo.NewRepo(db, log),

		Project:  assemblyrepo.NewProjectRepo(db, log),
		Recipe:   assemblyrepo.NewRecipeRepo(db, log),
		Assembly: assemblyrepo.NewProcessRepo(db, log),

		OperationType: productionrepo.NewOperationTypeRepo(db, log),
		Output:        productionrepo.NewOutputRepo(db, log),
	}
}
