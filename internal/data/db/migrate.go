package db

import (
	types "github.com/kryptonit/mes-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Users + sessions
		// =========================
		&types.User{},
		&types.PC{},
		&types.Session{},

		// =========================
		// RBAC
		// =========================
		&types.Role{},
		&types.Ability{},
		&types.RoleAbility{},

		// =========================
		// Production structure
		// =========================
		&types.Section{},
		&types.Team{},

		// =========================
		// Audit
		// =========================
		&types.AuditLog{},

		// =========================
		// Warehouse
		// =========================
		&types.Supply{},
		&types.WarehouseBox{},
		&types.WarehouseMovement{},
		&types.WarehouseDocument{},
		&types.PrintHistory{},
		&types.LabelTemplate{},
		&types.InventoryLimit{},

		// =========================
		// Board defects
		// =========================
		&types.DefectCategory{},
		&types.BoardDefect{},
		&types.RepairAction{},

		// =========================
		// Beryll
		// =========================
		&types.BeryllBatch{},
		&types.BeryllServer{},
		&types.BeryllHistory{},
		&types.ChecklistTemplate{},
		&types.ServerChecklist{},
		&types.ServerComponent{},
		&types.BeryllDefectRecord{},

		// =========================
		// Devices
		// =========================
		&types.Device{},

		// =========================
		// Assembly + production output
		// =========================
		&types.Project{},
		&types.AssemblyRecipe{},
		&types.RecipeStep{},
		&types.AssemblyProcess{},
		&types.OperationType{},
		&types.ProductionOutput{},
	)
}
