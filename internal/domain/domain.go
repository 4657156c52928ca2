package domain

import (
	"github.com/kryptonit/mes-backend/internal/domain/assembly"
	"github.com/kryptonit/mes-backend/internal/domain/audit"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/domain/device"
	"github.com/kryptonit/mes-backend/internal/domain/production"
	"github.com/kryptonit/mes-backend/internal/domain/rbac"
	"github.com/kryptonit/mes-backend/internal/domain/structure"
	"github.com/kryptonit/mes-backend/internal/domain/user"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
)

// Users
type User = user.User
type PC = user.PC
type Session = user.Session

// RBAC
type Role = rbac.Role
type Ability = rbac.Ability
type RoleAbility = rbac.RoleAbility

// Structure
type Section = structure.Section
type Team = structure.Team

// Audit
type AuditLog = audit.AuditLog

// Warehouse
type Supply = warehouse.Supply
type WarehouseBox = warehouse.Box
type WarehouseMovement = warehouse.Movement
type WarehouseDocument = warehouse.Document
type PrintHistory = warehouse.PrintHistory
type LabelTemplate = warehouse.LabelTemplate
type InventoryLimit = warehouse.InventoryLimit

// Board defects
type DefectCategory = defect.Category
type BoardDefect = defect.BoardDefect
type RepairAction = defect.RepairAction

// Beryll
type BeryllBatch = beryll.Batch
type BeryllServer = beryll.Server
type BeryllHistory = beryll.History
type ChecklistTemplate = beryll.ChecklistTemplate
type ServerChecklist = beryll.ServerChecklist
type ServerComponent = beryll.Component
type BeryllDefectRecord = beryll.DefectRecord

// Devices
type Device = device.Device

// Assembly
type Project = assembly.Project
type AssemblyRecipe = assembly.Recipe
type RecipeStep = assembly.RecipeStep
type AssemblyProcess = assembly.Process

// Production output
type OperationType = production.OperationType
type ProductionOutput = production.Output
