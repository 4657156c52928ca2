package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Ability codes checked by the HTTP layer.
const (
	AbilityAnalyticsView   = "analytics.view"
	AbilityUsersManage     = "users.manage"
	AbilityRBACManage      = "rbac.manage"
	AbilityRolesView       = "roles.view"
	AbilityRolesManage     = "roles.manage"
	AbilityWarehouseView   = "warehouse.view"
	AbilityWarehouseManage = "warehouse.manage"
	AbilityLabelsPrint     = "labels.print"
	AbilityDefectManage    = "defect.manage"
	AbilityDefectCreate    = "defect.create"
	AbilityDefectUpdate    = "defect.update"
	AbilityDefectRepair    = "defect.repair"
	AbilityDefectScrap     = "defect.scrap"
	AbilityDefectVerify    = "defect.verify"
	AbilityBeryllView      = "beryll.view"
	AbilityBeryllWork      = "beryll.work"
	AbilityBeryllManage    = "beryll.manage"
	AbilityDevicesView     = "devices.view"
	AbilityRecipeManage    = "recipe.manage"
	AbilityFirmwareFlash   = "firmware.flash"
	AbilityAssemblyExecute = "assembly.execute"
)

type Role struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string     `gorm:"uniqueIndex;not null;column:name" json:"name"`
	Description  string     `gorm:"column:description" json:"description"`
	Priority     int        `gorm:"not null;default:100;column:priority" json:"priority"`
	KeycloakID   *string    `gorm:"column:keycloak_id" json:"keycloakId"`
	KeycloakName *string    `gorm:"column:keycloak_name" json:"keycloakName"`
	IsActive     bool       `gorm:"not null;default:true;column:is_active" json:"isActive"`
	IsSystem     bool       `gorm:"not null;default:false;column:is_system" json:"isSystem"`
	SyncedAt     *time.Time `gorm:"column:synced_at" json:"syncedAt"`

	Abilities []Ability `gorm:"many2many:role_abilities;joinForeignKey:RoleID;joinReferences:AbilityID" json:"abilities,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Role) TableName() string { return "roles" }

type Ability struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code        string    `gorm:"uniqueIndex;not null;column:code" json:"code"`
	Description string    `gorm:"column:description" json:"description"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Ability) TableName() string { return "abilities" }

type RoleAbility struct {
	RoleID    uuid.UUID `gorm:"type:uuid;primaryKey;column:role_id" json:"roleId"`
	AbilityID uuid.UUID `gorm:"type:uuid;primaryKey;column:ability_id" json:"abilityId"`
}

func (RoleAbility) TableName() string { return "role_abilities" }
