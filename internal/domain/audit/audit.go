package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/domain/user"
)

// Audit actions written across the system.
const (
	ActionLogin          = "LOGIN"
	ActionLogout         = "LOGOUT"
	ActionRegister       = "REGISTER"
	ActionUserUpdate     = "USER_UPDATE"
	ActionUserDelete     = "USER_DELETE"
	ActionAvatarUpdate   = "AVATAR_UPDATE"
	ActionRoleCreate     = "ROLE_CREATE"
	ActionRoleUpdate     = "ROLE_UPDATE"
	ActionRoleDelete     = "ROLE_DELETE"
	ActionRoleAbilities  = "ROLE_ABILITIES_UPDATE"
	ActionPCCreate       = "PC_CREATE"
	ActionPCUpdate       = "PC_UPDATE"
	ActionPCDelete       = "PC_DELETE"
	ActionSectionCreate  = "SECTION_CREATE"
	ActionSectionDelete  = "SECTION_DELETE"
	ActionAssignManager  = "ASSIGN_MANAGER"
	ActionTeamCreate     = "TEAM_CREATE"
	ActionTeamDelete     = "TEAM_DELETE"
	ActionAssignLead     = "ASSIGN_LEAD"
	ActionAddMember      = "ADD_MEMBER"
	ActionRemoveMember   = "REMOVE_MEMBER"
	ActionSupplyCreate   = "SUPPLY_CREATE"
	ActionBoxCreate      = "BOX_CREATE"
	ActionBoxBatchCreate = "BOX_BATCH_CREATE"
	ActionBoxBatchUpdate = "BOX_BATCH_UPDATE"
	ActionBoxReserve     = "BOX_RESERVE"
	ActionBoxRelease     = "BOX_RELEASE"
	ActionBoxConfirm     = "BOX_CONFIRM"
	ActionMovement       = "MOVEMENT"
	ActionMovementBatch  = "MOVEMENT_BATCH"
	ActionDocumentCreate = "DOCUMENT_CREATE"
	ActionLabelPrint     = "LABEL_PRINT"
	ActionTemplateCreate = "LABEL_TEMPLATE_CREATE"
	ActionTemplateDelete = "LABEL_TEMPLATE_DELETE"
	ActionLimitUpsert    = "LIMIT_UPSERT"
	ActionLimitDelete    = "LIMIT_DELETE"
	ActionDefectCreate   = "DEFECT_CREATE"
	ActionDefectStatus   = "DEFECT_STATUS"
	ActionDefectRepair   = "DEFECT_REPAIR"
	ActionCategoryCreate = "DEFECT_CATEGORY_CREATE"
	ActionCategoryUpdate = "DEFECT_CATEGORY_UPDATE"
	ActionCategoryDelete = "DEFECT_CATEGORY_DELETE"
	ActionBeryllBatch    = "BERYLL_BATCH"
	ActionBeryllServer   = "BERYLL_SERVER"
	ActionBeryllDefect   = "BERYLL_DEFECT"
	ActionBeryllImport   = "BERYLL_IMPORT"
	ActionChecklist      = "BERYLL_CHECKLIST"
	ActionPassportExport = "BERYLL_PASSPORT_EXPORT"
	ActionDeviceCreate   = "DEVICE_CREATE"
	ActionDeviceUpdate   = "DEVICE_UPDATE"
	ActionDeviceDelete   = "DEVICE_DELETE"
	ActionDeviceBulk     = "DEVICE_BULK"
	ActionStandTest      = "DEVICE_STAND_TEST"
	ActionProjectCreate  = "PROJECT_CREATE"
	ActionProjectUpdate  = "PROJECT_UPDATE"
	ActionProjectDelete  = "PROJECT_DELETE"
	ActionRecipeUpsert   = "RECIPE_UPSERT"
	ActionAssemblyStart  = "ASSEMBLY_START"
	ActionAssemblyFinish = "ASSEMBLY_FINISH"
	ActionPassportEdit   = "ASSEMBLY_PASSPORT_EDIT"
	ActionOperationType  = "OPERATION_TYPE"
	ActionOutputCreate   = "OUTPUT_CREATE"
	ActionOutputUpdate   = "OUTPUT_UPDATE"
	ActionOutputDelete   = "OUTPUT_DELETE"
	ActionOutputApprove  = "OUTPUT_APPROVE"
	ActionOutputReject   = "OUTPUT_REJECT"
)

type AuditLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      *uuid.UUID     `gorm:"type:uuid;index;column:user_id" json:"userId"`
	Action      string         `gorm:"not null;index;column:action" json:"action"`
	Entity      string         `gorm:"not null;index;column:entity" json:"entity"`
	EntityID    string         `gorm:"index;column:entity_id" json:"entityId"`
	Description string         `gorm:"column:description" json:"description"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`

	User *user.User `gorm:"foreignKey:UserID" json:"user,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }
