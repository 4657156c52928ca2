package production

import (
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/domain/assembly"
	"github.com/kryptonit/mes-backend/internal/domain/structure"
	"github.com/kryptonit/mes-backend/internal/domain/user"
)

const (
	OutputPending  = "PENDING"
	OutputApproved = "APPROVED"
	OutputAdjusted = "ADJUSTED"
	OutputRejected = "REJECTED"
)

var OutputStatuses = []string{OutputPending, OutputApproved, OutputAdjusted, OutputRejected}

// OperationType is a reference entry for work that is counted in output.
type OperationType struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string     `gorm:"not null;column:name" json:"name"`
	Code        *string    `gorm:"uniqueIndex;column:code" json:"code"`
	Description string     `gorm:"column:description" json:"description"`
	Unit        string     `gorm:"not null;default:шт;column:unit" json:"unit"`
	NormMinutes *float64   `gorm:"column:norm_minutes" json:"normMinutes"`
	SectionID   *uuid.UUID `gorm:"type:uuid;index;column:section_id" json:"sectionId"`
	IsActive    bool       `gorm:"not null;default:true;index;column:is_active" json:"isActive"`
	SortOrder   int        `gorm:"not null;default:0;column:sort_order" json:"sortOrder"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (OperationType) TableName() string { return "operation_types" }

// Output is a worker's claimed quantity for one day, later approved,
// adjusted or rejected by the team lead or section manager.
type Output struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Date            time.Time  `gorm:"not null;index;index:idx_output_user_date,priority:2;column:date" json:"date"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index:idx_output_user_date,priority:1;column:user_id" json:"userId"`
	TeamID          *uuid.UUID `gorm:"type:uuid;index;column:team_id" json:"teamId"`
	SectionID       *uuid.UUID `gorm:"type:uuid;index;column:section_id" json:"sectionId"`
	ProjectID       *uuid.UUID `gorm:"type:uuid;index;column:project_id" json:"projectId"`
	OperationTypeID *uuid.UUID `gorm:"type:uuid;index;column:operation_type_id" json:"operationTypeId"`
	ClaimedQty      int        `gorm:"not null;default:0;column:claimed_qty" json:"claimedQty"`
	ApprovedQty     int        `gorm:"not null;default:0;column:approved_qty" json:"approvedQty"`
	RejectedQty     int        `gorm:"not null;default:0;column:rejected_qty" json:"rejectedQty"`
	Status          string     `gorm:"not null;default:PENDING;index;column:status" json:"status"`
	ApprovedByID    *uuid.UUID `gorm:"type:uuid;column:approved_by_id" json:"approvedById"`
	ApprovedAt      *time.Time `gorm:"column:approved_at" json:"approvedAt"`
	CreatedByID     *uuid.UUID `gorm:"type:uuid;column:created_by_id" json:"createdById"`
	Comment         string     `gorm:"column:comment" json:"comment"`
	RejectReason    string     `gorm:"column:reject_reason" json:"rejectReason"`

	User          *user.User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ApprovedBy    *user.User         `gorm:"foreignKey:ApprovedByID" json:"approvedBy,omitempty"`
	Team          *structure.Team    `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	Section       *structure.Section `gorm:"foreignKey:SectionID" json:"section,omitempty"`
	Project       *assembly.Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	OperationType *OperationType     `gorm:"foreignKey:OperationTypeID" json:"operationType,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Output) TableName() string { return "production_outputs" }

func (o *Output) Pending() bool { return o.Status == OutputPending }
