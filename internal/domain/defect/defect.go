package defect

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/domain/user"
)

const (
	SeverityCritical = "CRITICAL"
	SeverityMajor    = "MAJOR"
	SeverityMinor    = "MINOR"
)

const (
	StatusOpen     = "OPEN"
	StatusInRepair = "IN_REPAIR"
	StatusRepaired = "REPAIRED"
	StatusVerified = "VERIFIED"
	StatusScrapped = "SCRAPPED"
	StatusReturned = "RETURNED"
	StatusClosed   = "CLOSED"
)

var Statuses = []string{StatusOpen, StatusInRepair, StatusRepaired, StatusVerified, StatusScrapped, StatusReturned, StatusClosed}

const (
	ResultFixed              = "FIXED"
	ResultScrapped           = "SCRAPPED"
	ResultReturnedToSupplier = "RETURNED_TO_SUPPLIER"
	ResultFalsePositive      = "FALSE_POSITIVE"
)

var ActionTypes = []string{"DIAGNOSIS", "SOLDER", "REPLACE", "FLASH", "TEST", "CLEAN", "CLONE_DISK", "CABLE_REPLACE", "OTHER"}

const (
	RepairSuccess = "SUCCESS"
	RepairPartial = "PARTIAL"
	RepairFailed  = "FAILED"
	RepairPending = "PENDING"
)

var RepairResults = []string{RepairSuccess, RepairPartial, RepairFailed, RepairPending}

type Category struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Code            string         `gorm:"uniqueIndex;not null;column:code" json:"code"`
	Title           string         `gorm:"not null;column:title" json:"title"`
	Description     string         `gorm:"column:description" json:"description"`
	Severity        string         `gorm:"not null;default:MAJOR;column:severity" json:"severity"`
	ApplicableTypes datatypes.JSON `gorm:"type:jsonb;column:applicable_types" json:"applicableTypes"`
	IsActive        bool           `gorm:"not null;default:true;index;column:is_active" json:"isActive"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Category) TableName() string { return "defect_categories" }

type BoardDefect struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BoardType          string     `gorm:"not null;index;column:board_type" json:"boardType"`
	BoardID            *string    `gorm:"column:board_id" json:"boardId"`
	SerialNumber       string     `gorm:"not null;index;column:serial_number" json:"serialNumber"`
	CategoryID         *uuid.UUID `gorm:"type:uuid;index;column:category_id" json:"categoryId"`
	Description        string     `gorm:"column:description" json:"description"`
	DetectedByID       *uuid.UUID `gorm:"type:uuid;column:detected_by_id" json:"detectedById"`
	DetectedAt         time.Time  `gorm:"not null;index;column:detected_at" json:"detectedAt"`
	Status             string     `gorm:"not null;default:OPEN;index;column:status" json:"status"`
	ClosedByID         *uuid.UUID `gorm:"type:uuid;column:closed_by_id" json:"closedById"`
	ClosedAt           *time.Time `gorm:"column:closed_at" json:"closedAt"`
	FinalResult        *string    `gorm:"column:final_result" json:"finalResult"`
	TotalRepairMinutes int        `gorm:"not null;default:0;column:total_repair_minutes" json:"totalRepairMinutes"`

	Category   *Category      `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	DetectedBy *user.User     `gorm:"foreignKey:DetectedByID" json:"detectedBy,omitempty"`
	Repairs    []RepairAction `gorm:"foreignKey:BoardDefectID" json:"repairs,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (BoardDefect) TableName() string { return "board_defects" }

type RepairAction struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BoardDefectID    uuid.UUID  `gorm:"type:uuid;not null;index;column:board_defect_id" json:"boardDefectId"`
	ActionType       string     `gorm:"not null;column:action_type" json:"actionType"`
	PerformedByID    *uuid.UUID `gorm:"type:uuid;column:performed_by_id" json:"performedById"`
	PerformedAt      time.Time  `gorm:"not null;column:performed_at" json:"performedAt"`
	Description      string     `gorm:"column:description" json:"description"`
	TimeSpentMinutes int        `gorm:"not null;default:0;column:time_spent_minutes" json:"timeSpentMinutes"`
	Result           string     `gorm:"not null;default:PENDING;column:result" json:"result"`

	PerformedBy *user.User `gorm:"foreignKey:PerformedByID" json:"performedBy,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

func (RepairAction) TableName() string { return "repair_actions" }

var boardTransitions = map[string][]string{
	StatusOpen:     {StatusInRepair, StatusScrapped, StatusReturned, StatusClosed},
	StatusInRepair: {StatusRepaired, StatusScrapped, StatusReturned},
	StatusRepaired: {StatusVerified, StatusInRepair},
	StatusVerified: {StatusClosed},
	StatusReturned: {StatusClosed},
	StatusScrapped: {StatusClosed},
}

// CanTransition reports whether a board defect may move from one status to another.
// Staying in place is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range boardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsClosing(status string) bool {
	switch status {
	case StatusClosed, StatusScrapped, StatusReturned:
		return true
	}
	return false
}
