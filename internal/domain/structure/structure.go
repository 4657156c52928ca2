package structure

import (
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/domain/user"
)

// Section is a production section (участок). Teams belong to exactly one section.
type Section struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string     `gorm:"uniqueIndex;not null;column:title" json:"title"`
	Description string     `gorm:"column:description" json:"description"`
	ManagerID   *uuid.UUID `gorm:"type:uuid;index;column:manager_id" json:"managerId"`

	Manager *user.User `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
	Teams   []Team     `gorm:"foreignKey:SectionID" json:"teams,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Section) TableName() string { return "sections" }

type Team struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string     `gorm:"not null;column:title" json:"title"`
	SectionID  uuid.UUID  `gorm:"type:uuid;not null;index;column:section_id" json:"sectionId"`
	TeamLeadID *uuid.UUID `gorm:"type:uuid;index;column:team_lead_id" json:"teamLeadId"`

	Lead    *user.User  `gorm:"foreignKey:TeamLeadID" json:"lead,omitempty"`
	Members []user.User `gorm:"foreignKey:TeamID" json:"members,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Team) TableName() string { return "teams" }
