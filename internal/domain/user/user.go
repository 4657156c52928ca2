package user

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleSuperAdmin       = "SUPER_ADMIN"
	RoleProductionChief  = "PRODUCTION_CHIEF"
	RoleTechnologist     = "TECHNOLOGIST"
	RoleWarehouseMaster  = "WAREHOUSE_MASTER"
	RoleQCEngineer       = "QC_ENGINEER"
	RoleFirmwareOperator = "FIRMWARE_OPERATOR"
	RoleAssembler        = "ASSEMBLER"
)

// RolePriority is the order in which a main role is picked from a token's role list.
var RolePriority = []string{
	RoleSuperAdmin,
	RoleProductionChief,
	RoleTechnologist,
	RoleWarehouseMaster,
	RoleQCEngineer,
	RoleFirmwareOperator,
	RoleAssembler,
}

func ValidRole(role string) bool {
	for _, r := range RolePriority {
		if r == role {
			return true
		}
	}
	return false
}

type User struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Login    string     `gorm:"uniqueIndex;not null;column:login" json:"login"`
	Password string     `gorm:"column:password" json:"-"`
	Role     string     `gorm:"not null;default:ASSEMBLER;index;column:role" json:"role"`
	Name     string     `gorm:"column:name" json:"name"`
	Surname  string     `gorm:"column:surname" json:"surname"`
	Img      string     `gorm:"column:img" json:"img"`
	TeamID   *uuid.UUID `gorm:"type:uuid;index;column:team_id" json:"teamId"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.Surname != "" && u.Name != "":
		return u.Surname + " " + u.Name
	case u.Surname != "":
		return u.Surname
	case u.Name != "":
		return u.Name
	default:
		return u.Login
	}
}
