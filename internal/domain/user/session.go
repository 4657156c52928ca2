package user

import (
	"time"

	"github.com/google/uuid"
)

// PC is a shop-floor workstation, identified by its fixed IP.
type PC struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IP      string    `gorm:"uniqueIndex;not null;column:ip" json:"ip"`
	PCName  string    `gorm:"column:pc_name" json:"pcName"`
	Cabinet string    `gorm:"column:cabinet" json:"cabinet"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (PC) TableName() string { return "pcs" }

type Session struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index;column:user_id" json:"userId"`
	PCID      *uuid.UUID `gorm:"type:uuid;index;column:pc_id" json:"pcId"`
	Online    bool       `gorm:"not null;default:true;index;column:online" json:"online"`
	StartedAt time.Time  `gorm:"not null;column:started_at" json:"startedAt"`
	EndedAt   *time.Time `gorm:"column:ended_at" json:"endedAt"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PC   *PC   `gorm:"foreignKey:PCID" json:"pc,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Session) TableName() string { return "sessions" }
