package device

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/domain/user"
)

// Device kinds flashed and tested on the shop floor.
const (
	KindFC      = "FC"
	KindELRS915 = "ELRS_915"
	KindELRS24  = "ELRS_2_4"
	KindCoralB  = "CORAL_B"
)

var Kinds = []string{KindFC, KindELRS915, KindELRS24, KindCoralB}

// ParseKind accepts the kind in any case, with or without separators
// ("fc", "elrs-915", "ELRS2_4", "coralB").
func ParseKind(raw string) (string, bool) {
	key := strings.ToUpper(strings.NewReplacer("-", "", "_", "", " ", "").Replace(raw))
	switch key {
	case "FC", "FCS":
		return KindFC, true
	case "ELRS915":
		return KindELRS915, true
	case "ELRS24":
		return KindELRS24, true
	case "CORALB":
		return KindCoralB, true
	}
	return "", false
}

// Device is one unit of a kind. Serial is empty for defective units counted
// in bulk before they were ever identified.
type Device struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Kind            string     `gorm:"not null;uniqueIndex:idx_device_kind_serial;index;column:kind" json:"kind"`
	Serial          *string    `gorm:"uniqueIndex:idx_device_kind_serial;column:serial" json:"serial"`
	Firmware        bool       `gorm:"not null;default:false;index;column:firmware" json:"firmware"`
	FirmwareVersion string     `gorm:"column:firmware_version" json:"firmwareVersion"`
	StandTest       *bool      `gorm:"column:stand_test" json:"standTest"`
	SAWFilter       *bool      `gorm:"column:saw_filter" json:"sawFilter"`
	SessionID       *uuid.UUID `gorm:"type:uuid;index;column:session_id" json:"sessionId"`
	CategoryID      *uuid.UUID `gorm:"type:uuid;index;column:category_id" json:"categoryId"`
	Comment         string     `gorm:"column:comment" json:"comment"`

	Category *defect.Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Session  *user.Session    `gorm:"foreignKey:SessionID" json:"session,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Device) TableName() string { return "devices" }

// Defective reports whether the unit carries a defect category.
func (d *Device) Defective() bool {
	return d.CategoryID != nil
}
