package beryll

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/domain/user"
)

const (
	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
)

// SLAHours is the resolution window per defect priority.
var SLAHours = map[string]int{
	PriorityCritical: 24,
	PriorityHigh:     48,
	PriorityMedium:   72,
	PriorityLow:      120,
}

type PartType struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

const (
	PartRAM         = "RAM"
	PartMotherboard = "MOTHERBOARD"
	PartCPU         = "CPU"
	PartHDD         = "HDD"
	PartSSD         = "SSD"
	PartPSU         = "PSU"
	PartFan         = "FAN"
	PartRAID        = "RAID"
	PartNIC         = "NIC"
	PartBackplane   = "BACKPLANE"
	PartBMC         = "BMC"
	PartCable       = "CABLE"
	PartOther       = "OTHER"
)

var PartTypes = []PartType{
	{PartRAM, "Оперативная память"},
	{PartMotherboard, "Материнская плата"},
	{PartCPU, "Процессор"},
	{PartHDD, "Жёсткий диск"},
	{PartSSD, "SSD накопитель"},
	{PartPSU, "Блок питания"},
	{PartFan, "Вентилятор"},
	{PartRAID, "RAID контроллер"},
	{PartNIC, "Сетевая карта"},
	{PartBackplane, "Backplane"},
	{PartBMC, "BMC модуль"},
	{PartCable, "Кабель"},
	{PartOther, "Другое"},
}

func IsPartType(v string) bool {
	for _, pt := range PartTypes {
		if pt.Value == v {
			return true
		}
	}
	return false
}

type DefectRecord struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ServerID           uuid.UUID  `gorm:"type:uuid;not null;index;column:server_id" json:"serverId"`
	YadroTicketNumber  *string    `gorm:"index;column:yadro_ticket_number" json:"yadroTicketNumber"`
	HasSPISI           bool       `gorm:"not null;default:false;column:has_spisi" json:"hasSPISI"`
	ClusterCode        string     `gorm:"column:cluster_code" json:"clusterCode"`
	ProblemDescription string     `gorm:"column:problem_description" json:"problemDescription"`
	DetectedAt         time.Time  `gorm:"not null;index;column:detected_at" json:"detectedAt"`
	DetectedByID       *uuid.UUID `gorm:"type:uuid;column:detected_by_id" json:"detectedById"`
	DiagnosticianID    *uuid.UUID `gorm:"type:uuid;index;column:diagnostician_id" json:"diagnosticianId"`
	RepairPartType     *string    `gorm:"index;column:repair_part_type" json:"repairPartType"`

	DefectPartSerialYadro      *string `gorm:"column:defect_part_serial_yadro" json:"defectPartSerialYadro"`
	DefectPartSerialManuf      *string `gorm:"column:defect_part_serial_manuf" json:"defectPartSerialManuf"`
	ReplacementPartSerialYadro *string `gorm:"column:replacement_part_serial_yadro" json:"replacementPartSerialYadro"`
	ReplacementPartSerialManuf *string `gorm:"column:replacement_part_serial_manuf" json:"replacementPartSerialManuf"`

	RepairDetails        string     `gorm:"column:repair_details" json:"repairDetails"`
	Status               string     `gorm:"not null;default:NEW;index;column:status" json:"status"`
	Priority             string     `gorm:"not null;default:MEDIUM;column:priority" json:"priority"`
	IsRepeatedDefect     bool       `gorm:"not null;default:false;index;column:is_repeated_defect" json:"isRepeatedDefect"`
	RepeatedDefectReason string     `gorm:"column:repeated_defect_reason" json:"repeatedDefectReason"`
	PreviousDefectID     *uuid.UUID `gorm:"type:uuid;column:previous_defect_id" json:"previousDefectId"`
	SentToYadroAt        *time.Time `gorm:"column:sent_to_yadro_at" json:"sentToYadroAt"`
	ReturnedFromYadroAt  *time.Time `gorm:"column:returned_from_yadro_at" json:"returnedFromYadroAt"`
	SubstituteServerID   *uuid.UUID `gorm:"type:uuid;column:substitute_server_id" json:"substituteServerId"`
	ResolvedAt           *time.Time `gorm:"column:resolved_at" json:"resolvedAt"`
	ResolvedByID         *uuid.UUID `gorm:"type:uuid;column:resolved_by_id" json:"resolvedById"`
	Resolution           string     `gorm:"column:resolution" json:"resolution"`
	TotalDowntimeMinutes *int       `gorm:"column:total_downtime_minutes" json:"totalDowntimeMinutes"`
	SLADeadline          *time.Time `gorm:"index;column:sla_deadline" json:"slaDeadline"`
	Notes                string     `gorm:"column:notes" json:"notes"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`

	Server        *Server    `gorm:"foreignKey:ServerID" json:"server,omitempty"`
	DetectedBy    *user.User `gorm:"foreignKey:DetectedByID" json:"detectedBy,omitempty"`
	Diagnostician *user.User `gorm:"foreignKey:DiagnosticianID" json:"diagnostician,omitempty"`
	ResolvedBy    *user.User `gorm:"foreignKey:ResolvedByID" json:"resolvedBy,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (DefectRecord) TableName() string { return "beryll_defect_records" }

// SLABreached reports whether the record is still open past its deadline.
func (d *DefectRecord) SLABreached(now time.Time) bool {
	if d.SLADeadline == nil || IsInactiveDefectStatus(d.Status) {
		return false
	}
	return d.SLADeadline.Before(now)
}
