package beryll

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/domain/user"
)

const (
	BatchActive    = "ACTIVE"
	BatchCompleted = "COMPLETED"
	BatchCancelled = "CANCELLED"
)

const (
	ServerNew        = "NEW"
	ServerInWork     = "IN_WORK"
	ServerClarifying = "CLARIFYING"
	ServerDefect     = "DEFECT"
	ServerDone       = "DONE"
	ServerArchived   = "ARCHIVED"
)

var ServerStatuses = []string{ServerNew, ServerInWork, ServerClarifying, ServerDefect, ServerDone, ServerArchived}

const (
	PingOnline  = "ONLINE"
	PingOffline = "OFFLINE"
	PingUnknown = "UNKNOWN"
)

const (
	HistoryCreated            = "CREATED"
	HistoryTaken              = "TAKEN"
	HistoryReleased           = "RELEASED"
	HistoryStatusChanged      = "STATUS_CHANGED"
	HistoryNoteAdded          = "NOTE_ADDED"
	HistoryChecklistCompleted = "CHECKLIST_COMPLETED"
	HistoryBatchAssigned      = "BATCH_ASSIGNED"
	HistoryBatchRemoved       = "BATCH_REMOVED"
	HistoryDeleted            = "DELETED"
	HistoryArchived           = "ARCHIVED"
	HistorySerialAssigned     = "SERIAL_ASSIGNED"
	HistoryComponentsImported = "COMPONENTS_IMPORTED"
	HistoryDefectUpdated      = "DEFECT_UPDATED"
)

const (
	GroupPreparation = "PREPARATION"
	GroupAssembly    = "ASSEMBLY"
	GroupTesting     = "TESTING"
	GroupBurnIn      = "BURN_IN"
	GroupFinal       = "FINAL"
)

var ComponentTypes = []string{"CPU", "RAM", "HDD", "SSD", "NVME", "NIC", "MOTHERBOARD", "BMC", "PSU", "GPU", "RAID", "FAN", "OTHER"}

const (
	ComponentOK         = "OK"
	ComponentWarning    = "WARNING"
	ComponentCritical   = "CRITICAL"
	ComponentUnknown    = "UNKNOWN"
	ComponentNotPresent = "NOT_PRESENT"
	ComponentReplaced   = "REPLACED"
)

type Batch struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title         string     `gorm:"not null;column:title" json:"title"`
	Supplier      string     `gorm:"column:supplier" json:"supplier"`
	DeliveryDate  *time.Time `gorm:"column:delivery_date" json:"deliveryDate"`
	Status        string     `gorm:"not null;default:ACTIVE;index;column:status" json:"status"`
	ExpectedCount *int       `gorm:"column:expected_count" json:"expectedCount"`
	Notes         string     `gorm:"column:notes" json:"notes"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completedAt"`
	CreatedByID   *uuid.UUID `gorm:"type:uuid;column:created_by_id" json:"createdById"`

	CreatedBy *user.User `gorm:"foreignKey:CreatedByID" json:"createdBy,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Batch) TableName() string { return "beryll_batches" }

type Server struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	IPAddress       *string        `gorm:"index;column:ip_address" json:"ipAddress"`
	MACAddress      *string        `gorm:"column:mac_address" json:"macAddress"`
	Hostname        *string        `gorm:"column:hostname" json:"hostname"`
	SerialNumber    *string        `gorm:"index;column:serial_number" json:"serialNumber"`
	APKSerialNumber *string        `gorm:"index;column:apk_serial_number" json:"apkSerialNumber"`
	BMCAddress      *string        `gorm:"column:bmc_address" json:"bmcAddress"`
	Status          string         `gorm:"not null;default:NEW;index;column:status" json:"status"`
	BatchID         *uuid.UUID     `gorm:"type:uuid;index;column:batch_id" json:"batchId"`
	AssignedToID    *uuid.UUID     `gorm:"type:uuid;index;column:assigned_to_id" json:"assignedToId"`
	AssignedAt      *time.Time     `gorm:"column:assigned_at" json:"assignedAt"`
	Notes           string         `gorm:"column:notes" json:"notes"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completedAt"`
	ArchivedAt      *time.Time     `gorm:"column:archived_at" json:"archivedAt"`
	ArchivedByID    *uuid.UUID     `gorm:"type:uuid;column:archived_by_id" json:"archivedById"`
	BurnInStartAt   *time.Time     `gorm:"column:burn_in_start_at" json:"burnInStartAt"`
	BurnInEndAt     *time.Time     `gorm:"column:burn_in_end_at" json:"burnInEndAt"`
	PingStatus      string         `gorm:"not null;default:UNKNOWN;column:ping_status" json:"pingStatus"`
	LastPingAt      *time.Time     `gorm:"column:last_ping_at" json:"lastPingAt"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`

	Batch      *Batch            `gorm:"foreignKey:BatchID" json:"batch,omitempty"`
	AssignedTo *user.User        `gorm:"foreignKey:AssignedToID" json:"assignedTo,omitempty"`
	Components []Component       `gorm:"foreignKey:ServerID" json:"components,omitempty"`
	Checklists []ServerChecklist `gorm:"foreignKey:ServerID" json:"checklists,omitempty"`
	History    []History         `gorm:"foreignKey:ServerID" json:"history,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updatedAt"`
}

func (Server) TableName() string { return "beryll_servers" }

func (s *Server) DisplayName() string {
	switch {
	case s.Hostname != nil && *s.Hostname != "":
		return *s.Hostname
	case s.IPAddress != nil && *s.IPAddress != "":
		return *s.IPAddress
	case s.APKSerialNumber != nil && *s.APKSerialNumber != "":
		return *s.APKSerialNumber
	default:
		return s.ID.String()
	}
}

type History struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ServerID        *uuid.UUID     `gorm:"type:uuid;index;column:server_id" json:"serverId"`
	ServerIP        *string        `gorm:"column:server_ip" json:"serverIp"`
	ServerHostname  *string        `gorm:"column:server_hostname" json:"serverHostname"`
	UserID          *uuid.UUID     `gorm:"type:uuid;index;column:user_id" json:"userId"`
	Action          string         `gorm:"not null;index;column:action" json:"action"`
	FromStatus      *string        `gorm:"column:from_status" json:"fromStatus"`
	ToStatus        *string        `gorm:"column:to_status" json:"toStatus"`
	Comment         string         `gorm:"column:comment" json:"comment"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	DurationMinutes *int           `gorm:"column:duration_minutes" json:"durationMinutes"`

	User *user.User `gorm:"foreignKey:UserID" json:"user,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

func (History) TableName() string { return "beryll_history" }

type ChecklistTemplate struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"not null;column:title" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	GroupCode   string    `gorm:"not null;default:TESTING;column:group_code" json:"groupCode"`
	SortOrder   int       `gorm:"not null;default:0;column:sort_order" json:"sortOrder"`
	IsRequired  bool      `gorm:"not null;default:true;column:is_required" json:"isRequired"`
	IsActive    bool      `gorm:"not null;default:true;index;column:is_active" json:"isActive"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (ChecklistTemplate) TableName() string { return "beryll_checklist_templates" }

type ServerChecklist struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ServerID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_server_checklist;column:server_id" json:"serverId"`
	TemplateID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_server_checklist;column:template_id" json:"templateId"`
	Completed     bool       `gorm:"not null;default:false;column:completed" json:"completed"`
	CompletedByID *uuid.UUID `gorm:"type:uuid;column:completed_by_id" json:"completedById"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completedAt"`
	Notes         string     `gorm:"column:notes" json:"notes"`

	Template *ChecklistTemplate `gorm:"foreignKey:TemplateID" json:"template,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (ServerChecklist) TableName() string { return "beryll_server_checklists" }

type Component struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ServerID          uuid.UUID  `gorm:"type:uuid;not null;index;column:server_id" json:"serverId"`
	Type              string     `gorm:"not null;index;column:type" json:"type"`
	Slot              string     `gorm:"column:slot" json:"slot"`
	Manufacturer      string     `gorm:"column:manufacturer" json:"manufacturer"`
	Model             string     `gorm:"column:model" json:"model"`
	SerialNumber      *string    `gorm:"index;column:serial_number" json:"serialNumber"`
	SerialNumberYadro *string    `gorm:"index;column:serial_number_yadro" json:"serialNumberYadro"`
	Status            string     `gorm:"not null;default:OK;column:status" json:"status"`
	InstalledAt       *time.Time `gorm:"column:installed_at" json:"installedAt"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Component) TableName() string { return "beryll_server_components" }
