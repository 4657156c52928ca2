package warehouse

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/domain/structure"
	"github.com/kryptonit/mes-backend/internal/domain/user"
)

const (
	SupplyStatusNew      = "NEW"
	SupplyStatusReceived = "RECEIVED"
	SupplyStatusClosed   = "CLOSED"
)

const (
	BoxStatusOnStock = "ON_STOCK"
	BoxStatusInWork  = "IN_WORK"
	BoxStatusDone    = "DONE"
	BoxStatusScrap   = "SCRAP"
)

var BoxStatuses = []string{BoxStatusOnStock, BoxStatusInWork, BoxStatusDone, BoxStatusScrap}

const (
	OpReceive = "RECEIVE"
	OpMove    = "MOVE"
	OpIssue   = "ISSUE"
	OpReturn  = "RETURN"
	OpConsume = "CONSUME"
	OpScrap   = "SCRAP"
	OpAdjust  = "ADJUST"
)

var Operations = []string{OpReceive, OpMove, OpIssue, OpReturn, OpConsume, OpScrap, OpAdjust}

const DocumentTypeMovement = "MOVEMENT"

const DefaultUnit = "шт"

type Supply struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	DocNumber    string     `gorm:"index;column:doc_number" json:"docNumber"`
	Supplier     string     `gorm:"column:supplier" json:"supplier"`
	Status       string     `gorm:"not null;default:NEW;index;column:status" json:"status"`
	Comment      string     `gorm:"column:comment" json:"comment"`
	ExpectedDate *time.Time `gorm:"column:expected_date" json:"expectedDate"`
	ReceivedAt   *time.Time `gorm:"column:received_at" json:"receivedAt"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Supply) TableName() string { return "supplies" }

type Box struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SupplyID         *uuid.UUID `gorm:"type:uuid;index;column:supply_id" json:"supplyId"`
	QRCode           string     `gorm:"uniqueIndex;not null;column:qr_code" json:"qrCode"`
	ShortCode        string     `gorm:"uniqueIndex;not null;column:short_code" json:"shortCode"`
	Label            string     `gorm:"not null;index;column:label" json:"label"`
	OriginType       string     `gorm:"index;column:origin_type" json:"originType"`
	OriginID         *string    `gorm:"index;column:origin_id" json:"originId"`
	Quantity         int        `gorm:"not null;default:1;column:quantity" json:"quantity"`
	Unit             string     `gorm:"not null;default:шт;column:unit" json:"unit"`
	ParentBoxID      *uuid.UUID `gorm:"type:uuid;index;column:parent_box_id" json:"parentBoxId"`
	KitNumber        string     `gorm:"column:kit_number" json:"kitNumber"`
	ProjectName      string     `gorm:"index;column:project_name" json:"projectName"`
	BatchName        string     `gorm:"index;column:batch_name" json:"batchName"`
	Status           string     `gorm:"not null;default:ON_STOCK;index;column:status" json:"status"`
	Notes            string     `gorm:"column:notes" json:"notes"`
	CurrentSectionID *uuid.UUID `gorm:"type:uuid;index;column:current_section_id" json:"currentSectionId"`
	CurrentTeamID    *uuid.UUID `gorm:"type:uuid;index;column:current_team_id" json:"currentTeamId"`
	AcceptedAt       *time.Time `gorm:"column:accepted_at" json:"acceptedAt"`
	AcceptedByID     *uuid.UUID `gorm:"type:uuid;column:accepted_by_id" json:"acceptedById"`

	ReservedQty          int        `gorm:"not null;default:0;column:reserved_qty" json:"reservedQty"`
	ReservedByID         *uuid.UUID `gorm:"type:uuid;column:reserved_by_id" json:"reservedById"`
	ReservedAt           *time.Time `gorm:"column:reserved_at" json:"reservedAt"`
	ReservationExpiresAt *time.Time `gorm:"index;column:reservation_expires_at" json:"reservationExpiresAt"`

	CurrentSection *structure.Section `gorm:"foreignKey:CurrentSectionID" json:"currentSection,omitempty"`
	CurrentTeam    *structure.Team    `gorm:"foreignKey:CurrentTeamID" json:"currentTeam,omitempty"`
	AcceptedBy     *user.User         `gorm:"foreignKey:AcceptedByID" json:"acceptedBy,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Box) TableName() string { return "warehouse_boxes" }

// Available is the quantity not held by a reservation.
func (b *Box) Available() int {
	return b.Quantity - b.ReservedQty
}

// ReservationActive reports whether a reservation still holds stock at now.
func (b *Box) ReservationActive(now time.Time) bool {
	if b.ReservedQty <= 0 {
		return false
	}
	return b.ReservationExpiresAt == nil || b.ReservationExpiresAt.After(now)
}

type Movement struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BoxID         uuid.UUID  `gorm:"type:uuid;not null;index;column:box_id" json:"boxId"`
	DocumentID    *uuid.UUID `gorm:"type:uuid;index;column:document_id" json:"documentId"`
	FromSectionID *uuid.UUID `gorm:"type:uuid;column:from_section_id" json:"fromSectionId"`
	FromTeamID    *uuid.UUID `gorm:"type:uuid;column:from_team_id" json:"fromTeamId"`
	ToSectionID   *uuid.UUID `gorm:"type:uuid;index;column:to_section_id" json:"toSectionId"`
	ToTeamID      *uuid.UUID `gorm:"type:uuid;column:to_team_id" json:"toTeamId"`
	Operation     string     `gorm:"not null;index;column:operation" json:"operation"`
	StatusAfter   string     `gorm:"column:status_after" json:"statusAfter"`
	DeltaQty      int        `gorm:"column:delta_qty" json:"deltaQty"`
	GoodQty       int        `gorm:"column:good_qty" json:"goodQty"`
	ScrapQty      int        `gorm:"column:scrap_qty" json:"scrapQty"`
	PerformedByID *uuid.UUID `gorm:"type:uuid;index;column:performed_by_id" json:"performedById"`
	PerformedAt   time.Time  `gorm:"not null;index;column:performed_at" json:"performedAt"`
	Comment       string     `gorm:"column:comment" json:"comment"`

	Box         *Box               `gorm:"foreignKey:BoxID" json:"box,omitempty"`
	PerformedBy *user.User         `gorm:"foreignKey:PerformedByID" json:"performedBy,omitempty"`
	ToSection   *structure.Section `gorm:"foreignKey:ToSectionID" json:"toSection,omitempty"`
}

func (Movement) TableName() string { return "warehouse_movements" }

type Document struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BoxID       *uuid.UUID `gorm:"type:uuid;index;column:box_id" json:"boxId"`
	Number      string     `gorm:"index;column:number" json:"number"`
	Type        string     `gorm:"column:type" json:"type"`
	Date        time.Time  `gorm:"column:date" json:"date"`
	FileURL     string     `gorm:"column:file_url" json:"fileUrl"`
	Comment     string     `gorm:"column:comment" json:"comment"`
	CreatedByID *uuid.UUID `gorm:"type:uuid;column:created_by_id" json:"createdById"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

func (Document) TableName() string { return "warehouse_documents" }

type PrintHistory struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Template    string         `gorm:"column:template" json:"template"`
	LabelName   string         `gorm:"column:label_name" json:"labelName"`
	StartCode   string         `gorm:"column:start_code" json:"startCode"`
	EndCode     string         `gorm:"column:end_code" json:"endCode"`
	Quantity    int            `gorm:"column:quantity" json:"quantity"`
	Params      datatypes.JSON `gorm:"type:jsonb;column:params" json:"params"`
	CreatedByID *uuid.UUID     `gorm:"type:uuid;column:created_by_id" json:"createdById"`

	CreatedBy *user.User `gorm:"foreignKey:CreatedByID" json:"createdBy,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

func (PrintHistory) TableName() string { return "print_history" }

type LabelTemplate struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string         `gorm:"not null;column:name" json:"name"`
	WidthMM     float64        `gorm:"column:width_mm" json:"widthMm"`
	HeightMM    float64        `gorm:"column:height_mm" json:"heightMm"`
	Layout      datatypes.JSON `gorm:"type:jsonb;column:layout" json:"layout"`
	CreatedByID *uuid.UUID     `gorm:"type:uuid;column:created_by_id" json:"createdById"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (LabelTemplate) TableName() string { return "label_templates" }

type InventoryLimit struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OriginType  string    `gorm:"uniqueIndex:idx_inventory_limit_key;column:origin_type" json:"originType"`
	OriginID    string    `gorm:"uniqueIndex:idx_inventory_limit_key;column:origin_id" json:"originId"`
	Label       string    `gorm:"uniqueIndex:idx_inventory_limit_key;column:label" json:"label"`
	MinQuantity int       `gorm:"not null;column:min_quantity" json:"minQuantity"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (InventoryLimit) TableName() string { return "inventory_limits" }
