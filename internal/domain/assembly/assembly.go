package assembly

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kryptonit/mes-backend/internal/domain/user"
	"github.com/kryptonit/mes-backend/internal/domain/warehouse"
)

const (
	ProjectActive   = "ACTIVE"
	ProjectArchived = "ARCHIVED"
)

const (
	ProcessInProgress = "IN_PROGRESS"
	ProcessCompleted  = "COMPLETED"
)

// OriginProduct marks a warehouse box created for an assembled product.
const OriginProduct = "PRODUCT"

// OpAssemblyFinish is the movement written when an assembly is finished. It
// credits one good unit to the assembler and leaves the quantity unchanged.
const OpAssemblyFinish = "ASSEMBLY_FINISH"

type Project struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string     `gorm:"uniqueIndex;not null;column:title" json:"title"`
	Description string     `gorm:"column:description" json:"description"`
	Status      string     `gorm:"not null;default:ACTIVE;index;column:status" json:"status"`
	CreatedByID *uuid.UUID `gorm:"type:uuid;column:created_by_id" json:"createdById"`

	CreatedBy *user.User `gorm:"foreignKey:CreatedByID" json:"author,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Project) TableName() string { return "projects" }

// Recipe is the assembly route of a project; a project has at most one.
type Recipe struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;column:project_id" json:"projectId"`
	Title     string    `gorm:"not null;column:title" json:"title"`

	Project *Project     `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Steps   []RecipeStep `gorm:"foreignKey:RecipeID" json:"steps,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Recipe) TableName() string { return "assembly_recipes" }

type RecipeStep struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RecipeID    uuid.UUID `gorm:"type:uuid;not null;index;column:recipe_id" json:"recipeId"`
	Order       int       `gorm:"not null;column:step_order" json:"order"`
	Title       string    `gorm:"not null;column:title" json:"title"`
	Quantity    int       `gorm:"not null;default:1;column:quantity" json:"quantity"`
	Description string    `gorm:"column:description" json:"description"`
}

func (RecipeStep) TableName() string { return "recipe_steps" }

// Process is one product going through a recipe. CompletedSteps holds
// zero-based indexes into the recipe's ordered steps.
type Process struct {
	ID             uuid.UUID                `gorm:"type:uuid;primaryKey" json:"id"`
	BoxID          uuid.UUID                `gorm:"type:uuid;not null;index;column:box_id" json:"boxId"`
	RecipeID       uuid.UUID                `gorm:"type:uuid;not null;index;column:recipe_id" json:"recipeId"`
	AssemblerID    *uuid.UUID               `gorm:"type:uuid;index;column:assembler_id" json:"assemblerId"`
	CompletedSteps datatypes.JSONSlice[int] `gorm:"column:completed_steps" json:"completedSteps"`
	Status         string                   `gorm:"not null;default:IN_PROGRESS;index;column:status" json:"status"`
	StartedAt      time.Time                `gorm:"not null;column:started_at" json:"startTime"`
	FinishedAt     *time.Time               `gorm:"index;column:finished_at" json:"endTime"`

	Box       *warehouse.Box `gorm:"foreignKey:BoxID" json:"box,omitempty"`
	Recipe    *Recipe        `gorm:"foreignKey:RecipeID" json:"recipe,omitempty"`
	Assembler *user.User     `gorm:"foreignKey:AssemblerID" json:"assembler,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Process) TableName() string { return "assembly_processes" }

// Missing counts the recipe steps not ticked off.
func (p *Process) Missing(totalSteps int) int {
	done := 0
	for _, i := range p.CompletedSteps {
		if i >= 0 && i < totalSteps {
			done++
		}
	}
	return totalSteps - done
}
