package healthplan

import (
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

const (
	PlanDraft      = "draft"
	PlanPendingTSB = "pending_tsb"
	PlanApproved   = "approved"
)

var planStatuses = map[string]bool{PlanDraft: true, PlanPendingTSB: true, PlanApproved: true}

// Plan is a yearly health improvement plan drawn up after the final act.
type Plan struct {
	ID              uuid.UUID              `json:"id"`
	OwnerID         uuid.UUID              `json:"user"`
	Year            int                    `json:"year"`
	PlanData        map[string]interface{} `json:"plan_data"`
	Status          string                 `json:"status"`
	ApprovedByTSBAt *time.Time             `json:"approved_by_tsb_at"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

const (
	TypeTransfer       = "transfer"
	TypeTreatment      = "treatment"
	TypeObservation    = "observation"
	TypeRehabilitation = "rehabilitation"
)

var recommendationTypes = map[string]bool{
	TypeTransfer: true, TypeTreatment: true, TypeObservation: true, TypeRehabilitation: true,
}

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var recommendationStatuses = map[string]bool{
	StatusPending: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true,
}

// Recommendation tracks one follow-up action for an employee.
type Recommendation struct {
	ID                 uuid.UUID     `json:"id"`
	OwnerID            uuid.UUID     `json:"user"`
	PatientID          uuid.UUID     `json:"patient_id"`
	PatientName        string        `json:"patient_name"`
	Recommendation     string        `json:"recommendation"`
	RecommendationType string        `json:"recommendation_type"`
	Status             string        `json:"status"`
	CompletionDate     dateonly.Date `json:"completion_date"`
	Notes              string        `json:"notes"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}
