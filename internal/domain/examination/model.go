package examination

import (
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/routesheet"
)

const (
	ConclusionHealthy   = "healthy"
	ConclusionUnhealthy = "unhealthy"
)

// DoctorExamination is one specialist's examination record of a patient.
type DoctorExamination struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor"`
	DoctorName      string    `json:"doctor_name"`
	Specialization  string    `json:"specialization"`
	Conclusion      *string   `json:"conclusion"`
	Notes           string    `json:"notes"`
	ExaminationDate time.Time `json:"examination_date"`
	DoctorSignature string    `json:"doctor_signature"`
	Recommendations string    `json:"recommendations"`
	CreatedAt       time.Time `json:"created_at"`
}

type Filter struct {
	DoctorID  uuid.UUID
	PatientID *uuid.UUID
}

// History is a patient's examination history grouped by day, newest first.
type History struct {
	PatientID   uuid.UUID `json:"patient_id"`
	Days        []*Day    `json:"history"`
	TotalVisits int       `json:"total_visits"`
}

type Day struct {
	Date         string             `json:"date"`
	Examinations []ExaminationEntry `json:"examinations"`
	RouteSheets  []SheetEntry       `json:"route_sheets"`
	Expertises   []ExpertiseEntry   `json:"expertises"`
}

type ExaminationEntry struct {
	ID              uuid.UUID `json:"id"`
	DoctorName      string    `json:"doctor_name"`
	Specialization  string    `json:"specialization"`
	Conclusion      *string   `json:"conclusion"`
	Notes           string    `json:"notes"`
	Recommendations string    `json:"recommendations"`
	ExaminationDate time.Time `json:"examination_date"`
}

type SheetEntry struct {
	ID                uuid.UUID          `json:"id"`
	VisitDate         string             `json:"visit_date"`
	CompletedServices int                `json:"completed_services"`
	TotalServices     int                `json:"total_services"`
	Services          []routesheet.Visit `json:"services"`
}

type ExpertiseEntry struct {
	ID           uuid.UUID `json:"id"`
	FinalVerdict *string   `json:"final_verdict"`
	HealthGroup  *string   `json:"health_group"`
	CreatedAt    time.Time `json:"created_at"`
}
