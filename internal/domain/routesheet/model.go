package routesheet

import (
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

const (
	ServicePending   = "pending"
	ServiceCompleted = "completed"
)

const (
	TestPending    = "pending"
	TestInProgress = "in_progress"
	TestCompleted  = "completed"
)

var validTestStatuses = map[string]bool{
	TestPending:    true,
	TestInProgress: true,
	TestCompleted:  true,
}

// RouteSheet lists the specialists a worker visits on one day.
type RouteSheet struct {
	ID          uuid.UUID     `json:"id"`
	ClinicID    uuid.UUID     `json:"user"`
	PatientID   uuid.UUID     `json:"patient_id"`
	PatientName string        `json:"patient_name"`
	IIN         string        `json:"iin"`
	Position    string        `json:"position"`
	Department  string        `json:"department"`
	VisitDate   dateonly.Date `json:"visit_date"`
	Services    []Visit       `json:"services"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Visit is one specialist visit of a route sheet.
type Visit struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Cabinet        string `json:"cabinet"`
	DoctorID       string `json:"doctorId"`
	Specialization string `json:"specialization"`
	Time           string `json:"time"`
	Status         string `json:"status"`
}

// SpecializationOrName returns the specialization, falling back to the name.
func (s *Visit) SpecializationOrName() string {
	if s.Specialization != "" {
		return s.Specialization
	}
	return s.Name
}

// Service returns the service with id, or nil.
func (r *RouteSheet) Service(id string) *Visit {
	for i := range r.Services {
		if r.Services[i].ID == id {
			return &r.Services[i]
		}
	}
	return nil
}

// CompletedServices counts services marked completed.
func (r *RouteSheet) CompletedServices() int {
	n := 0
	for _, s := range r.Services {
		if s.Status == ServiceCompleted {
			n++
		}
	}
	return n
}

// Filter scopes route sheet queries.
type Filter struct {
	ClinicID *uuid.UUID
	// EmployerID limits sheets to patients from the employer's contingent.
	EmployerID *uuid.UUID
	PatientID  *uuid.UUID
	VisitDate  *dateonly.Date
}

// FilterFor returns the visibility filter of u. Accounts without a role see
// nothing.
func FilterFor(u *identity.User) (Filter, bool) {
	id := u.ID
	switch {
	case u.IsClinic():
		return Filter{ClinicID: &id}, true
	case u.IsEmployer():
		return Filter{EmployerID: &id}, true
	}
	return Filter{}, false
}

const (
	KindLaboratory = "laboratory"
	KindFunctional = "functional"
)

// Test is a laboratory or functional investigation ordered for a patient.
type Test struct {
	ID           uuid.UUID              `json:"id"`
	RouteSheetID *uuid.UUID             `json:"route_sheet_id"`
	PatientID    uuid.UUID              `json:"patient_id"`
	PatientName  string                 `json:"patient_name"`
	TestType     string                 `json:"test_type"`
	TestName     string                 `json:"test_name"`
	Status       string                 `json:"status"`
	Results      map[string]interface{} `json:"results"`
	Notes        string                 `json:"notes"`
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  *time.Time             `json:"performed_at"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Open reports whether the test still blocks an expert verdict.
func (t *Test) Open() bool {
	return t.Status == TestPending || t.Status == TestInProgress
}

type TestFilter struct {
	PatientID    *uuid.UUID
	RouteSheetID *uuid.UUID
}
