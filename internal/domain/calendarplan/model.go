package calendarplan

import (
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

const (
	StatusDraft           = "draft"
	StatusPendingClinic   = "pending_clinic"
	StatusPendingEmployer = "pending_employer"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusSentToSES       = "sent_to_ses"
)

// Window is the examination period of one department.
type Window struct {
	Department  string        `json:"department"`
	StartDate   dateonly.Date `json:"start_date"`
	EndDate     dateonly.Date `json:"end_date"`
	EmployeeIDs []uuid.UUID   `json:"employee_ids"`
}

// CalendarPlan schedules the periodic examination of an employer's
// contingent at a clinic.
type CalendarPlan struct {
	ID                     uuid.UUID     `json:"id"`
	ClinicID               uuid.UUID     `json:"user"`
	ContractID             *uuid.UUID    `json:"contract"`
	ContractNumber         *string       `json:"contract_number"`
	Department             string        `json:"department"`
	StartDate              dateonly.Date `json:"start_date"`
	EndDate                dateonly.Date `json:"end_date"`
	EmployeeIDs            []uuid.UUID   `json:"employee_ids"`
	DepartmentsInfo        []Window      `json:"departments_info"`
	HarmfulFactors         []string      `json:"harmful_factors"`
	SelectedDoctors        []interface{} `json:"selected_doctors"`
	Status                 string        `json:"status"`
	ClinicName             string        `json:"clinic_name"`
	ClinicDirector         string        `json:"clinic_director"`
	EmployerName           string        `json:"employer_name"`
	EmployerRepresentative string        `json:"employer_representative"`
	SESRepresentative      string        `json:"ses_representative"`
	RejectionReason        string        `json:"rejection_reason"`
	RejectedByEmployerAt   *time.Time    `json:"rejected_by_employer_at"`
	ApprovedByClinicAt     *time.Time    `json:"approved_by_clinic_at"`
	ApprovedByEmployerAt   *time.Time    `json:"approved_by_employer_at"`
	SentToSESAt            *time.Time    `json:"sent_to_ses_at"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Windows returns the department windows, or one plan-wide window when the
// plan has none.
func (p *CalendarPlan) Windows() []Window {
	if len(p.DepartmentsInfo) > 0 {
		return p.DepartmentsInfo
	}
	return []Window{{
		Department:  p.Department,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		EmployeeIDs: p.EmployeeIDs,
	}}
}

// Includes reports whether the plan lists employeeID.
func (p *CalendarPlan) Includes(employeeID uuid.UUID) bool {
	for _, id := range p.EmployeeIDs {
		if id == employeeID {
			return true
		}
	}
	return false
}

// Covers reports whether an approved plan schedules employeeID on day.
func (p *CalendarPlan) Covers(employeeID uuid.UUID, day dateonly.Date) bool {
	if p.Status != StatusApproved && p.Status != StatusSentToSES {
		return false
	}
	return p.Includes(employeeID) && day.Between(p.StartDate, p.EndDate)
}

// derive fills the plan-wide dates, employees and department from the
// department windows: earliest start, latest end, union of employees in
// window order and the first window's name.
func (p *CalendarPlan) derive() {
	if len(p.DepartmentsInfo) == 0 {
		return
	}
	p.Department = p.DepartmentsInfo[0].Department
	p.StartDate = p.DepartmentsInfo[0].StartDate
	p.EndDate = p.DepartmentsInfo[0].EndDate
	seen := make(map[uuid.UUID]bool)
	p.EmployeeIDs = []uuid.UUID{}
	for _, w := range p.DepartmentsInfo {
		if w.StartDate.Before(p.StartDate.Time) {
			p.StartDate = w.StartDate
		}
		if w.EndDate.After(p.EndDate.Time) {
			p.EndDate = w.EndDate
		}
		for _, id := range w.EmployeeIDs {
			if !seen[id] {
				seen[id] = true
				p.EmployeeIDs = append(p.EmployeeIDs, id)
			}
		}
	}
}

// Filter scopes plan queries. A clinic sees its own plans; an employer sees
// plans on its contracts or listing its employees.
type Filter struct {
	ClinicID    *uuid.UUID
	EmployerID  *uuid.UUID
	ContractIDs []uuid.UUID
	Status      string
}

// Matches evaluates f against p; owners maps employee ids to their owner.
// Repositories without SQL use it.
func (f Filter) Matches(p *CalendarPlan, owners map[uuid.UUID]uuid.UUID) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.ClinicID != nil {
		return p.ClinicID == *f.ClinicID
	}
	if f.EmployerID == nil {
		return false
	}
	if p.ContractID != nil {
		for _, id := range f.ContractIDs {
			if id == *p.ContractID {
				return true
			}
		}
	}
	for _, id := range p.EmployeeIDs {
		if owners[id] == *f.EmployerID {
			return true
		}
	}
	return false
}
