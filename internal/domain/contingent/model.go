package contingent

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Employee is one worker of the list subject to the mandatory examination.
type Employee struct {
	ID                      uuid.UUID      `json:"id"`
	OwnerID                 uuid.UUID      `json:"user"`
	ContractID              *uuid.UUID     `json:"contract"`
	Name                    string         `json:"name"`
	BirthDate               *dateonly.Date `json:"birth_date"`
	Gender                  string         `json:"gender"`
	Department              string         `json:"department"`
	Position                string         `json:"position"`
	TotalExperienceYears    *int           `json:"total_experience_years"`
	PositionExperienceYears *int           `json:"position_experience_years"`
	LastExaminationDate     *dateonly.Date `json:"last_examination_date"`
	HarmfulFactors          []string       `json:"harmful_factors"`
	Notes                   string         `json:"notes"`
	IIN                     string         `json:"iin"`
	Phone                   string         `json:"phone"`
	RequiresExamination     bool           `json:"requires_examination"`
	NextExaminationDate     *dateonly.Date `json:"next_examination_date"`
	Quarter                 string         `json:"quarter"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`

	// Read-only enrichment.
	ContractNumber *string         `json:"contract_number"`
	EmployerName   *string         `json:"employer_name"`
	RouteSheetInfo *RouteSheetInfo `json:"route_sheet_info"`

	latestSheet *latestSheet
}

// RouteSheetInfo summarises the employee's most recent route sheet.
type RouteSheetInfo struct {
	VisitDate     dateonly.Date `json:"visit_date"`
	TimeRange     *string       `json:"time_range"`
	Doctors       []DoctorInfo  `json:"doctors"`
	ServicesCount int           `json:"services_count"`
}

type DoctorInfo struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Cabinet        string `json:"cabinet"`
	Time           string `json:"time"`
}

// latestSheet is the raw newest route sheet loaded alongside an employee.
type latestSheet struct {
	VisitDate dateonly.Date
	Services  []sheetService
}

type sheetService struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Cabinet        string `json:"cabinet"`
	DoctorID       string `json:"doctorId"`
	Time           string `json:"time"`
}

// Filter scopes employee queries to what an actor may see.
type Filter struct {
	// OwnerID limits rows to one owner; uuid.Nil disables the clause.
	OwnerID uuid.UUID
	// IncludeEmployers adds rows owned by any employer account.
	IncludeEmployers bool
	Department       string
}

// FilterFor returns the visibility filter of u.
func FilterFor(u *identity.User) Filter {
	return Filter{OwnerID: u.ID, IncludeEmployers: u.IsClinic()}
}

// Matches reports whether e passes f. ownerIsEmployer resolves the role of
// the row's owner.
func (f Filter) Matches(e *Employee, ownerIsEmployer bool) bool {
	visible := (f.OwnerID != uuid.Nil && e.OwnerID == f.OwnerID) || (f.IncludeEmployers && ownerIsEmployer)
	return visible && (f.Department == "" || e.Department == f.Department)
}

// Lookup selects a single employee by exactly one criterion.
type Lookup struct {
	ID          *uuid.UUID
	IIN         string
	Name        string // case-insensitive substring
	PhoneDigits string // substring of the stored phone's digits
}

// ParseGender maps free-form spreadsheet text to a gender code.
func ParseGender(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "муж"), strings.Contains(s, "male") && !strings.Contains(s, "female"):
		return GenderMale
	case strings.Contains(s, "жен"), strings.Contains(s, "female"):
		return GenderFemale
	}
	return ""
}

// SplitFactors splits a harmful factor cell on commas and semicolons.
func SplitFactors(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
