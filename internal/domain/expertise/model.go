package expertise

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/referral"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

const (
	VerdictFit            = "fit"
	VerdictTemporaryUnfit = "temporary_unfit"
	VerdictPermanentUnfit = "permanent_unfit"
)

var validVerdicts = map[string]bool{VerdictFit: true, VerdictTemporaryUnfit: true, VerdictPermanentUnfit: true}

const (
	ConclusionHealthy   = "healthy"
	ConclusionUnhealthy = "unhealthy"
)

// Conclusion is one specialist's finding collected for the expert verdict.
type Conclusion struct {
	DoctorName      string `json:"doctor_name"`
	Specialization  string `json:"specialization"`
	Conclusion      string `json:"conclusion"`
	Notes           string `json:"notes"`
	Recommendations string `json:"recommendations"`
}

func (c Conclusion) notesContain(words ...string) bool {
	notes := strings.ToLower(c.Notes)
	for _, w := range words {
		if strings.Contains(notes, w) {
			return true
		}
	}
	return false
}

// Expertise is the profpathologist's verdict on a worker's fitness after the
// route sheet is completed.
type Expertise struct {
	ID                       uuid.UUID     `json:"id"`
	ClinicID                 uuid.UUID     `json:"user"`
	PatientID                uuid.UUID     `json:"patient_id"`
	PatientName              string        `json:"patient_name"`
	IIN                      string        `json:"iin"`
	Position                 string        `json:"position"`
	Department               string        `json:"department"`
	RouteSheetID             *uuid.UUID    `json:"route_sheet_id"`
	DoctorConclusions        []Conclusion  `json:"doctor_conclusions"`
	FinalVerdict             *string       `json:"final_verdict"`
	HealthGroup              *string       `json:"health_group"`
	VerdictDate              dateonly.Date `json:"verdict_date"`
	ProfpathologistName      string        `json:"profpathologist_name"`
	ProfpathologistSignature string        `json:"profpathologist_signature"`
	TemporaryUnfitUntil      dateonly.Date `json:"temporary_unfit_until"`
	Reason                   string        `json:"reason"`
	RequiresReferral         bool          `json:"requires_referral"`
	ReferralType             string        `json:"referral_type"`
	ReferralSent             bool          `json:"referral_sent"`
	ReferralDate             dateonly.Date `json:"referral_date"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// Verdict returns the final verdict or "".
func (e *Expertise) Verdict() string {
	if e.FinalVerdict == nil {
		return ""
	}
	return *e.FinalVerdict
}

func (e *Expertise) hasUnhealthy() bool {
	for _, c := range e.DoctorConclusions {
		if c.Conclusion == ConclusionUnhealthy {
			return true
		}
	}
	return false
}

// OccupationalDisease reports whether any conclusion records an occupational
// disease.
func (e *Expertise) OccupationalDisease() bool {
	for _, c := range e.DoctorConclusions {
		if c.notesContain("профзаболевание") {
			return true
		}
	}
	return false
}

// AssignHealthGroup derives the health group "1".."6" from the verdict and
// conclusions. It returns "" when there is no verdict.
func AssignHealthGroup(e *Expertise) string {
	switch e.Verdict() {
	case VerdictFit:
		if e.hasUnhealthy() {
			return "2"
		}
		return "1"
	case VerdictTemporaryUnfit:
		for _, c := range e.DoctorConclusions {
			if c.notesContain("впф", "вредный фактор") {
				return "3"
			}
		}
		return "4"
	case VerdictPermanentUnfit:
		reason := strings.ToLower(e.Reason)
		if strings.Contains(reason, "реабилитац") || strings.Contains(reason, "профпатолог") {
			return "6"
		}
		return "5"
	}
	return ""
}

// ReferralTypeFor returns the referral a health group calls for, or "".
func ReferralTypeFor(group string) string {
	switch group {
	case "4":
		return referral.TypeProfpathology
	case "5":
		return referral.TypeSpecialist
	case "6":
		return referral.TypeRehabilitation
	}
	return ""
}

// Recommendation summarises what a non-fit worker needs next.
func (e *Expertise) Recommendation() string {
	var parts []string
	for _, c := range e.DoctorConclusions {
		switch {
		case c.Recommendations != "":
			parts = append(parts, c.Recommendations)
		case c.Notes != "" && c.Conclusion == ConclusionUnhealthy:
			parts = append(parts, c.Notes)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}
	if e.Reason != "" {
		return e.Reason
	}
	return "Требуется дополнительное обследование"
}

type Filter struct {
	ClinicID    uuid.UUID
	PatientID   *uuid.UUID
	Department  string
	WithVerdict bool
	// NonFit keeps temporary and permanent unfit verdicts only.
	NonFit      bool
	VerdictFrom *dateonly.Date
	VerdictTo   *dateonly.Date
}

// Stats are the final act figures of a clinic.
type Stats struct {
	TotalExamined              int `json:"totalExamined"`
	Healthy                    int `json:"healthy"`
	TemporaryContraindications int `json:"temporaryContraindications"`
	PermanentContraindications int `json:"permanentContraindications"`
	OccupationalDiseases       int `json:"occupationalDiseases"`
}

func (s *Stats) add(e *Expertise) {
	s.TotalExamined++
	switch e.Verdict() {
	case VerdictFit:
		s.Healthy++
	case VerdictTemporaryUnfit:
		s.TemporaryContraindications++
	case VerdictPermanentUnfit:
		s.PermanentContraindications++
	}
	if e.OccupationalDisease() {
		s.OccupationalDiseases++
	}
}

// ComputeStats aggregates expertises that carry a verdict.
func ComputeStats(items []*Expertise) Stats {
	var s Stats
	for _, e := range items {
		if e.FinalVerdict != nil {
			s.add(e)
		}
	}
	return s
}

// HealthPlanItem is one line of the employer's health improvement plan.
type HealthPlanItem struct {
	PatientID      uuid.UUID `json:"patientId"`
	EmployeeName   string    `json:"employeeName"`
	Position       string    `json:"position"`
	Recommendation string    `json:"recommendation"`
}

// Readiness tells whether an expert verdict can be issued.
type Readiness struct {
	IsReady bool     `json:"is_ready"`
	Errors  []string `json:"errors"`
}
