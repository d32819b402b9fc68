package referral

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusCreated    = "created"
	StatusSent       = "sent"
	StatusAccepted   = "accepted"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var validStatuses = map[string]bool{
	StatusCreated: true, StatusSent: true, StatusAccepted: true,
	StatusInProgress: true, StatusCompleted: true, StatusCancelled: true,
}

// ActiveStatuses are the statuses of a referral still being worked on.
var ActiveStatuses = []string{StatusCreated, StatusSent, StatusAccepted, StatusInProgress}

const (
	TypeRehabilitation = "rehabilitation"
	TypeProfpathology  = "profpathology"
	TypeSpecialist     = "specialist"
)

var validTypes = map[string]bool{TypeRehabilitation: true, TypeProfpathology: true, TypeSpecialist: true}

// ValidType reports whether t is a known referral type.
func ValidType(t string) bool { return validTypes[t] }

// Referral sends a patient to rehabilitation, a profpathology centre or a
// specialist after an expert verdict.
type Referral struct {
	ID                 uuid.UUID  `json:"id"`
	ClinicID           uuid.UUID  `json:"user"`
	ExpertiseID        *uuid.UUID `json:"expertise"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PatientName        string     `json:"patient_name"`
	IIN                string     `json:"iin"`
	ReferralType       string     `json:"referral_type"`
	TargetOrganization string     `json:"target_organization"`
	Reason             string     `json:"reason"`
	Status             string     `json:"status"`
	SentAt             *time.Time `json:"sent_at"`
	AcceptedAt         *time.Time `json:"accepted_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	Notes              string     `json:"notes"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Active reports whether the referral is still open.
func (r *Referral) Active() bool {
	for _, s := range ActiveStatuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

type Filter struct {
	ClinicID  uuid.UUID
	PatientID *uuid.UUID
	Status    string
}
