package emergency

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an emergency notice about an infectious or occupational
// disease found during an examination. It goes to the sanitary service and to
// the worker's employer.
type Notification struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       uuid.UUID  `json:"user"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PatientName    string     `json:"patient_name"`
	IIN            string     `json:"iin"`
	Position       string     `json:"position"`
	Department     string     `json:"department"`
	DiseaseType    string     `json:"disease_type"`
	Diagnosis      string     `json:"diagnosis"`
	DoctorName     string     `json:"doctor_name"`
	SentToTSB      bool       `json:"sent_to_tsb"`
	SentToEmployer bool       `json:"sent_to_employer"`
	SentAt         *time.Time `json:"sent_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Sent reports whether the notice has been dispatched.
func (n *Notification) Sent() bool { return n.SentAt != nil }
