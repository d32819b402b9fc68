package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

const (
	StatusWaiting    = "waiting"
	StatusCalled     = "called"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusSkipped    = "skipped"
	StatusCancelled  = "cancelled"
)

var validStatuses = map[string]bool{
	StatusWaiting: true, StatusCalled: true, StatusInProgress: true,
	StatusCompleted: true, StatusSkipped: true, StatusCancelled: true,
}

// ActiveStatuses are the statuses shown on the live queue board.
var ActiveStatuses = []string{StatusWaiting, StatusCalled, StatusInProgress}

const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
	PriorityVIP    = "vip"
)

// priorityRank orders the board; lower is served first.
var priorityRank = map[string]int{PriorityVIP: 0, PriorityUrgent: 1, PriorityNormal: 2}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// Entry is a patient's place in a clinic's queue for one service.
type Entry struct {
	ID           uuid.UUID  `json:"id"`
	ClinicID     uuid.UUID  `json:"user"`
	RouteSheetID *uuid.UUID `json:"route_sheet_id"`
	DoctorID     *uuid.UUID `json:"doctor_id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	PatientName  string     `json:"patient_name"`
	IIN          string     `json:"iin"`
	ServiceName  string     `json:"service_name"`
	Cabinet      string     `json:"cabinet"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	QueueNumber  int        `json:"queue_number"`
	AddedAt      time.Time  `json:"added_at"`
	CalledAt     *time.Time `json:"called_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Notes        string     `json:"notes"`
}

// Active reports whether the entry is still on the board.
func (e *Entry) Active() bool {
	return e.Status == StatusWaiting || e.Status == StatusCalled || e.Status == StatusInProgress
}

// Less orders entries by priority, queue number, then arrival.
func Less(a, b *Entry) bool {
	if ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]; ra != rb {
		return ra < rb
	}
	if a.QueueNumber != b.QueueNumber {
		return a.QueueNumber < b.QueueNumber
	}
	return a.AddedAt.Before(b.AddedAt)
}

type Filter struct {
	ClinicID uuid.UUID
	DoctorID *uuid.UUID
	Status   string
	Date     *dateonly.Date
	// ActiveOnly keeps waiting, called and in_progress entries.
	ActiveOnly bool
}
