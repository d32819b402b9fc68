package contract

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

// Contract statuses.
const (
	StatusDraft             = "draft"
	StatusPendingApproval   = "pending_approval"
	StatusApproved          = "approved"
	StatusActive            = "active"
	StatusInProgress        = "in_progress"
	StatusPartiallyExecuted = "partially_executed"
	StatusRejected          = "rejected"
	StatusSent              = "sent"
	StatusExecuted          = "executed"
	StatusCancelled         = "cancelled"
)

// Subcontract statuses.
const (
	SubcontractPending  = "pending"
	SubcontractAccepted = "accepted"
	SubcontractRejected = "rejected"
)

const (
	ExecutionFull    = "full"
	ExecutionPartial = "partial"
)

// History actions.
const (
	ActionCreated            = "created"
	ActionUpdated            = "updated"
	ActionSentForApproval    = "sent_for_approval"
	ActionApproved           = "approved"
	ActionRejected           = "rejected"
	ActionResentForApproval  = "resent_for_approval"
	ActionCancelled          = "cancelled"
	ActionExecuted           = "executed"
	ActionSubcontracted      = "subcontracted"
	ActionEmployerRegistered = "employer_registered"
)

// ScanFile references an uploaded signed copy in the blob store.
type ScanFile struct {
	BlobID     string    `json:"blob_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Contract is an examination services agreement between an employer and a clinic.
type Contract struct {
	ID                         uuid.UUID        `json:"id"`
	EmployerID                 *uuid.UUID       `json:"employer"`
	ClinicID                   uuid.UUID        `json:"clinic"`
	EmployerBIN                string           `json:"employer_bin"`
	EmployerPhone              string           `json:"employer_phone"`
	ContractNumber             string           `json:"contract_number"`
	ContractDate               dateonly.Date    `json:"contract_date"`
	Amount                     decimal.Decimal  `json:"amount"`
	PeopleCount                int              `json:"people_count"`
	ExecutionDate              dateonly.Date    `json:"execution_date"`
	Status                     string           `json:"status"`
	ScanFiles                  []ScanFile       `json:"scan_files"`
	Notes                      string           `json:"notes"`
	ApprovedByEmployerAt       *time.Time       `json:"approved_by_employer_at"`
	ApprovedByClinicAt         *time.Time       `json:"approved_by_clinic_at"`
	SentAt                     *time.Time       `json:"sent_at"`
	ExecutedAt                 *time.Time       `json:"executed_at"`
	ExecutionType              *string          `json:"execution_type"`
	ExecutedByClinicAt         *time.Time       `json:"executed_by_clinic_at"`
	ExecutionNotes             string           `json:"execution_notes"`
	ConfirmedByEmployerAt      *time.Time       `json:"confirmed_by_employer_at"`
	EmployerRejectionReason    string           `json:"employer_rejection_reason"`
	RejectionReason            string           `json:"rejection_reason"`
	IsSubcontracted            bool             `json:"is_subcontracted"`
	SubcontractStatus          *string          `json:"subcontract_status"`
	OriginalClinicID           *uuid.UUID       `json:"original_clinic"`
	SubcontractorClinicID      *uuid.UUID       `json:"subcontractor_clinic"`
	SubcontractedAt            *time.Time       `json:"subcontracted_at"`
	SubcontractAcceptedAt      *time.Time       `json:"subcontract_accepted_at"`
	SubcontractRejectedAt      *time.Time       `json:"subcontract_rejected_at"`
	SubcontractRejectionReason string           `json:"subcontract_rejection_reason"`
	SubcontractAmount          *decimal.Decimal `json:"subcontract_amount"`
	CreatedAt                  time.Time        `json:"created_at"`
	UpdatedAt                  time.Time        `json:"updated_at"`
}

// History is one immutable audit record of a contract action.
type History struct {
	ID         uuid.UUID              `json:"id"`
	ContractID uuid.UUID              `json:"contract"`
	Action     string                 `json:"action"`
	UserID     *uuid.UUID             `json:"user"`
	UserRole   string                 `json:"user_role"`
	UserName   string                 `json:"user_name"`
	Comment    string                 `json:"comment"`
	OldStatus  string                 `json:"old_status"`
	NewStatus  string                 `json:"new_status"`
	Changes    map[string]interface{} `json:"changes"`
	CreatedAt  time.Time              `json:"created_at"`
}

func sameID(p *uuid.UUID, id uuid.UUID) bool { return p != nil && *p == id }

// IsEmployerParty reports whether u signs for the employer side, either as
// the linked employer or as an employer whose BIN matches employer_bin.
func (c *Contract) IsEmployerParty(u *identity.User) bool {
	if u == nil || !u.IsEmployer() {
		return false
	}
	return sameID(c.EmployerID, u.ID) || identity.MatchesBIN(u, c.EmployerBIN)
}

// IsClinicParty reports whether u is the clinic currently servicing the contract.
func (c *Contract) IsClinicParty(u *identity.User) bool {
	return u != nil && c.ClinicID == u.ID
}

func (c *Contract) IsParty(u *identity.User) bool {
	return c.IsEmployerParty(u) || c.IsClinicParty(u)
}

// VisibleTo applies the per-role visibility rule.
func (c *Contract) VisibleTo(u *identity.User) bool {
	switch {
	case u == nil:
		return false
	case u.IsEmployer():
		if sameID(c.EmployerID, u.ID) {
			return true
		}
		raw := u.BIN()
		return raw != "" && (c.EmployerBIN == identity.NormalizeBIN(raw) || c.EmployerBIN == raw)
	case u.IsClinic():
		return c.ClinicID == u.ID || sameID(c.OriginalClinicID, u.ID) || sameID(c.SubcontractorClinicID, u.ID)
	}
	return false
}

// subcontractActive is true while a subcontract offer is open or accepted.
func (c *Contract) subcontractActive() bool {
	if !c.IsSubcontracted || c.SubcontractStatus == nil {
		return false
	}
	return *c.SubcontractStatus == SubcontractPending || *c.SubcontractStatus == SubcontractAccepted
}

// Filter selects the contracts visible to one actor. A zero Filter matches nothing.
type Filter struct {
	EmployerID *uuid.UUID
	BINs       []string
	ClinicID   *uuid.UUID
	Status     string
}

// FilterFor builds the visibility filter of u.
func FilterFor(u *identity.User) Filter {
	var f Filter
	switch {
	case u.IsEmployer():
		id := u.ID
		f.EmployerID = &id
		if raw := u.BIN(); raw != "" {
			f.BINs = []string{identity.NormalizeBIN(raw)}
			if raw != f.BINs[0] {
				f.BINs = append(f.BINs, raw)
			}
		}
	case u.IsClinic():
		id := u.ID
		f.ClinicID = &id
	}
	return f
}

// Matches evaluates f against c. Repositories without SQL use it.
func (f Filter) Matches(c *Contract) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.EmployerID != nil {
		if sameID(c.EmployerID, *f.EmployerID) {
			return true
		}
		for _, b := range f.BINs {
			if b != "" && c.EmployerBIN == b {
				return true
			}
		}
		return false
	}
	if f.ClinicID != nil {
		id := *f.ClinicID
		return c.ClinicID == id || sameID(c.OriginalClinicID, id) || sameID(c.SubcontractorClinicID, id)
	}
	return false
}

// View is the API representation with party names resolved.
type View struct {
	*Contract
	Amount                  *decimal.Decimal `json:"amount"`
	EmployerBIN             *string          `json:"employer_bin"`
	EmployerPhone           *string          `json:"employer_phone"`
	EmployerName            *string          `json:"employer_name"`
	ClinicName              string           `json:"clinic_name"`
	OriginalClinicName      *string          `json:"original_clinic_name"`
	SubcontractorClinicName *string          `json:"subcontractor_clinic_name"`
}

// hidesCommercialTerms is true when the viewer is the subcontractor of c.
func (c *Contract) hidesCommercialTerms(viewer *identity.User) bool {
	return viewer != nil && c.IsSubcontracted && sameID(c.SubcontractorClinicID, viewer.ID)
}
