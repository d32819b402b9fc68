package contract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/blobstore"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/notification"
	"github.com/medcrm/medcrm/internal/platform/validation"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrContractNotFound   = apperr.NotFound("Contract not found")
	ErrNotParty           = apperr.Forbidden("User is not authorized to modify this contract")
	ErrInvalidRole        = apperr.BadRequest("User must be either employer or clinic")
	ErrClinicIDRequired   = apperr.BadRequest("clinic_id is required for employer")
	ErrReasonRequired     = apperr.BadRequest("Rejection reason is required")
	ErrNotApproved        = apperr.BadRequest("Contract must be approved before sending")
	ErrNotExecutable      = apperr.BadRequest("Contract must be sent or approved before execution")
	ErrNotEditable        = apperr.BadRequest("Contract can only be edited in draft, rejected or pending_approval status")
	ErrNotMarkedExecuted  = apperr.BadRequest("Clinic has not marked the contract as executed")
	ErrAlreadyClosed      = apperr.BadRequest("Contract is already executed or cancelled")
	ErrAlreadySubcontract = apperr.BadRequest("Contract is already subcontracted")
	ErrNotSubcontractor   = apperr.Forbidden("Only the subcontractor clinic can respond to this subcontract")
	ErrNoPendingOffer     = apperr.BadRequest("Subcontract is not pending")
	ErrFileRequired       = apperr.BadRequest("File is required")
)

// UserLookup resolves accounts referenced by contracts.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
	FindEmployerByBIN(ctx context.Context, bin string) (*identity.User, error)
}

type Service struct {
	repo        Repository
	history     HistoryRepository
	users       UserLookup
	tx          db.TxRunner
	notifier    notification.Notifier
	templates   *notification.TemplateEngine
	blobs       blobstore.BlobStore
	frontendURL string
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(repo Repository, history HistoryRepository, users UserLookup, tx db.TxRunner,
	notifier notification.Notifier, blobs blobstore.BlobStore, frontendURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		history:     history,
		users:       users,
		tx:          tx,
		notifier:    notifier,
		templates:   notification.NewTemplateEngine(),
		blobs:       blobs,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) stamp() *time.Time {
	t := s.now().UTC()
	return &t
}

// Actor loads the acting account.
func (s *Service) Actor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.users.GetByID(ctx, id)
}

// load returns the contract when actor may see it.
func (s *Service) load(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.VisibleTo(actor) {
		return nil, ErrContractNotFound
	}
	return c, nil
}

func newHistory(c *Contract, actor *identity.User, action, oldStatus, comment string) *History {
	h := &History{
		ContractID: c.ID,
		Action:     action,
		Comment:    comment,
		OldStatus:  oldStatus,
		NewStatus:  c.Status,
		Changes:    map[string]interface{}{},
	}
	if actor != nil {
		id := actor.ID
		h.UserID = &id
		h.UserRole = actor.Role
		h.UserName = actor.DisplayName()
	}
	return h
}

// save persists c and its history record in one transaction.
func (s *Service) save(ctx context.Context, c *Contract, h *History) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.history.Append(ctx, h)
	})
}

// transition applies mutate and records action with the status before it.
func (s *Service) transition(ctx context.Context, c *Contract, actor *identity.User, action, comment string, mutate func()) error {
	old := c.Status
	mutate()
	return s.save(ctx, c, newHistory(c, actor, action, old, comment))
}

type CreateInput struct {
	ClinicID       *uuid.UUID      `json:"clinic_id"`
	EmployerBIN    string          `json:"employer_bin" validate:"omitempty,digits12"`
	EmployerPhone  string          `json:"employer_phone" validate:"max=20"`
	ContractNumber string          `json:"contract_number" validate:"required,max=100"`
	ContractDate   dateonly.Date   `json:"contract_date" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	PeopleCount    int             `json:"people_count" validate:"gt=0"`
	ExecutionDate  dateonly.Date   `json:"execution_date" validate:"required"`
	Notes          string          `json:"notes"`
}

// Create registers a contract on behalf of a clinic or an employer. A clinic
// that provides the employer's phone sends it for approval right away.
func (s *Service) Create(ctx context.Context, actor *identity.User, in CreateInput) (*Contract, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.BadRequest("amount must be greater than 0")
	}
	bin, err := identity.CleanBIN(in.EmployerBIN)
	if err != nil {
		return nil, err
	}

	c := &Contract{
		EmployerBIN:    bin,
		EmployerPhone:  strings.TrimSpace(in.EmployerPhone),
		ContractNumber: strings.TrimSpace(in.ContractNumber),
		ContractDate:   in.ContractDate,
		Amount:         in.Amount.Round(2),
		PeopleCount:    in.PeopleCount,
		ExecutionDate:  in.ExecutionDate,
		Status:         StatusDraft,
		ScanFiles:      []ScanFile{},
		Notes:          in.Notes,
	}

	switch {
	case actor.IsClinic():
		c.ClinicID = actor.ID
		if bin != "" {
			emp, err := s.users.FindEmployerByBIN(ctx, identity.NormalizeBIN(bin))
			switch {
			case err == nil:
				c.EmployerID = &emp.ID
			case !errors.Is(err, identity.ErrUserNotFound):
				return nil, err
			}
		}
	case actor.IsEmployer():
		if in.ClinicID == nil || *in.ClinicID == uuid.Nil {
			return nil, ErrClinicIDRequired
		}
		clinic, err := s.users.GetByID(ctx, *in.ClinicID)
		if err != nil {
			return nil, err
		}
		if !clinic.IsClinic() {
			return nil, apperr.BadRequest("clinic_id must reference a clinic")
		}
		c.ClinicID = clinic.ID
		employerID := actor.ID
		c.EmployerID = &employerID
		if c.EmployerBIN == "" {
			c.EmployerBIN = identity.NormalizeBIN(actor.BIN())
		}
	default:
		return nil, ErrInvalidRole
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		return s.history.Append(ctx, newHistory(c, actor, ActionCreated, "", ""))
	})
	if err != nil {
		return nil, err
	}

	if actor.IsClinic() && c.EmployerPhone != "" && c.Status == StatusDraft {
		s.notifyEmployer(ctx, c, actor)
		err := s.transition(ctx, c, actor, ActionSentForApproval, "", func() {
			c.Status = StatusSent
			c.SentAt = s.stamp()
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// notifyEmployer sends the approval request over WhatsApp. Failures are
// logged; the contract flow continues regardless.
func (s *Service) notifyEmployer(ctx context.Context, c *Contract, clinic *identity.User) {
	clinicName := clinic.Data("name")
	if clinicName == "" {
		clinicName = "Клиника"
	}
	text, err := s.templates.Render(notification.TemplateContract, map[string]string{
		"clinic_name":     clinicName,
		"contract_number": c.ContractNumber,
		"contract_date":   c.ContractDate.String(),
		"amount":          c.Amount.StringFixed(2),
		"people_count":    strconv.Itoa(c.PeopleCount),
		"link":            fmt.Sprintf("%s/dashboard/employer/contracts?bin=%s", s.frontendURL, c.EmployerBIN),
	})
	if err == nil {
		err = s.notifier.Notify(ctx, notification.Message{Phone: c.EmployerPhone, Text: text, Kind: "contract"})
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("contract_id", c.ID.String()).
			Str("chat_id", notification.ChatID(c.EmployerPhone)).
			Msg("failed to send contract notification")
	}
}

func (s *Service) Get(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	return s.load(ctx, actor, id)
}

func (s *Service) List(ctx context.Context, actor *identity.User, status string, limit, offset int) ([]*Contract, int, error) {
	f := FilterFor(actor)
	if f.EmployerID == nil && f.ClinicID == nil {
		return []*Contract{}, 0, nil
	}
	f.Status = status
	return s.repo.List(ctx, f, limit, offset)
}

// VisibleIDs returns the ids of every contract actor can see.
func (s *Service) VisibleIDs(ctx context.Context, actor *identity.User) ([]uuid.UUID, error) {
	items, _, err := s.List(ctx, actor, "", 10000, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, c := range items {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Approve signs the contract for the actor's side.
func (s *Service) Approve(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	employerSide := c.IsEmployerParty(actor)
	if !employerSide && !c.IsClinicParty(actor) {
		return nil, apperr.Forbidden("User is not authorized to approve this contract")
	}
	err = s.transition(ctx, c, actor, ActionApproved, "", func() {
		now := s.stamp()
		var otherSigned bool
		if employerSide {
			c.ApprovedByEmployerAt = now
			if c.EmployerID == nil {
				id := actor.ID
				c.EmployerID = &id
			}
			otherSigned = c.ApprovedByClinicAt != nil
		} else {
			c.ApprovedByClinicAt = now
			otherSigned = c.ApprovedByEmployerAt != nil
		}
		switch {
		case otherSigned:
			c.Status = StatusApproved
		case c.Status == StatusSent || c.Status == StatusPendingApproval:
			c.Status = StatusApproved
		case c.Status == StatusDraft:
			c.Status = StatusPendingApproval
		default:
			c.Status = StatusApproved
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

var rejectableStatuses = map[string]bool{
	StatusDraft: true, StatusSent: true, StatusPendingApproval: true, StatusApproved: true,
}

func (s *Service) Reject(ctx context.Context, actor *identity.User, id uuid.UUID, reason string) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor) {
		return nil, ErrNotParty
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if !rejectableStatuses[c.Status] {
		return nil, apperr.BadRequest(fmt.Sprintf("Contract cannot be rejected in status %s", c.Status))
	}
	err = s.transition(ctx, c, actor, ActionRejected, reason, func() {
		c.Status = StatusRejected
		c.RejectionReason = reason
		c.ApprovedByEmployerAt = nil
		c.ApprovedByClinicAt = nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

type UpdateInput struct {
	ContractNumber *string          `json:"contract_number"`
	ContractDate   *dateonly.Date   `json:"contract_date"`
	Amount         *decimal.Decimal `json:"amount"`
	PeopleCount    *int             `json:"people_count"`
	ExecutionDate  *dateonly.Date   `json:"execution_date"`
	Notes          *string          `json:"notes"`
	Comment        string           `json:"comment"`
}

var editableStatuses = map[string]bool{StatusDraft: true, StatusRejected: true, StatusPendingApproval: true}

func change(changes map[string]interface{}, field string, old, new interface{}) {
	changes[field] = map[string]interface{}{"old": old, "new": new}
}

// Update edits the commercial terms while the contract is still negotiable.
func (s *Service) Update(ctx context.Context, actor *identity.User, id uuid.UUID, in UpdateInput) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsClinicParty(actor) {
		return nil, apperr.Forbidden("Only the clinic can edit this contract")
	}
	if !editableStatuses[c.Status] {
		return nil, ErrNotEditable
	}

	changes := map[string]interface{}{}
	if in.ContractNumber != nil && *in.ContractNumber != c.ContractNumber {
		if strings.TrimSpace(*in.ContractNumber) == "" {
			return nil, apperr.BadRequest("contract_number is required")
		}
		change(changes, "contract_number", c.ContractNumber, *in.ContractNumber)
		c.ContractNumber = *in.ContractNumber
	}
	if in.ContractDate != nil && !in.ContractDate.Equal(c.ContractDate.Time) {
		change(changes, "contract_date", c.ContractDate.String(), in.ContractDate.String())
		c.ContractDate = *in.ContractDate
	}
	if in.Amount != nil && !in.Amount.Equal(c.Amount) {
		if !in.Amount.IsPositive() {
			return nil, apperr.BadRequest("amount must be greater than 0")
		}
		change(changes, "amount", c.Amount.StringFixed(2), in.Amount.StringFixed(2))
		c.Amount = in.Amount.Round(2)
	}
	if in.PeopleCount != nil && *in.PeopleCount != c.PeopleCount {
		if *in.PeopleCount <= 0 {
			return nil, apperr.BadRequest("people_count must be greater than 0")
		}
		change(changes, "people_count", c.PeopleCount, *in.PeopleCount)
		c.PeopleCount = *in.PeopleCount
	}
	if in.ExecutionDate != nil && !in.ExecutionDate.Equal(c.ExecutionDate.Time) {
		change(changes, "execution_date", c.ExecutionDate.String(), in.ExecutionDate.String())
		c.ExecutionDate = *in.ExecutionDate
	}
	if in.Notes != nil && *in.Notes != c.Notes {
		change(changes, "notes", c.Notes, *in.Notes)
		c.Notes = *in.Notes
	}

	h := newHistory(c, actor, ActionUpdated, c.Status, in.Comment)
	h.Changes = changes
	if err := s.save(ctx, c, h); err != nil {
		return nil, err
	}
	return c, nil
}

// ResendForApproval returns a rejected contract to the employer.
func (s *Service) ResendForApproval(ctx context.Context, actor *identity.User, id uuid.UUID, comment string) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsClinicParty(actor) {
		return nil, apperr.Forbidden("Only the clinic can resend this contract")
	}
	if c.Status != StatusRejected && c.Status != StatusDraft {
		return nil, apperr.BadRequest("Only rejected or draft contracts can be resent")
	}
	err = s.transition(ctx, c, actor, ActionResentForApproval, comment, func() {
		c.Status = StatusPendingApproval
		c.ApprovedByEmployerAt = nil
		c.ApprovedByClinicAt = nil
		c.RejectionReason = ""
	})
	if err != nil {
		return nil, err
	}
	if c.EmployerPhone != "" {
		s.notifyEmployer(ctx, c, actor)
	}
	return c, nil
}

func (s *Service) Send(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor) {
		return nil, apperr.Forbidden("User is not authorized to send this contract")
	}
	if c.Status != StatusApproved {
		return nil, ErrNotApproved
	}
	err = s.transition(ctx, c, actor, ActionSentForApproval, "", func() {
		c.Status = StatusSent
		c.SentAt = s.stamp()
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Activate(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor) {
		return nil, ErrNotParty
	}
	if c.Status != StatusApproved && c.Status != StatusSent {
		return nil, apperr.BadRequest("Contract must be approved or sent before activation")
	}
	if err := s.transition(ctx, c, actor, ActionUpdated, "activated", func() { c.Status = StatusActive }); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Execute(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor) {
		return nil, apperr.Forbidden("User is not authorized to execute this contract")
	}
	if c.Status != StatusSent && c.Status != StatusApproved {
		return nil, ErrNotExecutable
	}
	err = s.transition(ctx, c, actor, ActionExecuted, "", func() {
		c.Status = StatusExecuted
		c.ExecutedAt = s.stamp()
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

var markableStatuses = map[string]bool{
	StatusActive: true, StatusInProgress: true, StatusApproved: true, StatusSent: true,
}

// MarkExecuted records the clinic's side of a two-stage execution. A partial
// execution is final for the clinic; a full one waits for the employer.
func (s *Service) MarkExecuted(ctx context.Context, actor *identity.User, id uuid.UUID, executionType, notes string) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsClinicParty(actor) {
		return nil, apperr.Forbidden("Only the clinic can mark the contract as executed")
	}
	if executionType != ExecutionFull && executionType != ExecutionPartial {
		return nil, apperr.BadRequest("execution_type must be full or partial")
	}
	if !markableStatuses[c.Status] {
		return nil, apperr.BadRequest(fmt.Sprintf("Contract cannot be executed in status %s", c.Status))
	}
	err = s.transition(ctx, c, actor, ActionExecuted, notes, func() {
		et := executionType
		c.ExecutionType = &et
		c.ExecutionNotes = notes
		c.ExecutedByClinicAt = s.stamp()
		c.EmployerRejectionReason = ""
		if executionType == ExecutionPartial {
			c.Status = StatusPartiallyExecuted
		} else {
			c.Status = StatusInProgress
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ConfirmExecution(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsEmployerParty(actor) {
		return nil, apperr.Forbidden("Only the employer can confirm execution")
	}
	if c.ExecutedByClinicAt == nil {
		return nil, ErrNotMarkedExecuted
	}
	err = s.transition(ctx, c, actor, ActionExecuted, "confirmed by employer", func() {
		now := s.stamp()
		c.ConfirmedByEmployerAt = now
		c.ExecutedAt = now
		if c.ExecutionType != nil && *c.ExecutionType == ExecutionPartial {
			c.Status = StatusPartiallyExecuted
		} else {
			c.Status = StatusExecuted
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) RejectExecution(ctx context.Context, actor *identity.User, id uuid.UUID, reason string) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsEmployerParty(actor) {
		return nil, apperr.Forbidden("Only the employer can reject execution")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if c.ExecutedByClinicAt == nil {
		return nil, ErrNotMarkedExecuted
	}
	err = s.transition(ctx, c, actor, ActionRejected, reason, func() {
		c.ExecutedByClinicAt = nil
		c.ExecutionType = nil
		c.EmployerRejectionReason = reason
		c.Status = StatusInProgress
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Cancel(ctx context.Context, actor *identity.User, id uuid.UUID, reason string) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor) {
		return nil, ErrNotParty
	}
	if c.Status == StatusExecuted || c.Status == StatusCancelled {
		return nil, ErrAlreadyClosed
	}
	if err := s.transition(ctx, c, actor, ActionCancelled, reason, func() { c.Status = StatusCancelled }); err != nil {
		return nil, err
	}
	return c, nil
}

// StartWork moves a signed contract to in_progress once examinations are
// scheduled. Contracts in other statuses are left untouched.
func (s *Service) StartWork(ctx context.Context, actor *identity.User, id uuid.UUID, comment string) (bool, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	switch c.Status {
	case StatusApproved, StatusSent, StatusActive:
	default:
		return false, nil
	}
	if err := s.transition(ctx, c, actor, ActionUpdated, comment, func() { c.Status = StatusInProgress }); err != nil {
		return false, err
	}
	return true, nil
}

type SubcontractInput struct {
	SubcontractorClinicID uuid.UUID        `json:"subcontractor_clinic_id"`
	SubcontractAmount     *decimal.Decimal `json:"subcontract_amount"`
}

// Subcontract offers the contract to another clinic.
func (s *Service) Subcontract(ctx context.Context, actor *identity.User, id uuid.UUID, in SubcontractInput) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsClinic() || !c.IsClinicParty(actor) {
		return nil, apperr.Forbidden("Only the contract clinic can subcontract it")
	}
	if c.subcontractActive() {
		return nil, ErrAlreadySubcontract
	}
	if c.Status == StatusExecuted || c.Status == StatusCancelled {
		return nil, ErrAlreadyClosed
	}
	if in.SubcontractorClinicID == uuid.Nil || in.SubcontractorClinicID == actor.ID {
		return nil, apperr.BadRequest("subcontractor_clinic_id must reference another clinic")
	}
	sub, err := s.users.GetByID(ctx, in.SubcontractorClinicID)
	if err != nil {
		return nil, err
	}
	if !sub.IsClinic() {
		return nil, apperr.BadRequest("subcontractor_clinic_id must reference another clinic")
	}
	if in.SubcontractAmount != nil && in.SubcontractAmount.IsNegative() {
		return nil, apperr.BadRequest("subcontract_amount must not be negative")
	}

	comment := "offered to " + sub.DisplayName()
	err = s.transition(ctx, c, actor, ActionSubcontracted, comment, func() {
		pending := SubcontractPending
		orig := actor.ID
		c.IsSubcontracted = true
		c.SubcontractStatus = &pending
		c.OriginalClinicID = &orig
		subID := sub.ID
		c.SubcontractorClinicID = &subID
		c.SubcontractedAt = s.stamp()
		c.SubcontractAcceptedAt = nil
		c.SubcontractRejectedAt = nil
		c.SubcontractRejectionReason = ""
		c.SubcontractAmount = in.SubcontractAmount
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) pendingOffer(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !sameID(c.SubcontractorClinicID, actor.ID) {
		return nil, ErrNotSubcontractor
	}
	if !c.IsSubcontracted || c.SubcontractStatus == nil || *c.SubcontractStatus != SubcontractPending {
		return nil, ErrNoPendingOffer
	}
	return c, nil
}

// AcceptSubcontract makes the subcontractor the servicing clinic.
func (s *Service) AcceptSubcontract(ctx context.Context, actor *identity.User, id uuid.UUID) (*Contract, error) {
	c, err := s.pendingOffer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	err = s.transition(ctx, c, actor, ActionSubcontracted, "accepted", func() {
		accepted := SubcontractAccepted
		c.SubcontractStatus = &accepted
		c.SubcontractAcceptedAt = s.stamp()
		c.ClinicID = actor.ID
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RejectSubcontract declines the offer. The declining clinic loses access to
// the contract.
func (s *Service) RejectSubcontract(ctx context.Context, actor *identity.User, id uuid.UUID, reason string) (*Contract, error) {
	c, err := s.pendingOffer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	err = s.transition(ctx, c, actor, ActionRejected, reason, func() {
		rejected := SubcontractRejected
		c.SubcontractStatus = &rejected
		c.SubcontractRejectionReason = reason
		c.SubcontractRejectedAt = s.stamp()
		c.IsSubcontracted = false
		c.SubcontractorClinicID = nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UploadScan stores a signed copy and references it from scan_files.
func (s *Service) UploadScan(ctx context.Context, actor *identity.User, id uuid.UUID, filename, contentType string, content io.Reader) (*Contract, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actor) {
		return nil, ErrNotParty
	}
	if filename == "" || content == nil {
		return nil, ErrFileRequired
	}
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    filename,
		ContentType: contentType,
		OwnerID:     c.ID.String(),
	}, content)
	if err != nil {
		return nil, apperr.New(blobstore.HTTPStatus(err), err.Error())
	}

	h := newHistory(c, actor, ActionUpdated, c.Status, "scan uploaded: "+meta.FileName)
	change(h.Changes, "scan_files", len(c.ScanFiles), len(c.ScanFiles)+1)
	c.ScanFiles = append(c.ScanFiles, ScanFile{
		BlobID:     meta.ID,
		Filename:   meta.FileName,
		Size:       meta.Size,
		UploadedAt: meta.CreatedAt,
	})
	if err := s.save(ctx, c, h); err != nil {
		if derr := s.blobs.Delete(ctx, meta.ID); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_id", meta.ID).Msg("failed to remove orphaned scan")
		}
		return nil, err
	}
	return c, nil
}

// History returns the audit trail of a visible contract, newest first.
func (s *Service) History(ctx context.Context, actor *identity.User, id uuid.UUID) ([]*History, error) {
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.history.ListByContract(ctx, id)
}

// LinkUnlinkedContracts attaches contracts that only carry an employer BIN to
// the registered employer with that BIN. With a nil employer every unlinked
// contract is matched against the user table.
func (s *Service) LinkUnlinkedContracts(ctx context.Context, employer *identity.User) (int, error) {
	bin := ""
	if employer != nil {
		bin = identity.NormalizeBIN(employer.BIN())
		if bin == "" {
			return 0, nil
		}
	}
	items, err := s.repo.ListUnlinked(ctx, bin)
	if err != nil {
		return 0, err
	}

	linked := 0
	for _, c := range items {
		emp := employer
		if emp == nil {
			emp, err = s.users.FindEmployerByBIN(ctx, identity.NormalizeBIN(c.EmployerBIN))
			if errors.Is(err, identity.ErrUserNotFound) {
				continue
			}
			if err != nil {
				return linked, err
			}
		}
		id := emp.ID
		err := s.transition(ctx, c, emp, ActionEmployerRegistered, "employer linked by BIN", func() {
			c.EmployerID = &id
		})
		if err != nil {
			return linked, fmt.Errorf("link contract %s: %w", c.ID, err)
		}
		linked++
	}
	if linked > 0 {
		s.logger.Info().Int("linked", linked).Msg("linked contracts to employers")
	}
	return linked, nil
}

// View resolves party names for viewer. Commercial terms are hidden from a
// subcontractor clinic.
func (s *Service) View(ctx context.Context, viewer *identity.User, c *Contract) *View {
	return s.views(ctx, viewer, []*Contract{c})[0]
}

func (s *Service) views(ctx context.Context, viewer *identity.User, items []*Contract) []*View {
	names := map[uuid.UUID]string{}
	name := func(id *uuid.UUID) *string {
		if id == nil {
			return nil
		}
		n, ok := names[*id]
		if !ok {
			if u, err := s.users.GetByID(ctx, *id); err == nil {
				n = u.Data("name")
			}
			names[*id] = n
		}
		return &n
	}

	out := make([]*View, 0, len(items))
	for _, c := range items {
		amount, bin, phone := c.Amount, c.EmployerBIN, c.EmployerPhone
		v := &View{
			Contract:                c,
			Amount:                  &amount,
			EmployerBIN:             &bin,
			EmployerPhone:           &phone,
			EmployerName:            name(c.EmployerID),
			OriginalClinicName:      name(c.OriginalClinicID),
			SubcontractorClinicName: name(c.SubcontractorClinicID),
		}
		clinicID := c.ClinicID
		if c.IsSubcontracted && c.OriginalClinicID != nil {
			clinicID = *c.OriginalClinicID
		}
		v.ClinicName = *name(&clinicID)
		if c.hidesCommercialTerms(viewer) {
			v.Amount, v.EmployerBIN, v.EmployerPhone, v.EmployerName = nil, nil, nil, nil
		}
		out = append(out, v)
	}
	return out
}

// Views is View for a list.
func (s *Service) Views(ctx context.Context, viewer *identity.User, items []*Contract) []*View {
	return s.views(ctx, viewer, items)
}
