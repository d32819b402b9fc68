package calendarplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/contract"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/domain/routesheet"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrPlanNotFound     = apperr.NotFound("Calendar plan not found")
	ErrClinicOnly       = apperr.Forbidden("Only clinics can manage calendar plans")
	ErrDatesRequired    = apperr.BadRequest("start_date and end_date are required")
	ErrInvalidPeriod    = apperr.BadRequest("end_date must not be before start_date")
	ErrNotEditable      = apperr.BadRequest("Calendar plan can only be edited in draft or rejected status")
	ErrReasonRequired   = apperr.BadRequest("rejection_reason is required")
	ErrInvalidStatus    = apperr.BadRequest("Invalid status")
	ErrContractNotFound = apperr.BadRequest("contract does not exist or is not visible")
)

// SheetGenerator creates route sheets for the approval cascade.
type SheetGenerator interface {
	Generate(ctx context.Context, clinicID uuid.UUID, e *contingent.Employee, visitDate dateonly.Date) (*routesheet.RouteSheet, bool, error)
}

type EmployeeLookup interface {
	Employee(ctx context.Context, id uuid.UUID) (*contingent.Employee, error)
}

// ContractGateway exposes the contract operations plans depend on.
type ContractGateway interface {
	Get(ctx context.Context, actor *identity.User, id uuid.UUID) (*contract.Contract, error)
	VisibleIDs(ctx context.Context, actor *identity.User) ([]uuid.UUID, error)
	StartWork(ctx context.Context, actor *identity.User, id uuid.UUID, comment string) (bool, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo      Repository
	sheets    SheetGenerator
	employees EmployeeLookup
	contracts ContractGateway
	users     UserLookup
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, sheets SheetGenerator, employees EmployeeLookup, contracts ContractGateway,
	users UserLookup, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		sheets:    sheets,
		employees: employees,
		contracts: contracts,
		users:     users,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Actor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) stamp() *time.Time {
	t := s.now().UTC()
	return &t
}

// scope builds the visibility filter of actor. ok is false for accounts
// that see no plans.
func (s *Service) scope(ctx context.Context, actor *identity.User) (f Filter, ok bool, err error) {
	switch {
	case actor.IsClinic():
		id := actor.ID
		return Filter{ClinicID: &id}, true, nil
	case actor.IsEmployer():
		ids, err := s.contracts.VisibleIDs(ctx, actor)
		if err != nil {
			return Filter{}, false, err
		}
		id := actor.ID
		return Filter{EmployerID: &id, ContractIDs: ids}, true, nil
	}
	return Filter{}, false, nil
}

// Input carries the writable plan fields.
type Input struct {
	ContractID             *uuid.UUID     `json:"contract"`
	Department             string         `json:"department"`
	StartDate              *dateonly.Date `json:"start_date"`
	EndDate                *dateonly.Date `json:"end_date"`
	EmployeeIDs            []uuid.UUID    `json:"employee_ids"`
	DepartmentsInfo        []Window       `json:"departments_info"`
	HarmfulFactors         []string       `json:"harmful_factors"`
	SelectedDoctors        []interface{}  `json:"selected_doctors"`
	ClinicName             string         `json:"clinic_name"`
	ClinicDirector         string         `json:"clinic_director"`
	EmployerName           string         `json:"employer_name"`
	EmployerRepresentative string         `json:"employer_representative"`
	SESRepresentative      string         `json:"ses_representative"`
}

func (s *Service) apply(ctx context.Context, actor *identity.User, p *CalendarPlan, in Input) error {
	for _, w := range in.DepartmentsInfo {
		if w.StartDate.IsZero() || w.EndDate.IsZero() {
			return apperr.BadRequest(fmt.Sprintf("department %q: start_date and end_date are required", w.Department))
		}
		if w.EndDate.Before(w.StartDate.Time) {
			return apperr.BadRequest(fmt.Sprintf("department %q: end_date must not be before start_date", w.Department))
		}
	}
	if len(in.DepartmentsInfo) == 0 {
		if in.StartDate == nil || in.EndDate == nil {
			return ErrDatesRequired
		}
		if in.EndDate.Before(in.StartDate.Time) {
			return ErrInvalidPeriod
		}
	}
	if in.ContractID != nil {
		if _, err := s.contracts.Get(ctx, actor, *in.ContractID); err != nil {
			if errors.Is(err, contract.ErrContractNotFound) {
				return ErrContractNotFound
			}
			return err
		}
	}

	p.ContractID = in.ContractID
	p.Department = strings.TrimSpace(in.Department)
	if in.StartDate != nil {
		p.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		p.EndDate = *in.EndDate
	}
	p.EmployeeIDs = in.EmployeeIDs
	p.DepartmentsInfo = in.DepartmentsInfo
	p.HarmfulFactors = in.HarmfulFactors
	p.SelectedDoctors = in.SelectedDoctors
	p.ClinicName = strings.TrimSpace(in.ClinicName)
	if p.ClinicName == "" {
		p.ClinicName = actor.DisplayName()
	}
	p.ClinicDirector = in.ClinicDirector
	p.EmployerName = in.EmployerName
	p.EmployerRepresentative = in.EmployerRepresentative
	p.SESRepresentative = in.SESRepresentative
	p.derive()
	normalize(p)
	return nil
}

// Create drafts a plan. Clinics only.
func (s *Service) Create(ctx context.Context, actor *identity.User, in Input) (*CalendarPlan, error) {
	if !actor.IsClinic() {
		return nil, ErrClinicOnly
	}
	p := &CalendarPlan{ClinicID: actor.ID, Status: StatusDraft}
	if err := s.apply(ctx, actor, p, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("plan_id", p.ID.String()).Str("clinic_id", actor.ID.String()).
		Int("employees", len(p.EmployeeIDs)).Msg("calendar plan created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor *identity.User, id uuid.UUID) (*CalendarPlan, error) {
	f, ok, err := s.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotFound
	}
	return s.repo.FindVisible(ctx, f, id)
}

func (s *Service) List(ctx context.Context, actor *identity.User, status string, limit, offset int) ([]*CalendarPlan, int, error) {
	f, ok, err := s.scope(ctx, actor)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return []*CalendarPlan{}, 0, nil
	}
	f.Status = status
	return s.repo.List(ctx, f, limit, offset)
}

// owned loads a plan of the acting clinic.
func (s *Service) owned(ctx context.Context, actor *identity.User, id uuid.UUID) (*CalendarPlan, error) {
	if !actor.IsClinic() {
		return nil, ErrClinicOnly
	}
	cid := actor.ID
	return s.repo.FindVisible(ctx, Filter{ClinicID: &cid}, id)
}

// Update edits a draft or rejected plan.
func (s *Service) Update(ctx context.Context, actor *identity.User, id uuid.UUID, in Input) (*CalendarPlan, error) {
	p, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusDraft && p.Status != StatusRejected {
		return nil, ErrNotEditable
	}
	if err := s.apply(ctx, actor, p, in); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, actor *identity.User, id uuid.UUID) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// -- Status transitions --

type transition struct {
	from, to string
	// role is the only account role allowed to make the move; "" admits
	// either side.
	role string
}

var transitions = []transition{
	{StatusDraft, StatusPendingClinic, ""},
	{StatusPendingClinic, StatusPendingEmployer, identity.RoleClinic},
	{StatusPendingEmployer, StatusApproved, identity.RoleEmployer},
	{StatusPendingEmployer, StatusRejected, identity.RoleEmployer},
	{StatusPendingClinic, StatusRejected, ""},
	{StatusRejected, StatusDraft, ""},
	{StatusApproved, StatusSentToSES, identity.RoleClinic},
}

func findTransition(from, to string) (transition, bool) {
	for _, t := range transitions {
		if t.from == from && t.to == to {
			return t, true
		}
	}
	return transition{}, false
}

var validStatuses = map[string]bool{
	StatusDraft: true, StatusPendingClinic: true, StatusPendingEmployer: true,
	StatusApproved: true, StatusRejected: true, StatusSentToSES: true,
}

// CascadeResult summarises the route sheets produced by an approval.
type CascadeResult struct {
	RouteSheetsCreated  int  `json:"route_sheets_created"`
	RouteSheetsExisting int  `json:"route_sheets_existing"`
	Failed              int  `json:"failed"`
	ContractStarted     bool `json:"contract_started"`
}

// StatusResult is a plan after a transition, with the cascade summary when
// the plan was approved.
type StatusResult struct {
	*CalendarPlan
	Cascade *CascadeResult `json:"cascade,omitempty"`
}

// UpdateStatus moves the plan along its approval workflow. Approval
// generates the route sheets of every scheduled employee.
func (s *Service) UpdateStatus(ctx context.Context, actor *identity.User, id uuid.UUID, status, reason string) (*StatusResult, error) {
	if !validStatuses[status] {
		return nil, ErrInvalidStatus
	}
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	t, ok := findTransition(p.Status, status)
	if !ok {
		return nil, apperr.BadRequest(fmt.Sprintf("Cannot change calendar plan status from %s to %s", p.Status, status))
	}
	if t.role != "" && actor.Role != t.role {
		return nil, apperr.Forbidden(fmt.Sprintf("Only the %s can change calendar plan status from %s to %s", t.role, p.Status, status))
	}

	switch status {
	case StatusPendingEmployer:
		p.ApprovedByClinicAt = s.stamp()
	case StatusApproved:
		p.ApprovedByEmployerAt = s.stamp()
	case StatusRejected:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return nil, ErrReasonRequired
		}
		p.RejectionReason = reason
		p.RejectedByEmployerAt = s.stamp()
	case StatusDraft:
		p.RejectionReason = ""
		p.RejectedByEmployerAt = nil
		p.ApprovedByClinicAt = nil
		p.ApprovedByEmployerAt = nil
	case StatusSentToSES:
		p.SentToSESAt = s.stamp()
	}
	old := p.Status
	p.Status = status
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("plan_id", p.ID.String()).Str("from", old).Str("to", status).
		Str("actor_id", actor.ID.String()).Msg("calendar plan status changed")

	res := &StatusResult{CalendarPlan: p}
	if status == StatusApproved {
		res.Cascade = s.cascade(ctx, actor, p)
	}
	return res, nil
}

// cascade generates a route sheet per employee and window, dated on the
// window's first day, then starts work on the linked contract. Failures are
// logged and counted; the approval stands.
func (s *Service) cascade(ctx context.Context, actor *identity.User, p *CalendarPlan) *CascadeResult {
	res := &CascadeResult{}
	log := s.logger.With().Str("plan_id", p.ID.String()).Logger()
	for _, w := range p.Windows() {
		for _, empID := range w.EmployeeIDs {
			e, err := s.employees.Employee(ctx, empID)
			if err != nil {
				log.Warn().Err(err).Str("employee_id", empID.String()).Msg("cascade: employee lookup failed")
				res.Failed++
				continue
			}
			_, created, err := s.sheets.Generate(ctx, p.ClinicID, e, w.StartDate)
			if err != nil {
				log.Error().Err(err).Str("employee_id", empID.String()).Str("department", w.Department).
					Msg("cascade: route sheet generation failed")
				res.Failed++
				continue
			}
			if created {
				res.RouteSheetsCreated++
			} else {
				res.RouteSheetsExisting++
			}
		}
	}
	if p.ContractID != nil {
		started, err := s.contracts.StartWork(ctx, actor, *p.ContractID, "Календарный план утвержден")
		if err != nil {
			log.Error().Err(err).Str("contract_id", p.ContractID.String()).Msg("cascade: contract start failed")
		}
		res.ContractStarted = started
	}
	log.Info().Int("created", res.RouteSheetsCreated).Int("existing", res.RouteSheetsExisting).
		Int("failed", res.Failed).Bool("contract_started", res.ContractStarted).Msg("approval cascade finished")
	return res
}
