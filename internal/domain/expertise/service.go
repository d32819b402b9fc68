package expertise

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/domain/referral"
	"github.com/medcrm/medcrm/internal/domain/routesheet"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrExpertiseNotFound = apperr.NotFound("Expertise not found")
	ErrClinicOnly        = apperr.Forbidden("Only clinics can manage expertises")
	ErrPatientRequired   = apperr.BadRequest("patient_id is required")
	ErrInvalidVerdict    = apperr.BadRequest("final_verdict must be fit, temporary_unfit or permanent_unfit")
	ErrInvalidGroup      = apperr.BadRequest("health_group must be between 1 and 6")
	ErrInvalidReferral   = apperr.BadRequest("Invalid referral_type")
)

const msgSheetMissing = "Маршрутный лист не найден"

type SheetSource interface {
	Sheet(ctx context.Context, id uuid.UUID) (*routesheet.RouteSheet, error)
	PatientSheets(ctx context.Context, patientID uuid.UUID) ([]*routesheet.RouteSheet, error)
	SheetTests(ctx context.Context, routeSheetID uuid.UUID) (lab, functional []*routesheet.Test, err error)
}

type ReferralIssuer interface {
	FindActive(ctx context.Context, patientID uuid.UUID, referralType string) (*referral.Referral, error)
	Issue(ctx context.Context, r *referral.Referral) error
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo      Repository
	sheets    SheetSource
	referrals ReferralIssuer
	users     UserLookup
	tx        db.TxRunner
	logger    zerolog.Logger
	today     func() dateonly.Date
}

func NewService(repo Repository, sheets SheetSource, referrals ReferralIssuer, users UserLookup, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		sheets:    sheets,
		referrals: referrals,
		users:     users,
		tx:        tx,
		logger:    logger,
		today:     dateonly.Today,
	}
}

// CheckCompleteness lists what still blocks an expert verdict for the
// patient. The given route sheet is checked, or the patient's latest one.
func (s *Service) CheckCompleteness(ctx context.Context, patientID uuid.UUID, routeSheetID *uuid.UUID) ([]string, error) {
	var sheet *routesheet.RouteSheet
	if routeSheetID != nil {
		found, err := s.sheets.Sheet(ctx, *routeSheetID)
		if errors.Is(err, routesheet.ErrRouteSheetNotFound) {
			return []string{msgSheetMissing}, nil
		}
		if err != nil {
			return nil, err
		}
		sheet = found
	} else {
		sheets, err := s.sheets.PatientSheets(ctx, patientID)
		if err != nil {
			return nil, err
		}
		if len(sheets) == 0 {
			return []string{msgSheetMissing}, nil
		}
		sheet = sheets[0]
	}

	var errs []string
	if pending := len(sheet.Services) - sheet.CompletedServices(); pending > 0 {
		errs = append(errs, fmt.Sprintf("Не все врачи завершили осмотр. Осталось: %d", pending))
	}
	lab, functional, err := s.sheets.SheetTests(ctx, sheet.ID)
	if err != nil {
		return nil, err
	}
	if n := openTests(lab, patientID); n > 0 {
		errs = append(errs, fmt.Sprintf("Не все лабораторные исследования завершены. Осталось: %d", n))
	}
	if n := openTests(functional, patientID); n > 0 {
		errs = append(errs, fmt.Sprintf("Не все функциональные исследования завершены. Осталось: %d", n))
	}
	return errs, nil
}

func openTests(tests []*routesheet.Test, patientID uuid.UUID) int {
	n := 0
	for _, t := range tests {
		if t.PatientID == patientID && t.Open() {
			n++
		}
	}
	return n
}

func (s *Service) CheckReadiness(ctx context.Context, patientID uuid.UUID, routeSheetID *uuid.UUID) (*Readiness, error) {
	if patientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	errs, err := s.CheckCompleteness(ctx, patientID, routeSheetID)
	if err != nil {
		return nil, err
	}
	if errs == nil {
		errs = []string{}
	}
	return &Readiness{IsReady: len(errs) == 0, Errors: errs}, nil
}

func (s *Service) clinic(ctx context.Context, actorID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !u.IsClinic() {
		return ErrClinicOnly
	}
	return nil
}

// Input carries the editable fields of an expertise.
type Input struct {
	PatientID                uuid.UUID     `json:"patient_id"`
	PatientName              string        `json:"patient_name"`
	IIN                      string        `json:"iin"`
	Position                 string        `json:"position"`
	Department               string        `json:"department"`
	RouteSheetID             *uuid.UUID    `json:"route_sheet_id"`
	DoctorConclusions        []Conclusion  `json:"doctor_conclusions"`
	FinalVerdict             *string       `json:"final_verdict"`
	HealthGroup              *string       `json:"health_group"`
	ProfpathologistName      string        `json:"profpathologist_name"`
	ProfpathologistSignature string        `json:"profpathologist_signature"`
	TemporaryUnfitUntil      dateonly.Date `json:"temporary_unfit_until"`
	Reason                   string        `json:"reason"`
	RequiresReferral         bool          `json:"requires_referral"`
	ReferralType             string        `json:"referral_type"`
}

func (in Input) apply(e *Expertise) error {
	if in.PatientID == uuid.Nil {
		return ErrPatientRequired
	}
	if in.FinalVerdict != nil && *in.FinalVerdict == "" {
		in.FinalVerdict = nil
	}
	if in.FinalVerdict != nil && !validVerdicts[*in.FinalVerdict] {
		return ErrInvalidVerdict
	}
	if in.HealthGroup != nil && *in.HealthGroup == "" {
		in.HealthGroup = nil
	}
	if in.HealthGroup != nil && (len(*in.HealthGroup) != 1 || (*in.HealthGroup)[0] < '1' || (*in.HealthGroup)[0] > '6') {
		return ErrInvalidGroup
	}
	if in.ReferralType != "" && !referral.ValidType(in.ReferralType) {
		return ErrInvalidReferral
	}
	e.PatientID = in.PatientID
	e.PatientName = strings.TrimSpace(in.PatientName)
	e.IIN = strings.TrimSpace(in.IIN)
	e.Position = in.Position
	e.Department = in.Department
	e.RouteSheetID = in.RouteSheetID
	e.DoctorConclusions = in.DoctorConclusions
	if e.DoctorConclusions == nil {
		e.DoctorConclusions = []Conclusion{}
	}
	e.FinalVerdict = in.FinalVerdict
	e.HealthGroup = in.HealthGroup
	e.ProfpathologistName = in.ProfpathologistName
	e.ProfpathologistSignature = in.ProfpathologistSignature
	e.TemporaryUnfitUntil = in.TemporaryUnfitUntil
	e.Reason = in.Reason
	e.RequiresReferral = in.RequiresReferral
	e.ReferralType = in.ReferralType
	return nil
}

// Create opens an expertise once every service and test of the route sheet
// is completed.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in Input) (*Expertise, error) {
	if err := s.clinic(ctx, actorID); err != nil {
		return nil, err
	}
	e := &Expertise{ClinicID: actorID}
	if err := in.apply(e); err != nil {
		return nil, err
	}
	errs, err := s.CheckCompleteness(ctx, e.PatientID, e.RouteSheetID)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, apperr.BadRequest(strings.Join(errs, "; "))
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info().Str("expertise_id", e.ID.String()).Str("patient_id", e.PatientID.String()).Msg("expertise opened")
	return e, nil
}

func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*Expertise, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ClinicID != actorID {
		return nil, ErrExpertiseNotFound
	}
	return e, nil
}

// Update saves the expertise and runs the verdict cascade: the health group
// is assigned once a verdict exists, and a referral is issued when the group
// calls for one and no active referral of that type is open.
func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, in Input) (*Expertise, error) {
	e, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	referralSent, referralDate := e.ReferralSent, e.ReferralDate
	if err := in.apply(e); err != nil {
		return nil, err
	}
	e.ReferralSent, e.ReferralDate = referralSent, referralDate

	if e.FinalVerdict != nil && e.HealthGroup == nil {
		if group := AssignHealthGroup(e); group != "" {
			e.HealthGroup = &group
			e.VerdictDate = s.today()
			if t := ReferralTypeFor(group); t != "" {
				e.RequiresReferral = true
				e.ReferralType = t
			}
		}
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.referIfNeeded(ctx, e); err != nil {
			return err
		}
		return s.repo.Update(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) referIfNeeded(ctx context.Context, e *Expertise) error {
	if e.FinalVerdict == nil || !e.RequiresReferral || e.ReferralType == "" || e.ReferralSent {
		return nil
	}
	active, err := s.referrals.FindActive(ctx, e.PatientID, e.ReferralType)
	if err != nil {
		return err
	}
	if active != nil {
		return nil
	}
	reason := e.Reason
	if reason == "" {
		group := ""
		if e.HealthGroup != nil {
			group = *e.HealthGroup
		}
		reason = "Требуется направление согласно группе здоровья " + group
	}
	expertiseID := e.ID
	ref := &referral.Referral{
		ClinicID:     e.ClinicID,
		ExpertiseID:  &expertiseID,
		PatientID:    e.PatientID,
		PatientName:  e.PatientName,
		IIN:          e.IIN,
		ReferralType: e.ReferralType,
		Reason:       reason,
	}
	if err := s.referrals.Issue(ctx, ref); err != nil {
		return err
	}
	e.ReferralSent = true
	e.ReferralDate = s.today()
	return nil
}

func (s *Service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := s.Get(ctx, actorID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID, f Filter, limit, offset int) ([]*Expertise, int, error) {
	f.ClinicID = actorID
	return s.repo.List(ctx, f, limit, offset)
}

// PatientExpertises lists a patient's expertises, newest first.
func (s *Service) PatientExpertises(ctx context.Context, patientID uuid.UUID) ([]*Expertise, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) FinalActStats(ctx context.Context, actorID uuid.UUID, department string) (Stats, error) {
	items, err := s.repo.Find(ctx, Filter{ClinicID: actorID, Department: department, WithVerdict: true})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(items), nil
}

func (s *Service) HealthPlanItems(ctx context.Context, actorID uuid.UUID, department string) ([]HealthPlanItem, error) {
	items, err := s.repo.Find(ctx, Filter{ClinicID: actorID, Department: department, WithVerdict: true, NonFit: true})
	if err != nil {
		return nil, err
	}
	out := make([]HealthPlanItem, 0, len(items))
	for _, e := range items {
		out = append(out, HealthPlanItem{
			PatientID:      e.PatientID,
			EmployeeName:   e.PatientName,
			Position:       e.Position,
			Recommendation: e.Recommendation(),
		})
	}
	return out, nil
}

// SummaryReport renders the clinic's verdicts as a workbook.
func (s *Service) SummaryReport(ctx context.Context, actorID uuid.UUID, f Filter) ([]byte, error) {
	f.ClinicID = actorID
	f.WithVerdict = true
	items, err := s.repo.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	return summaryWorkbook(items, f.Department)
}

// FinalAct renders the final act workbook of the clinic.
func (s *Service) FinalAct(ctx context.Context, actorID uuid.UUID, department string) ([]byte, error) {
	items, err := s.repo.Find(ctx, Filter{ClinicID: actorID, Department: department, WithVerdict: true})
	if err != nil {
		return nil, err
	}
	return finalActWorkbook(items, department)
}
