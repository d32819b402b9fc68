package examination

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/expertise"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/domain/routesheet"
	"github.com/medcrm/medcrm/internal/platform/apperr"
)

var (
	ErrExaminationNotFound = apperr.NotFound("Examination not found")
	ErrInvalidConclusion   = apperr.BadRequest("conclusion must be healthy or unhealthy")
	ErrPatientRequired     = apperr.BadRequest("patient_id is required")
	ErrHistoryKey          = apperr.BadRequest("Необходимо указать patient_id или iin")
	ErrPatientNotFound     = apperr.NotFound("Пациент не найден")
)

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type PatientFinder interface {
	FindByIIN(ctx context.Context, actor *identity.User, iin string) (*contingent.Employee, error)
}

type SheetHistory interface {
	PatientSheets(ctx context.Context, patientID uuid.UUID) ([]*routesheet.RouteSheet, error)
}

type ExpertiseHistory interface {
	PatientExpertises(ctx context.Context, patientID uuid.UUID) ([]*expertise.Expertise, error)
}

type Service struct {
	repo       Repository
	users      UserLookup
	patients   PatientFinder
	sheets     SheetHistory
	expertises ExpertiseHistory
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, users UserLookup, patients PatientFinder, sheets SheetHistory, expertises ExpertiseHistory, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		users:      users,
		patients:   patients,
		sheets:     sheets,
		expertises: expertises,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) Actor(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	return s.users.GetByID(ctx, id)
}

type Input struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorName      string     `json:"doctor_name"`
	Specialization  string     `json:"specialization"`
	Conclusion      *string    `json:"conclusion"`
	Notes           string     `json:"notes"`
	ExaminationDate *time.Time `json:"examination_date"`
	DoctorSignature string     `json:"doctor_signature"`
	Recommendations string     `json:"recommendations"`
}

func (s *Service) apply(e *DoctorExamination, in Input) error {
	if in.PatientID == uuid.Nil {
		return ErrPatientRequired
	}
	if in.Conclusion != nil && *in.Conclusion == "" {
		in.Conclusion = nil
	}
	if in.Conclusion != nil && *in.Conclusion != ConclusionHealthy && *in.Conclusion != ConclusionUnhealthy {
		return ErrInvalidConclusion
	}
	e.PatientID = in.PatientID
	e.DoctorName = strings.TrimSpace(in.DoctorName)
	e.Specialization = strings.TrimSpace(in.Specialization)
	e.Conclusion = in.Conclusion
	e.Notes = in.Notes
	switch {
	case in.ExaminationDate != nil:
		e.ExaminationDate = *in.ExaminationDate
	case e.ExaminationDate.IsZero():
		e.ExaminationDate = s.now().UTC()
	}
	e.DoctorSignature = in.DoctorSignature
	e.Recommendations = in.Recommendations
	return nil
}

func (s *Service) Create(ctx context.Context, actor *identity.User, in Input) (*DoctorExamination, error) {
	e := &DoctorExamination{DoctorID: actor.ID}
	if err := s.apply(e, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("examination_id", e.ID.String()).Str("patient_id", e.PatientID.String()).Msg("examination recorded")
	return e, nil
}

func (s *Service) Get(ctx context.Context, actor *identity.User, id uuid.UUID) (*DoctorExamination, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.DoctorID != actor.ID {
		return nil, ErrExaminationNotFound
	}
	return e, nil
}

func (s *Service) Update(ctx context.Context, actor *identity.User, id uuid.UUID, in Input) (*DoctorExamination, error) {
	e, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(e, in); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Delete(ctx context.Context, actor *identity.User, id uuid.UUID) error {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, actor *identity.User, patientID *uuid.UUID, limit, offset int) ([]*DoctorExamination, int, error) {
	return s.repo.List(ctx, Filter{DoctorID: actor.ID, PatientID: patientID}, limit, offset)
}

// PatientHistory collects a patient's examinations, route sheets and
// expertises into day buckets. The patient is given by id or by IIN from the
// actor's contingent.
func (s *Service) PatientHistory(ctx context.Context, actor *identity.User, patientID *uuid.UUID, iin string) (*History, error) {
	iin = strings.TrimSpace(iin)
	if patientID == nil && iin == "" {
		return nil, ErrHistoryKey
	}
	var id uuid.UUID
	if iin != "" {
		e, err := s.patients.FindByIIN(ctx, actor, iin)
		if errors.Is(err, contingent.ErrEmployeeNotFound) {
			return nil, ErrPatientNotFound
		}
		if err != nil {
			return nil, err
		}
		id = e.ID
	} else {
		id = *patientID
	}

	days := map[string]*Day{}
	day := func(key string) *Day {
		d, ok := days[key]
		if !ok {
			d = &Day{
				Date:         key,
				Examinations: []ExaminationEntry{},
				RouteSheets:  []SheetEntry{},
				Expertises:   []ExpertiseEntry{},
			}
			days[key] = d
		}
		return d
	}

	exams, err := s.repo.ListByPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, e := range exams {
		d := day(e.ExaminationDate.UTC().Format("2006-01-02"))
		d.Examinations = append(d.Examinations, ExaminationEntry{
			ID:              e.ID,
			DoctorName:      e.DoctorName,
			Specialization:  e.Specialization,
			Conclusion:      e.Conclusion,
			Notes:           e.Notes,
			Recommendations: e.Recommendations,
			ExaminationDate: e.ExaminationDate,
		})
	}

	sheets, err := s.sheets.PatientSheets(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, rs := range sheets {
		d := day(rs.VisitDate.String())
		services := rs.Services
		if services == nil {
			services = []routesheet.Visit{}
		}
		d.RouteSheets = append(d.RouteSheets, SheetEntry{
			ID:                rs.ID,
			VisitDate:         rs.VisitDate.String(),
			CompletedServices: rs.CompletedServices(),
			TotalServices:     len(rs.Services),
			Services:          services,
		})
	}

	expertises, err := s.expertises.PatientExpertises(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, ex := range expertises {
		d := day(ex.CreatedAt.UTC().Format("2006-01-02"))
		d.Expertises = append(d.Expertises, ExpertiseEntry{
			ID:           ex.ID,
			FinalVerdict: ex.FinalVerdict,
			HealthGroup:  ex.HealthGroup,
			CreatedAt:    ex.CreatedAt,
		})
	}

	h := &History{PatientID: id, Days: make([]*Day, 0, len(days))}
	for _, d := range days {
		h.Days = append(h.Days, d)
	}
	sort.Slice(h.Days, func(i, j int) bool { return h.Days[i].Date > h.Days[j].Date })
	h.TotalVisits = len(h.Days)
	return h, nil
}
